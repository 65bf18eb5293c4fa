package psarc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// discoveredFile pairs a file's real filesystem path with the
// forward-slash, no-leading-slash path it will carry inside the archive.
type discoveredFile struct {
	AbsPath      string
	InternalPath string
}

// scanRoot walks root recursively, skipping outputPath (so a pack
// whose output lands inside the source tree doesn't re-ingest itself
// on a second run) and pulling out an on-disk manifest blob if present.
func scanRoot(root, outputPath string) (discovered []discoveredFile, manifestOnDisk []byte, err error) {
	outputAbs, err := filepath.Abs(outputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve output path: %w", err)
	}

	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve path %s: %w", path, err)
		}
		if abs == outputAbs {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		internal := filepath.ToSlash(rel)

		if isManifestName(internal) {
			blob, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read manifest %s: %w", path, err)
			}
			// FileList.* wins over a legacy Filenames.txt if both exist.
			if manifestOnDisk == nil || !strings.EqualFold(filepath.Base(internal), legacyFileName) {
				manifestOnDisk = blob
			}
			return nil
		}

		discovered = append(discovered, discoveredFile{AbsPath: path, InternalPath: internal})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return discovered, manifestOnDisk, nil
}

func isManifestName(internalPath string) bool {
	base := strings.ToLower(filepath.Base(internalPath))
	switch base {
	case "filelist.xml", "filelist.txt", "filenames.txt":
		return true
	default:
		return false
	}
}
