package psarc

import (
	"bytes"
	"sort"
	"strings"
)

// resolveManifest decides the final file order and the bytes that
// will be stored as the zero-hash manifest entry. If onDisk parses
// into a manifest that accounts for exactly the discovered file set,
// that order wins. A manifest that names files which were not
// discovered is a KindManifestReferenceMissing error; in every other
// case the discovered files are hash-sorted.
func resolveManifest(discovered []discoveredFile, onDisk []byte) ([]discoveredFile, []byte, error) {
	if len(onDisk) > 0 {
		lines := normalizeManifestLines(onDisk)
		if len(lines) > 0 {
			byPath := make(map[string]discoveredFile, len(discovered))
			for _, f := range discovered {
				byPath[f.InternalPath] = f
			}

			ordered := make([]discoveredFile, 0, len(lines))
			var missing []string
			for _, line := range lines {
				f, ok := byPath[line]
				if !ok {
					missing = append(missing, line)
					continue
				}
				ordered = append(ordered, f)
				delete(byPath, line)
			}

			if len(missing) > 0 {
				return nil, nil, errManifestReferenceMissing(missing)
			}

			if len(byPath) == 0 {
				return ordered, manifestBytesFromPaths(lines), nil
			}
			// Extra files beyond the manifest: fall through to hash-sort below.
		}
	}

	sorted := make([]discoveredFile, len(discovered))
	copy(sorted, discovered)
	sort.Slice(sorted, func(i, j int) bool {
		hi := hashPath(sorted[i].InternalPath)
		hj := hashPath(sorted[j].InternalPath)
		return bytes.Compare(hi[:], hj[:]) < 0
	})

	paths := make([]string, len(sorted))
	for i, f := range sorted {
		paths[i] = f.InternalPath
	}
	return sorted, manifestBytesFromPaths(paths), nil
}

// normalizeManifestLines splits a manifest blob on \n or NUL, trims
// whitespace and a leading BOM, and normalizes backslashes to
// forward slashes, discarding empty lines.
func normalizeManifestLines(blob []byte) []string {
	text := string(blob)
	text = strings.ReplaceAll(text, "\x00", "\n")

	var lines []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		line = strings.TrimPrefix(line, "\xef\xbb\xbf")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, strings.ReplaceAll(line, "\\", "/"))
	}
	return lines
}

// manifestBytesFromPaths joins paths with newlines, no trailing newline.
func manifestBytesFromPaths(paths []string) []byte {
	return []byte(strings.Join(paths, "\n"))
}
