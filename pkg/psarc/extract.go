package psarc

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ExtractOptions configures a single Extract invocation.
type ExtractOptions struct {
	Archive  string
	Output   string
	Progress chan<- ExtractStatus
}

// ExtractResult reports how many entries were written and how many
// fell back to the unresolved-name path.
type ExtractResult struct {
	Written  int
	Unknowns int
}

// Extract memory-maps archive, parses its TOC, decodes the zero-hash
// manifest entry to recover file names, and writes every other entry
// to output/<internal path>. Entries whose hash cannot be matched to
// any manifest line are written under _Unknowns/<hex hash>.bin, per
// spec §4.6.
func Extract(ctx context.Context, opts ExtractOptions) (ExtractResult, error) {
	sendExtractStatus(opts.Progress, ExtractStatus{CurrentFile: "opening", Active: true})

	f, err := os.Open(opts.Archive)
	if err != nil {
		werr := fmt.Errorf("open archive: %w", err)
		sendExtractStatus(opts.Progress, ExtractStatus{Active: false, Err: werr})
		return ExtractResult{}, werr
	}
	defer f.Close()

	mapping, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		werr := fmt.Errorf("mmap archive: %w", err)
		sendExtractStatus(opts.Progress, ExtractStatus{Active: false, Err: werr})
		return ExtractResult{}, werr
	}
	defer mapping.Unmap()
	data := []byte(mapping)

	toc, err := ParseTOC(data)
	if err != nil {
		sendExtractStatus(opts.Progress, ExtractStatus{Active: false, Err: err})
		return ExtractResult{}, err
	}

	nameByHash := map[[16]byte]string{}
	var fileEntries []Entry
	for _, e := range toc.Entries {
		if isManifestHash(e.NameHash) {
			manifestBytes, err := decodeEntry(data, toc, e)
			if err != nil {
				werr := fmt.Errorf("decode manifest: %w", err)
				sendExtractStatus(opts.Progress, ExtractStatus{Active: false, Err: werr})
				return ExtractResult{}, werr
			}
			for _, line := range normalizeManifestLines(manifestBytes) {
				nameByHash[hashPath(line)] = line
			}
			continue
		}
		fileEntries = append(fileEntries, e)
	}

	if err := os.MkdirAll(opts.Output, 0o755); err != nil {
		werr := fmt.Errorf("create output dir: %w", err)
		sendExtractStatus(opts.Progress, ExtractStatus{Active: false, Err: werr})
		return ExtractResult{}, werr
	}

	total := len(fileEntries)
	stride := progressStride(total)
	var completed, unknowns int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, e := range fileEntries {
		e := e
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			name, known := nameByHash[e.NameHash]
			if !known {
				atomic.AddInt64(&unknowns, 1)
				name = filepath.Join("_Unknowns", hex.EncodeToString(e.NameHash[:])+".bin")
				logrus.StandardLogger().Warnf("psarc: extract: hash %x not in manifest, writing to %s", e.NameHash, name)
			}

			dest := filepath.Join(opts.Output, filepath.FromSlash(name))
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("create dir for %s: %w", name, err)
			}

			content, err := decodeEntry(data, toc, e)
			if err != nil {
				return fmt.Errorf("decode %s: %w", name, err)
			}

			if err := os.WriteFile(dest, content, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}

			n := atomic.AddInt64(&completed, 1)
			if int(n)%stride == 0 || int(n) == total {
				sendExtractStatus(opts.Progress, ExtractStatus{
					CurrentFile: name,
					Progress:    float32(n) / float32(total),
					Active:      true,
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		werr := fmt.Errorf("extract: %w", err)
		sendExtractStatus(opts.Progress, ExtractStatus{Active: false, Err: werr})
		return ExtractResult{}, werr
	}

	sendExtractStatus(opts.Progress, ExtractStatus{CurrentFile: "done", Progress: 1, Active: false})

	return ExtractResult{Written: int(completed), Unknowns: int(unknowns)}, nil
}

// decodeEntry reassembles one entry's uncompressed bytes from the
// archive's data region, block by block. Each block's stored length
// comes from rawStoredLen(zsize). A block whose stored length equals
// the entry's uncompressed size is always the raw, whole-file,
// single-block case (spec §4.6's first-priority branch) and is
// emitted verbatim without probing. A zero-size block is a full raw
// block and is also emitted verbatim; the probe only disambiguates the
// remaining nonzero-size blocks, where a well-compressed block and a
// short raw remainder can both be shorter than BlockSize. A decoded
// length that differs from the entry's uncompressed size is logged as
// a warning and the decoded bytes are still returned.
func decodeEntry(data []byte, toc *TOC, e Entry) ([]byte, error) {
	if e.UncompressedSize == 0 {
		return nil, nil
	}

	zsizes := toc.ZSizesFor(e)
	if zsizes == nil {
		return nil, newCodecErr(KindCorruptZSizeIndex, fmt.Errorf("entry %x: zsize index out of range", e.NameHash))
	}

	out := make([]byte, 0, e.UncompressedSize)
	cursor := e.Offset
	remaining := e.UncompressedSize

	for _, zsize := range zsizes {
		storedLen := rawStoredLen(zsize)
		target := int(remaining)
		if target > BlockSize {
			target = BlockSize
		}

		if cursor+uint64(storedLen) > uint64(len(data)) {
			return nil, newCodecErr(KindCorruptBlockBounds, fmt.Errorf("entry %x: block at %d+%d exceeds archive bounds", e.NameHash, cursor, storedLen))
		}
		block := data[cursor : cursor+uint64(storedLen)]

		var decoded []byte
		switch {
		case storedLen == int(e.UncompressedSize):
			decoded = block
		case zsize == 0:
			decoded = block
		case looksLikeZlib(block):
			d, err := decompressBlock(block, target)
			if err != nil {
				return nil, fmt.Errorf("entry %x: %w", e.NameHash, err)
			}
			decoded = d
		default:
			decoded = block
		}

		out = append(out, decoded...)
		cursor += uint64(storedLen)
		remaining -= uint64(len(decoded))
	}

	if uint64(len(out)) != e.UncompressedSize {
		logrus.StandardLogger().Warnf("psarc: extract: entry %x: decoded %d bytes, want %d", e.NameHash, len(out), e.UncompressedSize)
	}

	return out, nil
}
