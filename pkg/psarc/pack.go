package psarc

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PackOptions configures a single Pack invocation.
type PackOptions struct {
	Root     string
	Output   string
	Level    CompressionLevel
	Mode     PackingMode
	Modified map[string]struct{} // internal paths treated as changed, Incremental mode only
	Prior    string              // prior archive path, Incremental mode only
	Progress chan<- PackStatus
	Logger   logrus.FieldLogger

	// SnapshotPath, when set in Incremental mode, tracks file size and
	// modification time across Pack runs so the modified set can be
	// computed automatically instead of requiring the caller to supply
	// Modified by hand. Entries in Modified are always treated as
	// changed regardless of what the snapshot says.
	SnapshotPath string
}

// PackResult reports how many files were recompressed from scratch
// versus spliced verbatim from the prior archive's cache.
type PackResult struct {
	Recompressed int
	Reused       int
}

// fileResult is the parallel-stage output for one ordered file: either
// freshly compressed blocks or a verbatim cached raw blob.
type fileResult struct {
	hash             [16]byte
	uncompressedSize uint64
	blocks           [][]byte
	zsizes           []uint16
	reused           bool
}

// Pack scans root, resolves file order via the manifest resolver,
// optionally reuses blocks from a prior archive, compresses the rest,
// and writes a PSARC v1.4 archive to output. See spec §4.4.
func Pack(ctx context.Context, opts PackOptions) (PackResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	sendPackStatus(opts.Progress, PackStatus{CurrentFile: "scanning", Active: true})

	discovered, onDiskManifest, err := scanRoot(opts.Root, opts.Output)
	if err != nil {
		werr := fmt.Errorf("scan root: %w", err)
		sendPackStatus(opts.Progress, PackStatus{Active: false, Err: werr})
		return PackResult{}, werr
	}

	ordered, manifestBytes, err := resolveManifest(discovered, onDiskManifest)
	if err != nil {
		sendPackStatus(opts.Progress, PackStatus{Active: false, Err: err})
		return PackResult{}, err
	}

	hashes := make([][16]byte, len(ordered))
	{
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(runtime.NumCPU())
		for i, f := range ordered {
			i, f := i, f
			g.Go(func() error {
				hashes[i] = hashPath(f.InternalPath)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return PackResult{}, err
		}
	}

	var snapshotEntries []SnapshotEntry
	if opts.Mode == ModeIncremental && opts.SnapshotPath != "" {
		prior, snapErr := ReadSnapshot(opts.SnapshotPath)
		if snapErr != nil {
			logger.Warnf("psarc: pack: prior snapshot unreadable, treating all files as modified: %v", snapErr)
			prior = nil
		}

		autoModified, next, detectErr := DetectModified(discovered, prior)
		if detectErr != nil {
			logger.Warnf("psarc: pack: snapshot comparison failed: %v", detectErr)
		} else {
			if opts.Modified == nil {
				opts.Modified = make(map[string]struct{}, len(autoModified))
			}
			for path := range autoModified {
				opts.Modified[path] = struct{}{}
			}
			snapshotEntries = next
		}
	}

	var cache *Cache
	if opts.Mode == ModeIncremental && opts.Prior != "" {
		if _, statErr := os.Stat(opts.Prior); statErr == nil {
			c, openErr := OpenCache(opts.Prior, logger)
			if openErr != nil {
				logger.Warnf("psarc: pack: incremental cache unavailable, falling back to full recompression: %v", openErr)
			} else {
				cache = c
				defer cache.Close()
			}
		}
	}

	tmp, err := os.CreateTemp("", "psarc-data-*")
	if err != nil {
		werr := fmt.Errorf("create temp data file: %w", err)
		sendPackStatus(opts.Progress, PackStatus{Active: false, Err: werr})
		return PackResult{}, werr
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	defer tmp.Close()

	level := opts.Level.zlibLevel()

	manifestResult, err := compressBlocksInMemory(manifestBytes, level)
	if err != nil {
		werr := fmt.Errorf("compress manifest: %w", err)
		sendPackStatus(opts.Progress, PackStatus{Active: false, Err: werr})
		return PackResult{}, werr
	}

	results := make([]fileResult, len(ordered))
	var recompressed, reused int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	var completed int64
	total := len(ordered)
	stride := progressStride(total)

	for i, f := range ordered {
		i, f, hash := i, f, hashes[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			_, isModified := opts.Modified[f.InternalPath]
			if opts.Mode == ModeIncremental && cache != nil && !isModified {
				if ce, ok := cache.Lookup(hash); ok {
					atomic.AddInt64(&reused, 1)
					if ce.UncompressedSize == 0 {
						results[i] = fileResult{hash: hash}
					} else {
						results[i] = fileResult{
							hash:             hash,
							uncompressedSize: ce.UncompressedSize,
							blocks:           [][]byte{ce.Raw},
							zsizes:           ce.ZSizes,
							reused:           true,
						}
					}
					reportProgress(opts.Progress, f.InternalPath, &completed, total, stride)
					return nil
				}
			}

			res, err := compressFile(f.AbsPath, hash, level)
			if err != nil {
				return fmt.Errorf("compress %s: %w", f.InternalPath, err)
			}
			atomic.AddInt64(&recompressed, 1)
			results[i] = res
			reportProgress(opts.Progress, f.InternalPath, &completed, total, stride)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		werr := fmt.Errorf("pack: %w", err)
		sendPackStatus(opts.Progress, PackStatus{Active: false, Err: werr})
		return PackResult{}, werr
	}

	toc := &TOC{}
	var dataCursor uint64

	// Entry 0: the manifest, always recompressed, never cached.
	manifestZStart := len(toc.ZSizes)
	for _, b := range manifestResult.blocks {
		if _, err := tmp.Write(b); err != nil {
			return PackResult{}, fmt.Errorf("write manifest block: %w", err)
		}
		dataCursor += uint64(len(b))
	}
	toc.ZSizes = append(toc.ZSizes, manifestResult.zsizes...)
	toc.Entries = append(toc.Entries, Entry{
		NameHash:         zeroHash,
		ZSizeIndex:       uint32(manifestZStart),
		UncompressedSize: uint64(len(manifestBytes)),
		Offset:           0,
	})

	for i, res := range results {
		zStart := len(toc.ZSizes)
		entryOffset := dataCursor
		for _, b := range res.blocks {
			if _, err := tmp.Write(b); err != nil {
				return PackResult{}, fmt.Errorf("write block for %s: %w", ordered[i].InternalPath, err)
			}
			dataCursor += uint64(len(b))
		}
		toc.ZSizes = append(toc.ZSizes, res.zsizes...)
		toc.Entries = append(toc.Entries, Entry{
			NameHash:         res.hash,
			ZSizeIndex:       uint32(zStart),
			UncompressedSize: res.uncompressedSize,
			Offset:           entryOffset,
		})
	}

	if _, err := tmp.Seek(0, 0); err != nil {
		return PackResult{}, fmt.Errorf("rewind temp data file: %w", err)
	}

	out, err := os.Create(opts.Output)
	if err != nil {
		werr := fmt.Errorf("create output archive: %w", err)
		sendPackStatus(opts.Progress, PackStatus{Active: false, Err: werr})
		return PackResult{}, werr
	}
	defer out.Close()

	if _, err := toc.WriteTo(out, tmp); err != nil {
		werr := fmt.Errorf("write archive: %w", err)
		sendPackStatus(opts.Progress, PackStatus{Active: false, Err: werr})
		return PackResult{}, werr
	}

	if opts.SnapshotPath != "" && snapshotEntries != nil {
		if err := WriteSnapshot(opts.SnapshotPath, snapshotEntries); err != nil {
			logger.Warnf("psarc: pack: failed to write snapshot: %v", err)
		}
	}

	sendPackStatus(opts.Progress, PackStatus{CurrentFile: "done", Progress: 1, Active: false})

	return PackResult{
		Recompressed: int(recompressed),
		Reused:       int(reused),
	}, nil
}

func reportProgress(ch chan<- PackStatus, file string, completed *int64, total, stride int) {
	n := atomic.AddInt64(completed, 1)
	if ch == nil {
		return
	}
	if int(n)%stride == 0 || int(n) == total {
		sendPackStatus(ch, PackStatus{
			CurrentFile: file,
			Progress:    float32(n) / float32(total),
			Active:      true,
		})
	}
}

// compressFile mmaps path (if non-empty), chunks it into blocks, and
// compresses each block, deciding raw-vs-compressed storage per block.
func compressFile(path string, hash [16]byte, level int) (fileResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileResult{}, err
	}
	size := info.Size()
	if size == 0 {
		return fileResult{hash: hash}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fileResult{}, err
	}
	defer f.Close()

	mapping, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return fileResult{}, fmt.Errorf("mmap: %w", err)
	}
	defer mapping.Unmap()

	res, err := compressBlocksInMemory([]byte(mapping), level)
	if err != nil {
		return fileResult{}, err
	}
	res.hash = hash
	return res, nil
}

// compressBlocksInMemory chunks data into BlockSize pieces and
// compresses each one, in parallel, deciding raw-vs-compressed storage
// for every block independently.
func compressBlocksInMemory(data []byte, level int) (fileResult, error) {
	chunks := chunkBlocks(data)
	stored := make([][]byte, len(chunks))
	zsizes := make([]uint16, len(chunks))

	g := new(errgroup.Group)
	g.SetLimit(maxInt(1, runtime.NumCPU()))
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			s, z, err := packBlock(c, level)
			if err != nil {
				return err
			}
			stored[i] = s
			zsizes[i] = z
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fileResult{}, err
	}

	return fileResult{
		uncompressedSize: uint64(len(data)),
		blocks:           stored,
		zsizes:           zsizes,
	}, nil
}

func chunkBlocks(data []byte) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		n := BlockSize
		if len(data) < n {
			n = len(data)
		}
		chunks = append(chunks, data[:n:n])
		data = data[n:]
	}
	return chunks
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
