package psarc

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/sirupsen/logrus"
)

// cacheEntry is a prior archive's raw (still-compressed) block bytes
// for one file, plus the ZSize slice and uncompressed size needed to
// re-describe it in a new TOC without touching the bytes themselves.
type cacheEntry struct {
	Raw              []byte
	ZSizes           []uint16
	UncompressedSize uint64
}

// Cache indexes a prior PSARC archive by name hash so an incremental
// Pack can splice its raw compressed blocks into a new archive without
// decompressing them. It is best-effort: entries that fail to index
// are logged and skipped rather than aborting the whole cache load,
// matching the teacher's best-effort repack posture.
type Cache struct {
	file    *os.File
	mapping mmap.MMap
	entries map[[16]byte]cacheEntry
}

// OpenCache memory-maps a prior archive and indexes every non-manifest
// entry by name hash.
func OpenCache(path string, logger logrus.FieldLogger) (*Cache, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prior archive: %w", err)
	}

	mapping, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap prior archive: %w", err)
	}

	toc, err := ParseTOC(mapping)
	if err != nil {
		mapping.Unmap()
		f.Close()
		return nil, fmt.Errorf("parse prior archive toc: %w", err)
	}

	entries := make(map[[16]byte]cacheEntry, len(toc.Entries))
	for _, e := range toc.Entries {
		if isManifestHash(e.NameHash) {
			continue
		}
		if e.UncompressedSize == 0 {
			entries[e.NameHash] = cacheEntry{UncompressedSize: 0}
			continue
		}

		zsizes := toc.ZSizesFor(e)
		if zsizes == nil {
			logger.Warnf("psarc: cache: entry %x has out-of-range zsize range, skipping", e.NameHash)
			continue
		}

		rawLen := uint64(0)
		for _, z := range zsizes {
			rawLen += uint64(rawStoredLen(z))
		}

		if e.Offset+rawLen > uint64(len(mapping)) {
			logger.Warnf("psarc: cache: entry %x data range exceeds archive bounds, skipping", e.NameHash)
			continue
		}

		entries[e.NameHash] = cacheEntry{
			Raw:              mapping[e.Offset : e.Offset+rawLen],
			ZSizes:           zsizes,
			UncompressedSize: e.UncompressedSize,
		}
	}

	return &Cache{file: f, mapping: mapping, entries: entries}, nil
}

// Lookup returns the cached raw blocks for a name hash, if present.
func (c *Cache) Lookup(hash [16]byte) (cacheEntry, bool) {
	e, ok := c.entries[hash]
	return e, ok
}

// Close releases the prior archive's memory mapping and file handle.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	mapErr := c.mapping.Unmap()
	closeErr := c.file.Close()
	if mapErr != nil {
		return mapErr
	}
	return closeErr
}
