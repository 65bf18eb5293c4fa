package psarc

import "github.com/klauspost/compress/zlib"

// CompressionLevel selects a zlib compression/speed tradeoff for Pack.
type CompressionLevel int

const (
	CompressionNone CompressionLevel = iota
	CompressionFast
	CompressionDefault
	CompressionBest
)

func (l CompressionLevel) zlibLevel() int {
	switch l {
	case CompressionNone:
		return zlib.NoCompression
	case CompressionFast:
		return zlib.BestSpeed
	case CompressionBest:
		return zlib.BestCompression
	default:
		return zlib.DefaultCompression
	}
}

// PackingMode selects whether Pack recompresses every file (Full) or
// reuses raw compressed blocks from a prior archive for files absent
// from the modified set (Incremental).
type PackingMode int

const (
	ModeFull PackingMode = iota
	ModeIncremental
)
