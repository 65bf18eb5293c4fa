package psarc

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// BlockSize is the fixed uncompressed chunk size PSARC v1.4 blocks.
const BlockSize = 65536

// compressBlock zlib-compresses a single block at the given level.
func compressBlock(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("new zlib writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress block: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close zlib writer: %w", err)
	}
	return buf.Bytes(), nil
}

// decompressBlock inflates a zlib-compressed block and truncates the
// result to targetLen. A stream that inflates to fewer than targetLen
// bytes yields a correspondingly shorter result; it is not padded.
func decompressBlock(data []byte, targetLen int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, newCodecErr(KindInflateFailed, err)
	}
	defer r.Close()

	out := make([]byte, targetLen)
	n, err := io.ReadFull(r, out)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, newCodecErr(KindInflateFailed, err)
	}
	return out[:n], nil
}

// looksLikeZlib probes the first two bytes of a block for a zlib
// stream header (CMF/FLG), per PSARC's "zero-size means raw, nonzero
// size means probe" disambiguation rule.
func looksLikeZlib(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	if b[0] != 0x78 {
		return false
	}
	switch b[1] {
	case 0x01, 0x5e, 0x9c, 0xda:
		return true
	default:
		return false
	}
}

// rawStoredLen returns the on-disk byte length of a block given its
// ZSize table value, per the ZSize == 0 ⇒ full block size convention.
func rawStoredLen(zsize uint16) int {
	if zsize == 0 {
		return BlockSize
	}
	return int(zsize)
}

// packBlock compresses one block and decides whether to store the
// compressed or raw form, returning the stored bytes and the ZSize
// value to record for it. Per the resolved Open Question in §9, a
// partial raw block always records its explicit raw length; only a
// full raw block records 0.
func packBlock(block []byte, level int) (stored []byte, zsize uint16, err error) {
	compressed, err := compressBlock(block, level)
	if err != nil {
		return nil, 0, err
	}

	if len(compressed) < len(block) {
		return compressed, uint16(len(compressed)), nil
	}

	if len(block) == BlockSize {
		return block, 0, nil
	}
	return block, uint16(len(block)), nil
}
