package psarc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	headerSize       = 32
	entryRecordSize  = 30
	formatMajor      = 1
	formatMinor      = 4
	flagsIgnoreCase  = 1
	manifestFileName = "FileList.xml"
	legacyFileName   = "Filenames.txt"
)

var (
	magicBytes          = [4]byte{'P', 'S', 'A', 'R'}
	compressionTagBytes = [4]byte{'z', 'l', 'i', 'b'}
)

// Entry describes one logical file's place in the TOC. While a TOC is
// being built, Offset is relative to the start of the data region;
// WriteTo writes it out resolved to an absolute archive offset, and
// ParseTOC returns the absolute offsets of an already-written archive.
type Entry struct {
	NameHash         [16]byte
	ZSizeIndex       uint32
	UncompressedSize uint64
	Offset           uint64
}

// TOC is the in-memory table of contents: entries plus the shared
// ZSize side table. It is built once during Pack and frozen, or parsed
// once during Extract and never mutated.
type TOC struct {
	Entries []Entry
	ZSizes  []uint16
}

// blockCount returns how many ZSize-table slots a file of the given
// uncompressed size occupies.
func blockCount(uncompressedSize uint64) int {
	if uncompressedSize == 0 {
		return 0
	}
	return int((uncompressedSize + BlockSize - 1) / BlockSize)
}

// ZSizesFor returns the ZSize slice belonging to entry e.
func (t *TOC) ZSizesFor(e Entry) []uint16 {
	n := blockCount(e.UncompressedSize)
	start := int(e.ZSizeIndex)
	if start < 0 || start+n > len(t.ZSizes) {
		return nil
	}
	return t.ZSizes[start : start+n]
}

// tocLength computes the 32-byte header + 30*N entries + 2*M ZSizes
// span that every absolute offset is measured from.
func (t *TOC) tocLength() uint32 {
	return uint32(headerSize + entryRecordSize*len(t.Entries) + 2*len(t.ZSizes))
}

// WriteTo serializes header + TOC + ZSizes + (via dataSrc) the data
// region to w. Entry offsets are expected to be data-region-relative;
// they are written out resolved to absolute (offset + toc_length).
func (t *TOC) WriteTo(w io.Writer, dataSrc io.Reader) (int64, error) {
	tocLen := t.tocLength()

	var buf bytes.Buffer
	buf.Grow(int(tocLen))

	buf.Write(magicBytes[:])
	binary.Write(&buf, binary.BigEndian, uint16(formatMajor))
	binary.Write(&buf, binary.BigEndian, uint16(formatMinor))
	buf.Write(compressionTagBytes[:])
	binary.Write(&buf, binary.BigEndian, tocLen)
	binary.Write(&buf, binary.BigEndian, uint32(entryRecordSize))
	binary.Write(&buf, binary.BigEndian, uint32(len(t.Entries)))
	binary.Write(&buf, binary.BigEndian, uint32(BlockSize))
	binary.Write(&buf, binary.BigEndian, uint32(flagsIgnoreCase))

	for _, e := range t.Entries {
		buf.Write(e.NameHash[:])
		binary.Write(&buf, binary.BigEndian, e.ZSizeIndex)
		write40(&buf, e.UncompressedSize)
		write40(&buf, e.Offset+uint64(tocLen))
	}

	for _, z := range t.ZSizes {
		binary.Write(&buf, binary.BigEndian, z)
	}

	n, err := w.Write(buf.Bytes())
	if err != nil {
		return int64(n), fmt.Errorf("write toc: %w", err)
	}

	copied, err := io.Copy(w, dataSrc)
	if err != nil {
		return int64(n) + copied, fmt.Errorf("copy data region: %w", err)
	}
	return int64(n) + copied, nil
}

// ParseTOC parses header + TOC + ZSizes from the start of an archive's
// bytes. len(data) is taken as the total archive length, used to
// sanity-check offsets below.
func ParseTOC(data []byte) (*TOC, error) {
	if len(data) < headerSize {
		return nil, newCodecErr(KindBadMagic, fmt.Errorf("archive shorter than header"))
	}

	var magic [4]byte
	copy(magic[:], data[0:4])
	if magic != magicBytes {
		return nil, newCodecErr(KindBadMagic, fmt.Errorf("got %q", magic))
	}

	_ = binary.BigEndian.Uint16(data[4:6]) // major
	_ = binary.BigEndian.Uint16(data[6:8]) // minor

	var tag [4]byte
	copy(tag[:], data[8:12])
	if tag != compressionTagBytes {
		return nil, newCodecErr(KindUnsupportedCompression, fmt.Errorf("got %q", tag))
	}

	tocLength := binary.BigEndian.Uint32(data[12:16])
	declaredEntrySize := binary.BigEndian.Uint32(data[16:20])
	fileCount := binary.BigEndian.Uint32(data[20:24])
	blockSize := binary.BigEndian.Uint32(data[24:28])
	_ = binary.BigEndian.Uint32(data[28:32]) // flags

	if blockSize != BlockSize {
		return nil, newCodecErr(KindCorruptBlockBounds, fmt.Errorf("unexpected block size %d", blockSize))
	}

	entriesEnd := headerSize + int(declaredEntrySize)*int(fileCount)
	if entriesEnd > len(data) || entriesEnd > int(tocLength) {
		return nil, newCodecErr(KindCorruptOffset, fmt.Errorf("toc entries overrun archive"))
	}

	entries := make([]Entry, fileCount)
	r := bytes.NewReader(data[headerSize:entriesEnd])
	for i := range entries {
		var e Entry
		if _, err := io.ReadFull(r, e.NameHash[:]); err != nil {
			return nil, newCodecErr(KindIO, err)
		}
		var zi uint32
		if err := binary.Read(r, binary.BigEndian, &zi); err != nil {
			return nil, newCodecErr(KindIO, err)
		}
		e.ZSizeIndex = zi

		usize, err := read40(r)
		if err != nil {
			return nil, newCodecErr(KindIO, err)
		}
		e.UncompressedSize = usize

		off, err := read40(r)
		if err != nil {
			return nil, newCodecErr(KindIO, err)
		}
		e.Offset = off

		entries[i] = e
	}

	if int(tocLength) < entriesEnd {
		return nil, newCodecErr(KindCorruptOffset, fmt.Errorf("toc_length too small"))
	}
	zsizesBytes := int(tocLength) - entriesEnd
	if zsizesBytes%2 != 0 {
		return nil, newCodecErr(KindCorruptZSizeIndex, fmt.Errorf("odd zsizes byte span"))
	}
	zsizesCount := zsizesBytes / 2
	if entriesEnd+zsizesBytes > len(data) {
		return nil, newCodecErr(KindCorruptZSizeIndex, fmt.Errorf("zsizes overrun archive"))
	}

	zsizes := make([]uint16, zsizesCount)
	zr := bytes.NewReader(data[entriesEnd : entriesEnd+zsizesBytes])
	if err := binary.Read(zr, binary.BigEndian, &zsizes); err != nil {
		return nil, newCodecErr(KindIO, err)
	}

	for _, e := range entries {
		if e.Offset > uint64(len(data)) {
			return nil, newCodecErr(KindCorruptOffset, fmt.Errorf("entry offset %d exceeds archive length %d", e.Offset, len(data)))
		}
	}

	return &TOC{Entries: entries, ZSizes: zsizes}, nil
}

func write40(buf *bytes.Buffer, v uint64) {
	buf.WriteByte(byte(v >> 32))
	binary.Write(buf, binary.BigEndian, uint32(v))
}

func read40(r io.Reader) (uint64, error) {
	var hi [1]byte
	if _, err := io.ReadFull(r, hi[:]); err != nil {
		return 0, err
	}
	var lo uint32
	if err := binary.Read(r, binary.BigEndian, &lo); err != nil {
		return 0, err
	}
	return uint64(hi[0])<<32 | uint64(lo), nil
}
