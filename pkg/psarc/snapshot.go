package psarc

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"
)

// snapshotMagic identifies a pack snapshot file on disk.
var snapshotMagic = [4]byte{'P', 'S', 'N', 'S'}

// snapshotHeader mirrors the teacher's compressed-envelope header: a
// fixed magic, the envelope's own length, and the uncompressed /
// compressed payload sizes, so a snapshot can be validated and
// stream-decompressed without buffering the whole file up front.
type snapshotHeader struct {
	Magic            [4]byte
	HeaderLength     uint32
	Length           uint64
	CompressedLength uint64
}

const snapshotHeaderSize = 4 + 4 + 8 + 8

// SnapshotEntry records what Pack last saw for one archive-internal
// path, enough to decide whether the file changed without rehashing
// its contents.
type SnapshotEntry struct {
	InternalPath string
	Size         int64
	ModTimeUnix  int64
}

// Snapshot is the full record of one Pack run, persisted so the next
// incremental Pack can auto-detect which files changed.
type Snapshot struct {
	Entries []SnapshotEntry
}

// WriteSnapshot gob-encodes and zlib-compresses entries to path inside
// a snapshotHeader envelope.
func WriteSnapshot(path string, entries []SnapshotEntry) error {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(Snapshot{Entries: entries}); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(payload.Bytes()); err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close snapshot compressor: %w", err)
	}

	header := snapshotHeader{
		Magic:            snapshotMagic,
		HeaderLength:     snapshotHeaderSize,
		Length:           uint64(payload.Len()),
		CompressedLength: uint64(compressed.Len()),
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer f.Close()

	if err := writeSnapshotHeader(f, header); err != nil {
		return err
	}
	if _, err := f.Write(compressed.Bytes()); err != nil {
		return fmt.Errorf("write snapshot body: %w", err)
	}
	return nil
}

// ReadSnapshot opens and decodes a snapshot previously written by
// WriteSnapshot. A missing file is not an error: it simply means no
// prior snapshot exists yet, so the caller gets (nil, nil).
func ReadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	header, err := readSnapshotHeader(f)
	if err != nil {
		return nil, err
	}

	zr, err := zlib.NewReader(io.LimitReader(f, int64(header.CompressedLength)))
	if err != nil {
		return nil, fmt.Errorf("open snapshot compressor: %w", err)
	}
	defer zr.Close()

	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(zr, payload); err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}

	var snap Snapshot
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func writeSnapshotHeader(w io.Writer, h snapshotHeader) error {
	var buf bytes.Buffer
	buf.Write(h.Magic[:])
	binary.Write(&buf, binary.LittleEndian, h.HeaderLength)
	binary.Write(&buf, binary.LittleEndian, h.Length)
	binary.Write(&buf, binary.LittleEndian, h.CompressedLength)
	_, err := w.Write(buf.Bytes())
	return err
}

func readSnapshotHeader(r io.Reader) (snapshotHeader, error) {
	buf := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return snapshotHeader{}, fmt.Errorf("read snapshot header: %w", err)
	}

	var h snapshotHeader
	copy(h.Magic[:], buf[0:4])
	if h.Magic != snapshotMagic {
		return snapshotHeader{}, fmt.Errorf("bad snapshot magic %x", h.Magic)
	}
	h.HeaderLength = binary.LittleEndian.Uint32(buf[4:8])
	h.Length = binary.LittleEndian.Uint64(buf[8:16])
	h.CompressedLength = binary.LittleEndian.Uint64(buf[16:24])
	return h, nil
}

// DetectModified compares discovered files against a prior snapshot by
// size and modification time, returning the set of internal paths that
// changed, were added, or (implicitly, by absence from the returned
// snapshot) were removed. A nil prior snapshot means everything counts
// as modified.
func DetectModified(discovered []discoveredFile, prior *Snapshot) (map[string]struct{}, []SnapshotEntry, error) {
	modified := make(map[string]struct{})
	next := make([]SnapshotEntry, 0, len(discovered))

	var priorByPath map[string]SnapshotEntry
	if prior != nil {
		priorByPath = make(map[string]SnapshotEntry, len(prior.Entries))
		for _, e := range prior.Entries {
			priorByPath[e.InternalPath] = e
		}
	}

	for _, f := range discovered {
		info, err := os.Stat(f.AbsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("stat %s: %w", f.AbsPath, err)
		}

		entry := SnapshotEntry{
			InternalPath: f.InternalPath,
			Size:         info.Size(),
			ModTimeUnix:  info.ModTime().Unix(),
		}
		next = append(next, entry)

		if priorByPath == nil {
			modified[f.InternalPath] = struct{}{}
			continue
		}
		prev, ok := priorByPath[f.InternalPath]
		if !ok || prev.Size != entry.Size || prev.ModTimeUnix != entry.ModTimeUnix {
			modified[f.InternalPath] = struct{}{}
		}
	}

	return modified, next, nil
}
