package psarc

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/klauspost/compress/zlib"
)

func TestPackBlockRoundTrip(t *testing.T) {
	t.Run("CompressibleBlock", func(t *testing.T) {
		block := bytes.Repeat([]byte("hello world "), 8192)[:BlockSize]
		stored, zsize, err := packBlock(block, zlib.DefaultCompression)
		if err != nil {
			t.Fatalf("packBlock: %v", err)
		}
		if zsize == 0 {
			t.Fatal("expected a nonzero zsize for a compressed block")
		}
		if !looksLikeZlib(stored) {
			t.Fatal("stored bytes should look like a zlib stream")
		}

		decoded, err := decompressBlock(stored, len(block))
		if err != nil {
			t.Fatalf("decompressBlock: %v", err)
		}
		if !bytes.Equal(decoded, block) {
			t.Fatal("round trip mismatch")
		}
	})

	t.Run("IncompressibleFullBlockStoresRawWithZeroZSize", func(t *testing.T) {
		block := make([]byte, BlockSize)
		rand.New(rand.NewSource(1)).Read(block)

		stored, zsize, err := packBlock(block, zlib.BestCompression)
		if err != nil {
			t.Fatalf("packBlock: %v", err)
		}
		if zsize != 0 {
			t.Errorf("expected zsize 0 for a full raw block, got %d", zsize)
		}
		if rawStoredLen(zsize) != BlockSize {
			t.Errorf("rawStoredLen(0) = %d, want %d", rawStoredLen(zsize), BlockSize)
		}
		if !bytes.Equal(stored, block) {
			t.Error("raw block bytes should be stored verbatim")
		}
	})

	t.Run("IncompressiblePartialBlockRecordsExplicitLength", func(t *testing.T) {
		block := make([]byte, 1234)
		rand.New(rand.NewSource(2)).Read(block)

		stored, zsize, err := packBlock(block, zlib.BestCompression)
		if err != nil {
			t.Fatalf("packBlock: %v", err)
		}
		if zsize == 0 {
			t.Fatal("a partial raw block must not record zsize 0, that means full block size")
		}
		if int(zsize) != len(block) {
			t.Errorf("zsize = %d, want %d", zsize, len(block))
		}
		if rawStoredLen(zsize) != len(block) {
			t.Errorf("rawStoredLen mismatch: %d != %d", rawStoredLen(zsize), len(block))
		}
		if !bytes.Equal(stored, block) {
			t.Error("raw partial block bytes should be stored verbatim")
		}
	})
}

func TestLooksLikeZlib(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want bool
	}{
		{"TooShort", []byte{0x78}, false},
		{"Empty", nil, false},
		{"ValidDefault", []byte{0x78, 0x9c, 0, 0}, true},
		{"ValidBest", []byte{0x78, 0xda, 0, 0}, true},
		{"ValidNone", []byte{0x78, 0x01, 0, 0}, true},
		{"ValidLow", []byte{0x78, 0x5e, 0, 0}, true},
		{"WrongCMF", []byte{0x79, 0x9c, 0, 0}, false},
		{"RandomData", []byte{0x12, 0x34, 0x56, 0x78}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := looksLikeZlib(tc.in); got != tc.want {
				t.Errorf("looksLikeZlib(%x) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestChunkBlocks(t *testing.T) {
	t.Run("EmptyData", func(t *testing.T) {
		if chunks := chunkBlocks(nil); len(chunks) != 0 {
			t.Errorf("expected no chunks for empty data, got %d", len(chunks))
		}
	})

	t.Run("ExactMultiple", func(t *testing.T) {
		data := make([]byte, BlockSize*3)
		chunks := chunkBlocks(data)
		if len(chunks) != 3 {
			t.Fatalf("expected 3 chunks, got %d", len(chunks))
		}
		for _, c := range chunks {
			if len(c) != BlockSize {
				t.Errorf("expected chunk of size %d, got %d", BlockSize, len(c))
			}
		}
	})

	t.Run("TrailingPartialChunk", func(t *testing.T) {
		data := make([]byte, BlockSize*2+100)
		chunks := chunkBlocks(data)
		if len(chunks) != 3 {
			t.Fatalf("expected 3 chunks, got %d", len(chunks))
		}
		if len(chunks[2]) != 100 {
			t.Errorf("expected final chunk of 100 bytes, got %d", len(chunks[2]))
		}
	})
}

func TestBlockCount(t *testing.T) {
	cases := []struct {
		size uint64
		want int
	}{
		{0, 0},
		{1, 1},
		{BlockSize, 1},
		{BlockSize + 1, 2},
		{BlockSize * 4, 4},
	}
	for _, tc := range cases {
		if got := blockCount(tc.size); got != tc.want {
			t.Errorf("blockCount(%d) = %d, want %d", tc.size, got, tc.want)
		}
	}
}
