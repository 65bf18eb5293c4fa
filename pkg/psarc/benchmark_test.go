package psarc

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/klauspost/compress/zlib"
)

// BenchmarkPackBlock benchmarks per-block compression at realistic
// game-asset sizes: fully compressible, fully random, and mixed.
func BenchmarkPackBlock(b *testing.B) {
	compressible := bytes.Repeat([]byte("the quick brown fox jumps "), 2521)[:BlockSize]

	random := make([]byte, BlockSize)
	rand.New(rand.NewSource(42)).Read(random)

	b.Run("Compressible", func(b *testing.B) {
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, _, err := packBlock(compressible, zlib.DefaultCompression); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Random", func(b *testing.B) {
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, _, err := packBlock(random, zlib.DefaultCompression); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkHashPath benchmarks name hashing across a mix of already
// uppercase and mixed-case archive paths.
func BenchmarkHashPath(b *testing.B) {
	paths := []string{
		"AUDIO/MUSIC/THEME.OGG",
		"Textures/Characters/Hero_Diffuse.dds",
		"data/levels/level_01/geometry.bin",
	}

	for _, p := range paths {
		p := p
		b.Run(p, func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = hashPath(p)
			}
		})
	}
}

// BenchmarkTOCParse benchmarks TOC parsing for archives of increasing
// entry counts.
func BenchmarkTOCParse(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		n := n
		b.Run(fmt.Sprintf("Entries%d", n), func(b *testing.B) {
			toc := &TOC{}
			var data bytes.Buffer

			manifestBytes := []byte("manifest placeholder")
			mStored, mZSize, _ := packBlock(manifestBytes, zlib.DefaultCompression)
			toc.Entries = append(toc.Entries, Entry{NameHash: zeroHash, UncompressedSize: uint64(len(manifestBytes)), Offset: 0})
			toc.ZSizes = append(toc.ZSizes, mZSize)
			data.Write(mStored)

			for i := 0; i < n; i++ {
				content := []byte(fmt.Sprintf("file-%d-content", i))
				stored, zsize, _ := packBlock(content, zlib.DefaultCompression)
				toc.Entries = append(toc.Entries, Entry{
					NameHash:         hashPath(fmt.Sprintf("file_%d.bin", i)),
					ZSizeIndex:       uint32(len(toc.ZSizes)),
					UncompressedSize: uint64(len(content)),
					Offset:           uint64(data.Len()),
				})
				toc.ZSizes = append(toc.ZSizes, zsize)
				data.Write(stored)
			}

			var archive bytes.Buffer
			if _, err := toc.WriteTo(&archive, bytes.NewReader(data.Bytes())); err != nil {
				b.Fatal(err)
			}
			archiveBytes := archive.Bytes()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := ParseTOC(archiveBytes); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
