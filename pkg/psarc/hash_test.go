package psarc

import (
	"crypto/md5"
	"testing"
)

func TestHashPath(t *testing.T) {
	t.Run("CaseInsensitive", func(t *testing.T) {
		a := hashPath("Textures/Foo.dds")
		b := hashPath("TEXTURES/FOO.DDS")
		c := hashPath("textures/foo.dds")
		if a != b || b != c {
			t.Errorf("hash not case-insensitive: %x %x %x", a, b, c)
		}
	})

	t.Run("MatchesUppercaseMD5", func(t *testing.T) {
		want := md5.Sum([]byte("AUDIO/MUSIC.OGG"))
		got := hashPath("audio/Music.ogg")
		if got != want {
			t.Errorf("got %x, want %x", got, want)
		}
	})

	t.Run("NoAllocFastPathMatchesSlowPath", func(t *testing.T) {
		fast := hashPath("ALREADY/UPPER.BIN")
		slow := hashPath("already/upper.bin")
		if fast != slow {
			t.Errorf("fast path %x != slow path %x", fast, slow)
		}
	})

	t.Run("ZeroHashIsManifestHash", func(t *testing.T) {
		if !isManifestHash(zeroHash) {
			t.Error("zeroHash should be recognized as the manifest hash")
		}
		if isManifestHash(hashPath("anything")) {
			t.Error("a real path hash should not be mistaken for the manifest hash")
		}
	})
}

func TestHashPathDeterministic(t *testing.T) {
	paths := []string{"a.txt", "dir/b.bin", "Dir/Sub/C.DAT", ""}
	for _, p := range paths {
		h1 := hashPath(p)
		h2 := hashPath(p)
		if h1 != h2 {
			t.Errorf("hashPath(%q) not deterministic: %x != %x", p, h1, h2)
		}
	}
}
