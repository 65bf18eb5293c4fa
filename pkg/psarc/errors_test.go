package psarc

import (
	"errors"
	"testing"
)

func TestCodecErrorUnwrap(t *testing.T) {
	inner := errors.New("disk gone")
	ce := newCodecErr(KindIO, inner)

	if !errors.Is(ce, inner) {
		t.Error("errors.Is should see through CodecError to the wrapped error")
	}
	if ce.Error() == "" {
		t.Error("Error() should not be empty")
	}
}

func TestManifestReferenceMissingError(t *testing.T) {
	ce := errManifestReferenceMissing([]string{"a.txt", "b.txt"})
	if ce.Kind != KindManifestReferenceMissing {
		t.Errorf("Kind = %v, want KindManifestReferenceMissing", ce.Kind)
	}
	msg := ce.Error()
	if msg == "" {
		t.Error("Error() should describe the missing references")
	}
}

func TestErrorKindString(t *testing.T) {
	kinds := []ErrorKind{
		KindIO, KindBadMagic, KindUnsupportedCompression, KindCorruptOffset,
		KindCorruptZSizeIndex, KindCorruptBlockBounds, KindInflateFailed,
		KindManifestReferenceMissing,
	}
	for _, k := range kinds {
		if k.String() == "unknown" {
			t.Errorf("ErrorKind %d missing a String() case", k)
		}
	}
	if ErrorKind(999).String() != "unknown" {
		t.Error("an out-of-range ErrorKind should stringify to \"unknown\"")
	}
}
