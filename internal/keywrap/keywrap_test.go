package keywrap_test

import (
	"bytes"
	"errors"
	"testing"

	"sealroom/internal/keywrap"
)

// fastParams keeps Argon2id cheap enough for unit tests.
func fastParams() keywrap.Params {
	p := keywrap.DefaultParams()
	p.ArgonTime = 1
	p.ArgonMemoryKiB = 64
	p.PBKDF2Iterations = 1000
	return p
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	secret := bytes.Repeat([]byte{0xAB}, 32)
	for _, alg := range []keywrap.Algorithm{keywrap.Argon2id, keywrap.PBKDF2} {
		p := fastParams()
		p.Algorithm = alg

		blob, err := keywrap.Wrap(secret, "correcthorsebattery1", p)
		if err != nil {
			t.Fatalf("%s Wrap: %v", alg, err)
		}
		got, err := keywrap.Unwrap(blob, "correcthorsebattery1")
		if err != nil {
			t.Fatalf("%s Unwrap: %v", alg, err)
		}
		if !bytes.Equal(got, secret) {
			t.Fatalf("%s round trip mismatch", alg)
		}
	}
}

func TestTagsAreSelfDescribing(t *testing.T) {
	p := fastParams()
	argon, err := keywrap.Wrap([]byte("k"), "passphrase", p)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	p.Algorithm = keywrap.PBKDF2
	pb, err := keywrap.Wrap([]byte("k"), "passphrase", p)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if tag, _ := keywrap.TagOf(argon); tag != keywrap.TagArgon2idXChaCha {
		t.Fatalf("argon tag = %#x", tag)
	}
	if tag, _ := keywrap.TagOf(pb); tag != keywrap.TagPBKDF2ChaCha {
		t.Fatalf("pbkdf2 tag = %#x", tag)
	}
}

func TestUnwrapWrongPassphrase(t *testing.T) {
	blob, err := keywrap.Wrap([]byte("secret"), "passphrase-one", fastParams())
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if _, err := keywrap.Unwrap(blob, "passphrase-two"); !errors.Is(err, keywrap.ErrAuthentication) {
		t.Fatalf("want ErrAuthentication, got %v", err)
	}
}

func TestUnwrapFailsClosed(t *testing.T) {
	blob, err := keywrap.Wrap([]byte("secret"), "passphrase", fastParams())
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	retagged := append([]byte(nil), blob...)
	retagged[0] = byte(keywrap.TagPBKDF2ChaCha)
	if _, err := keywrap.Unwrap(retagged, "passphrase"); err == nil {
		t.Fatal("expected retagged blob to fail")
	}

	unknown := append([]byte(nil), blob...)
	unknown[0] = 0x7f
	if _, err := keywrap.Unwrap(unknown, "passphrase"); !errors.Is(err, keywrap.ErrUnsupportedFormat) {
		t.Fatalf("want ErrUnsupportedFormat, got %v", err)
	}

	if _, err := keywrap.Unwrap(blob[:20], "passphrase"); !errors.Is(err, keywrap.ErrMalformed) {
		t.Fatalf("want ErrMalformed, got %v", err)
	}

	// salt starts at byte 10
	edited := append([]byte(nil), blob...)
	edited[12] ^= 0x01
	if _, err := keywrap.Unwrap(edited, "passphrase"); !errors.Is(err, keywrap.ErrAuthentication) {
		t.Fatalf("want ErrAuthentication, got %v", err)
	}

	if _, err := keywrap.Unwrap(nil, "passphrase"); !errors.Is(err, keywrap.ErrMalformed) {
		t.Fatalf("want ErrMalformed for empty blob, got %v", err)
	}
}

func TestUnwrapRejectsHugeParameters(t *testing.T) {
	blob, err := keywrap.Wrap([]byte("secret"), "passphrase", fastParams())
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	// time field is bytes 1..4
	blob[1], blob[2], blob[3], blob[4] = 0xff, 0xff, 0xff, 0xff
	if _, err := keywrap.Unwrap(blob, "passphrase"); !errors.Is(err, keywrap.ErrMalformed) {
		t.Fatalf("want ErrMalformed, got %v", err)
	}
}

func TestRawKeyLayer(t *testing.T) {
	key := bytes.Repeat([]byte{9}, 32)
	inner := []byte("inner passphrase blob")

	blob, err := keywrap.WrapWithKey(key, inner)
	if err != nil {
		t.Fatalf("WrapWithKey: %v", err)
	}
	got, err := keywrap.UnwrapWithKey(key, blob)
	if err != nil {
		t.Fatalf("UnwrapWithKey: %v", err)
	}
	if !bytes.Equal(got, inner) {
		t.Fatal("raw key round trip mismatch")
	}

	wrong := bytes.Repeat([]byte{8}, 32)
	if _, err := keywrap.UnwrapWithKey(wrong, blob); !errors.Is(err, keywrap.ErrAuthentication) {
		t.Fatalf("want ErrAuthentication, got %v", err)
	}
	if _, err := keywrap.Unwrap(blob, "passphrase"); !errors.Is(err, keywrap.ErrUnsupportedFormat) {
		t.Fatalf("passphrase unwrap of raw blob: %v", err)
	}
	if _, err := keywrap.WrapWithKey(key[:16], inner); err == nil {
		t.Fatal("expected short key to be rejected")
	}
}
