package crypto_test

import (
	"bytes"
	"testing"

	"sealroom/internal/crypto"
	"sealroom/internal/domain"
)

func makeHandle(t *testing.T) *domain.UnlockedKeyHandle {
	t.Helper()
	seed, err := crypto.NewSeed()
	if err != nil {
		t.Fatalf("NewSeed: %v", err)
	}
	h, err := crypto.NewHandle(seed)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	return h
}

func TestDeriveKeysDeterministic(t *testing.T) {
	seed := domain.Seed{7}
	a, _, _, err := crypto.DeriveKeys(seed)
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	b, _, _, err := crypto.DeriveKeys(seed)
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	if a != b {
		t.Fatal("same seed produced different public keys")
	}
	if crypto.Fingerprint(a) != crypto.Fingerprint(b) {
		t.Fatal("fingerprint not deterministic")
	}
	if len(crypto.Fingerprint(a)) != 64 {
		t.Fatalf("fingerprint length = %d", len(crypto.Fingerprint(a)))
	}
}

func TestSignVerify(t *testing.T) {
	h := makeHandle(t)
	msg := []byte("group commit")
	sig := crypto.SignEd25519(h.Signing, msg)
	if !crypto.VerifyEd25519(h.Public.Signing, msg, sig) {
		t.Fatal("signature did not verify")
	}
	if crypto.VerifyEd25519(h.Public.Signing, []byte("other"), sig) {
		t.Fatal("signature verified over wrong message")
	}
}

func TestHPKERoundTrip(t *testing.T) {
	h := makeHandle(t)
	info, aad := []byte("info"), []byte("aad")

	enc, ct, err := crypto.SealTo(h.Public.Encryption, info, aad, []byte("session key"))
	if err != nil {
		t.Fatalf("SealTo: %v", err)
	}
	if len(enc) != crypto.EncapsulatedKeySize() {
		t.Fatalf("enc size = %d", len(enc))
	}
	pt, err := crypto.OpenFrom(h.Encryption, info, aad, enc, ct)
	if err != nil {
		t.Fatalf("OpenFrom: %v", err)
	}
	if string(pt) != "session key" {
		t.Fatalf("plaintext = %q", pt)
	}

	other := makeHandle(t)
	if _, err := crypto.OpenFrom(other.Encryption, info, aad, enc, ct); err == nil {
		t.Fatal("expected open with wrong key to fail")
	}
	if _, err := crypto.OpenFrom(h.Encryption, info, []byte("other"), enc, ct); err == nil {
		t.Fatal("expected open with wrong aad to fail")
	}
}

func TestSealOpen(t *testing.T) {
	key := bytes.Repeat([]byte{1}, crypto.KeySize)
	blob, err := crypto.Seal(key, []byte("payload"), []byte("ad"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	pt, err := crypto.Open(key, blob, []byte("ad"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(pt) != "payload" {
		t.Fatalf("plaintext = %q", pt)
	}

	blob[len(blob)-1] ^= 1
	if _, err := crypto.Open(key, blob, []byte("ad")); err == nil {
		t.Fatal("expected tampered ciphertext to fail")
	}
	if _, err := crypto.Open(key, blob[:10], nil); err == nil {
		t.Fatal("expected short ciphertext to fail")
	}
}

func TestDisplayCodeSymmetric(t *testing.T) {
	a, b := makeHandle(t), makeHandle(t)
	ab := crypto.DisplayCode(a.Public, b.Public)
	ba := crypto.DisplayCode(b.Public, a.Public)
	if ab != ba {
		t.Fatalf("display code not symmetric: %q vs %q", ab, ba)
	}
	if ab == crypto.DisplayCode(a.Public, a.Public) {
		t.Fatal("different pairs produced the same code")
	}
}
