// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"testing"

	"sealroom/internal/crypto"
	"sealroom/internal/domain"
	"sealroom/internal/keycache"
	"sealroom/internal/keywrap"
	"sealroom/internal/store"
)

// FastKDF returns the cheapest Argon2id parameters keywrap accepts.
func FastKDF() keywrap.Params {
	p := keywrap.DefaultParams()
	p.ArgonTime = 1
	p.ArgonMemoryKiB = 64
	p.PBKDF2Iterations = 1000
	return p
}

// Vault returns a file-backed vault rooted in a temporary directory.
func Vault(t *testing.T) *store.Vault {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	v := store.NewVault(fs, keycache.New())
	t.Cleanup(func() { _ = v.Close() })
	return v
}

// Handle returns an unlocked handle for a fresh random identity.
func Handle(t *testing.T) *domain.UnlockedKeyHandle {
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

// Recipient returns the public recipient entry for h.
func Recipient(h *domain.UnlockedKeyHandle) domain.Recipient {
	return domain.Recipient{Fingerprint: h.Fingerprint, PublicKey: h.Public}
}
