package types

import (
	"encoding/base64"
	"fmt"
)

// X25519Public is a Curve25519 public key.
type X25519Public [32]byte

// Slice returns the key as a []byte.
func (p X25519Public) Slice() []byte { return p[:] }

// X25519Private is a Curve25519 private key.
type X25519Private [32]byte

// Slice returns the key as a []byte.
func (k X25519Private) Slice() []byte { return k[:] }

// Ed25519Public is an Ed25519 signing public key.
type Ed25519Public [32]byte

// Slice returns the key as a []byte.
func (p Ed25519Public) Slice() []byte { return p[:] }

// Ed25519Private is an Ed25519 signing private key.
type Ed25519Private [64]byte

// Slice returns the key as a []byte.
func (k Ed25519Private) Slice() []byte { return k[:] }

// Seed is the 32-byte secret every key of a device identity is derived from.
type Seed [32]byte

// Slice returns the seed as a []byte.
func (s Seed) Slice() []byte { return s[:] }

// PublicKeySize is the length of PublicKey.Bytes.
const PublicKeySize = 64

// PublicKey is the public half of a device identity: an X25519 key used as
// the HPKE recipient key and an Ed25519 key used to verify signatures.
type PublicKey struct {
	Encryption X25519Public
	Signing    Ed25519Public
}

// Bytes returns encryption || signing.
func (p PublicKey) Bytes() []byte {
	out := make([]byte, 0, PublicKeySize)
	out = append(out, p.Encryption[:]...)
	return append(out, p.Signing[:]...)
}

// IsZero reports whether p is the zero value.
func (p PublicKey) IsZero() bool { return p == PublicKey{} }

// ParsePublicKey decodes the form produced by Bytes.
func ParsePublicKey(b []byte) (PublicKey, error) {
	var p PublicKey
	if len(b) != PublicKeySize {
		return p, fmt.Errorf("public key: want %d bytes, got %d", PublicKeySize, len(b))
	}
	copy(p.Encryption[:], b[:32])
	copy(p.Signing[:], b[32:])
	return p, nil
}

// MarshalText encodes the key as standard base64.
func (p PublicKey) MarshalText() ([]byte, error) {
	return []byte(base64.StdEncoding.EncodeToString(p.Bytes())), nil
}

// UnmarshalText decodes a base64 key.
func (p *PublicKey) UnmarshalText(text []byte) error {
	raw, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	parsed, err := ParsePublicKey(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
