package keywrap

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// Algorithm selects the passphrase KDF used for new blobs.
type Algorithm string

const (
	Argon2id Algorithm = "argon2id"
	PBKDF2   Algorithm = "pbkdf2"
)

// Bounds enforced on both wrap and unwrap so a crafted blob cannot request
// unbounded work.
const (
	minArgonTime      = 1
	maxArgonTime      = 16
	minArgonMemoryKiB = 8
	maxArgonMemoryKiB = 1 << 21
	minArgonThreads   = 1
	maxArgonThreads   = 16
	minPBKDF2Iter     = 1000
	maxPBKDF2Iter     = 10_000_000
)

// Params configures the KDF used by Wrap.
type Params struct {
	Algorithm        Algorithm
	ArgonTime        uint32
	ArgonMemoryKiB   uint32
	ArgonThreads     uint8
	PBKDF2Iterations uint32
}

// DefaultParams returns interactive-tier Argon2id settings.
func DefaultParams() Params {
	return Params{
		Algorithm:        Argon2id,
		ArgonTime:        2,
		ArgonMemoryKiB:   64 * 1024,
		ArgonThreads:     1,
		PBKDF2Iterations: 600_000,
	}
}

// Validate checks that p is within the accepted bounds.
func (p Params) Validate() error {
	switch p.Algorithm {
	case Argon2id:
		return validateArgon(p.ArgonTime, p.ArgonMemoryKiB, p.ArgonThreads)
	case PBKDF2:
		return validatePBKDF2(p.PBKDF2Iterations)
	default:
		return fmt.Errorf("unknown kdf algorithm %q", p.Algorithm)
	}
}

func validateArgon(time, memKiB uint32, threads uint8) error {
	if time < minArgonTime || time > maxArgonTime {
		return fmt.Errorf("argon2id time %d out of range", time)
	}
	if threads < minArgonThreads || threads > maxArgonThreads {
		return fmt.Errorf("argon2id threads %d out of range", threads)
	}
	if memKiB < minArgonMemoryKiB*uint32(threads) || memKiB > maxArgonMemoryKiB {
		return fmt.Errorf("argon2id memory %d KiB out of range", memKiB)
	}
	return nil
}

func validatePBKDF2(iter uint32) error {
	if iter < minPBKDF2Iter || iter > maxPBKDF2Iter {
		return fmt.Errorf("pbkdf2 iterations %d out of range", iter)
	}
	return nil
}

func deriveArgon(passphrase string, salt []byte, time, memKiB uint32, threads uint8) []byte {
	return argon2.IDKey([]byte(passphrase), salt, time, memKiB, threads, keySize)
}

func derivePBKDF2(passphrase string, salt []byte, iter uint32) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, int(iter), keySize, sha256.New)
}
