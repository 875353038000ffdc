package keywrap

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"sealroom/internal/util/memzero"
)

// Tag is the leading format byte of a wrapped blob.
type Tag byte

const (
	TagArgon2idXChaCha Tag = 0x01
	TagPBKDF2ChaCha    Tag = 0x02
	TagRawKeyXChaCha   Tag = 0x03
)

const (
	keySize  = chacha20poly1305.KeySize
	saltSize = 16

	argonHeaderSize  = 1 + 4 + 4 + 1 + saltSize
	pbkdf2HeaderSize = 1 + 4 + saltSize
	rawHeaderSize    = 1
)

var (
	// ErrUnsupportedFormat is returned for an unknown or mismatched tag.
	ErrUnsupportedFormat = errors.New("unsupported key wrap format")

	// ErrMalformed is returned for truncated blobs and out-of-range parameters.
	ErrMalformed = errors.New("malformed wrapped key")

	// ErrAuthentication is returned when the AEAD rejects the blob.
	ErrAuthentication = errors.New("wrapped key authentication failed")
)

// TagOf returns the format tag of blob.
func TagOf(blob []byte) (Tag, error) {
	if len(blob) == 0 {
		return 0, ErrMalformed
	}
	switch t := Tag(blob[0]); t {
	case TagArgon2idXChaCha, TagPBKDF2ChaCha, TagRawKeyXChaCha:
		return t, nil
	default:
		return 0, ErrUnsupportedFormat
	}
}

// Wrap seals secret under a key derived from passphrase.
func Wrap(secret []byte, passphrase string, p Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	var (
		header []byte
		key    []byte
		aead   cipher.AEAD
		err    error
	)
	switch p.Algorithm {
	case Argon2id:
		header = make([]byte, 0, argonHeaderSize)
		header = append(header, byte(TagArgon2idXChaCha))
		header = binary.BigEndian.AppendUint32(header, p.ArgonTime)
		header = binary.BigEndian.AppendUint32(header, p.ArgonMemoryKiB)
		header = append(header, p.ArgonThreads)
		header = append(header, salt...)
		key = deriveArgon(passphrase, salt, p.ArgonTime, p.ArgonMemoryKiB, p.ArgonThreads)
		aead, err = chacha20poly1305.NewX(key)
	case PBKDF2:
		header = make([]byte, 0, pbkdf2HeaderSize)
		header = append(header, byte(TagPBKDF2ChaCha))
		header = binary.BigEndian.AppendUint32(header, p.PBKDF2Iterations)
		header = append(header, salt...)
		key = derivePBKDF2(passphrase, salt, p.PBKDF2Iterations)
		aead, err = chacha20poly1305.New(key)
	}
	memzero.Zero(key)
	if err != nil {
		return nil, err
	}
	return seal(aead, header, secret)
}

// Unwrap opens a blob produced by Wrap. The tag decides the KDF, the AEAD and
// every offset.
func Unwrap(blob []byte, passphrase string) ([]byte, error) {
	tag, err := TagOf(blob)
	if err != nil {
		return nil, err
	}

	var (
		header []byte
		key    []byte
		aead   cipher.AEAD
	)
	switch tag {
	case TagArgon2idXChaCha:
		if len(blob) < argonHeaderSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
			return nil, ErrMalformed
		}
		header = blob[:argonHeaderSize]
		time := binary.BigEndian.Uint32(header[1:5])
		mem := binary.BigEndian.Uint32(header[5:9])
		threads := header[9]
		if err := validateArgon(time, mem, threads); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		key = deriveArgon(passphrase, header[10:], time, mem, threads)
		aead, err = chacha20poly1305.NewX(key)
	case TagPBKDF2ChaCha:
		if len(blob) < pbkdf2HeaderSize+chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
			return nil, ErrMalformed
		}
		header = blob[:pbkdf2HeaderSize]
		iter := binary.BigEndian.Uint32(header[1:5])
		if err := validatePBKDF2(iter); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		key = derivePBKDF2(passphrase, header[5:], iter)
		aead, err = chacha20poly1305.New(key)
	default:
		// raw-key blobs are opened with UnwrapWithKey
		return nil, ErrUnsupportedFormat
	}
	memzero.Zero(key)
	if err != nil {
		return nil, err
	}
	return open(aead, header, blob[len(header):])
}

// WrapWithKey seals inner under a raw 256-bit key.
func WrapWithKey(key, inner []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("wrapping key must be %d bytes", keySize)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return seal(aead, []byte{byte(TagRawKeyXChaCha)}, inner)
}

// UnwrapWithKey opens a blob produced by WrapWithKey.
func UnwrapWithKey(key, blob []byte) ([]byte, error) {
	tag, err := TagOf(blob)
	if err != nil {
		return nil, err
	}
	if tag != TagRawKeyXChaCha {
		return nil, ErrUnsupportedFormat
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("wrapping key must be %d bytes", keySize)
	}
	if len(blob) < rawHeaderSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, ErrMalformed
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return open(aead, blob[:rawHeaderSize], blob[rawHeaderSize:])
}

func seal(aead cipher.AEAD, header, secret []byte) ([]byte, error) {
	out := make([]byte, len(header)+aead.NonceSize(), len(header)+aead.NonceSize()+len(secret)+aead.Overhead())
	copy(out, header)
	nonce := out[len(header):]
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(out, nonce, secret, header), nil
}

func open(aead cipher.AEAD, header, rest []byte) ([]byte, error) {
	nonce, ct := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, header)
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}
