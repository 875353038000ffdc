package types

import (
	"errors"
	"log/slog"
	"time"

	"sealroom/internal/util/memzero"
)

// Identity is the durable record of one device. The seed is only ever
// stored wrapped.
type Identity struct {
	ID                  DeviceID    `json:"id"`
	Label               string      `json:"label"`
	Email               string      `json:"email,omitempty"`
	Fingerprint         Fingerprint `json:"fingerprint"`
	PublicKey           PublicKey   `json:"public_key"`
	WrappedPrivateKey   []byte      `json:"wrapped_private_key"`
	BiometricWrappedKey []byte      `json:"biometric_wrapped_key,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
}

var errHandleNotSerializable = errors.New("unlocked key handle cannot be serialized")

// UnlockedKeyHandle holds unwrapped key material for one device. It lives in
// process memory only; it refuses JSON encoding and prints as its
// fingerprint.
type UnlockedKeyHandle struct {
	Fingerprint Fingerprint
	Public      PublicKey

	Seed       Seed
	Encryption X25519Private
	Signing    Ed25519Private
}

// Wipe zeroes the private material.
func (h *UnlockedKeyHandle) Wipe() {
	if h == nil {
		return
	}
	memzero.Zero(h.Seed[:])
	memzero.Zero(h.Encryption[:])
	memzero.Zero(h.Signing[:])
}

func (h *UnlockedKeyHandle) String() string {
	if h == nil {
		return "UnlockedKeyHandle(nil)"
	}
	return "UnlockedKeyHandle(" + h.Fingerprint.Short() + ")"
}

// GoString keeps %#v from dumping key bytes.
func (h *UnlockedKeyHandle) GoString() string { return h.String() }

// LogValue implements slog.LogValuer.
func (h *UnlockedKeyHandle) LogValue() slog.Value { return slog.StringValue(h.String()) }

// MarshalJSON always fails.
func (h *UnlockedKeyHandle) MarshalJSON() ([]byte, error) { return nil, errHandleNotSerializable }
