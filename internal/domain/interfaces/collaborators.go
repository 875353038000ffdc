package interfaces

import (
	"context"

	domaintypes "sealroom/internal/domain/types"
)

// Delivery moves opaque blobs between devices. Sequence numbers are assigned
// by the server and increase monotonically per channel.
type Delivery interface {
	Post(ctx context.Context, channel string, epoch uint64, blob []byte, idempotencyKey string) (uint64, error)
	Fetch(ctx context.Context, channel string, afterSeq uint64) ([]domaintypes.Delivered, error)
}

// Directory resolves device fingerprints to public key material and hands
// out key packages.
type Directory interface {
	PublishDevice(ctx context.Context, fpr domaintypes.Fingerprint, pub domaintypes.PublicKey) error
	LookupDevice(ctx context.Context, fpr domaintypes.Fingerprint) (domaintypes.PublicKey, error)
	PublishKeyPackage(ctx context.Context, kp domaintypes.KeyPackage) error
	ClaimKeyPackage(ctx context.Context, fpr domaintypes.Fingerprint) (domaintypes.KeyPackage, error)
}

// HandshakeLog returns the durable, ordered handshake history of a group.
type HandshakeLog interface {
	Handshakes(ctx context.Context, groupID domaintypes.GroupID) ([]domaintypes.MLSMessage, error)
}

// Biometric runs the platform user-presence ceremony and yields a 256-bit
// wrapping key bound to the fingerprint.
type Biometric interface {
	Available(ctx context.Context) bool
	WrappingKey(ctx context.Context, fpr domaintypes.Fingerprint) ([32]byte, error)
}
