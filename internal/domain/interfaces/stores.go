package interfaces

import (
	"context"

	domaintypes "sealroom/internal/domain/types"
)

// DeviceStore persists device identity records.
type DeviceStore interface {
	StoreDevice(ctx context.Context, id domaintypes.Identity) error
	GetDevice(ctx context.Context, id domaintypes.DeviceID) (domaintypes.Identity, error)
	GetDeviceByFingerprint(ctx context.Context, fpr domaintypes.Fingerprint) (domaintypes.Identity, error)
	DeleteDevice(ctx context.Context, id domaintypes.DeviceID) error
	ListDevices(ctx context.Context) ([]domaintypes.Identity, error)
}

// SettingStore persists opaque blobs by key.
type SettingStore interface {
	StoreSetting(ctx context.Context, key string, value []byte) error
	GetSetting(ctx context.Context, key string) ([]byte, error)
	DeleteSetting(ctx context.Context, key string) error
}

// KeyCache holds unlocked key handles in memory for the life of a session.
type KeyCache interface {
	StoreUnlockedKey(h *domaintypes.UnlockedKeyHandle)
	GetUnlockedKey(fpr domaintypes.Fingerprint) (*domaintypes.UnlockedKeyHandle, bool)
	LockKey(fpr domaintypes.Fingerprint)
	LockAllKeys()
	ListUnlockedFingerprints() []domaintypes.Fingerprint
}

// KeyVault is the full storage contract: durable devices and settings plus
// the in-memory unlocked key cache.
type KeyVault interface {
	DeviceStore
	SettingStore
	KeyCache
}
