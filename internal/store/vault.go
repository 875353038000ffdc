package store

import (
	"context"
	"fmt"
	"path/filepath"

	"sealroom/internal/domain"
	"sealroom/internal/keycache"
)

// Backend is a durable device and setting store.
type Backend interface {
	domain.DeviceStore
	domain.SettingStore
	Close() error
}

// Vault joins a durable Backend with the session's unlocked key cache.
type Vault struct {
	Backend
	*keycache.Cache
}

// NewVault returns a vault over backend and cache.
func NewVault(backend Backend, cache *keycache.Cache) *Vault {
	return &Vault{Backend: backend, Cache: cache}
}

// Open builds the backend named by kind ("file" or "sqlite") under dir.
func Open(ctx context.Context, kind, dir, path string) (Backend, error) {
	switch kind {
	case "", "file":
		return NewFileStore(dir)
	case "sqlite":
		if path == "" {
			path = filepath.Join(dir, "sealroom.db")
		}
		return NewSQLiteStore(ctx, path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", kind)
	}
}

// Close locks every cached key and closes the backend.
func (v *Vault) Close() error {
	v.LockAllKeys()
	return v.Backend.Close()
}

// Compile-time assertion that Vault implements domain.KeyVault.
var _ domain.KeyVault = (*Vault)(nil)
