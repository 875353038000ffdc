package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"sealroom/internal/domain"
)

const (
	devicesFile = "devices.json"
	settingsDir = "settings"
)

// FileStore keeps device records in one JSON file and each setting in its
// own file under settings/.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, settingsDir), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// ---------- Devices ----------

func (s *FileStore) loadDevices() (map[domain.DeviceID]domain.Identity, error) {
	m := make(map[domain.DeviceID]domain.Identity)
	if err := readJSON(filepath.Join(s.dir, devicesFile), &m); err != nil {
		return nil, fmt.Errorf("read devices: %w", err)
	}
	return m, nil
}

// StoreDevice inserts or replaces the record for id.ID.
func (s *FileStore) StoreDevice(_ context.Context, id domain.Identity) error {
	if id.ID == "" {
		return domain.Invalid("id", "device id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadDevices()
	if err != nil {
		return err
	}
	m[id.ID] = id
	return writeJSON(filepath.Join(s.dir, devicesFile), m)
}

// GetDevice returns the record for id.
func (s *FileStore) GetDevice(_ context.Context, id domain.DeviceID) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadDevices()
	if err != nil {
		return domain.Identity{}, err
	}
	d, ok := m[id]
	if !ok {
		return domain.Identity{}, domain.NotFound("device", id.String())
	}
	return d, nil
}

// GetDeviceByFingerprint returns the record whose fingerprint is fpr.
func (s *FileStore) GetDeviceByFingerprint(_ context.Context, fpr domain.Fingerprint) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadDevices()
	if err != nil {
		return domain.Identity{}, err
	}
	for _, d := range m {
		if d.Fingerprint == fpr {
			return d, nil
		}
	}
	return domain.Identity{}, domain.NotFound("device", fpr.String())
}

// DeleteDevice removes the record for id.
func (s *FileStore) DeleteDevice(_ context.Context, id domain.DeviceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadDevices()
	if err != nil {
		return err
	}
	if _, ok := m[id]; !ok {
		return domain.NotFound("device", id.String())
	}
	delete(m, id)
	return writeJSON(filepath.Join(s.dir, devicesFile), m)
}

// ListDevices returns every record, oldest first.
func (s *FileStore) ListDevices(_ context.Context) ([]domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadDevices()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Identity, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ---------- Settings ----------

func (s *FileStore) settingPath(key string) string {
	return filepath.Join(s.dir, settingsDir, hex.EncodeToString([]byte(key)))
}

// StoreSetting writes value under key.
func (s *FileStore) StoreSetting(_ context.Context, key string, value []byte) error {
	if key == "" {
		return domain.Invalid("key", "setting key is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFile(s.settingPath(key), value)
}

// GetSetting reads the value stored under key.
func (s *FileStore) GetSetting(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(s.settingPath(key))
	if err != nil {
		return nil, fmt.Errorf("read setting: %w", err)
	}
	if b == nil {
		return nil, domain.NotFound("setting", key)
	}
	return b, nil
}

// DeleteSetting removes key; a missing key is not an error.
func (s *FileStore) DeleteSetting(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.settingPath(key))
}

// Close is a no-op; it lets FileStore satisfy Backend.
func (s *FileStore) Close() error { return nil }

// Compile-time assertion that FileStore implements Backend.
var _ Backend = (*FileStore)(nil)
