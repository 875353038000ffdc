package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sealroom/internal/domain"
)

// SQLiteStore keeps devices and settings in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL UNIQUE,
		public_key BLOB NOT NULL,
		wrapped_private_key BLOB NOT NULL,
		biometric_wrapped_key BLOB,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// ---------- Devices ----------

const deviceColumns = `id, label, email, fingerprint, public_key, wrapped_private_key, biometric_wrapped_key, created_at`

// StoreDevice inserts or replaces the record for id.ID.
func (s *SQLiteStore) StoreDevice(ctx context.Context, id domain.Identity) error {
	if id.ID == "" {
		return domain.Invalid("id", "device id is empty")
	}
	query := `
	INSERT INTO devices (` + deviceColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		label = excluded.label,
		email = excluded.email,
		fingerprint = excluded.fingerprint,
		public_key = excluded.public_key,
		wrapped_private_key = excluded.wrapped_private_key,
		biometric_wrapped_key = excluded.biometric_wrapped_key
	`
	_, err := s.db.ExecContext(ctx, query,
		string(id.ID),
		id.Label,
		id.Email,
		string(id.Fingerprint),
		id.PublicKey.Bytes(),
		id.WrappedPrivateKey,
		id.BiometricWrappedKey,
		id.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store device: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (domain.Identity, error) {
	var (
		d         domain.Identity
		id, fpr   string
		pub       []byte
		createdAt int64
	)
	if err := row.Scan(&id, &d.Label, &d.Email, &fpr, &pub, &d.WrappedPrivateKey, &d.BiometricWrappedKey, &createdAt); err != nil {
		return domain.Identity{}, err
	}
	pk, err := domain.ParsePublicKey(pub)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("device %s: %w", id, err)
	}
	d.ID = domain.DeviceID(id)
	d.Fingerprint = domain.Fingerprint(fpr)
	d.PublicKey = pk
	d.CreatedAt = time.Unix(0, createdAt).UTC()
	return d, nil
}

func (s *SQLiteStore) getDeviceWhere(ctx context.Context, where string, arg string) (domain.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE `+where+` = ?`, arg)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Identity{}, domain.NotFound("device", arg)
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to load device: %w", err)
	}
	return d, nil
}

// GetDevice returns the record for id.
func (s *SQLiteStore) GetDevice(ctx context.Context, id domain.DeviceID) (domain.Identity, error) {
	return s.getDeviceWhere(ctx, "id", string(id))
}

// GetDeviceByFingerprint returns the record whose fingerprint is fpr.
func (s *SQLiteStore) GetDeviceByFingerprint(ctx context.Context, fpr domain.Fingerprint) (domain.Identity, error) {
	return s.getDeviceWhere(ctx, "fingerprint", string(fpr))
}

// DeleteDevice removes the record for id.
func (s *SQLiteStore) DeleteDevice(ctx context.Context, id domain.DeviceID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("device", id.String())
	}
	return nil
}

// ListDevices returns every record, oldest first.
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]domain.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var out []domain.Identity
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ---------- Settings ----------

// StoreSetting writes value under key.
func (s *SQLiteStore) StoreSetting(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return domain.Invalid("key", "setting key is empty")
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to store setting: %w", err)
	}
	return nil
}

// GetSetting reads the value stored under key.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("setting", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load setting: %w", err)
	}
	return value, nil
}

// DeleteSetting removes key; a missing key is not an error.
func (s *SQLiteStore) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

// Compile-time assertion that SQLiteStore implements Backend.
var _ Backend = (*SQLiteStore)(nil)
