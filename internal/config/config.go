// Package config loads sealroom settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sealroom/internal/keywrap"
)

// FileName is the config file looked up inside the home directory.
const FileName = "config.yaml"

// Config is the full runtime configuration.
type Config struct {
	Home       string           `yaml:"home"`
	Store      StoreConfig      `yaml:"store"`
	KDF        KDFConfig        `yaml:"kdf"`
	Passphrase PassphraseConfig `yaml:"passphrase"`
	Unlock     UnlockConfig     `yaml:"unlock"`
	Buffer     BufferConfig     `yaml:"buffer"`
	Relay      RelayConfig      `yaml:"relay"`
	Log        LogConfig        `yaml:"log"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"` // file or sqlite
	Path    string `yaml:"path"`    // sqlite database file; defaults under Home
}

type KDFConfig struct {
	Algorithm        string `yaml:"algorithm"`
	ArgonTime        uint32 `yaml:"argon_time"`
	ArgonMemoryKiB   uint32 `yaml:"argon_memory_kib"`
	ArgonThreads     uint8  `yaml:"argon_threads"`
	PBKDF2Iterations uint32 `yaml:"pbkdf2_iterations"`
	MaxConcurrent    int    `yaml:"max_concurrent"`
}

type PassphraseConfig struct {
	MinLength int `yaml:"min_length"`
}

type UnlockConfig struct {
	AttemptsPerMinute float64       `yaml:"attempts_per_minute"`
	Burst             int           `yaml:"burst"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
}

type BufferConfig struct {
	MaxMessages int           `yaml:"max_messages"`
	MaxAge      time.Duration `yaml:"max_age"`
}

type RelayConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration rooted at home.
func Default(home string) Config {
	kp := keywrap.DefaultParams()
	return Config{
		Home:  home,
		Store: StoreConfig{Backend: "file"},
		KDF: KDFConfig{
			Algorithm:        string(kp.Algorithm),
			ArgonTime:        kp.ArgonTime,
			ArgonMemoryKiB:   kp.ArgonMemoryKiB,
			ArgonThreads:     kp.ArgonThreads,
			PBKDF2Iterations: kp.PBKDF2Iterations,
			MaxConcurrent:    2,
		},
		Passphrase: PassphraseConfig{MinLength: 8},
		Unlock:     UnlockConfig{AttemptsPerMinute: 5, Burst: 5},
		Buffer:     BufferConfig{MaxMessages: 256, MaxAge: 10 * time.Minute},
		Relay:      RelayConfig{Timeout: 10 * time.Second},
		Log:        LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultHome returns ~/.sealroom.
func DefaultHome() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".sealroom"), nil
}

// Load reads path, or <home>/config.yaml when path is empty, over the
// defaults and then applies environment overrides. A missing file is not an
// error.
func Load(home, path string) (Config, error) {
	if env := strings.TrimSpace(os.Getenv("SEALROOM_HOME")); env != "" && home == "" {
		home = env
	}
	if home == "" {
		h, err := DefaultHome()
		if err != nil {
			return Config{}, err
		}
		home = h
	}
	cfg := Default(home)

	if path == "" {
		path = filepath.Join(home, FileName)
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		Merge(&cfg, parsed)
	}

	ApplyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Merge copies every non-zero field of src onto dst.
func Merge(dst *Config, src Config) {
	if src.Home != "" {
		dst.Home = src.Home
	}
	if src.Store.Backend != "" {
		dst.Store.Backend = src.Store.Backend
	}
	if src.Store.Path != "" {
		dst.Store.Path = src.Store.Path
	}
	if src.KDF.Algorithm != "" {
		dst.KDF.Algorithm = src.KDF.Algorithm
	}
	if src.KDF.ArgonTime != 0 {
		dst.KDF.ArgonTime = src.KDF.ArgonTime
	}
	if src.KDF.ArgonMemoryKiB != 0 {
		dst.KDF.ArgonMemoryKiB = src.KDF.ArgonMemoryKiB
	}
	if src.KDF.ArgonThreads != 0 {
		dst.KDF.ArgonThreads = src.KDF.ArgonThreads
	}
	if src.KDF.PBKDF2Iterations != 0 {
		dst.KDF.PBKDF2Iterations = src.KDF.PBKDF2Iterations
	}
	if src.KDF.MaxConcurrent != 0 {
		dst.KDF.MaxConcurrent = src.KDF.MaxConcurrent
	}
	if src.Passphrase.MinLength != 0 {
		dst.Passphrase.MinLength = src.Passphrase.MinLength
	}
	if src.Unlock.AttemptsPerMinute != 0 {
		dst.Unlock.AttemptsPerMinute = src.Unlock.AttemptsPerMinute
	}
	if src.Unlock.Burst != 0 {
		dst.Unlock.Burst = src.Unlock.Burst
	}
	if src.Unlock.IdleTimeout != 0 {
		dst.Unlock.IdleTimeout = src.Unlock.IdleTimeout
	}
	if src.Buffer.MaxMessages != 0 {
		dst.Buffer.MaxMessages = src.Buffer.MaxMessages
	}
	if src.Buffer.MaxAge != 0 {
		dst.Buffer.MaxAge = src.Buffer.MaxAge
	}
	if src.Relay.URL != "" {
		dst.Relay.URL = src.Relay.URL
	}
	if src.Relay.Timeout != 0 {
		dst.Relay.Timeout = src.Relay.Timeout
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.Log.Format = src.Log.Format
	}
}

// ApplyEnvOverrides applies SEALROOM_* variables.
func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SEALROOM_RELAY_URL")); v != "" {
		cfg.Relay.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("SEALROOM_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("SEALROOM_STORE_BACKEND")); v != "" {
		cfg.Store.Backend = v
	}
}

// KeywrapParams converts the KDF section.
func (c Config) KeywrapParams() keywrap.Params {
	return keywrap.Params{
		Algorithm:        keywrap.Algorithm(c.KDF.Algorithm),
		ArgonTime:        c.KDF.ArgonTime,
		ArgonMemoryKiB:   c.KDF.ArgonMemoryKiB,
		ArgonThreads:     c.KDF.ArgonThreads,
		PBKDF2Iterations: c.KDF.PBKDF2Iterations,
	}
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if err := c.KeywrapParams().Validate(); err != nil {
		return fmt.Errorf("kdf: %w", err)
	}
	if c.KDF.MaxConcurrent < 1 {
		return fmt.Errorf("kdf.max_concurrent must be at least 1")
	}
	if c.Passphrase.MinLength < 8 {
		return fmt.Errorf("passphrase.min_length must be at least 8")
	}
	if c.Unlock.AttemptsPerMinute < 0 || c.Unlock.Burst < 0 {
		return fmt.Errorf("unlock: rate settings must not be negative")
	}
	if c.Buffer.MaxMessages < 1 || c.Buffer.MaxAge <= 0 {
		return fmt.Errorf("buffer: max_messages and max_age must be positive")
	}
	return nil
}
