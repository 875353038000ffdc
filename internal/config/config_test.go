package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(home, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Home != home {
		t.Fatalf("home = %q", cfg.Home)
	}
	if cfg.Passphrase.MinLength != 8 {
		t.Fatalf("min length = %d", cfg.Passphrase.MinLength)
	}
	if cfg.KDF.Algorithm != "argon2id" || cfg.KDF.ArgonMemoryKiB != 64*1024 {
		t.Fatalf("kdf defaults = %+v", cfg.KDF)
	}
}

func TestLoadMergesYAMLAndEnv(t *testing.T) {
	home := t.TempDir()
	yamlDoc := `
store:
  backend: sqlite
kdf:
  algorithm: pbkdf2
  pbkdf2_iterations: 200000
buffer:
  max_messages: 32
  max_age: 90s
relay:
  url: http://file.example
log:
  format: json
`
	if err := os.WriteFile(filepath.Join(home, FileName), []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SEALROOM_RELAY_URL", "http://env.example")

	cfg, err := Load(home, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Fatalf("backend = %q", cfg.Store.Backend)
	}
	if cfg.KDF.Algorithm != "pbkdf2" || cfg.KDF.PBKDF2Iterations != 200000 {
		t.Fatalf("kdf = %+v", cfg.KDF)
	}
	if cfg.KDF.ArgonTime != 2 {
		t.Fatalf("unset field lost its default: %+v", cfg.KDF)
	}
	if cfg.Buffer.MaxMessages != 32 || cfg.Buffer.MaxAge != 90*time.Second {
		t.Fatalf("buffer = %+v", cfg.Buffer)
	}
	if cfg.Relay.URL != "http://env.example" {
		t.Fatalf("env override not applied: %q", cfg.Relay.URL)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("log format = %q", cfg.Log.Format)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.Store.Backend = "redis" },
		func(c *Config) { c.Passphrase.MinLength = 4 },
		func(c *Config) { c.KDF.ArgonTime = 0 },
		func(c *Config) { c.KDF.MaxConcurrent = 0 },
		func(c *Config) { c.Buffer.MaxMessages = 0 },
	}
	for i, mutate := range bad {
		cfg := Default(t.TempDir())
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, FileName), []byte("store: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(home, ""); err == nil {
		t.Fatal("expected parse error")
	}
}
