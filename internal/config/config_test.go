package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected default addr %q", cfg.Server.Addr)
	}
	if cfg.Sync.MaxWorkers != 4 || cfg.Sync.PollInterval != time.Minute {
		t.Fatalf("unexpected sync defaults: %+v", cfg.Sync)
	}
	if cfg.Tokens.Provider != "drive" || cfg.Tokens.RefreshMargin != 5*time.Minute {
		t.Fatalf("unexpected token defaults: %+v", cfg.Tokens)
	}
}

func TestLoadFailsOnMissingExplicitPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config path")
	}
}

func TestLoadReadsFileAndKeepsUnsetDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
server:
  addr: ":9090"
sync:
  max_workers: 8
tokens:
  encryption_key: "0000000000000000000000000000000000000000000000000000000000000000"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("expected file override, got %q", cfg.Server.Addr)
	}
	if cfg.Sync.MaxWorkers != 8 {
		t.Fatalf("expected file override, got %d", cfg.Sync.MaxWorkers)
	}
	// Values absent from the file keep their defaults.
	if cfg.Drive.MaxRetries != 3 {
		t.Fatalf("expected default retained, got %d", cfg.Drive.MaxRetries)
	}

	key, err := cfg.DecodeEncryptionKey()
	if err != nil {
		t.Fatalf("decode key failed: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(key))
	}
}

func TestDecodeEncryptionKeyErrors(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := cfg.DecodeEncryptionKey(); err == nil {
		t.Fatalf("expected missing key error")
	}
	cfg.Tokens.EncryptionKey = "not-hex"
	if _, err := cfg.DecodeEncryptionKey(); err == nil {
		t.Fatalf("expected hex error")
	}
}
