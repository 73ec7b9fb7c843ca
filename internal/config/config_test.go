package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReadsFileAndResolvesSQLitePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
basic_config:
  base_url: "http://agent.local:9000/"
  user_id: "4f1c2a9e-0000-4000-8000-000000000001"
stream:
  inactivity_timeout: 5s
  status_min_display: 250ms
databases:
  sqlite3:
    dsn: "data/chat.db"
redis:
  enabled: true
  port: 6380
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.BasicConfig.BaseURL != "http://agent.local:9000" {
		t.Fatalf("base url not trimmed: %q", cfg.BasicConfig.BaseURL)
	}
	if cfg.Stream.InactivityTimeout != 5*time.Second {
		t.Fatalf("inactivity timeout mismatch: %v", cfg.Stream.InactivityTimeout)
	}
	if cfg.Stream.StatusMinDisplay != 250*time.Millisecond {
		t.Fatalf("status min display mismatch: %v", cfg.Stream.StatusMinDisplay)
	}
	want := filepath.Join(dir, "data", "chat.db")
	if got := cfg.Databases["sqlite3"].DSN; got != want {
		t.Fatalf("sqlite dsn not resolved: want %s got %s", want, got)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Port != 6380 || cfg.Redis.Host != "127.0.0.1" {
		t.Fatalf("redis config mismatch: %+v", cfg.Redis)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected default log level, got %q", cfg.Log.Level)
	}
}

func TestLoadRejectsNonPositiveTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("stream:\n  inactivity_timeout: 0s\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for zero timeout")
	}
}

func TestLoadStatusMinDisplayZeroIsKept(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("stream:\n  status_min_display: 0s\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Stream.StatusMinDisplay != 0 {
		t.Fatalf("explicit zero must not fall back to the default: %v", cfg.Stream.StatusMinDisplay)
	}

	if err := os.WriteFile(path, []byte("stream:\n  status_min_display: -1s\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for negative display time")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("basic_config:\n  base_url: http://file\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PALCHAT_BASIC_CONFIG_BASE_URL", "http://env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.BasicConfig.BaseURL != "http://env" {
		t.Fatalf("env override not applied: %q", cfg.BasicConfig.BaseURL)
	}
}
