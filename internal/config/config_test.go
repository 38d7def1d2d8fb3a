package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setRequiredEnv provides the minimum environment Load demands.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("KEYCLOAK_URL", "https://id.example.com")
	t.Setenv("KEYCLOAK_REALM", "orun")
	t.Setenv("KEYCLOAK_CLIENT_ID", "orun-console")
	t.Setenv("ENGINE_API_URL", "https://engine.example.com/api")
	// Point at a nonexistent file so a stray orun.yaml cannot leak in.
	t.Setenv("ORUN_CONFIG_FILE", filepath.Join(t.TempDir(), "none.yaml"))
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.PublicURL != "http://localhost:8080" {
		t.Errorf("PublicURL = %q", cfg.Server.PublicURL)
	}
	if cfg.Engine.Timeout != 30*time.Second {
		t.Errorf("Engine.Timeout = %v, want 30s", cfg.Engine.Timeout)
	}
	if cfg.Audit.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", cfg.Audit.RetentionDays)
	}
	if cfg.Audit.PruneSchedule != "0 3 * * *" {
		t.Errorf("PruneSchedule = %q", cfg.Audit.PruneSchedule)
	}
	if cfg.Stats.PollInterval != 15*time.Second {
		t.Errorf("Stats.PollInterval = %v, want 15s", cfg.Stats.PollInterval)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ORUN_LISTEN_ADDR", ":9999")
	t.Setenv("ENGINE_API_TIMEOUT", "90s")
	t.Setenv("AUDIT_RETENTION_DAYS", "7")
	t.Setenv("STATS_POLL_INTERVAL", "1m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want :9999", cfg.Server.ListenAddr)
	}
	if cfg.Engine.Timeout != 90*time.Second {
		t.Errorf("Engine.Timeout = %v, want 90s", cfg.Engine.Timeout)
	}
	if cfg.Audit.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d, want 7", cfg.Audit.RetentionDays)
	}
	if cfg.Stats.PollInterval != time.Minute {
		t.Errorf("Stats.PollInterval = %v, want 1m", cfg.Stats.PollInterval)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadConfigFile(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "orun.yaml")
	content := []byte(`
server:
  listen_addr: ":7070"
  cors_origin: "https://console.example.com"
audit:
  retention_days: 30
logging:
  format: console
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("ORUN_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q, want :7070", cfg.Server.ListenAddr)
	}
	if cfg.Server.CORSOrigin != "https://console.example.com" {
		t.Errorf("CORSOrigin = %q", cfg.Server.CORSOrigin)
	}
	if cfg.Audit.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", cfg.Audit.RetentionDays)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("Logging.Format = %q, want console", cfg.Logging.Format)
	}
	// File values keep the untouched defaults intact.
	if cfg.Server.PublicURL != "http://localhost:8080" {
		t.Errorf("PublicURL = %q", cfg.Server.PublicURL)
	}
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "orun.yaml")
	if err := os.WriteFile(path, []byte("server:\n  listen_addr: \":7070\"\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("ORUN_CONFIG_FILE", path)
	t.Setenv("ORUN_LISTEN_ADDR", ":6060")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.ListenAddr != ":6060" {
		t.Errorf("ListenAddr = %q, want :6060", cfg.Server.ListenAddr)
	}
}

func TestLoadMissingProvider(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("KEYCLOAK_REALM", "")

	if _, err := Load(); err == nil {
		t.Error("Load() without provider realm returned nil error")
	}
}

func TestLoadMissingEngineURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENGINE_API_URL", "")

	if _, err := Load(); err == nil {
		t.Error("Load() without engine URL returned nil error")
	}
}
