package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APP_ENV", "HTTP_ADDR", "PORT", "CORS_ALLOW", "RELAY_LEDGER_PATH",
		"RELAY_LEDGER_RETENTION", "RELAY_LEDGER_PRUNE_INTERVAL", "RELAY_SEND_BUFFER",
		"RELAY_MAX_MESSAGE_SIZE", "RELAY_PONG_WAIT", "RELAY_MESSAGES_PER_SECOND",
		"RELAY_MESSAGE_BURST", "RELAY_UPGRADES_PER_MINUTE",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.Ledger.Path != "./data/relay.db" {
		t.Errorf("Unexpected ledger path %q", cfg.Ledger.Path)
	}
	if cfg.Transport.SendBuffer != 512 {
		t.Errorf("Expected send buffer 512, got %d", cfg.Transport.SendBuffer)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "relay.yaml")
	yaml := `
env: prod
http_addr: ":9000"
allowed_origins: ["http://localhost:3000"]
ledger:
  path: /tmp/ledger.db
  retention: 48h
transport:
  send_buffer: 64
  pong_wait: 30s
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	t.Setenv("RELAY_SEND_BUFFER", "128")
	t.Setenv("PORT", "7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Env != "prod" {
		t.Errorf("Expected env prod from file, got %s", cfg.Env)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Errorf("PORT should override the file, got %s", cfg.HTTPAddr)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("Unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.Ledger.Retention != 48*time.Hour {
		t.Errorf("Expected 48h retention, got %v", cfg.Ledger.Retention)
	}
	if cfg.Ledger.PruneInterval != time.Hour {
		t.Errorf("Unset file values should keep defaults, got %v", cfg.Ledger.PruneInterval)
	}
	if cfg.Transport.SendBuffer != 128 {
		t.Errorf("Env should override the file, got %d", cfg.Transport.SendBuffer)
	}
	if cfg.Transport.PongWait != 30*time.Second {
		t.Errorf("Expected 30s pong wait, got %v", cfg.Transport.PongWait)
	}
}

func TestLedgerCanBeDisabled(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAY_LEDGER_PATH", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ledger.Path != "" {
		t.Errorf("Expected ledger disabled, got %q", cfg.Ledger.Path)
	}
}

func TestCORSAllowList(t *testing.T) {
	clearEnv(t)
	t.Setenv("CORS_ALLOW", " http://a.test , ,http://b.test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("Unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAY_PONG_WAIT", "soon")

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "RELAY_PONG_WAIT") {
		t.Errorf("Expected parse error for RELAY_PONG_WAIT, got %v", err)
	}

	clearEnv(t)
	t.Setenv("RELAY_SEND_BUFFER", "0")
	if _, err := Load(""); err == nil {
		t.Error("Expected validation error for zero send buffer")
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("prod", &buf).Debug("hidden")
	NewLogger("prod", &buf).Info("room.joined", "room", "r1")
	if strings.Contains(buf.String(), "hidden") {
		t.Error("prod logger should drop debug records")
	}
	if !strings.Contains(buf.String(), `"room":"r1"`) {
		t.Errorf("prod logger should write JSON, got %s", buf.String())
	}

	buf.Reset()
	NewLogger("dev", &buf).Debug("visible", "k", "v")
	if !strings.Contains(buf.String(), "k=v") {
		t.Errorf("dev logger should write text at debug, got %s", buf.String())
	}
}
