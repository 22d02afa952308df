package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range Keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Storage != StoragePostgres {
		t.Errorf("Storage = %q, want postgres", cfg.Storage)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.HoldTTL != 15*time.Minute {
		t.Errorf("HoldTTL = %v, want 15m", cfg.HoldTTL)
	}
	if cfg.LockTimeout != 5*time.Second {
		t.Errorf("LockTimeout = %v, want 5s", cfg.LockTimeout)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Errorf("SweepInterval = %v, want 5m", cfg.SweepInterval)
	}
	if cfg.MaxHoldsPerSession != 10 || cfg.MaxQuantity != 50 {
		t.Errorf("limits = %d/%d, want 10/50", cfg.MaxHoldsPerSession, cfg.MaxQuantity)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Errorf("CORSOrigins = %v, want the two local origins", cfg.CORSOrigins)
	}
	if cfg.DBMaxConns != 20 {
		t.Errorf("DBMaxConns = %d, want 20", cfg.DBMaxConns)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE", "memory")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HOLD_TTL", "30m")
	t.Setenv("MAX_QUANTITY", "8")
	t.Setenv("CORS_ORIGINS", "https://shop.example, ,https://admin.example")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9090 || cfg.Storage != StorageMemory || cfg.LogLevel != "debug" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.HoldTTL != 30*time.Minute {
		t.Errorf("HoldTTL = %v, want 30m", cfg.HoldTTL)
	}
	if cfg.MaxQuantity != 8 {
		t.Errorf("MaxQuantity = %d, want 8", cfg.MaxQuantity)
	}
	if strings.Join(cfg.CORSOrigins, "|") != "https://shop.example|https://admin.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":                  "abc",
		"STORAGE":               "sqlite",
		"LOG_LEVEL":             "verbose",
		"HOLD_TTL":              "1m",
		"LOCK_TIMEOUT":          "0s",
		"SWEEP_INTERVAL":        "soon",
		"MAX_HOLDS_PER_SESSION": "-1",
		"MAX_QUANTITY":          "0",
		"DB_MAX_CONNS":          "x",
		"WRITE_TIMEOUT":         "-5s",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, val)
			_, err := Load("")
			if err == nil {
				t.Fatalf("expected error for %s=%q", key, val)
			}
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("error %q does not name %s", err, key)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "holdengine.yaml", `
port: 7070
storage: memory
hold_ttl: 20m
cors_origins:
  - https://a.example
  - https://b.example
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 7070 || cfg.Storage != StorageMemory || cfg.HoldTTL != 20*time.Minute {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}

	t.Setenv("PORT", "6060")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 6060 {
		t.Errorf("environment should override the file, Port = %d", cfg.Port)
	}
}

func TestLoad_FileErrors(t *testing.T) {
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for a missing file")
	}

	path := writeFile(t, "bad.yaml", "port: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}

	path = writeFile(t, "unknown.yaml", "colour: blue\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "colour") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestParseEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "1234")

	input := "\ufeff# comment\nexport STORAGE=memory\nPORT=9999\nLOG_LEVEL='warn'\nnot a pair\n=orphan\n"
	if err := parseEnvFile(slog.New(slog.DiscardHandler), strings.NewReader(input)); err != nil {
		t.Fatalf("parse: %v", err)
	}

	if got := os.Getenv("STORAGE"); got != "memory" {
		t.Errorf("STORAGE = %q, want memory", got)
	}
	if got := os.Getenv("PORT"); got != "1234" {
		t.Errorf("existing PORT overwritten: %q", got)
	}
	if got := os.Getenv("LOG_LEVEL"); got != "warn" {
		t.Errorf("LOG_LEVEL = %q, want warn", got)
	}
}

func TestParseCSV(t *testing.T) {
	if got := ParseCSV(""); got != nil {
		t.Errorf("ParseCSV(\"\") = %v, want nil", got)
	}
	got := ParseCSV(" a , ,b,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("ParseCSV = %v", got)
	}
}
