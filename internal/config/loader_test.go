package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadServerFromFile(t *testing.T) {
	path := writeConfig(t, `{
		"listenAddr": ":9090",
		"databaseUrl": "postgres://localhost/homegraph",
		"jwtSecret": "s3cret",
		"logLevel": "debug"
	}`)

	cfg, err := LoadServer(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":9090" || cfg.LogLevel != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoadServerDefaultsAndEnvOverride(t *testing.T) {
	t.Setenv("HOMEGRAPH_DATABASE_URL", "postgres://env/homegraph")
	t.Setenv("HOMEGRAPH_DEV_MODE", "1")

	cfg, err := LoadServer("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("default addr = %q", cfg.ListenAddr)
	}
	if cfg.DatabaseURL != "postgres://env/homegraph" || !cfg.DevMode {
		t.Errorf("env override missed: %+v", cfg)
	}
	// Dev mode waives the secret requirement
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestServerValidate(t *testing.T) {
	cfg := DefaultServerConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingDatabaseURL) {
		t.Errorf("err = %v", err)
	}
	cfg.DatabaseURL = "postgres://localhost/x"
	if err := cfg.Validate(); !errors.Is(err, ErrMissingJWTSecret) {
		t.Errorf("err = %v", err)
	}
}

func TestLoadServerBadFile(t *testing.T) {
	if _, err := LoadServer(filepath.Join(t.TempDir(), "nope.json")); !errors.Is(err, ErrConfigFileNotFound) {
		t.Errorf("missing file err = %v", err)
	}
	path := writeConfig(t, "{not json")
	if _, err := LoadServer(path); !errors.Is(err, ErrInvalidConfigFormat) {
		t.Errorf("bad json err = %v", err)
	}
}

func TestLoadAgent(t *testing.T) {
	path := writeConfig(t, `{
		"serverUrl": "https://home.example.net",
		"token": "tok",
		"databasePath": "/var/lib/homegraph/agent.db",
		"syncIntervalSeconds": 60
	}`)

	cfg, err := LoadAgent(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.SyncInterval.Duration() != time.Minute {
		t.Errorf("interval = %v", cfg.SyncInterval.Duration())
	}
	if got := cfg.EffectiveLockPath(); got != "/var/lib/homegraph/agent.db.lock" {
		t.Errorf("lock path = %q", got)
	}

	cfg.LockPath = "/tmp/custom.lock"
	if got := cfg.EffectiveLockPath(); got != "/tmp/custom.lock" {
		t.Errorf("explicit lock path = %q", got)
	}
}

func TestAgentValidate(t *testing.T) {
	cfg := DefaultAgentConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingServerURL) {
		t.Errorf("err = %v", err)
	}
	cfg.ServerURL = "https://home.example.net"
	cfg.DatabasePath = ""
	if err := cfg.Validate(); !errors.Is(err, ErrMissingDatabasePath) {
		t.Errorf("err = %v", err)
	}
}
