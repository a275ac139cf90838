package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultUsesSockpathResolution(t *testing.T) {
	t.Setenv("FAKENOTIFY_SOCKET", "/tmp/custom.sock")
	cfg := Default()
	if cfg.Daemon.Socket != "/tmp/custom.sock" {
		t.Errorf("Socket = %q, want /tmp/custom.sock", cfg.Daemon.Socket)
	}
	if cfg.Daemon.LogLevel != "info" || cfg.Daemon.MaxClients != 100 {
		t.Errorf("unexpected defaults: %+v", cfg.Daemon)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[daemon]
log_level = "debug"
max_clients = 50

[[watch]]
path = "/data"
poll_interval = 10
recursive = true
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Daemon.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Daemon.LogLevel)
	}
	if cfg.Daemon.MaxClients != 50 {
		t.Errorf("MaxClients = %d, want 50", cfg.Daemon.MaxClients)
	}
	if len(cfg.Watch) != 1 || cfg.Watch[0].Path != "/data" {
		t.Errorf("Watch = %+v", cfg.Watch)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[daemon]\nlog_level = \"debug\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("FAKENOTIFYD_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Daemon.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (env should win over file)", cfg.Daemon.LogLevel)
	}
}

func TestWithSocketOverridesEverything(t *testing.T) {
	cfg := Default().WithSocket("/explicit/cli.sock")
	if cfg.Daemon.Socket != "/explicit/cli.sock" {
		t.Errorf("Socket = %q, want /explicit/cli.sock", cfg.Daemon.Socket)
	}
}

func TestLoadNoFileUsesDefaults(t *testing.T) {
	t.Setenv("FAKENOTIFY_SOCKET", "")
	t.Setenv("FAKENOTIFYD_LOG_LEVEL", "")
	t.Setenv("FAKENOTIFYD_SOCKET", "")
	t.Setenv("FAKENOTIFYD_MAX_CLIENTS", "")
	t.Setenv("FAKENOTIFYD_ENABLE_STATS", "")
	t.Setenv("XDG_RUNTIME_DIR", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Daemon.Socket == "" {
		t.Error("expected a non-empty default socket path")
	}
}
