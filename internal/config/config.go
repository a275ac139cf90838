// Package config loads fakenotifyd's configuration by merging, in
// increasing priority: built-in defaults, an optional TOML file,
// FAKENOTIFYD_-prefixed environment variables, and finally command-line
// flags applied by the caller. This mirrors the figment-based merge order
// in original_source/crates/daemon/src/config.rs (default -> file ->
// env -> CLI), reimplemented with github.com/pelletier/go-toml for the
// file layer since Go has no figment equivalent in the pack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml"

	"github.com/zachhandley/fakenotify/internal/sockpath"
)

// Watch is one statically configured watch from the `[[watch]]` array.
type Watch struct {
	Path         string `toml:"path"`
	PollInterval uint64 `toml:"poll_interval"`
	Recursive    bool   `toml:"recursive"`
}

// Daemon holds the `daemon.*` fields.
type Daemon struct {
	Socket      string `toml:"socket"`
	LogLevel    string `toml:"log_level"`
	MaxClients  int    `toml:"max_clients"`
	EnableStats bool   `toml:"enable_stats"`
}

// Config is the fully merged configuration (spec.md §6).
type Config struct {
	Daemon Daemon  `toml:"daemon"`
	Watch  []Watch `toml:"watch"`
}

// Default returns the built-in defaults, the lowest-priority layer.
func Default() Config {
	socket, err := sockpath.Resolve()
	if err != nil {
		socket = sockpath.DefaultPath
	}
	return Config{
		Daemon: Daemon{
			Socket:      socket,
			LogLevel:    "info",
			MaxClients:  100,
			EnableStats: false,
		},
	}
}

// defaultConfigPaths are tried, in order, when no explicit config file is
// given.
var defaultConfigPaths = []string{
	"/etc/fakenotify/config.toml",
}

// userConfigPath returns the user config dir location, mirroring the
// original's dirs::config_dir() fallback.
func userConfigPath() (string, bool) {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "", false
	}
	return dir + "/fakenotify/config.toml", true
}

// Load builds a Config by merging defaults, an optional TOML file, and
// environment variables, in that priority order. If explicitPath is
// empty, the default config locations are tried in turn.
func Load(explicitPath string) (Config, error) {
	cfg := Default()

	path := explicitPath
	if path == "" {
		for _, p := range defaultConfigPaths {
			if fileExists(p) {
				path = p
				break
			}
		}
		if path == "" {
			if p, ok := userConfigPath(); ok && fileExists(p) {
				path = p
			}
		}
	}

	if path != "" {
		if err := mergeTOMLFile(&cfg, path); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	mergeEnv(&cfg)

	return cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func mergeTOMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file Config
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if file.Daemon.Socket != "" {
		cfg.Daemon.Socket = file.Daemon.Socket
	}
	if file.Daemon.LogLevel != "" {
		cfg.Daemon.LogLevel = file.Daemon.LogLevel
	}
	if file.Daemon.MaxClients != 0 {
		cfg.Daemon.MaxClients = file.Daemon.MaxClients
	}
	cfg.Daemon.EnableStats = cfg.Daemon.EnableStats || file.Daemon.EnableStats
	if len(file.Watch) > 0 {
		cfg.Watch = file.Watch
	}
	return nil
}

// mergeEnv applies FAKENOTIFYD_-prefixed environment variables
// (FAKENOTIFYD_SOCKET, FAKENOTIFYD_LOG_LEVEL, FAKENOTIFYD_MAX_CLIENTS,
// FAKENOTIFYD_ENABLE_STATS), matching the original's
// `Env::prefixed("FAKENOTIFYD_").split("_")` convention.
func mergeEnv(cfg *Config) {
	if v := os.Getenv("FAKENOTIFYD_SOCKET"); v != "" {
		cfg.Daemon.Socket = v
	}
	if v := strings.TrimSpace(os.Getenv("FAKENOTIFYD_LOG_LEVEL")); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("FAKENOTIFYD_MAX_CLIENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Daemon.MaxClients = n
		}
	}
	if v := os.Getenv("FAKENOTIFYD_ENABLE_STATS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Daemon.EnableStats = b
		}
	}
	// FAKENOTIFY_SOCKET (no daemon prefix) is the shared override used by
	// both the daemon and the interposition library (spec.md §6); it wins
	// over FAKENOTIFYD_SOCKET since it is the one the library also obeys.
	if v := os.Getenv("FAKENOTIFY_SOCKET"); v != "" {
		cfg.Daemon.Socket = v
	}
}

// WithSocket overrides the socket path from a CLI flag, the
// highest-priority layer.
func (c Config) WithSocket(socket string) Config {
	if socket != "" {
		c.Daemon.Socket = socket
	}
	return c
}

// WithLogLevel overrides the log level from a CLI flag.
func (c Config) WithLogLevel(level string) Config {
	if level != "" {
		c.Daemon.LogLevel = level
	}
	return c
}
