// Package config manages gochatd daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags, merged in that
// order on top of DefaultConfig().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gochatd configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Manager ManagerConfig `koanf:"manager"`
	Store   StoreConfig   `koanf:"store"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
}

// ServerConfig holds the client-facing TCP listener and event loop settings.
type ServerConfig struct {
	// Addr is the client listen address, e.g. ":12345".
	Addr string `koanf:"addr"`

	// MaxFDs is the size of the fixed descriptor table, including the
	// listening socket. MaxFDs-1 concurrent sessions are accepted.
	MaxFDs int `koanf:"max_fds"`

	// PollTimeout bounds how long each poll(2) call may block, controlling
	// how promptly the diagnostic tick and shutdown signal are noticed.
	PollTimeout time.Duration `koanf:"poll_timeout"`
}

// ManagerConfig holds the outbound manager-channel settings, used for
// SVR_DIAGNOSTIC frames only.
type ManagerConfig struct {
	// Addr is the manager address the daemon dials, e.g. ":12346".
	Addr string `koanf:"addr"`

	// DiagnosticInterval is the period between SVR_DIAGNOSTIC emissions.
	DiagnosticInterval time.Duration `koanf:"diagnostic_interval"`
}

// StoreConfig holds the credential store settings.
type StoreConfig struct {
	// Path is the filesystem path to the embedded database file.
	Path string `koanf:"path"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint, e.g. ":9100".
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint, e.g. "/metrics".
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// Server.Addr is deliberately left empty: the listen address is a mandatory
// setting (it must come from a config file, an environment variable, or a
// CLI flag), not something safe to default.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        "",
			MaxFDs:      5,
			PollTimeout: time.Second,
		},
		Manager: ManagerConfig{
			Addr:               ":12346",
			DiagnosticInterval: 10 * time.Second,
		},
		Store: StoreConfig{
			Path: "gochatd.db",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gochatd configuration.
// Variables are named GOCHATD_<section>_<key>, e.g. GOCHATD_SERVER_ADDR.
const envPrefix = "GOCHATD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GOCHATD_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults. An empty path skips the
// file provider; a non-empty path that cannot be read is an error.
//
// Load does not validate the result: callers that still have a layer of
// overrides to apply on top (CLI flags, for gochatd's daemon entrypoint)
// must call Validate themselves once every layer has been merged in.
//
// Environment variable mapping:
//
//	GOCHATD_SERVER_ADDR              -> server.addr
//	GOCHATD_SERVER_MAX_FDS           -> server.max_fds
//	GOCHATD_MANAGER_ADDR             -> manager.addr
//	GOCHATD_STORE_PATH               -> store.path
//	GOCHATD_METRICS_ADDR             -> metrics.addr
//	GOCHATD_LOG_LEVEL                -> log.level
//	GOCHATD_LOG_FORMAT               -> log.format
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper transforms GOCHATD_SERVER_ADDR -> server.addr. Strips the
// GOCHATD_ prefix, lowercases, and replaces the first _ (the section
// separator) with ., so GOCHATD_SERVER_MAX_FDS -> server.max_fds.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"server.addr":                 defaults.Server.Addr,
		"server.max_fds":              defaults.Server.MaxFDs,
		"server.poll_timeout":         defaults.Server.PollTimeout.String(),
		"manager.addr":                defaults.Manager.Addr,
		"manager.diagnostic_interval": defaults.Manager.DiagnosticInterval.String(),
		"store.path":                  defaults.Store.Path,
		"metrics.addr":                defaults.Metrics.Addr,
		"metrics.path":                defaults.Metrics.Path,
		"log.level":                   defaults.Log.Level,
		"log.format":                  defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyServerAddr indicates the client listen address is empty.
	ErrEmptyServerAddr = errors.New("server.addr must not be empty")

	// ErrEmptyManagerAddr indicates the manager address is empty.
	ErrEmptyManagerAddr = errors.New("manager.addr must not be empty")

	// ErrInvalidMaxFDs indicates the descriptor table size is too small to
	// hold the listener plus at least one session.
	ErrInvalidMaxFDs = errors.New("server.max_fds must be >= 2")

	// ErrInvalidPollTimeout indicates a non-positive poll timeout.
	ErrInvalidPollTimeout = errors.New("server.poll_timeout must be > 0")

	// ErrEmptyStorePath indicates the credential store path is empty.
	ErrEmptyStorePath = errors.New("store.path must not be empty")

	// ErrInvalidDiagnosticInterval indicates a non-positive diagnostic tick.
	ErrInvalidDiagnosticInterval = errors.New("manager.diagnostic_interval must be > 0")
)

// Validate checks the configuration for logical errors. Returns the first
// validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return ErrEmptyServerAddr
	}
	if cfg.Manager.Addr == "" {
		return ErrEmptyManagerAddr
	}
	if cfg.Server.MaxFDs < 2 {
		return ErrInvalidMaxFDs
	}
	if cfg.Server.PollTimeout <= 0 {
		return ErrInvalidPollTimeout
	}
	if cfg.Store.Path == "" {
		return ErrEmptyStorePath
	}
	if cfg.Manager.DiagnosticInterval <= 0 {
		return ErrInvalidDiagnosticInterval
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
