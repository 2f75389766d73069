// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // editor.timezone must load without a system zoneinfo

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "customize-rest.yaml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Editor   EditorConfig   `yaml:"editor"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// AllowedOrigins are accepted on sync websocket upgrades. Empty means
	// same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// APIConfig configures the bundled REST resource API.
type APIConfig struct {
	// Root is the absolute URL of the mount, used in self links. It
	// defaults to http://<host>:<port><mount>/.
	Root       string `yaml:"root"`
	Mount      string `yaml:"mount"`
	RoutesFile string `yaml:"routes_file"`
}

// EditorConfig configures the editor.
type EditorConfig struct {
	Timezone string `yaml:"timezone"`

	// StrictValidation validates every argument before commit rather than
	// leaving validation to the write. Nil means true.
	StrictValidation *bool `yaml:"strict_validation,omitempty"`

	SyncCodec string `yaml:"sync_codec"` // "json" or "cbor"

	// SyncIdleTimeout drops sync sessions no peer has attached to.
	SyncIdleTimeout time.Duration `yaml:"sync_idle_timeout"`
}

// DatabaseConfig configures the resource store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default: /metrics
}

// Strict reports whether strict validation is on.
func (e EditorConfig) Strict() bool {
	return e.StrictValidation == nil || *e.StrictValidation
}

// Location loads the site timezone.
func (e EditorConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", e.Timezone, err)
	}
	return loc, nil
}

// Address returns the listen address.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML text. ${VAR} references are expanded
// and CUSTOMIZE_* environment variables override the file.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	CUSTOMIZE_SERVER_HOST              - Server host (default: 0.0.0.0)
//	CUSTOMIZE_SERVER_PORT              - Server port (default: 8080)
//	CUSTOMIZE_SERVER_READ_TIMEOUT      - Read timeout (default: 30s)
//	CUSTOMIZE_SERVER_WRITE_TIMEOUT     - Write timeout (default: 60s)
//	CUSTOMIZE_API_ROOT                 - Absolute API root URL
//	CUSTOMIZE_API_MOUNT                - REST mount path (default: /wp-json)
//	CUSTOMIZE_API_ROUTES_FILE          - Route table file (default: routes.jsonc)
//	CUSTOMIZE_EDITOR_TIMEZONE          - Site timezone (default: UTC)
//	CUSTOMIZE_EDITOR_STRICT_VALIDATION - Validate before commit (default: true)
//	CUSTOMIZE_EDITOR_SYNC_CODEC        - Sync frame codec: json or cbor (default: json)
//	CUSTOMIZE_EDITOR_SYNC_IDLE_TIMEOUT - Drop unattached sync sessions after (default: 10m)
//	CUSTOMIZE_DATABASE_DRIVER          - Store driver: sqlite or memory (default: sqlite)
//	CUSTOMIZE_DATABASE_DSN             - Database path (default: customize-rest.db)
//	CUSTOMIZE_LOG_LEVEL                - Log level (default: info)
//	CUSTOMIZE_LOG_FORMAT               - Log format: json or console (default: json)
//	CUSTOMIZE_METRICS_ENABLED          - Enable /metrics (default: false)
//	CUSTOMIZE_METRICS_PATH             - Metrics path (default: /metrics)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadWithFallback loads path when it exists and falls back to the
// environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies CUSTOMIZE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("CUSTOMIZE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("CUSTOMIZE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CUSTOMIZE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("CUSTOMIZE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// API
	if v := os.Getenv("CUSTOMIZE_API_ROOT"); v != "" {
		cfg.API.Root = v
	}
	if v := os.Getenv("CUSTOMIZE_API_MOUNT"); v != "" {
		cfg.API.Mount = v
	}
	if v := os.Getenv("CUSTOMIZE_API_ROUTES_FILE"); v != "" {
		cfg.API.RoutesFile = v
	}

	// Editor
	if v := os.Getenv("CUSTOMIZE_EDITOR_TIMEZONE"); v != "" {
		cfg.Editor.Timezone = v
	}
	if v := os.Getenv("CUSTOMIZE_EDITOR_STRICT_VALIDATION"); v != "" {
		strict := parseBool(v)
		cfg.Editor.StrictValidation = &strict
	}
	if v := os.Getenv("CUSTOMIZE_EDITOR_SYNC_CODEC"); v != "" {
		cfg.Editor.SyncCodec = v
	}
	if v := os.Getenv("CUSTOMIZE_EDITOR_SYNC_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Editor.SyncIdleTimeout = d
		}
	}

	// Database
	if v := os.Getenv("CUSTOMIZE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("CUSTOMIZE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Logging
	if v := os.Getenv("CUSTOMIZE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CUSTOMIZE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics
	if v := os.Getenv("CUSTOMIZE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("CUSTOMIZE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.API.Mount == "" {
		cfg.API.Mount = "/wp-json"
	}
	cfg.API.Mount = "/" + strings.Trim(cfg.API.Mount, "/")
	if cfg.API.RoutesFile == "" {
		cfg.API.RoutesFile = "routes.jsonc"
	}
	if cfg.API.Root == "" {
		host := cfg.Server.Host
		if host == "0.0.0.0" || host == "::" {
			host = "localhost"
		}
		cfg.API.Root = "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port)) + cfg.API.Mount
	}
	cfg.API.Root = strings.TrimSuffix(cfg.API.Root, "/") + "/"

	if cfg.Editor.Timezone == "" {
		cfg.Editor.Timezone = "UTC"
	}
	if cfg.Editor.SyncCodec == "" {
		cfg.Editor.SyncCodec = "json"
	}
	if cfg.Editor.SyncIdleTimeout == 0 {
		cfg.Editor.SyncIdleTimeout = 10 * time.Minute
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "customize-rest.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port must be within 1-65535, got %d", ErrInvalid, cfg.Server.Port)
	}

	root, err := url.Parse(cfg.API.Root)
	if err != nil || root.Scheme == "" || root.Host == "" {
		return fmt.Errorf("%w: api.root must be an absolute URL, got %q", ErrInvalid, cfg.API.Root)
	}

	if _, err := cfg.Editor.Location(); err != nil {
		return fmt.Errorf("%w: editor.timezone: %v", ErrInvalid, err)
	}
	switch cfg.Editor.SyncCodec {
	case "json", "cbor":
	default:
		return fmt.Errorf("%w: editor.sync_codec must be 'json' or 'cbor', got %q", ErrInvalid, cfg.Editor.SyncCodec)
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn is required for sqlite", ErrInvalid)
		}
	case "memory":
	default:
		return fmt.Errorf("%w: database.driver must be 'sqlite' or 'memory', got %q", ErrInvalid, cfg.Database.Driver)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level must be one of: debug, info, warn, error", ErrInvalid)
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: logging.format must be 'json' or 'console', got %q", ErrInvalid, cfg.Logging.Format)
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("%w: metrics.path must start with '/'", ErrInvalid)
	}
	return nil
}
