package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xwp/wp-customize-rest-resources/config"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
server:
  host: "127.0.0.1"
  port: 9000
  read_timeout: 10s
  allowed_origins: ["http://editor.test"]

api:
  root: "https://site.test/wp-json"
  mount: "wp-json/"
  routes_file: "testdata/routes.jsonc"

editor:
  timezone: "Europe/Berlin"
  strict_validation: false
  sync_codec: "cbor"
  sync_idle_timeout: 2m

database:
  driver: "sqlite"
  dsn: "data.db"

logging:
  level: "debug"
  format: "console"

metrics:
  enabled: true
`
	cfg := writeAndLoad(t, content)

	if cfg.Server.Address() != "127.0.0.1:9000" {
		t.Errorf("Address = %s", cfg.Server.Address())
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.Server.ReadTimeout)
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.API.Root != "https://site.test/wp-json/" {
		t.Errorf("API.Root = %s, want trailing slash", cfg.API.Root)
	}
	if cfg.API.Mount != "/wp-json" {
		t.Errorf("API.Mount = %s, want /wp-json", cfg.API.Mount)
	}
	if cfg.Editor.Strict() {
		t.Error("strict_validation: false was ignored")
	}
	if cfg.Editor.SyncCodec != "cbor" {
		t.Errorf("SyncCodec = %s", cfg.Editor.SyncCodec)
	}
	if cfg.Editor.SyncIdleTimeout != 2*time.Minute {
		t.Errorf("SyncIdleTimeout = %v", cfg.Editor.SyncIdleTimeout)
	}
	loc, err := cfg.Editor.Location()
	if err != nil || loc.String() != "Europe/Berlin" {
		t.Errorf("Location = %v, %v", loc, err)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := writeAndLoad(t, "{}\n")

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"host", cfg.Server.Host, "0.0.0.0"},
		{"port", cfg.Server.Port, 8080},
		{"read timeout", cfg.Server.ReadTimeout, 30 * time.Second},
		{"write timeout", cfg.Server.WriteTimeout, 60 * time.Second},
		{"mount", cfg.API.Mount, "/wp-json"},
		{"root", cfg.API.Root, "http://localhost:8080/wp-json/"},
		{"routes file", cfg.API.RoutesFile, "routes.jsonc"},
		{"timezone", cfg.Editor.Timezone, "UTC"},
		{"strict", cfg.Editor.Strict(), true},
		{"codec", cfg.Editor.SyncCodec, "json"},
		{"sync idle timeout", cfg.Editor.SyncIdleTimeout, 10 * time.Minute},
		{"driver", cfg.Database.Driver, "sqlite"},
		{"dsn", cfg.Database.DSN, "customize-rest.db"},
		{"level", cfg.Logging.Level, "info"},
		{"format", cfg.Logging.Format, "json"},
		{"metrics", cfg.Metrics.Enabled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("SITE_TZ", "America/New_York")

	cfg := writeAndLoad(t, "editor:\n  timezone: \"${SITE_TZ}\"\n")
	if cfg.Editor.Timezone != "America/New_York" {
		t.Errorf("Timezone = %s", cfg.Editor.Timezone)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"port", "server:\n  port: 70000\n", "server.port"},
		{"root", "api:\n  root: \"/relative\"\n", "api.root"},
		{"timezone", "editor:\n  timezone: \"Mars/Olympus\"\n", "editor.timezone"},
		{"codec", "editor:\n  sync_codec: \"xml\"\n", "editor.sync_codec"},
		{"driver", "database:\n  driver: \"postgres\"\n", "database.driver"},
		{"level", "logging:\n  level: \"loud\"\n", "logging.level"},
		{"format", "logging:\n  format: \"xml\"\n", "logging.format"},
		{"metrics path", "metrics:\n  path: \"metrics\"\n", "metrics.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := writeAndLoadErr(t, tt.content)
			if !errors.Is(err, config.ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoad_MemoryDriverNeedsNoDSN(t *testing.T) {
	cfg := writeAndLoad(t, "database:\n  driver: memory\n")
	if cfg.Database.DSN != "" {
		t.Errorf("DSN = %q, want empty", cfg.Database.DSN)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := writeAndLoadErr(t, "server: [\n"); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CUSTOMIZE_SERVER_PORT", "9090")
	t.Setenv("CUSTOMIZE_API_MOUNT", "/api")
	t.Setenv("CUSTOMIZE_EDITOR_STRICT_VALIDATION", "no")
	t.Setenv("CUSTOMIZE_EDITOR_SYNC_CODEC", "cbor")
	t.Setenv("CUSTOMIZE_DATABASE_DRIVER", "memory")
	t.Setenv("CUSTOMIZE_LOG_LEVEL", "warn")
	t.Setenv("CUSTOMIZE_METRICS_ENABLED", "on")

	cfg := writeAndLoad(t, "server:\n  port: 8000\nlogging:\n  level: debug\n")

	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want env 9090", cfg.Server.Port)
	}
	if cfg.API.Root != "http://localhost:9090/api/" {
		t.Errorf("Root = %s", cfg.API.Root)
	}
	if cfg.Editor.Strict() {
		t.Error("strict validation should be off")
	}
	if cfg.Editor.SyncCodec != "cbor" || cfg.Database.Driver != "memory" {
		t.Errorf("editor/database = %+v %+v", cfg.Editor, cfg.Database)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %s, want warn", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics should be enabled")
	}
}

func TestEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("CUSTOMIZE_SERVER_PORT", "eighty")
	t.Setenv("CUSTOMIZE_SERVER_READ_TIMEOUT", "soon")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("server = %+v, want defaults", cfg.Server)
	}
}

func TestLoadWithFallback(t *testing.T) {
	t.Run("file exists", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), config.DefaultPath)
		if err := os.WriteFile(path, []byte("server:\n  port: 7000\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := config.LoadWithFallback(path)
		if err != nil || cfg.Server.Port != 7000 {
			t.Errorf("cfg = %+v, err = %v", cfg, err)
		}
	})

	t.Run("env only", func(t *testing.T) {
		t.Setenv("CUSTOMIZE_SERVER_PORT", "7100")
		cfg, err := config.LoadWithFallback(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil || cfg.Server.Port != 7100 {
			t.Errorf("cfg = %+v, err = %v", cfg, err)
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if _, err := config.LoadWithFallback(""); err != nil {
			t.Errorf("err = %v", err)
		}
	})
}

func TestParseBoolValues(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{" on ", true},
		{"false", false},
		{"0", false},
		{"off", false},
		{"maybe", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("CUSTOMIZE_METRICS_ENABLED", tt.value)
			cfg, err := config.LoadFromEnv()
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Metrics.Enabled != tt.want {
				t.Errorf("Enabled = %v, want %v", cfg.Metrics.Enabled, tt.want)
			}
		})
	}
}

// Helpers

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := writeAndLoadErr(t, content)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return cfg
}

func writeAndLoadErr(t *testing.T, content string) (*config.Config, error) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return config.Load(path)
}
