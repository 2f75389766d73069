package bootstrap

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/config"
)

// NewLogger creates the process logger and sets the global level.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	setLevel(cfg.Level)

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func setLevel(name string) {
	level, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
