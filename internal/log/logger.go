// SPDX-License-Identifier: MIT

// Package log owns the process-global zerolog logger and the canonical
// field names shared across components.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultService = "copernicus"

// Config captures options for the global logger.
type Config struct {
	Level   string    // log level name; falls back to LOG_LEVEL, then info
	Output  io.Writer // defaults to os.Stdout
	Service string    // service tag on every entry; falls back to LOG_SERVICE
}

var (
	once sync.Once
	base zerolog.Logger
)

// Configure initialises the global logger. Only the first call takes
// effect, so component loggers handed out earlier stay valid.
func Configure(cfg Config) {
	once.Do(func() {
		zerolog.SetGlobalLevel(levelOf(cfg.Level))
		zerolog.TimeFieldFormat = time.RFC3339

		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}

		base = zerolog.New(out).With().
			Timestamp().
			Str("service", serviceOf(cfg.Service)).
			Logger()
	})
}

func levelOf(name string) zerolog.Level {
	if name == "" {
		name = os.Getenv("LOG_LEVEL")
	}
	if parsed, err := zerolog.ParseLevel(name); err == nil && name != "" {
		return parsed
	}
	return zerolog.InfoLevel
}

func serviceOf(name string) string {
	if name != "" {
		return name
	}
	if env := os.Getenv("LOG_SERVICE"); env != "" {
		return env
	}
	return defaultService
}

// Base returns the configured base logger.
func Base() zerolog.Logger {
	Configure(Config{})
	return base
}

// WithComponent returns a child logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str(FieldComponent, component).Logger()
}

// Derive attaches arbitrary fields to a child logger via the builder.
func Derive(build func(*zerolog.Context)) zerolog.Logger {
	ctx := Base().With()
	if build != nil {
		build(&ctx)
	}
	return ctx.Logger()
}
