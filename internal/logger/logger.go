// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logger configures structured logging for chatstream.
//
// Loggers are constructed once and passed in explicitly; there is no global
// instance. When stderr is an interactive terminal the console writer is
// used, otherwise plain JSON lines for machine consumption.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/muesli/termenv"
	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string

	// Output defaults to stderr so log lines never interleave with the TUI.
	Output io.Writer

	// Pretty forces or suppresses console formatting. Nil auto-detects.
	Pretty *bool
}

// New creates a configured logger.
func New(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "trace":
		level = zerolog.TraceLevel
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	pretty := isInteractive()
	if cfg.Pretty != nil {
		pretty = *cfg.Pretty
	}
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "chatstream").
		Logger()
}

// Nop returns a disabled logger, for tests and optional dependencies.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// isInteractive reports whether stderr is attached to a color-capable TTY.
func isInteractive() bool {
	return termenv.NewOutput(os.Stderr).ColorProfile() != termenv.Ascii
}
