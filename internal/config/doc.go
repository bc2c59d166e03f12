// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatstream.
//
// Configuration is a TOML file with sensible defaults, environment variable
// overrides, and validation. Saves are atomic, and a Watcher hot-reloads
// validated changes while the program runs.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CHATSTREAM_*)
//   - ~/.chatstream/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// The loaded Config is passed explicitly to whoever needs it; nothing in
// this package holds global mutable state.
package config
