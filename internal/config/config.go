// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/jeranaias/chatstream/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete chatstream configuration. It is loaded once at
// startup and passed explicitly to the components that need it; there is no
// ambient global.
type Config struct {
	Version string `toml:"version"`

	Provider ProviderConfig `toml:"provider"`
	Quota    QuotaConfig    `toml:"quota"`
	Storage  StorageConfig  `toml:"storage"`
	Identity IdentityConfig `toml:"identity"`
	UI       UIConfig       `toml:"ui"`
	Log      LogConfig      `toml:"log"`
}

// ProviderConfig configures the model provider endpoint.
type ProviderConfig struct {
	// BaseURL is the provider API root, e.g. "https://api.example.com".
	BaseURL string `toml:"base_url"`
	// APIKey authenticates requests. Overridable via CHATSTREAM_API_KEY.
	APIKey string `toml:"api_key"`
	// Model is the default model identifier for new threads.
	Model string `toml:"model"`
	// Thinking requests reasoning traces by default.
	Thinking bool `toml:"thinking"`
	// Browsing enables the web tool by default.
	Browsing bool `toml:"browsing"`
	// TimeoutSecs bounds the initial submit; the stream itself has no
	// deadline, it ends with the generation.
	TimeoutSecs int `toml:"timeout_secs"`
}

// QuotaConfig configures the local quota gate.
type QuotaConfig struct {
	// AnonymousDailyLimit is messages per day for anonymous identities.
	// -1 means unlimited.
	AnonymousDailyLimit int `toml:"anonymous_daily_limit"`
	// AccountMonthlyLimit is messages per month for accounts. -1 means
	// unlimited.
	AccountMonthlyLimit int `toml:"account_monthly_limit"`
}

// StorageConfig configures the durable store.
type StorageConfig struct {
	// Path is the SQLite database file. Empty uses the default under the
	// config directory.
	Path string `toml:"path"`
}

// IdentityConfig pins the local identity used for quota and thread
// ownership.
type IdentityConfig struct {
	// Kind is "anonymous" or "account".
	Kind string `toml:"kind"`
	// Key is the device token (anonymous) or account id. Generated on
	// first run when empty.
	Key string `toml:"key"`
}

// UIConfig contains front-end preferences.
type UIConfig struct {
	// Markdown renders finished assistant messages through glamour.
	Markdown bool `toml:"markdown"`
	// ShowReasoning expands the reasoning panel while thinking.
	ShowReasoning bool `toml:"show_reasoning"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is trace, debug, info, warn, or error.
	Level string `toml:"level"`
	// File receives log output; empty logs to stderr.
	File string `toml:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Provider: ProviderConfig{
			BaseURL:     "http://localhost:8080",
			Model:       "nimbus-1",
			TimeoutSecs: 60,
		},
		Quota: QuotaConfig{
			AnonymousDailyLimit: 10,
			AccountMonthlyLimit: 1500,
		},
		Identity: IdentityConfig{
			Kind: "anonymous",
		},
		UI: UIConfig{
			Markdown:      true,
			ShowReasoning: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ConfigDir returns the chatstream configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatstream"), nil
}

// ConfigPath returns the default configuration file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration from the default location, falling back to
// defaults when no file exists. Environment overrides apply last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the configuration from an explicit path. A missing file is
// not an error: defaults apply.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Persist a first-run identity before env overrides touch the config, so
	// the saved file never captures environment-only values. Without the
	// write-back every restart would mint a new device key, orphaning the
	// identity's threads and quota counters.
	if cfg.ensureIdentity() {
		if err := cfg.SaveTo(path); err != nil {
			return nil, fmt.Errorf("persist generated identity: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies CHATSTREAM_* environment variables over the file
// values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CHATSTREAM_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("CHATSTREAM_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("CHATSTREAM_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("CHATSTREAM_DB"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("CHATSTREAM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CHATSTREAM_ANON_DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Quota.AnonymousDailyLimit = n
		}
	}
}

// ensureIdentity generates a device token on first run so anonymous quota
// tracking survives restarts. It reports whether a key was generated; the
// caller persists the config in that case.
func (c *Config) ensureIdentity() bool {
	if c.Identity.Key != "" {
		return false
	}
	c.Identity.Key = uuid.NewString()
	return true
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Provider.BaseURL == "" {
		return errors.New("config: provider.base_url is required")
	}
	u, err := url.Parse(c.Provider.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("config: invalid provider.base_url %q", c.Provider.BaseURL)
	}
	if c.Provider.Model == "" {
		return errors.New("config: provider.model is required")
	}
	if c.Provider.TimeoutSecs < 0 {
		return fmt.Errorf("config: provider.timeout_secs must not be negative, got %d", c.Provider.TimeoutSecs)
	}
	if c.Quota.AnonymousDailyLimit < -1 {
		return fmt.Errorf("config: quota.anonymous_daily_limit must be -1 or greater, got %d", c.Quota.AnonymousDailyLimit)
	}
	if c.Quota.AccountMonthlyLimit < -1 {
		return fmt.Errorf("config: quota.account_monthly_limit must be -1 or greater, got %d", c.Quota.AccountMonthlyLimit)
	}
	switch c.Identity.Kind {
	case "anonymous", "account":
	default:
		return fmt.Errorf("config: identity.kind must be anonymous or account, got %q", c.Identity.Kind)
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log.level %q", c.Log.Level)
	}
	return nil
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the configuration atomically to the default location, creating
// the directory on first run.
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the configuration atomically to an explicit path.
func (c *Config) SaveTo(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	// Atomic replace so a crash mid-write never leaves a torn file, and so
	// the watcher sees exactly one change event.
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// DatabasePath resolves the SQLite path, defaulting under the config
// directory.
func (c *Config) DatabasePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chatstream.db"), nil
}
