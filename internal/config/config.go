// Package config assembles the updater configuration: compiled-in platform
// defaults, overridden by environment variables, then validated.
// Priority: env vars > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/meganz/megacmd-updater/pkg/crypto"
)

// Config represents the complete updater configuration.
type Config struct {
	// UpdateURL is the regular manifest location.
	UpdateURL string

	// EmergencyUpdateURL is the out-of-band manifest used by --emergency-update.
	EmergencyUpdateURL string

	// OverrideURL, when non-empty, replaces whichever manifest URL was
	// selected. Set from MEGA_UPDATE_CHECK_URL.
	OverrideURL string

	// UseTestManifest rewrites v.txt to vv.txt in the default URLs for QA.
	UseTestManifest bool

	// PublicKey is the base64 blob the signature chain is anchored to.
	PublicKey string

	// AppDir is the live installation directory.
	AppDir string

	// AppDataDir holds the version file and the staging/backup scratch trees.
	AppDataDir string

	// HTTPTimeout bounds each individual download.
	HTTPTimeout time.Duration

	// HistoryEnabled controls the update-run journal.
	HistoryEnabled bool

	// Logging configuration.
	Logging LoggingConfig
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// Load builds the configuration from defaults and environment overrides.
func Load() (*Config, error) {
	cfg := Default()
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides configuration with environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MEGA_UPDATE_PUBLIC_KEY"); v != "" {
		c.PublicKey = v
	}
	if v := os.Getenv("MEGA_UPDATE_CHECK_URL"); v != "" {
		c.OverrideURL = v
	}
	if os.Getenv("USE_UPDATE_TEST_FILE") != "" {
		c.UseTestManifest = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// ManifestURL returns the manifest URL to request. MEGA_UPDATE_CHECK_URL
// wins outright; otherwise the regular or emergency default is used, with
// the QA v.txt -> vv.txt rewrite applied when requested.
func (c *Config) ManifestURL(emergency bool) string {
	if c.OverrideURL != "" {
		return c.OverrideURL
	}

	url := c.UpdateURL
	if emergency {
		url = c.EmergencyUpdateURL
	}
	if c.UseTestManifest {
		url = strings.Replace(url, "v.txt", "vv.txt", 1)
	}
	return url
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.UpdateURL == "" || c.EmergencyUpdateURL == "" {
		return errors.New("update URLs cannot be empty")
	}
	if c.AppDir == "" || c.AppDataDir == "" {
		return errors.New("app and app-data directories must be set")
	}
	if _, err := crypto.ParsePublicKey(c.PublicKey); err != nil {
		return fmt.Errorf("update public key: %w", err)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("invalid http timeout: %s", c.HTTPTimeout)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}

// LogLevel returns the zerolog level based on configuration.
func (c *Config) LogLevel() zerolog.Level {
	switch c.Logging.Level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
