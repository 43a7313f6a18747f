// Package config loads the bridge settings.
//
// Settings come from, in increasing priority: built-in defaults, an optional
// config file (yaml, toml or json), LSP_TYPESCRIPT_* environment variables
// and command-line flags. The "settings" block mirrors the settings of the
// editor plugin: updateImportsOnFileMove, statusText and inlayHints.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/mod/semver"
)

// Defaults.
const (
	DefaultMinimumNodeVersion = "14.16.0"
	DefaultUpdateImports      = "prompt"
	DefaultStatusText         = "TypeScript $version, $source"
	DefaultDebounce           = 10 * time.Millisecond
	DefaultLogLevel           = "warning"
)

// DefaultPatterns and DefaultIgnores scope the rename watcher.
var (
	DefaultPatterns = []string{"**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx"}
	DefaultIgnores  = []string{"**/node_modules/**"}
)

// Config is the effective configuration.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	// Command is the Node.js executable; empty means "node" from PATH.
	Command string `mapstructure:"command"`

	// StorageDir holds the installed typescript-language-server.
	StorageDir string `mapstructure:"storage_dir"`

	// ServerPath overrides the server entry point inside StorageDir.
	ServerPath string `mapstructure:"server_path"`

	MinimumNodeVersion string `mapstructure:"minimum_node_version"`

	// InitializationOptions are merged into the editor's initialize request.
	InitializationOptions map[string]any `mapstructure:"initialization_options"`

	Settings SettingsConfig `mapstructure:"settings"`
	Rename   RenameConfig   `mapstructure:"rename"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// SettingsConfig holds the plugin settings.
type SettingsConfig struct {
	// UpdateImportsOnFileMove is one of never, prompt, always.
	UpdateImportsOnFileMove string `mapstructure:"updateImportsOnFileMove"`

	// StatusText is shown once the server reports its TypeScript version.
	// $version and $source are substituted; empty disables it.
	StatusText string `mapstructure:"statusText"`

	// InlayHints enables inlay hints served from typescript/inlayHints.
	InlayHints bool `mapstructure:"inlayHints"`
}

// RenameConfig tunes the rename watcher.
type RenameConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	Patterns []string      `mapstructure:"patterns"`
	Ignores  []string      `mapstructure:"ignores"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level is one of none, critical, error, warning, notice, info, debug.
	Level string `mapstructure:"level"`

	// File receives the log; empty means stderr.
	File string `mapstructure:"file"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// Sentinel errors for configuration validation.
var (
	// ErrInvalidDebounce indicates a negative rename.debounce.
	ErrInvalidDebounce = errors.New("rename.debounce must be non-negative")
	// ErrInvalidPattern indicates a malformed rename glob.
	ErrInvalidPattern = errors.New("rename glob is malformed")
	// ErrInvalidLogLevel indicates an unknown log.level.
	ErrInvalidLogLevel = errors.New("log.level must be one of none, critical, error, warning, notice, info, debug")
	// ErrInvalidNodeVersion indicates an unparseable minimum_node_version.
	ErrInvalidNodeVersion = errors.New("minimum_node_version must be a semantic version")
)

var logLevels = map[string]int{
	"none":     -4,
	"critical": -3,
	"error":    -2,
	"warning":  -1,
	"notice":   0,
	"info":     1,
	"debug":    2,
}

// Validate checks Config invariants and returns the first error found.
// An unknown updateImportsOnFileMove is not an error; it falls back to
// prompting.
func (c *Config) Validate() error {
	if c.Rename.Debounce < 0 {
		return ErrInvalidDebounce
	}

	for _, p := range append(append([]string(nil), c.Rename.Patterns...), c.Rename.Ignores...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("%w: %q", ErrInvalidPattern, p)
		}
	}

	if _, err := c.Log.Verbosity(); err != nil {
		return err
	}

	if v := c.MinimumNodeVersion; v != "" {
		if !strings.HasPrefix(v, "v") {
			v = "v" + v
		}
		if !semver.IsValid(v) {
			return fmt.Errorf("%w: %q", ErrInvalidNodeVersion, c.MinimumNodeVersion)
		}
	}

	return nil
}

// Verbosity maps Level onto a commonlog verbosity.
func (l LogConfig) Verbosity() (int, error) {
	if l.Level == "" {
		return logLevels[DefaultLogLevel], nil
	}
	v, ok := logLevels[strings.ToLower(l.Level)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}
	return v, nil
}

// LogPath returns the log file path, or nil for stderr.
func (l LogConfig) LogPath() *string {
	if l.File == "" {
		return nil
	}
	path := l.File
	return &path
}

// defaultStorageDir is the per-user cache directory for the server install.
func defaultStorageDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "lsp-typescript")
	}
	return filepath.Join(dir, "lsp-typescript")
}
