package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned by Render for unsupported formats.
var ErrUnknownFormat = errors.New("unknown format, want yaml, toml or json")

// Formats lists the formats Render accepts.
var Formats = []string{"yaml", "toml", "json"}

// Map returns the configuration as nested maps keyed like the config file.
func (c *Config) Map() map[string]any {
	opts := c.InitializationOptions
	if opts == nil {
		opts = map[string]any{}
	}
	return map[string]any{
		"command":                c.Command,
		"storage_dir":            c.StorageDir,
		"server_path":            c.ServerPath,
		"minimum_node_version":   c.MinimumNodeVersion,
		"initialization_options": opts,
		"settings": map[string]any{
			"updateImportsOnFileMove": c.Settings.UpdateImportsOnFileMove,
			"statusText":              c.Settings.StatusText,
			"inlayHints":              c.Settings.InlayHints,
		},
		"rename": map[string]any{
			"debounce": c.Rename.Debounce.String(),
			"patterns": nonNil(c.Rename.Patterns),
			"ignores":  nonNil(c.Rename.Ignores),
		},
		"log": map[string]any{
			"level": c.Log.Level,
			"file":  c.Log.File,
		},
		"metrics": map[string]any{
			"addr": c.Metrics.Addr,
		},
	}
}

// Render serializes the configuration in format.
func (c *Config) Render(format string) ([]byte, error) {
	m := c.Map()

	switch strings.ToLower(format) {
	case "yaml", "yml", "":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return buf.Bytes(), nil

	case "toml":
		out, err := toml.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode toml: %w", err)
		}
		return out, nil

	case "json":
		out, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return append(out, '\n'), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
