package config

import (
	"fmt"
	"strings"
	"time"
)

// Config represents a bmsrender.yaml configuration file.
// All values are optional and act as defaults for bmsrender render
// flags. CLI flags always override config values.
type Config struct {
	OutputDir string        `yaml:"output_dir"`
	Render    RenderConfig  `yaml:"render"`
	Resolve   ResolveConfig `yaml:"resolve"`
	Adapter   AdapterConfig `yaml:"adapter"`
}

// RenderConfig holds output format defaults from the config file.
type RenderConfig struct {
	Channels   int    `yaml:"channels"`
	SampleRate int    `yaml:"sample_rate"`
	Format     string `yaml:"format"`   // int or float
	Resample   string `yaml:"resample"` // linear or sinc
}

// ResolveConfig holds file resolution defaults from the config file.
type ResolveConfig struct {
	// Extensions is the ordered fallback extension list tried after the
	// literal name.
	Extensions    []string `yaml:"extensions"`
	CaseSensitive bool     `yaml:"case_sensitive"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Validate checks the enumerated fields. Zero values are always valid:
// the file only supplies defaults for flags.
func (c *Config) Validate() error {
	switch c.Render.Format {
	case "", "int", "float":
	default:
		return fmt.Errorf("render.format must be int or float, got %q", c.Render.Format)
	}
	switch c.Render.Resample {
	case "", "linear", "sinc":
	default:
		return fmt.Errorf("render.resample must be linear or sinc, got %q", c.Render.Resample)
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		return fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type)
	}
	for _, ext := range c.Resolve.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("resolve.extensions entries must start with a dot, got %q", ext)
		}
	}
	return nil
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
