// Package config loads the site configuration file that tunes policy
// runs: logging, recipe macros, per-policy settings, site Rego rules,
// the trove database fixture, and release tooling defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conarypm/conary-policy/pkg/domain"
)

// Config is the root of the site configuration file.
type Config struct {
	Log      LogConfig               `yaml:"log"`
	Macros   map[string]string       `yaml:"macros"`
	Strict   bool                    `yaml:"strict"`
	Policies map[string]PolicyConfig `yaml:"policies"`
	Rego     RegoConfig              `yaml:"rego"`
	TroveDB  TroveDBConfig           `yaml:"trovedb"`
	Release  ReleaseConfig           `yaml:"release"`
	Watch    WatchConfig             `yaml:"watch"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level string `yaml:"level"`
	// Pretty selects human-readable text output instead of JSON.
	Pretty bool `yaml:"pretty"`
}

// PolicyConfig carries the per-policy knobs.
type PolicyConfig struct {
	Disabled   bool     `yaml:"disabled"`
	Exceptions []string `yaml:"exceptions"`
}

// RegoConfig wires optional site rules written in Rego.
type RegoConfig struct {
	// Modules maps module names to file paths containing Rego source.
	Modules map[string]string `yaml:"modules"`
	// Entrypoint is the decision path, e.g. "conary/decision".
	Entrypoint string `yaml:"entrypoint"`
	// CacheMaxEntries bounds the decision cache; negative disables it.
	CacheMaxEntries int `yaml:"cache_max_entries"`
}

// TroveDBConfig points at the installed-trove database fixture.
type TroveDBConfig struct {
	Fixture string `yaml:"fixture"`
}

// ReleaseConfig holds the defaults for the release subcommands.
type ReleaseConfig struct {
	Version   string `yaml:"version"`
	News      string `yaml:"news"`
	Destdir   string `yaml:"destdir"`
	Policydir string `yaml:"policydir"`
	// Compression selects the dist archive codec: gzip or zstd.
	Compression string `yaml:"compression"`
}

// WatchConfig tunes watch mode.
type WatchConfig struct {
	// MetricsAddr exposes Prometheus metrics while watching; empty
	// disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Release: ReleaseConfig{
			News:        "NEWS",
			Policydir:   "/usr/lib/conary/policy",
			Compression: "gzip",
		},
	}
}

// Load reads and validates a configuration file. An empty path yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that later stages cannot recover from.
func (c *Config) Validate() error {
	if c.Log.Level != "" {
		switch strings.ToLower(c.Log.Level) {
		case "debug", "info", "warn", "warning", "error":
		default:
			return fmt.Errorf("%w: unknown log level %q", domain.ErrConfigInvalid, c.Log.Level)
		}
	}

	switch strings.ToLower(c.Release.Compression) {
	case "", "gzip", "zstd":
	default:
		return fmt.Errorf("%w: unknown compression %q", domain.ErrConfigInvalid, c.Release.Compression)
	}

	for name, macro := range c.Macros {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: empty macro name", domain.ErrConfigInvalid)
		}
		if strings.Contains(macro, "%(") && !strings.Contains(macro, ")s") {
			return fmt.Errorf("%w: malformed macro reference in %q", domain.ErrConfigInvalid, name)
		}
	}

	for path := range c.Rego.Modules {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("%w: empty rego module name", domain.ErrConfigInvalid)
		}
	}
	return nil
}

// RegoSources reads the configured Rego module files into memory.
func (c *Config) RegoSources() (map[string]string, error) {
	if len(c.Rego.Modules) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(c.Rego.Modules))
	for name, path := range c.Rego.Modules {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rego module %s: %w", name, err)
		}
		out[name] = string(data)
	}
	return out, nil
}

// Marshal renders the configuration back to YAML, used by `config show`.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
