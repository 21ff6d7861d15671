// Package config loads the driver's YAML configuration, the grouped
// Config-struct-of-structs style the teacher uses in its own
// internal/config, but loaded with gopkg.in/yaml.v3 the way the
// teacher's own load-test config_loader.go reads its scenario files
// (tests/load/config_loader.go), rather than hand-rolled flag parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the availkvsh driver. None
// of it affects the transactional core's semantics (§5: the core
// recognizes only logical time) — it governs ambient concerns: how
// the driver logs, what address it serves metrics on, and how it
// replays scripted command files.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Replay  ReplayConfig  `yaml:"replay"`
}

// LogConfig controls internal/obslog.
type LogConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error
	JSON  bool   `yaml:"json"`
}

// MetricsConfig controls the optional Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// ReplayConfig controls how a command file is consumed.
type ReplayConfig struct {
	// StopOnParseError, if true, halts replay at the first line the
	// parser rejects instead of skipping it and continuing.
	StopOnParseError bool          `yaml:"stop_on_parse_error"`
	Timeout          time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Replay: ReplayConfig{
			StopOnParseError: false,
			Timeout:          0,
		},
	}
}

// Load reads and parses a YAML config file, starting from Default()
// and overlaying whatever fields the file sets.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
