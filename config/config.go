// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/narvik-labs/therasched/core/problem"
	"github.com/narvik-labs/therasched/core/scheduler"
	"github.com/narvik-labs/therasched/core/timegrid"
)

type Config struct {
	Solver    scheduler.SolverConfig `json:"solver"`
	Objective problem.Weights        `json:"objective"`
	Grid      timegrid.Config        `json:"grid"`
	Metrics   MetricsConfig          `json:"metrics"`
}

// Load reads a yaml or json configuration file, applies TS_ environment
// overrides, fills defaults and validates every section.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	// A weight of zero disables its objective term, so the objective
	// defaults are seeded under the file and env layers instead of being
	// patched in after unmarshaling.
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"objective": map[string]interface{}{
			"patient_days_weight":       1,
			"therapist_idle_gap_weight": 1,
		},
	}, "."), nil); err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides, e.g. TS_SOLVER__TIME_LIMIT_SECONDS.
	if err := k.Load(env.Provider("TS_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "ts_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	// The objective section is already defaulted above; running its
	// SetDefaults here would bump an explicitly configured zero back to 1.
	cfg.Solver.SetDefaults()
	cfg.Grid.SetDefaults()
	cfg.Metrics.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every section at its defaults.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

// SetDefaults fills every section's defaults.
func (c *Config) SetDefaults() {
	c.Solver.SetDefaults()
	c.Objective.SetDefaults()
	c.Grid.SetDefaults()
	c.Metrics.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Solver.Validate(); err != nil {
		return err
	}
	if err := c.Objective.Validate(); err != nil {
		return err
	}
	if err := c.Grid.Validate(); err != nil {
		return err
	}
	return c.Metrics.Validate()
}
