package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config holds the training run settings.
type Config struct {
	Epochs          int     `koanf:"epochs"`
	BatchSize       int     `koanf:"batch_size"`
	BatchSizeTarget int     `koanf:"batch_size_target"`
	Lambda          float64 `koanf:"lambda"`
	Method          string  `koanf:"method"`
	Optimizer       string  `koanf:"optimizer"`
	LR              float64 `koanf:"lr"`
	Momentum        float64 `koanf:"momentum"`
	ValidFraction   float64 `koanf:"valid_fraction"`
	Shuffle         bool    `koanf:"shuffle"`
	Seed            int64   `koanf:"seed"`
	Hidden          int     `koanf:"hidden"`
	Samples         int     `koanf:"samples"`
	Shift           float64 `koanf:"shift"`
	Noise           float64 `koanf:"noise"`
	Checkpoint      string  `koanf:"checkpoint"`
	Verbose         bool    `koanf:"verbose"`
}

// findConfigFile finds the config file to use.
// Priority: explicit path > skada.yaml > skada.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat("skada.yaml"); err == nil {
		return "skada.yaml"
	}
	if _, err := os.Stat("skada.yml"); err == nil {
		return "skada.yml"
	}
	return ""
}

// LoadConfig loads configuration from file, environment variables, and
// flags. Precedence (highest to lowest): flags > env vars > config file
// > defaults.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"epochs":         10,
		"batch_size":     32,
		"lambda":         1.0,
		"method":         "coral",
		"optimizer":      "sgd",
		"lr":             0.05,
		"momentum":       0.9,
		"valid_fraction": 0.0,
		"shuffle":        true,
		"seed":           int64(1),
		"hidden":         16,
		"samples":        200,
		"shift":          1.0,
		"noise":          0.3,
		"verbose":        false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Load config file
	if used := findConfigFile(cfgFile); used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// 3. Load environment variables (SKADA_ prefix)
	// Transform: SKADA_BATCH_SIZE -> batch_size
	if err := k.Load(env.Provider("SKADA_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "SKADA_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.LR <= 0 {
		return fmt.Errorf("learning rate must be positive, got %f", cfg.LR)
	}
	if cfg.Samples < 4 {
		return fmt.Errorf("need at least 4 samples, got %d", cfg.Samples)
	}
	switch cfg.Method {
	case "coral", "mmd":
	default:
		return fmt.Errorf("unknown method %q (want coral or mmd)", cfg.Method)
	}
	switch cfg.Optimizer {
	case "sgd", "adam":
	default:
		return fmt.Errorf("unknown optimizer %q (want sgd or adam)", cfg.Optimizer)
	}
	return nil
}
