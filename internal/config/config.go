// Package config loads engine configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/verdantchain/fieldsync/internal/models"
)

// Duration wraps time.Duration so YAML values like "30s" parse naturally.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like 30s or 5m: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the engine configuration.
type Config struct {
	// DataDir holds the queue database. FIELDSYNC_DATA_DIR overrides it.
	DataDir    string `yaml:"data_dir"`
	ListenAddr string `yaml:"listen_addr"`

	Quota struct {
		CeilingBytes int64    `yaml:"ceiling_bytes"`
		Retention    Duration `yaml:"retention"`
	} `yaml:"quota"`

	Retry struct {
		Base           Duration `yaml:"base"`
		Ceiling        Duration `yaml:"ceiling"`
		JitterFraction float64  `yaml:"jitter_fraction"`
		MaxAttempts    int      `yaml:"max_attempts"`
	} `yaml:"retry"`

	Conflict struct {
		DefaultStrategy models.ResolutionStrategy `yaml:"default_strategy"`
	} `yaml:"conflict"`

	Publisher struct {
		Endpoint string   `yaml:"endpoint"`
		APIKey   string   `yaml:"api_key"`
		Timeout  Duration `yaml:"timeout"`
	} `yaml:"publisher"`

	Media struct {
		Endpoint string   `yaml:"endpoint"`
		Timeout  Duration `yaml:"timeout"`
	} `yaml:"media"`

	Sync struct {
		CycleInterval Duration `yaml:"cycle_interval"`
		ProbeURL      string   `yaml:"probe_url"`
		ProbeInterval Duration `yaml:"probe_interval"`
	} `yaml:"sync"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		DataDir:    "./data",
		ListenAddr: "localhost:8090",
	}
	cfg.Quota.CeilingBytes = 512 << 20 // 512 MiB
	cfg.Quota.Retention = Duration(7 * 24 * time.Hour)
	cfg.Retry.Base = Duration(30 * time.Second)
	cfg.Retry.Ceiling = Duration(time.Hour)
	cfg.Retry.JitterFraction = 0.2
	cfg.Retry.MaxAttempts = 3
	cfg.Conflict.DefaultStrategy = models.StrategyManual
	cfg.Publisher.Timeout = Duration(30 * time.Second)
	cfg.Media.Timeout = Duration(2 * time.Minute)
	cfg.Sync.CycleInterval = Duration(time.Minute)
	cfg.Sync.ProbeInterval = Duration(15 * time.Second)
	return cfg
}

// Load reads a config file over the defaults. A missing path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if dir := os.Getenv("FIELDSYNC_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction >= 1 {
		return fmt.Errorf("retry.jitter_fraction must be in [0, 1)")
	}
	if c.Retry.Base <= 0 || c.Retry.Ceiling < c.Retry.Base {
		return fmt.Errorf("retry.base must be positive and at most retry.ceiling")
	}
	if c.Sync.CycleInterval <= 0 {
		return fmt.Errorf("sync.cycle_interval must be positive")
	}
	switch c.Conflict.DefaultStrategy {
	case models.StrategyServerWins, models.StrategyClientWins, models.StrategyManual:
	default:
		return fmt.Errorf("conflict.default_strategy %q is not one of server_wins, client_wins, manual",
			c.Conflict.DefaultStrategy)
	}
	return nil
}
