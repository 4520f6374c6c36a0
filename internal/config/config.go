package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines pipeline configuration.
type Config struct {
	Holding  string         `yaml:"holding"`
	Vault    string         `yaml:"vault"`
	Work     string         `yaml:"work"`
	Workers  int            `yaml:"workers"`
	DB       DBConfig       `yaml:"db"`
	Log      LogConfig      `yaml:"log"`
	Watch    WatchConfig    `yaml:"watch"`
	Classify ClassifyConfig `yaml:"classify"`
	Enrich   EnrichConfig   `yaml:"enrich"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type WatchConfig struct {
	QuietSeconds int `yaml:"quiet_seconds"`
}

// ClassifyConfig holds classifier thresholds and the known entities the
// metadata cross-reference matches against.
type ClassifyConfig struct {
	Threshold              float64        `yaml:"threshold"`
	ResearchTimeoutSeconds int            `yaml:"research_timeout_seconds"`
	Entities               []EntityConfig `yaml:"entities"`
}

// EntityConfig names one known account, project, or person.
type EntityConfig struct {
	Name    string   `yaml:"name"`
	Domains []string `yaml:"domains"`
	Aliases []string `yaml:"aliases"`
}

// EnrichConfig describes the external enrichment subprocess.
type EnrichConfig struct {
	Command        []string `yaml:"command"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	MaxRetries     int      `yaml:"max_retries"`
	BackoffSeconds int      `yaml:"backoff_seconds"`
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Config{
		Holding: "holding",
		Vault:   "vault",
		Work:    ".paradrop",
		Workers: 2,
		DB: DBConfig{
			Path: ".paradrop/paradrop.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Watch: WatchConfig{
			QuietSeconds: 2,
		},
		Classify: ClassifyConfig{
			Threshold:              0.5,
			ResearchTimeoutSeconds: 10,
		},
		Enrich: EnrichConfig{
			TimeoutSeconds: 120,
			MaxRetries:     2,
			BackoffSeconds: 5,
		},
	}

	if path := os.Getenv("PARADROP_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if dir := os.Getenv("PARADROP_HOLDING_DIR"); dir != "" {
		cfg.Holding = dir
	}
	if dir := os.Getenv("PARADROP_VAULT_DIR"); dir != "" {
		cfg.Vault = dir
	}
	if dir := os.Getenv("PARADROP_WORK_DIR"); dir != "" {
		cfg.Work = dir
	}
	if dbPath := os.Getenv("PARADROP_DB_PATH"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if level := os.Getenv("PARADROP_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if cmd := os.Getenv("PARADROP_ENRICH_CMD"); cmd != "" {
		cfg.Enrich.Command = []string{cmd}
	}
	if workersStr := os.Getenv("PARADROP_WORKERS"); workersStr != "" {
		workers, err := strconv.Atoi(workersStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PARADROP_WORKERS: %w", err)
		}
		cfg.Workers = workers
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Holding == "" {
		return fmt.Errorf("holding directory required")
	}
	if c.Vault == "" {
		return fmt.Errorf("vault directory required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Classify.Threshold < 0 || c.Classify.Threshold > 1 {
		return fmt.Errorf("classify threshold must be in [0,1]")
	}
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// QuietPeriod returns the watcher's stability window.
func (c *Config) QuietPeriod() time.Duration {
	return time.Duration(c.Watch.QuietSeconds) * time.Second
}

// ResearchTimeout bounds the classifier's research fallback.
func (c *Config) ResearchTimeout() time.Duration {
	return time.Duration(c.Classify.ResearchTimeoutSeconds) * time.Second
}

// EnrichTimeout bounds one enrichment subprocess invocation.
func (c *Config) EnrichTimeout() time.Duration {
	return time.Duration(c.Enrich.TimeoutSeconds) * time.Second
}

// EnrichBackoff is the base delay between enrichment retries.
func (c *Config) EnrichBackoff() time.Duration {
	return time.Duration(c.Enrich.BackoffSeconds) * time.Second
}
