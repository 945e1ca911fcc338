// Package config loads and validates the pipeline configuration from YAML,
// with environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Generator GeneratorConfig `yaml:"generator" validate:"required"`
	Store     StoreConfig     `yaml:"store" validate:"required"`
	Budget    BudgetConfig    `yaml:"budget" validate:"required"`
	Quality   QualityConfig   `yaml:"quality" validate:"required"`
	Decision  DecisionConfig  `yaml:"decision" validate:"required"`
	Pipeline  PipelineConfig  `yaml:"pipeline" validate:"required"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Server    ServerConfig    `yaml:"server"`
	Limits    Limits          `yaml:"limits" validate:"required"`
}

type GeneratorConfig struct {
	APIKey  string `yaml:"api_key" validate:"omitempty,min=20"`
	Model   string `yaml:"model" validate:"required"`
	BaseURL string `yaml:"base_url" validate:"required,url"`
	// Timeout is the per-request HTTP timeout in seconds.
	Timeout int `yaml:"timeout" validate:"required,min=10,max=3600"`
	// CacheTTL is the response-cache lifetime in seconds. Zero disables
	// caching.
	CacheTTL int `yaml:"cache_ttl" validate:"min=0"`
	// Mock replaces the HTTP client with a canned generator. Dry runs and
	// local development only.
	Mock bool `yaml:"mock"`
}

type StoreConfig struct {
	// Backend selects the persistence layer.
	Backend string `yaml:"backend" validate:"required,oneof=filesystem sqlite"`
	// DataDir is the filesystem backend's root.
	DataDir string `yaml:"data_dir" validate:"required,dirpath"`
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`
}

type BudgetConfig struct {
	// Session is the total cost budget for one orchestrator session.
	Session float64 `yaml:"session" validate:"required,gt=0"`
}

type QualityConfig struct {
	Threshold       float64 `yaml:"threshold" validate:"required,min=1,max=10"`
	Band            float64 `yaml:"band" validate:"min=0,max=2"`
	HardFloor       float64 `yaml:"hard_floor" validate:"min=0,max=10"`
	AcceptableFloor float64 `yaml:"acceptable_floor" validate:"min=0,max=10"`
	MaxAttempts     int     `yaml:"max_attempts" validate:"required,min=1,max=10"`
}

type DecisionConfig struct {
	CompletionThreshold float64 `yaml:"completion_threshold" validate:"required,min=50,max=100"`
	// StalenessHours is how long a serializing work may idle before it
	// jumps the continuation queue.
	StalenessHours int `yaml:"staleness_hours" validate:"required,min=1"`
	MaxActiveWorks int `yaml:"max_active_works" validate:"required,min=1,max=50"`
}

type PipelineConfig struct {
	// ContextBudget caps the rendered continuity context, in characters.
	ContextBudget int `yaml:"context_budget" validate:"required,min=500"`
	// MaxPacingRetries bounds regeneration after pacing rejections.
	MaxPacingRetries int `yaml:"max_pacing_retries" validate:"min=0,max=10"`
	// MinRunIntervalSeconds debounces scheduled triggers.
	MinRunIntervalSeconds int `yaml:"min_run_interval_seconds" validate:"min=0"`
}

type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
	// IntervalMinutes is the gap between scheduled production runs.
	IntervalMinutes int `yaml:"interval_minutes" validate:"min=0"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads the config file, fills defaults, pulls the API key from the
// environment when the file omits it, and validates. A missing file yields
// the default configuration.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = configPath()
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only; the environment must supply the API key.
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if cfg.Generator.APIKey == "" || strings.HasPrefix(cfg.Generator.APIKey, "${") {
		cfg.Generator.APIKey = apiKeyFromEnv()
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func configPath() string {
	if path := os.Getenv("SERIALIST_CONFIG"); path != "" {
		return path
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "serialist", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "serialist", "config.yaml")
}

func apiKeyFromEnv() string {
	for _, name := range []string{"SERIALIST_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY"} {
		if key := os.Getenv(name); key != "" {
			return key
		}
	}
	return ""
}

func dataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "serialist")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "serialist")
}

// expandTilde expands a leading ~/ to the user's home directory.
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func (c *Config) validate() error {
	// Defaults go in before validation so a sparse file still passes.
	if c.Generator.Model == "" {
		c.Generator.Model = "claude-3-5-sonnet-20241022"
	}
	if c.Generator.BaseURL == "" {
		c.Generator.BaseURL = "https://api.anthropic.com/v1"
	}
	if c.Generator.Timeout == 0 {
		c.Generator.Timeout = 300
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "filesystem"
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = filepath.Join(dataDir(), "works")
	} else {
		c.Store.DataDir = expandTilde(c.Store.DataDir)
	}
	if c.Store.Backend == "sqlite" && c.Store.SQLitePath == "" {
		c.Store.SQLitePath = filepath.Join(dataDir(), "serialist.db")
	}
	c.Store.SQLitePath = expandTilde(c.Store.SQLitePath)

	if c.Budget.Session == 0 {
		c.Budget.Session = 100
	}

	if c.Quality.Threshold == 0 {
		c.Quality = QualityConfig{
			Threshold:       8.0,
			Band:            0.5,
			HardFloor:       7.0,
			AcceptableFloor: 7.0,
			MaxAttempts:     3,
		}
	}

	if c.Decision.CompletionThreshold == 0 {
		c.Decision = DecisionConfig{
			CompletionThreshold: 95,
			StalenessHours:      48,
			MaxActiveWorks:      3,
		}
	}

	if c.Pipeline.ContextBudget == 0 {
		c.Pipeline = PipelineConfig{
			ContextBudget:         4000,
			MaxPacingRetries:      2,
			MinRunIntervalSeconds: 0,
		}
	}

	if c.Scheduler.Enabled && c.Scheduler.IntervalMinutes == 0 {
		c.Scheduler.IntervalMinutes = 360
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8491"
	}

	if c.Limits.MaxRequestsPerMinute == 0 {
		c.Limits = DefaultLimits()
	}

	validate := validator.New()
	validate.RegisterValidation("dirpath", func(fl validator.FieldLevel) bool {
		// Created on first use; existence is not a config error.
		return fl.Field().String() != ""
	})
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
