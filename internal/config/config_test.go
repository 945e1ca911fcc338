package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		Generator: GeneratorConfig{
			APIKey:  "sk-1234567890abcdef1234567890abcdef",
			Model:   "claude-3-5-sonnet-20241022",
			BaseURL: "https://api.anthropic.com/v1",
			Timeout: 300,
		},
		Store: StoreConfig{
			Backend: "filesystem",
			DataDir: "data",
		},
		Budget:  BudgetConfig{Session: 100},
		Quality: QualityConfig{Threshold: 8.0, Band: 0.5, HardFloor: 7.0, AcceptableFloor: 7.0, MaxAttempts: 3},
		Decision: DecisionConfig{
			CompletionThreshold: 95,
			StalenessHours:      48,
			MaxActiveWorks:      3,
		},
		Pipeline: PipelineConfig{ContextBudget: 4000, MaxPacingRetries: 2},
		Limits:   DefaultLimits(),
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "api key too short",
			mutate:  func(c *Config) { c.Generator.APIKey = "short" },
			wantErr: "APIKey",
		},
		{
			name:    "invalid base url",
			mutate:  func(c *Config) { c.Generator.BaseURL = "not-a-url" },
			wantErr: "BaseURL",
		},
		{
			name:    "unknown store backend",
			mutate:  func(c *Config) { c.Store.Backend = "redis" },
			wantErr: "Backend",
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Quality.Threshold = 12 },
			wantErr: "Threshold",
		},
		{
			name:    "completion threshold too low",
			mutate:  func(c *Config) { c.Decision.CompletionThreshold = 10 },
			wantErr: "CompletionThreshold",
		},
		{
			name:    "negative budget",
			mutate:  func(c *Config) { c.Budget.Session = -5 },
			wantErr: "Session",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("validate() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSparseFileGetsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `generator:
  api_key: sk-1234567890abcdef1234567890abcdef
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != "filesystem" {
		t.Errorf("backend = %q, want filesystem default", cfg.Store.Backend)
	}
	if cfg.Quality.Threshold != 8.0 {
		t.Errorf("threshold = %v, want 8.0 default", cfg.Quality.Threshold)
	}
	if cfg.Decision.MaxActiveWorks != 3 {
		t.Errorf("max active works = %d, want 3 default", cfg.Decision.MaxActiveWorks)
	}
	if cfg.Limits.MaxRequestsPerMinute != 30 {
		t.Errorf("rate limit = %d, want 30 default", cfg.Limits.MaxRequestsPerMinute)
	}
	if cfg.Server.Addr != ":8491" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("generator:\n  api_key: ${SERIALIST_API_KEY}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SERIALIST_API_KEY", "sk-envkey-1234567890abcdef1234567890")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Generator.APIKey != "sk-envkey-1234567890abcdef1234567890" {
		t.Errorf("api key = %q, want environment value", cfg.Generator.APIKey)
	}
}

func TestSQLiteBackendGetsDefaultPath(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Backend = "sqlite"
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Store.SQLitePath == "" {
		t.Error("sqlite path default missing")
	}
}
