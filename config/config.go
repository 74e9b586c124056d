// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AI       AIConfig       `yaml:"ai"`
	Quota    QuotaConfig    `yaml:"quota"`
	Usage    UsageConfig    `yaml:"usage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the optional Redis counter store. When Addr is
// empty, quota counters live in SQLite instead.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// AIConfig configures the upstream model provider.
type AIConfig struct {
	Provider    string        `yaml:"provider"` // "deepseek", "openai" or "simulated"
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key,omitempty"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// QuotaConfig configures quota enforcement.
type QuotaConfig struct {
	// FailOpen selects the policy when the counter store is unreachable:
	// true allows the operation (availability), false denies it.
	// Defaults to true.
	FailOpen *bool      `yaml:"fail_open,omitempty"`
	Plan     PlanConfig `yaml:"plan"`
}

// PlanConfig configures the active plan's limits.
type PlanConfig struct {
	Type         string `yaml:"type"`
	DailyLimit   int64  `yaml:"daily_limit"`
	MonthlyLimit int64  `yaml:"monthly_limit"`
}

// IsFailOpen resolves the fail-open policy with its default.
func (q QuotaConfig) IsFailOpen() bool {
	if q.FailOpen == nil {
		return true
	}
	return *q.FailOpen
}

// UsageConfig configures usage event recording.
type UsageConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetentionDays int           `yaml:"retention_days"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Path    string `yaml:"path"`
}

// IsEnabled resolves the metrics toggle with its default (on).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// Every setting has a default, so this always yields a runnable config
// (simulated provider, SQLite counters) for Docker deployments without a
// config file.
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falling back to environment
// variables plus defaults.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies NOTEAI_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NOTEAI_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("NOTEAI_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("NOTEAI_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("NOTEAI_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NOTEAI_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("NOTEAI_AI_PROVIDER"); v != "" {
		cfg.AI.Provider = v
	}
	if v := os.Getenv("NOTEAI_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("NOTEAI_AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("NOTEAI_AI_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("NOTEAI_AI_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AI.Timeout = d
		}
	}
	if v := os.Getenv("NOTEAI_QUOTA_FAIL_OPEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Quota.FailOpen = &b
		}
	}
	if v := os.Getenv("NOTEAI_QUOTA_DAILY_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Quota.Plan.DailyLimit = n
		}
	}
	if v := os.Getenv("NOTEAI_QUOTA_MONTHLY_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Quota.Plan.MonthlyLimit = n
		}
	}
	if v := os.Getenv("NOTEAI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NOTEAI_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 60 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "noteai.db"
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "simulated"
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = 4000
	}
	if cfg.AI.Temperature == 0 {
		cfg.AI.Temperature = 0.7
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 30 * time.Second
	}
	if cfg.Quota.Plan.Type == "" {
		cfg.Quota.Plan.Type = "free"
	}
	if cfg.Quota.Plan.DailyLimit == 0 {
		cfg.Quota.Plan.DailyLimit = 10
	}
	if cfg.Quota.Plan.MonthlyLimit == 0 {
		cfg.Quota.Plan.MonthlyLimit = 50
	}
	if cfg.Usage.BatchSize == 0 {
		cfg.Usage.BatchSize = 100
	}
	if cfg.Usage.FlushInterval == 0 {
		cfg.Usage.FlushInterval = 10 * time.Second
	}
	if cfg.Usage.RetentionDays == 0 {
		cfg.Usage.RetentionDays = 7
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", cfg.Server.Port)
	}

	switch cfg.AI.Provider {
	case "deepseek", "openai":
		if cfg.AI.APIKey == "" {
			return fmt.Errorf("ai.api_key is required for provider %q", cfg.AI.Provider)
		}
	case "simulated":
	default:
		return fmt.Errorf("ai.provider must be deepseek, openai or simulated, got %q", cfg.AI.Provider)
	}

	if cfg.AI.Timeout < 0 || cfg.AI.Timeout > 30*time.Second {
		return fmt.Errorf("ai.timeout must be in (0, 30s], got %s", cfg.AI.Timeout)
	}

	if cfg.Quota.Plan.DailyLimit < 1 {
		return fmt.Errorf("quota.plan.daily_limit must be positive, got %d", cfg.Quota.Plan.DailyLimit)
	}
	if cfg.Quota.Plan.MonthlyLimit < 1 {
		return fmt.Errorf("quota.plan.monthly_limit must be positive, got %d", cfg.Quota.Plan.MonthlyLimit)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", cfg.Logging.Format)
	}

	return nil
}
