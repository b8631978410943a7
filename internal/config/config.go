// Package config loads the application configuration from a YAML file with
// environment variable overrides for deployment secrets.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	SES       SESConfig       `yaml:"ses"`
	AI        AIConfig        `yaml:"ai"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Templates TemplatesConfig `yaml:"templates"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection.
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis connection settings for the dispatch queue.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SESConfig holds AWS SES sending configuration.
type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AIConfig holds the language-model collaborator configuration. Provider is
// "anthropic" or "bedrock"; empty disables personalization and reply
// classification falls back to its default category.
type AIConfig struct {
	Provider         string `yaml:"provider"`
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	BedrockRegion    string `yaml:"bedrock_region"`
	MaxConcurrency   int    `yaml:"max_concurrency"`
	BatchDelayMillis int    `yaml:"batch_delay_millis"`
}

// BatchDelay returns the inter-batch personalization delay.
func (c AIConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMillis) * time.Millisecond
}

// TrackingConfig holds the public tracking endpoint settings and the mailbox
// circuit-breaker limits.
type TrackingConfig struct {
	BaseURL               string `yaml:"base_url"`
	MailboxBounceLimit    int    `yaml:"mailbox_bounce_limit"`
	MailboxComplaintLimit int    `yaml:"mailbox_complaint_limit"`
}

// DispatchConfig tunes the background send pipeline.
type DispatchConfig struct {
	SendDelaySeconds     int `yaml:"send_delay_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	ReconcileMinutes     int `yaml:"reconcile_minutes"`
}

// SendDelay returns the pause between consecutive sends.
func (c DispatchConfig) SendDelay() time.Duration {
	return time.Duration(c.SendDelaySeconds) * time.Second
}

// SweepInterval returns how often running campaigns are re-enqueued.
func (c DispatchConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// ReconcileInterval returns the metrics reconciliation cadence.
func (c DispatchConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileMinutes) * time.Minute
}

// TemplatesConfig holds the rendering fallback values for missing contact
// fields.
type TemplatesConfig struct {
	FirstNameFallback string `yaml:"first_name_fallback"`
	CompanyFallback   string `yaml:"company_fallback"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.AI.MaxConcurrency == 0 {
		cfg.AI.MaxConcurrency = 5
	}
	if cfg.AI.BatchDelayMillis == 0 {
		cfg.AI.BatchDelayMillis = 1000
	}
	if cfg.Tracking.MailboxBounceLimit == 0 {
		cfg.Tracking.MailboxBounceLimit = 50
	}
	if cfg.Tracking.MailboxComplaintLimit == 0 {
		cfg.Tracking.MailboxComplaintLimit = 10
	}
	if cfg.Dispatch.SendDelaySeconds == 0 {
		cfg.Dispatch.SendDelaySeconds = 2
	}
	if cfg.Dispatch.SweepIntervalSeconds == 0 {
		cfg.Dispatch.SweepIntervalSeconds = 60
	}
	if cfg.Dispatch.ReconcileMinutes == 0 {
		cfg.Dispatch.ReconcileMinutes = 5
	}
	if cfg.Templates.FirstNameFallback == "" {
		cfg.Templates.FirstNameFallback = "there"
	}
	if cfg.Templates.CompanyFallback == "" {
		cfg.Templates.CompanyFallback = "your company"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.SES.Region = region
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.AI.APIKey = apiKey
		if cfg.AI.Provider == "" {
			cfg.AI.Provider = "anthropic"
		}
	}
	if model := os.Getenv("AI_MODEL"); model != "" {
		cfg.AI.Model = model
	}
	if baseURL := os.Getenv("TRACKING_BASE_URL"); baseURL != "" {
		cfg.Tracking.BaseURL = baseURL
	}

	return cfg, nil
}
