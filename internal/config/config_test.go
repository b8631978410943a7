package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

database:
  url: "postgres://localhost/outreach_test?sslmode=disable"
  max_open_conns: 10

redis:
  addr: "localhost:6380"
  db: 2

ses:
  region: "eu-west-1"
  access_key: "test-access"
  secret_key: "test-secret"
  timeout_seconds: 45

ai:
  provider: "anthropic"
  api_key: "test-ai-key"
  model: "test-model"
  max_concurrency: 3
  batch_delay_millis: 500

tracking:
  base_url: "https://track.example.com"
  mailbox_bounce_limit: 25
  mailbox_complaint_limit: 5

dispatch:
  send_delay_seconds: 4
  sweep_interval_seconds: 30
  reconcile_minutes: 10

templates:
  first_name_fallback: "friend"
  company_fallback: "your team"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Test server config
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Test database config
	assert.Equal(t, "postgres://localhost/outreach_test?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)

	// Test redis config
	assert.Equal(t, "localhost:6380", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)

	// Test SES config
	assert.Equal(t, "eu-west-1", cfg.SES.Region)
	assert.Equal(t, "test-access", cfg.SES.AccessKey)
	assert.Equal(t, 45, cfg.SES.TimeoutSeconds)

	// Test AI config
	assert.Equal(t, "anthropic", cfg.AI.Provider)
	assert.Equal(t, "test-model", cfg.AI.Model)
	assert.Equal(t, 3, cfg.AI.MaxConcurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.AI.BatchDelay())

	// Test tracking config
	assert.Equal(t, "https://track.example.com", cfg.Tracking.BaseURL)
	assert.Equal(t, 25, cfg.Tracking.MailboxBounceLimit)
	assert.Equal(t, 5, cfg.Tracking.MailboxComplaintLimit)

	// Test dispatch config
	assert.Equal(t, 4*time.Second, cfg.Dispatch.SendDelay())
	assert.Equal(t, 30*time.Second, cfg.Dispatch.SweepInterval())
	assert.Equal(t, 10*time.Minute, cfg.Dispatch.ReconcileInterval())

	// Test template fallbacks
	assert.Equal(t, "friend", cfg.Templates.FirstNameFallback)
	assert.Equal(t, "your team", cfg.Templates.CompanyFallback)
}

func TestLoadDefaults(t *testing.T) {
	// Create a minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  url: "postgres://localhost/outreach?sslmode=disable"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Verify defaults are applied
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "us-east-1", cfg.SES.Region)
	assert.Equal(t, 30, cfg.SES.TimeoutSeconds)
	assert.Equal(t, 5, cfg.AI.MaxConcurrency)
	assert.Equal(t, time.Second, cfg.AI.BatchDelay())
	assert.Equal(t, 50, cfg.Tracking.MailboxBounceLimit)
	assert.Equal(t, 10, cfg.Tracking.MailboxComplaintLimit)
	assert.Equal(t, "there", cfg.Templates.FirstNameFallback)
	assert.Equal(t, "your company", cfg.Templates.CompanyFallback)
}

func TestLoadFromEnv(t *testing.T) {
	// Create a minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  url: "postgres://file-host/outreach"

ai:
  api_key: "file-key"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	// Set environment variables
	os.Setenv("DATABASE_URL", "postgres://env-host/outreach")
	os.Setenv("ANTHROPIC_API_KEY", "env-key")
	os.Setenv("TRACKING_BASE_URL", "https://env-track.example.com")
	defer func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("ANTHROPIC_API_KEY")
		os.Unsetenv("TRACKING_BASE_URL")
	}()

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	// Environment variables should override file values
	assert.Equal(t, "postgres://env-host/outreach", cfg.Database.URL)
	assert.Equal(t, "env-key", cfg.AI.APIKey)
	assert.Equal(t, "anthropic", cfg.AI.Provider)
	assert.Equal(t, "https://env-track.example.com", cfg.Tracking.BaseURL)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestTimeout(t *testing.T) {
	cfg := SESConfig{TimeoutSeconds: 45}
	assert.Equal(t, 45*time.Second, cfg.Timeout())
}
