package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ServerAddress)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsLambda)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 120, cfg.IngestRateLimit)
	assert.Equal(t, 0.1, cfg.TraceSampleRate)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/flow.db")
	t.Setenv("SHUTDOWN_TIMEOUT", "30")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "ideaflow-api")
	t.Setenv("INGEST_RATE_LIMIT", "30")
	t.Setenv("RATE_LIMIT_TABLE", "limits")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.StoreBackend)
	assert.Equal(t, "/tmp/flow.db", cfg.SQLitePath)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.IsLambda)
	assert.Equal(t, 30, cfg.IngestRateLimit)
	assert.Equal(t, "limits", cfg.RateLimitTable)
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		return &Config{Environment: "development", StoreBackend: StoreMemory, ShutdownTimeout: time.Second}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"memory in development", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.StoreBackend = "redis" }, "unknown STORE_BACKEND"},
		{"memory in production", func(c *Config) { c.Environment = "production" }, "not allowed in production"},
		{"dynamodb without table", func(c *Config) { c.StoreBackend = StoreDynamoDB }, "DYNAMODB_TABLE"},
		{"sqlite without path", func(c *Config) { c.StoreBackend = StoreSQLite }, "SQLITE_PATH"},
		{"hot reload without file", func(c *Config) { c.HotReload = true }, "POLICY_FILE"},
		{"negative rate limit", func(c *Config) { c.IngestRateLimit = -1 }, "INGEST_RATE_LIMIT"},
		{"sample rate above one", func(c *Config) { c.TraceSampleRate = 1.5 }, "TRACE_SAMPLE_RATE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
