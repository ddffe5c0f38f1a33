package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearStopfinderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"STOPFINDER_CONFIG", "STOPFINDER_BASE_URL", "STOPFINDER_EMAIL", "STOPFINDER_PASSWORD",
		"STOPFINDER_REQUEST_TIMEOUT", "REFRESH_INTERVAL", "APP_TIMEZONE", "REDIS_URL", "DATABASE_URL",
	} {
		t.Setenv(key, "")
	}
}

func validConfig() *Config {
	cfg := Default()
	cfg.Stopfinder.BaseURL = "https://district.example.com/StopfinderApi"
	cfg.Stopfinder.Email = "parent@example.com"
	cfg.Stopfinder.Password = "secret"
	return cfg
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	clearStopfinderEnv(t)

	path := filepath.Join(t.TempDir(), "stopfinder.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  timezone: UTC
stopfinder:
  base_url: https://district.example.com/StopfinderApi
  email: parent@example.com
  password: from-file
  request_timeout: 15s
refresh:
  interval: 10m
  backoff_initial: 5m
  backoff_max: 1h
`), 0o600))

	t.Setenv("STOPFINDER_PASSWORD", "from-env")
	t.Setenv("REFRESH_INTERVAL", "15m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Stopfinder.Password)
	assert.Equal(t, 15*time.Second, cfg.Stopfinder.RequestTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Refresh.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Refresh.BackoffInitial)
	assert.Equal(t, 7*24*time.Hour, cfg.Stopfinder.Window())
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.False(t, cfg.Database.Enabled())
}

func TestLoad_MissingCredentials(t *testing.T) {
	clearStopfinderEnv(t)

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopfinder.base_url is required")
	assert.Contains(t, err.Error(), "stopfinder.email is required")
	assert.Contains(t, err.Error(), "stopfinder.password is required")
}

func TestLoad_MissingFile(t *testing.T) {
	clearStopfinderEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoad_UnknownTimezone(t *testing.T) {
	clearStopfinderEnv(t)
	t.Setenv("STOPFINDER_BASE_URL", "https://district.example.com")
	t.Setenv("STOPFINDER_EMAIL", "parent@example.com")
	t.Setenv("STOPFINDER_PASSWORD", "secret")
	t.Setenv("APP_TIMEZONE", "Mars/Olympus_Mons")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timezone")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"malformed url", func(c *Config) { c.Stopfinder.BaseURL = "district" }, "stopfinder.base_url must be a valid URL"},
		{"timeout too long", func(c *Config) { c.Stopfinder.RequestTimeout = 90 * time.Second }, "stopfinder.request_timeout"},
		{"timeout too short", func(c *Config) { c.Stopfinder.RequestTimeout = 100 * time.Millisecond }, "stopfinder.request_timeout"},
		{"interval too short", func(c *Config) { c.Refresh.Interval = time.Second }, "refresh.interval"},
		{"backoff max below initial", func(c *Config) {
			c.Refresh.BackoffInitial = 10 * time.Minute
			c.Refresh.BackoffMax = time.Minute
		}, "refresh.backoff_max"},
		{"bad log level", func(c *Config) { c.Observability.LogLevel = "loud" }, "observability.log_level must be one of"},
		{"window", func(c *Config) { c.Stopfinder.WindowDays = 0 }, "stopfinder.window_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvironmentHelpers(t *testing.T) {
	t.Setenv("CFG_TEST_BOOL", "nope")
	t.Setenv("CFG_TEST_SLICE", "a, b,,c")

	assert.True(t, getEnvBool("CFG_TEST_BOOL", true))
	assert.Equal(t, []string{"a", "b", "c"}, getEnvSlice("CFG_TEST_SLICE", nil))
	assert.Equal(t, 2.5, getEnvFloat("CFG_TEST_MISSING", 2.5))

	cfg := validConfig()
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}
