package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "https://www.yahboom.net/build", cfg.Site.APIURL)
	assert.Equal(t, DefaultUserAgent, cfg.Site.UserAgent)
	assert.Equal(t, 20, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 3*time.Second, cfg.ItemPause())
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 2000, cfg.Retry.BaseDelayMs)
	assert.InDelta(t, 2.0, cfg.Retry.BackoffMultiplier, 1e-9)
	assert.Equal(t, 30000, cfg.Retry.MaxDelayMs)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, time.Minute, cfg.NavigationTimeout())
	assert.Equal(t, 30*time.Second, cfg.ElementWaitTimeout())
	assert.True(t, cfg.Headless.Enabled)
	assert.Equal(t, "data/scrape-state.json", cfg.Paths.StateFile)
	assert.Equal(t, "public/data/builds.json", cfg.Paths.BuildsJSON)
	assert.Equal(t, ProviderLocal, cfg.Storage.Provider)
	assert.Equal(t, "public/images", cfg.Storage.Local.BaseDir)
	assert.False(t, cfg.State.FailOnSaveError)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.Equal(t, 20, cfg.RateLimiter().RequestsPerMinute)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
logging:
  development: false
  level: warn
rate_limit:
  requests_per_minute: 10
  pause_between_items_ms: 500
retry:
  max_retries: 5
  base_delay_ms: 100
  backoff_multiplier: 3
  max_delay_ms: 1000
headless:
  enabled: false
storage:
  provider: gcs
  prefix: kit
  gcs:
    bucket: buildingbit-assets
state:
  fail_on_save_error: true
metrics:
  addr: "127.0.0.1:9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 500*time.Millisecond, cfg.ItemPause())
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.False(t, cfg.Headless.Enabled)
	assert.Equal(t, ProviderGCS, cfg.Storage.Provider)
	assert.Equal(t, "buildingbit-assets", cfg.Storage.GCS.Bucket)
	assert.True(t, cfg.State.FailOnSaveError)
	assert.Equal(t, "127.0.0.1:9090", cfg.Metrics.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ValidConfig", func(*Config) {}, ""},
		{"GCSWithoutBucket", func(c *Config) { c.Storage.Provider = ProviderGCS }, "storage.gcs.bucket"},
		{"LocalWithoutDir", func(c *Config) { c.Storage.Local.BaseDir = "" }, "storage.local.base_dir"},
		{"UnknownProvider", func(c *Config) { c.Storage.Provider = "s3" }, "Provider"},
		{"BadURL", func(c *Config) { c.Site.APIURL = "not a url" }, "APIURL"},
		{"APIQuery", func(c *Config) { c.Site.APIURL = "https://www.yahboom.net/build?id=1" }, "query string"},
		{"NegativeRate", func(c *Config) { c.RateLimit.RequestsPerMinute = -1 }, "RequestsPerMinute"},
		{"ZeroRetries", func(c *Config) { c.Retry.MaxRetries = 0 }, "MaxRetries"},
		{"MaxDelayBelowBase", func(c *Config) { c.Retry.MaxDelayMs = 10 }, "MaxDelayMs"},
		{"BadLevel", func(c *Config) { c.Logging.Level = "verbose" }, "Level"},
		{"BadMetricsAddr", func(c *Config) { c.Metrics.Addr = "nope" }, "Addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
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

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SCRAPER_RATE_LIMIT_REQUESTS_PER_MINUTE", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.RateLimit.RequestsPerMinute)
}
