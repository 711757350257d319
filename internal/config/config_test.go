package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Health.Port)
	assert.Equal(t, 3, cfg.Scraper.Workers)
	assert.Equal(t, 3, cfg.Browser.PoolSize)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30*time.Second, cfg.Browser.Timeout)
	assert.Equal(t, "memory", cfg.Queue.Type)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "price_tracker", cfg.Database.DBName)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HEALTH_PORT", "8090")
	t.Setenv("BROWSER_POOL_SIZE", "5")
	t.Setenv("BROWSER_HEADLESS", "false")
	t.Setenv("SCRAPER_JOB_TIMEOUT", "45s")
	t.Setenv("QUEUE_TYPE", "redis")
	t.Setenv("PROXY_SOURCE", "/etc/tracker/proxies.txt")
	t.Setenv("SEARCH_ENGINES", "google,bing")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Health.Port)
	assert.Equal(t, 5, cfg.Browser.PoolSize)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 45*time.Second, cfg.Scraper.JobTimeout)
	assert.Equal(t, "redis", cfg.Queue.Type)
	assert.Equal(t, "/etc/tracker/proxies.txt", cfg.Proxy.Source)
	assert.Equal(t, []string{"google", "bing"}, cfg.Scraper.SearchEngines)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("HEALTH_PORT", "not-a-number")
	t.Setenv("BROWSER_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Health.Port)
	assert.Equal(t, 30*time.Second, cfg.Browser.Timeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Health.Port = 0 },
			wantErr: "HEALTH_PORT",
		},
		{
			name:    "no workers",
			mutate:  func(c *Config) { c.Scraper.Workers = 0 },
			wantErr: "SCRAPER_WORKERS",
		},
		{
			name:    "empty browser pool",
			mutate:  func(c *Config) { c.Browser.PoolSize = 0 },
			wantErr: "BROWSER_POOL_SIZE",
		},
		{
			name:    "unknown queue type",
			mutate:  func(c *Config) { c.Queue.Type = "kafka" },
			wantErr: "QUEUE_TYPE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
