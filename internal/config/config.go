package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Health   HealthConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Proxy    ProxyConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Logging  LoggingConfig
}

type HealthConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	Workers      int
	JobTimeout   time.Duration
	UseProxy     bool
	AntiBotDelay bool
	// SearchEngines is accepted for compatibility with older deployments;
	// discovery runs elsewhere so the value is not used here.
	SearchEngines []string
}

type BrowserConfig struct {
	PoolSize       int
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
}

type ProxyConfig struct {
	// Source is a file path or http(s) URL listing one proxy per line.
	Source          string
	FailureLimit    int
	RefreshInterval time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
}

type QueueConfig struct {
	// Type selects the queue backend: "memory" or "redis".
	Type string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Health: HealthConfig{
			Port:            getIntOrDefault("HEALTH_PORT", 3000),
			ShutdownTimeout: getDurationOrDefault("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Scraper: ScraperConfig{
			Workers:       getIntOrDefault("SCRAPER_WORKERS", 3),
			JobTimeout:    getDurationOrDefault("SCRAPER_JOB_TIMEOUT", 2*time.Minute),
			UseProxy:      getBoolOrDefault("SCRAPER_USE_PROXY", true),
			AntiBotDelay:  getBoolOrDefault("SCRAPER_ANTI_BOT_DELAY", true),
			SearchEngines: getStringSliceOrDefault("SEARCH_ENGINES", nil),
		},
		Browser: BrowserConfig{
			PoolSize:       getIntOrDefault("BROWSER_POOL_SIZE", 3),
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
		},
		Proxy: ProxyConfig{
			Source:          getEnvOrDefault("PROXY_SOURCE", ""),
			FailureLimit:    getIntOrDefault("PROXY_FAILURE_LIMIT", 3),
			RefreshInterval: getDurationOrDefault("PROXY_REFRESH_INTERVAL", 10*time.Minute),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "price_tracker"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_JOB_STREAM", "price_tracker:jobs"),
			Group:    getEnvOrDefault("REDIS_JOB_GROUP", "price_tracker_workers"),
		},
		Queue: QueueConfig{
			Type: getEnvOrDefault("QUEUE_TYPE", "memory"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("HEALTH_PORT must be a valid port, got %d", c.Health.Port)
	}

	if c.Scraper.Workers < 1 {
		return fmt.Errorf("SCRAPER_WORKERS must be at least 1")
	}

	if c.Browser.PoolSize < 1 {
		return fmt.Errorf("BROWSER_POOL_SIZE must be at least 1")
	}

	switch c.Queue.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("QUEUE_TYPE must be memory or redis, got %q", c.Queue.Type)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
