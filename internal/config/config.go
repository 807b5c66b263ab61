package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ad-engine service.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Geo       GeoConfig
	Frequency FrequencyConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
	// RunMigrations applies pending schema migrations on startup.
	RunMigrations bool
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled    bool
	EventRPS   float64
	EventBurst int
	MgmtRPS    float64
	MgmtBurst  int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP enrichment of impression events.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
	CacheSize    int
	CacheTTL     time.Duration
}

// FrequencyConfig configures the frequency/session tracker.
type FrequencyConfig struct {
	// SessionTTL bounds how long the per-session "seen an ad" flag lives.
	SessionTTL time.Duration
	// ExpiryMargin is added past an ad's window end before shown-count
	// keys are allowed to expire.
	ExpiryMargin time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("MENULINK_HTTP_ADDR", ":8080"),
			Env:             getEnv("MENULINK_ENV", "development"),
			ShutdownTimeout: getDurationEnv("MENULINK_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("MENULINK_DB_HOST", "localhost"),
			Port:     getIntEnv("MENULINK_DB_PORT", 5432),
			User:     getEnv("MENULINK_DB_USER", "adengine"),
			Password: getEnv("MENULINK_DB_PASSWORD", "adengine_secret"),
			DBName:   getEnv("MENULINK_DB_NAME", "adengine"),
			SSLMode:  getEnv("MENULINK_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("MENULINK_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("MENULINK_DB_MIN_CONNS", 5),

			RunMigrations: getBoolEnv("MENULINK_DB_RUN_MIGRATIONS", false),
		},
		Redis: RedisConfig{
			Addr:         getEnv("MENULINK_REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("MENULINK_REDIS_PASSWORD", ""),
			DB:           getIntEnv("MENULINK_REDIS_DB", 0),
			PoolSize:     getIntEnv("MENULINK_REDIS_POOL_SIZE", 50),
			MinIdleConns: getIntEnv("MENULINK_REDIS_MIN_IDLE_CONNS", 5),
			DialTimeout:  getDurationEnv("MENULINK_REDIS_DIAL_TIMEOUT", 5*time.Second),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("MENULINK_AUTH_ENABLED", true),
			MasterKey: getEnv("MENULINK_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("MENULINK_AUTH_SKIP_PATHS", []string{
				"/health", "/metrics", "/ads/eligible",
				"/events/impression", "/events/click", "/events/conversion",
			}),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getBoolEnv("MENULINK_RATE_LIMIT_ENABLED", true),
			EventRPS:   getFloatEnv("MENULINK_RATE_LIMIT_EVENT_RPS", 1000),
			EventBurst: getIntEnv("MENULINK_RATE_LIMIT_EVENT_BURST", 200),
			MgmtRPS:    getFloatEnv("MENULINK_RATE_LIMIT_MGMT_RPS", 100),
			MgmtBurst:  getIntEnv("MENULINK_RATE_LIMIT_MGMT_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("MENULINK_LOG_LEVEL", "info"),
			Format: getEnv("MENULINK_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("MENULINK_METRICS_ENABLED", true),
			Path:    getEnv("MENULINK_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("MENULINK_GEO_ENABLED", false),
			DatabasePath: getEnv("MENULINK_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
			CacheSize:    getIntEnv("MENULINK_GEO_CACHE_SIZE", 10000),
			CacheTTL:     getDurationEnv("MENULINK_GEO_CACHE_TTL", 1*time.Hour),
		},
		Frequency: FrequencyConfig{
			SessionTTL:   getDurationEnv("MENULINK_FREQ_SESSION_TTL", 12*time.Hour),
			ExpiryMargin: getDurationEnv("MENULINK_FREQ_EXPIRY_MARGIN", 24*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("MENULINK_API_KEY_MASTER is required when auth is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
