package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Crypto    CryptoConfig
	Slack     SlackConfig
	Search    SearchConfig
	RateLimit RateLimitConfig
	Notify    NotifyConfig
	JWT       JWTConfig
	Log       LogConfig
	Metrics   MetricsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds database-related configuration.
// When Host is empty the service runs on an embedded SQLite file instead
// of Postgres.
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	SQLitePath      string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string
}

// CryptoConfig holds the secrets the service cannot run without in
// production: the vault encryption key and the admin API key.
type CryptoConfig struct {
	SecretKey string
	AdminKey  string
}

// SlackConfig holds the OAuth application credentials and endpoints
type SlackConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	OAuthTimeout time.Duration
}

// SearchConfig holds search provider settings
type SearchConfig struct {
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration
	DefaultSubreddit  string
	DefaultSort       string
	DefaultMaxResults int
	MaxResultsCap     int
}

// RateLimitConfig holds the per-user command rate limit
type RateLimitConfig struct {
	PerUserLimit int
	Window       time.Duration
}

// NotifyConfig holds webhook delivery settings
type NotifyConfig struct {
	StorePath       string
	MaxRetries      int
	InitialInterval time.Duration
	Timeout         time.Duration
	Workers         int
	TopPosts        int
}

// JWTConfig holds JWT-related configuration for admin sessions
type JWTConfig struct {
	SigningKey     string
	ExpirationTime time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics-related configuration
type MetricsConfig struct {
	Prefix string
}

// Load loads the application configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("APP_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", ""),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Name:            getEnv("DB_NAME", "redscout"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			SQLitePath:      getEnv("DB_SQLITE_PATH", "redscout.db"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnv("DB_LOG_LEVEL", "warn"),
		},
		Crypto: CryptoConfig{
			SecretKey: getEnv("SECRET_KEY", ""),
			AdminKey:  getEnv("ADMIN_KEY", ""),
		},
		Slack: SlackConfig{
			ClientID:     getEnv("SLACK_CLIENT_ID", ""),
			ClientSecret: getEnv("SLACK_CLIENT_SECRET", ""),
			TokenURL:     getEnv("SLACK_TOKEN_URL", "https://slack.com/api/oauth.v2.access"),
			OAuthTimeout: getEnvAsDuration("SLACK_OAUTH_TIMEOUT", 10*time.Second),
		},
		Search: SearchConfig{
			BaseURL:           getEnv("SEARCH_BASE_URL", "https://www.reddit.com"),
			UserAgent:         getEnv("SEARCH_USER_AGENT", "redscout/1.0"),
			Timeout:           getEnvAsDuration("SEARCH_TIMEOUT", 30*time.Second),
			DefaultSubreddit:  getEnv("SEARCH_DEFAULT_SUBREDDIT", "all"),
			DefaultSort:       getEnv("SEARCH_DEFAULT_SORT", "relevance"),
			DefaultMaxResults: getEnvAsInt("SEARCH_DEFAULT_MAX_RESULTS", 25),
			MaxResultsCap:     getEnvAsInt("SEARCH_MAX_RESULTS_CAP", 100),
		},
		RateLimit: RateLimitConfig{
			PerUserLimit: getEnvAsInt("RATE_LIMIT_PER_USER", 10),
			Window:       getEnvAsDuration("RATE_LIMIT_WINDOW", 1*time.Hour),
		},
		Notify: NotifyConfig{
			StorePath:       getEnv("NOTIFY_STORE_PATH", "integrations.json"),
			MaxRetries:      getEnvAsInt("NOTIFY_MAX_RETRIES", 2),
			InitialInterval: getEnvAsDuration("NOTIFY_RETRY_INTERVAL", 500*time.Millisecond),
			Timeout:         getEnvAsDuration("NOTIFY_TIMEOUT", 10*time.Second),
			Workers:         getEnvAsInt("NOTIFY_WORKERS", 4),
			TopPosts:        getEnvAsInt("NOTIFY_TOP_POSTS", 3),
		},
		JWT: JWTConfig{
			SigningKey:     getEnv("JWT_SIGNING_KEY", ""),
			ExpirationTime: getEnvAsDuration("JWT_EXPIRATION", 12*time.Hour),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", "redscout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for missing required secrets. A missing
// encryption key must never fall back to a generated value: a fresh key
// silently orphans every credential encrypted under the previous one.
func (c *Config) Validate() error {
	if c.Server.Env == "production" {
		if c.Crypto.SecretKey == "" {
			return fmt.Errorf("configuration: SECRET_KEY is required in production")
		}
		if c.Crypto.AdminKey == "" {
			return fmt.Errorf("configuration: ADMIN_KEY is required in production")
		}
	}
	if c.JWT.SigningKey == "" {
		// Admin sessions fall back to the admin key for signing; only a
		// development process may run with neither.
		if c.Crypto.AdminKey == "" && c.Server.Env == "production" {
			return fmt.Errorf("configuration: JWT_SIGNING_KEY or ADMIN_KEY is required in production")
		}
		c.JWT.SigningKey = c.Crypto.AdminKey
	}
	return nil
}

// Helper functions to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
