package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// DSN returns the lib/pq connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config patient record service configuration
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	Record struct {
		// Maximum number of history snapshots retained per patient and
		// per history kind (DHP, plan). Older snapshots are trimmed on
		// every push, so a lowered limit converges on the next push.
		HistoryLimit int

		// Current-state cache (Redis). Disabled by default so the CLI
		// can run against Postgres alone.
		Cache struct {
			Enabled    bool
			TTLSeconds int
		}
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "patientrd")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 0)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 0)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Record.HistoryLimit = getEnvInt("HISTORY_LIMIT", 10)
	if cfg.Record.HistoryLimit < 1 {
		return nil, fmt.Errorf("HISTORY_LIMIT must be at least 1, got %d", cfg.Record.HistoryLimit)
	}

	cfg.Record.Cache.Enabled = getEnv("CACHE_ENABLED", "false") == "true"
	cfg.Record.Cache.TTLSeconds = getEnvInt("CACHE_TTL_SECONDS", 60)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}
