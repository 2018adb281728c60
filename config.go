package main

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr string

	// DB_URL selects the persistence backend by scheme:
	// postgres://, sqlite://, redis:// or empty for memory-only.
	DBURL string

	CatalogURL   string
	CatalogToken string

	HeartbeatTimeout   time.Duration
	TimeUpdateInterval time.Duration

	MaxSongsPerUser int
	DefaultVolume   int
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:  getEnvWithDefault("ADDR", ":3000"),
		DBURL: os.Getenv("DB_URL"),

		CatalogURL:   os.Getenv("CATALOG_URL"),
		CatalogToken: os.Getenv("CATALOG_TOKEN"),

		HeartbeatTimeout:   time.Duration(getEnvAsIntWithDefault("HEARTBEAT_TIMEOUT_SEC", 30)) * time.Second,
		TimeUpdateInterval: time.Duration(getEnvAsIntWithDefault("TIME_UPDATE_INTERVAL_SEC", 2)) * time.Second,

		MaxSongsPerUser: getEnvAsIntWithDefault("MAX_SONGS_PER_USER", 10),
		DefaultVolume:   getEnvAsIntWithDefault("DEFAULT_VOLUME", 80),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.HeartbeatTimeout <= 0 {
		return errors.New("HEARTBEAT_TIMEOUT_SEC must be positive")
	}
	if c.TimeUpdateInterval <= 0 {
		return errors.New("TIME_UPDATE_INTERVAL_SEC must be positive")
	}
	if c.MaxSongsPerUser < 1 {
		return errors.New("MAX_SONGS_PER_USER must be at least 1")
	}
	if c.DefaultVolume < 0 || c.DefaultVolume > 100 {
		return errors.New("DEFAULT_VOLUME must be between 0 and 100")
	}
	return nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsIntWithDefault(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
