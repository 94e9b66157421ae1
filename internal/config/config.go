// Package config resolves process configuration from the environment. A .env
// file is loaded first when present; real environment variables win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port        string
	MetricsAddr string

	DatabaseURL    string
	JWTSecret      string
	AllowedOrigins string

	RedisAddr     string
	RedisPassword string
	LockDisabled  bool

	PublisherInterval  time.Duration
	PublisherBatchSize int
	WebhookURL         string

	LogLevel  logrus.Level
	LogFormat string
}

// Load reads the environment. DATABASE_URL is required everywhere;
// JWT_SECRET only by the API server, which checks it itself.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		MetricsAddr:    os.Getenv("METRICS_ADDR"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		LockDisabled:   getBool("LOCK_DISABLED"),
		WebhookURL:     os.Getenv("WEBHOOK_URL"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}

	var err error
	if cfg.PublisherInterval, err = getDuration("PUBLISHER_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.PublisherBatchSize, err = getInt("PUBLISHER_BATCH_SIZE", 100); err != nil {
		return nil, err
	}

	level := getEnv("LOG_LEVEL", "info")
	cfg.LogLevel, err = logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	return cfg, nil
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(c.LogLevel)
	if c.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
