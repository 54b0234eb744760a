package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const schema = "fulfillment"

type Config struct {
	Port         string
	PostgresURL  string
	KafkaBrokers []string
	RedisAddr    string
	OTLPEndpoint string
	LogLevel     string
	Session      SessionConfig
	Progression  ProgressionConfig
}

type SessionConfig struct {
	Key          []byte
	CookieSecure bool
}

// ProgressionConfig tunes the auto-progression worker. An empty
// ProfilePath selects the built-in timing profile.
type ProgressionConfig struct {
	ProfilePath  string
	PollInterval time.Duration
	QueueLease   time.Duration
	MaxAttempts  int
	Backoff      time.Duration
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")
	v.SetConfigName(".env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")

	v.SetDefault("PORT", "8081")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("SESSION_KEY", "designden-dev-session-key-change-me")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("POLL_INTERVAL", "1s")
	v.SetDefault("QUEUE_LEASE", "30s")
	v.SetDefault("MAX_ATTEMPTS", 5)
	v.SetDefault("RETRY_BACKOFF", "2s")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		Port:         getEnvOrViper(v, "PORT"),
		PostgresURL:  strings.TrimSpace(getEnvOrViper(v, "POSTGRES_URL")),
		KafkaBrokers: splitList(getEnvOrViper(v, "KAFKA_BROKERS")),
		RedisAddr:    strings.TrimSpace(getEnvOrViper(v, "REDIS_ADDR")),
		OTLPEndpoint: getEnvOrViper(v, "OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:     getEnvOrViper(v, "LOG_LEVEL"),
		Session: SessionConfig{
			Key:          []byte(getEnvOrViper(v, "SESSION_KEY")),
			CookieSecure: v.GetBool("COOKIE_SECURE"),
		},
		Progression: ProgressionConfig{
			ProfilePath:  strings.TrimSpace(getEnvOrViper(v, "PROGRESSION_PROFILE")),
			PollInterval: v.GetDuration("POLL_INTERVAL"),
			QueueLease:   v.GetDuration("QUEUE_LEASE"),
			MaxAttempts:  v.GetInt("MAX_ATTEMPTS"),
			Backoff:      v.GetDuration("RETRY_BACKOFF"),
		},
	}

	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("POSTGRES_URL is required")
	}
	if cfg.Progression.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if cfg.Progression.QueueLease <= 0 {
		return nil, fmt.Errorf("QUEUE_LEASE must be positive")
	}
	if cfg.Progression.MaxAttempts < 1 {
		return nil, fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

// DSN returns PostgresURL with the service schema on the search path.
func (c *Config) DSN() (string, error) {
	u, err := url.Parse(c.PostgresURL)
	if err != nil {
		return "", fmt.Errorf("parse POSTGRES_URL: %w", err)
	}
	q := u.Query()
	if q.Get("search_path") == "" {
		q.Set("search_path", schema)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func getEnvOrViper(v *viper.Viper, key string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return v.GetString(key)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SlogLevel maps LOG_LEVEL onto a slog level, falling back to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
