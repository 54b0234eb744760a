package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad(t *testing.T) {
	t.Run("requires POSTGRES_URL", func(t *testing.T) {
		chdirTemp(t)
		t.Setenv("POSTGRES_URL", "")

		if _, err := Load(); err == nil {
			t.Fatal("expected error without POSTGRES_URL")
		}
	})

	t.Run("applies defaults", func(t *testing.T) {
		chdirTemp(t)
		t.Setenv("POSTGRES_URL", "postgres://app:app@db:5432/designden?sslmode=disable")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Port != "8081" {
			t.Errorf("expected default port 8081, got %s", cfg.Port)
		}
		if cfg.Progression.PollInterval != time.Second {
			t.Errorf("expected 1s poll interval, got %s", cfg.Progression.PollInterval)
		}
		if cfg.Progression.MaxAttempts != 5 {
			t.Errorf("expected 5 attempts, got %d", cfg.Progression.MaxAttempts)
		}
		if cfg.KafkaBrokers != nil {
			t.Errorf("expected no brokers, got %v", cfg.KafkaBrokers)
		}
		if cfg.RedisAddr != "" {
			t.Errorf("expected no redis address, got %q", cfg.RedisAddr)
		}
	})

	t.Run("reads environment overrides", func(t *testing.T) {
		chdirTemp(t)
		t.Setenv("POSTGRES_URL", "postgres://db/designden")
		t.Setenv("PORT", "9090")
		t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
		t.Setenv("POLL_INTERVAL", "250ms")
		t.Setenv("MAX_ATTEMPTS", "2")
		t.Setenv("COOKIE_SECURE", "true")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Port != "9090" {
			t.Errorf("expected port 9090, got %s", cfg.Port)
		}
		want := []string{"kafka-1:9092", "kafka-2:9092"}
		if !reflect.DeepEqual(cfg.KafkaBrokers, want) {
			t.Errorf("expected brokers %v, got %v", want, cfg.KafkaBrokers)
		}
		if cfg.Progression.PollInterval != 250*time.Millisecond {
			t.Errorf("expected 250ms, got %s", cfg.Progression.PollInterval)
		}
		if cfg.Progression.MaxAttempts != 2 {
			t.Errorf("expected 2 attempts, got %d", cfg.Progression.MaxAttempts)
		}
		if !cfg.Session.CookieSecure {
			t.Error("expected secure cookies")
		}
	})

	t.Run("reads .env file", func(t *testing.T) {
		dir := chdirTemp(t)
		t.Setenv("POSTGRES_URL", "")
		content := "POSTGRES_URL=postgres://file/designden\nREDIS_ADDR=redis:6379\n"
		if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
			t.Fatalf("write .env: %v", err)
		}

		cfg, err := Load()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.PostgresURL != "postgres://file/designden" {
			t.Errorf("unexpected postgres url %q", cfg.PostgresURL)
		}
		if cfg.RedisAddr != "redis:6379" {
			t.Errorf("unexpected redis addr %q", cfg.RedisAddr)
		}
	})

	t.Run("rejects zero attempts", func(t *testing.T) {
		chdirTemp(t)
		t.Setenv("POSTGRES_URL", "postgres://db/designden")
		t.Setenv("MAX_ATTEMPTS", "0")

		if _, err := Load(); err == nil {
			t.Fatal("expected error for MAX_ATTEMPTS=0")
		}
	})
}

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "adds search path",
			url:  "postgres://app:app@db:5432/designden?sslmode=disable",
			want: "postgres://app:app@db:5432/designden?search_path=fulfillment&sslmode=disable",
		},
		{
			name: "keeps explicit search path",
			url:  "postgres://db/designden?search_path=other",
			want: "postgres://db/designden?search_path=other",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{PostgresURL: tt.url}
			got, err := cfg.DSN()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestConfig_SlogLevel(t *testing.T) {
	if got := (&Config{LogLevel: "debug"}).SlogLevel(); got != slog.LevelDebug {
		t.Errorf("expected debug, got %s", got)
	}
	if got := (&Config{LogLevel: "loud"}).SlogLevel(); got != slog.LevelInfo {
		t.Errorf("expected info fallback, got %s", got)
	}
}
