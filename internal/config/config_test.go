package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":8787" {
		t.Fatalf("expected default addr :8787, got %q", cfg.Server.Addr)
	}
	if cfg.Database.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("expected 30m conn lifetime, got %v", cfg.Database.ConnMaxLifetime)
	}
	if len(cfg.Board.Businesses) != 2 || cfg.Board.Businesses[0] != "맛집도감" || cfg.Board.Businesses[1] != "뮤플비" {
		t.Fatalf("unexpected default businesses %v", cfg.Board.Businesses)
	}
	if cfg.Redis.URL != "" {
		t.Fatalf("expected empty redis url by default, got %q", cfg.Redis.URL)
	}
	if !cfg.Metrics.Enabled {
		t.Fatal("expected metrics enabled by default")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("DATABASE_URL", "postgres://example/db")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("DB_CONN_MAX_IDLE_TIME", "90s")
	t.Setenv("BOARD_BUSINESSES", "alpha, beta ,,gamma")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("expected :9999, got %q", cfg.Server.Addr)
	}
	if cfg.Database.URL != "postgres://example/db" {
		t.Fatalf("unexpected database url %q", cfg.Database.URL)
	}
	if cfg.Redis.URL != "redis://localhost:6379/1" {
		t.Fatalf("unexpected redis url %q", cfg.Redis.URL)
	}
	if cfg.RateLimit.RPS != 2.5 {
		t.Fatalf("expected rps 2.5, got %v", cfg.RateLimit.RPS)
	}
	if cfg.Database.ConnMaxIdleTime != 90*time.Second {
		t.Fatalf("expected 90s idle time, got %v", cfg.Database.ConnMaxIdleTime)
	}
	if got := strings.Join(cfg.Board.Businesses, "|"); got != "alpha|beta|gamma" {
		t.Fatalf("expected alpha|beta|gamma, got %q", got)
	}
	if cfg.Metrics.Enabled {
		t.Fatal("expected metrics disabled")
	}
}

func TestLoadRejectsFileOutputWithoutFilename(t *testing.T) {
	t.Setenv("LOG_OUTPUT", "file")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for file output without LOG_FILE")
	}
}

func TestLoadRejectsUnknownLogFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "xml")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown log format")
	}
}
