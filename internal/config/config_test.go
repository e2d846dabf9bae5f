package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.BookingRetryMaxAttempts != 3 {
		t.Fatalf("expected 3 retry attempts, got %d", cfg.BookingRetryMaxAttempts)
	}
	if cfg.ScheduleCacheTTL != 30*time.Second {
		t.Fatalf("expected 30s cache TTL, got %s", cfg.ScheduleCacheTTL)
	}
	if cfg.EmailProvider != "sendgrid" {
		t.Fatalf("expected sendgrid default, got %s", cfg.EmailProvider)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BOOKING_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("BOOKING_RETRY_BASE_DELAY", "100ms")
	t.Setenv("USE_MEMORY_STORE", "true")
	t.Setenv("RATE_LIMIT_PER_SECOND", "2.5")
	t.Setenv("EMAIL_PROVIDER", " SES ")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.BookingRetryMaxAttempts != 5 {
		t.Fatalf("expected 5 retry attempts, got %d", cfg.BookingRetryMaxAttempts)
	}
	if cfg.BookingRetryBaseDelay != 100*time.Millisecond {
		t.Fatalf("expected 100ms base delay, got %s", cfg.BookingRetryBaseDelay)
	}
	if !cfg.UseMemoryStore {
		t.Fatal("expected memory store enabled")
	}
	if cfg.RateLimitPerSecond != 2.5 {
		t.Fatalf("expected 2.5 rps, got %f", cfg.RateLimitPerSecond)
	}
	if cfg.EmailProvider != "ses" {
		t.Fatalf("expected normalized ses provider, got %s", cfg.EmailProvider)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("BOOKING_RETRY_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("SCHEDULE_CACHE_TTL", "soon")

	cfg := Load()
	if cfg.BookingRetryMaxAttempts != 3 {
		t.Fatalf("expected fallback to 3, got %d", cfg.BookingRetryMaxAttempts)
	}
	if cfg.ScheduleCacheTTL != 30*time.Second {
		t.Fatalf("expected fallback TTL, got %s", cfg.ScheduleCacheTTL)
	}
}
