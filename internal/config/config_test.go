package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ALLOWED_ORIGIN", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD",
		"REDIS_DB", "COMMISSION_TTL_SECONDS", "AUTH_SECRET", "ACCESS_TOKEN_TTL_MINUTES",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected address :8080, got %s", cfg.Address())
	}
	if cfg.AllowedOrigin != "http://127.0.0.1:3000" {
		t.Fatalf("unexpected default origin %s", cfg.AllowedOrigin)
	}
	if cfg.CommissionTTLSeconds != 30 {
		t.Fatalf("expected commission TTL 30, got %d", cfg.CommissionTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected token TTL 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.DatabaseURL != "" || cfg.RedisAddr != "" {
		t.Fatalf("expected empty backends by default, got %+v", cfg)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty auth secret when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGIN", "https://sales.example.com")
	t.Setenv("DATABASE_URL", "postgres://app:secret@db:5432/sales")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("COMMISSION_TTL_SECONDS", "60")
	t.Setenv("AUTH_SECRET", "  spaced-secret  ")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "120")

	cfg := Load()
	if cfg.Port != "9090" || cfg.AllowedOrigin != "https://sales.example.com" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.RedisDB != 2 {
		t.Fatalf("expected redis db 2, got %d", cfg.RedisDB)
	}
	if cfg.CommissionTTLSeconds != 60 {
		t.Fatalf("expected commission TTL 60, got %d", cfg.CommissionTTLSeconds)
	}
	if cfg.AuthSecret != "spaced-secret" {
		t.Fatalf("expected trimmed secret, got %q", cfg.AuthSecret)
	}
	if cfg.AccessTokenTTLMinutes != 120 {
		t.Fatalf("expected token TTL 120, got %d", cfg.AccessTokenTTLMinutes)
	}
}

func TestLoadBadNumbersFallBack(t *testing.T) {
	t.Setenv("COMMISSION_TTL_SECONDS", "not-a-number")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")

	cfg := Load()
	if cfg.CommissionTTLSeconds != 30 {
		t.Fatalf("expected fallback TTL 30, got %d", cfg.CommissionTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected fallback token TTL 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}
