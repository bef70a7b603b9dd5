package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "REGISTRATION_API_TIMEOUT", "SESSION_BACKEND",
		"SESSION_TTL", "WIZARD_IDLE_TTL", "CORS_ALLOWED_ORIGINS", "RATE_LIMIT_RPS", "DOCUMENT_MAX_BYTES",
	} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.RegistrationAPITimeout != 0 {
		t.Fatalf("expected no registration api timeout by default, got %s", cfg.RegistrationAPITimeout)
	}
	if cfg.SessionBackend != SessionBackendMemory {
		t.Fatalf("expected memory session backend, got %s", cfg.SessionBackend)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("expected default session ttl, got %s", cfg.SessionTTL)
	}
	if cfg.WizardIdleTTL != 30*time.Minute {
		t.Fatalf("expected default wizard idle ttl, got %s", cfg.WizardIdleTTL)
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Fatalf("expected no cors origins, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.RateLimitRPS != 5 || cfg.RateLimitBurst != 20 {
		t.Fatalf("unexpected rate limit defaults: %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.DocumentMaxBytes != 5<<20 {
		t.Fatalf("expected 5MiB document limit, got %d", cfg.DocumentMaxBytes)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("REGISTRATION_API_BASE_URL", "https://api.mediway.test")
	t.Setenv("REGISTRATION_API_TIMEOUT", "15s")
	t.Setenv("SESSION_BACKEND", " Redis ")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("WIZARD_IDLE_TTL", "5m")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://kiosk.mediway.test, ,https://staff.mediway.test")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "4")
	t.Setenv("DOCUMENT_MAX_BYTES", "1048576")
	t.Setenv("SENDGRID_FROM_NAME", "MediWay Front Desk")
	cfg := Load()
	if cfg.Port != "9090" || !cfg.IsProduction() {
		t.Fatalf("unexpected port/env: %s/%s", cfg.Port, cfg.Env)
	}
	if cfg.RegistrationAPIBaseURL != "https://api.mediway.test" {
		t.Fatalf("expected base url override, got %s", cfg.RegistrationAPIBaseURL)
	}
	if cfg.RegistrationAPITimeout != 15*time.Second {
		t.Fatalf("expected timeout override, got %s", cfg.RegistrationAPITimeout)
	}
	if cfg.SessionBackend != SessionBackendRedis {
		t.Fatalf("expected normalised backend, got %q", cfg.SessionBackend)
	}
	if cfg.SessionTTL != 2*time.Hour || !cfg.RedisTLS {
		t.Fatalf("unexpected redis settings: ttl=%s tls=%v", cfg.SessionTTL, cfg.RedisTLS)
	}
	if cfg.WizardIdleTTL != 5*time.Minute {
		t.Fatalf("expected wizard idle ttl override, got %s", cfg.WizardIdleTTL)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://staff.mediway.test" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSAllowedOrigins)
	}
	if cfg.RateLimitRPS != 2.5 || cfg.RateLimitBurst != 4 {
		t.Fatalf("unexpected rate limit: %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.DocumentMaxBytes != 1<<20 {
		t.Fatalf("expected document limit override, got %d", cfg.DocumentMaxBytes)
	}
	if cfg.SendGridFromName != "MediWay Front Desk" {
		t.Fatalf("expected sendgrid name override, got %s", cfg.SendGridFromName)
	}
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.SessionBackend = "etcd"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown backend to fail validation")
	}

	cfg = Load()
	cfg.SessionBackend = SessionBackendFile
	cfg.SessionDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected file backend without dir to fail validation")
	}

	cfg = Load()
	cfg.WizardIdleTTL = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected zero wizard idle ttl to fail validation")
	}

	cfg = Load()
	cfg.RegistrationAPIBaseURL = " "
	cfg.DocumentMaxBytes = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing base url to fail validation")
	}
}

func TestInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "lots")
	t.Setenv("REGISTRATION_API_TIMEOUT", "soon")
	cfg := Load()
	if cfg.RateLimitBurst != 20 {
		t.Fatalf("expected default burst, got %d", cfg.RateLimitBurst)
	}
	if cfg.RegistrationAPITimeout != 0 {
		t.Fatalf("expected default timeout, got %s", cfg.RegistrationAPITimeout)
	}
}
