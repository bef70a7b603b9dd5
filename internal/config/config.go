package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Session backends accepted by SESSION_BACKEND.
const (
	SessionBackendMemory = "memory"
	SessionBackendFile   = "file"
	SessionBackendRedis  = "redis"
)

// Config holds kiosk service configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Registration API
	RegistrationAPIBaseURL string
	// RegistrationAPITimeout of zero leaves calls bounded only by the caller.
	RegistrationAPITimeout time.Duration

	// Session persistence
	SessionBackend string
	SessionDir     string
	SessionTTL     time.Duration
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	// WizardIdleTTL is how long an unused kiosk wizard stays in memory.
	WizardIdleTTL time.Duration

	// Wizard audit trail; empty disables it
	DatabaseURL string

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	DocumentMaxBytes   int64

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RegistrationAPIBaseURL: getEnv("REGISTRATION_API_BASE_URL", "http://localhost:5000"),
		RegistrationAPITimeout: getEnvAsDuration("REGISTRATION_API_TIMEOUT", 0),

		SessionBackend: strings.ToLower(strings.TrimSpace(getEnv("SESSION_BACKEND", SessionBackendMemory))),
		SessionDir:     getEnv("SESSION_DIR", "./data/sessions"),
		SessionTTL:     getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		WizardIdleTTL:  getEnvAsDuration("WIZARD_IDLE_TTL", 30*time.Minute),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
		DocumentMaxBytes:   getEnvAsInt64("DOCUMENT_MAX_BYTES", 5<<20),

		// SendGrid Email Configuration
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "MediWay"),
	}
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.RegistrationAPIBaseURL) == "" {
		errs = append(errs, errors.New("REGISTRATION_API_BASE_URL is required"))
	}
	switch c.SessionBackend {
	case SessionBackendMemory, SessionBackendRedis:
	case SessionBackendFile:
		if strings.TrimSpace(c.SessionDir) == "" {
			errs = append(errs, errors.New("SESSION_DIR is required for the file session backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend))
	}
	if c.RegistrationAPITimeout < 0 {
		errs = append(errs, errors.New("REGISTRATION_API_TIMEOUT must not be negative"))
	}
	if c.WizardIdleTTL <= 0 {
		errs = append(errs, errors.New("WIZARD_IDLE_TTL must be positive"))
	}
	if c.DocumentMaxBytes <= 0 {
		errs = append(errs, errors.New("DOCUMENT_MAX_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blank entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
