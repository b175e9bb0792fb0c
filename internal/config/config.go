package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/venuehq/webhook-ingestion/internal/domain"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// Base URL of the venue service, used for resource-ownership lookups
	// and for applying event effects.
	VenueServiceURL string

	// Signing secrets keyed by webhook source. A source without a secret
	// cannot be verified and its endpoint rejects everything.
	Secrets map[domain.Source]string

	LockTTL            time.Duration
	MaxRetries         int
	RetryCooldown      time.Duration
	SignatureTolerance time.Duration
	RetentionPeriod    time.Duration
	SweepInterval      time.Duration
	RetrySweepEnabled  bool
	RateLimitPerSecond int
	AdminAPIKey        string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		VenueServiceURL:    getEnv("VENUE_SERVICE_URL", ""),
		LockTTL:            getEnvDuration("LOCK_TTL_SECONDS", 30*time.Second),
		MaxRetries:         getEnvInt("MAX_RETRIES", 3),
		RetryCooldown:      getEnvDuration("RETRY_COOLDOWN_SECONDS", 5*time.Minute),
		SignatureTolerance: getEnvDuration("SIGNATURE_TOLERANCE_SECONDS", 5*time.Minute),
		RetentionPeriod:    time.Duration(getEnvInt("RETENTION_DAYS", 30)) * 24 * time.Hour,
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL_SECONDS", 24*time.Hour),
		RetrySweepEnabled:  getEnvBool("RETRY_SWEEP_ENABLED", true),
		RateLimitPerSecond: getEnvInt("RATE_LIMIT_PER_SECOND", 100),
		AdminAPIKey:        getEnv("ADMIN_API_KEY", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.VenueServiceURL == "" {
		return nil, fmt.Errorf("VENUE_SERVICE_URL is required")
	}

	cfg.Secrets = map[domain.Source]string{}
	for src, envKey := range map[domain.Source]string{
		domain.SourceIdentityProvider: "WEBHOOK_SECRET_IDENTITY",
		domain.SourcePaymentConnect:   "WEBHOOK_SECRET_PAYMENT",
		domain.SourceBankingProvider:  "WEBHOOK_SECRET_BANKING",
	} {
		if secret := os.Getenv(envKey); secret != "" {
			cfg.Secrets[src] = secret
		}
	}
	if len(cfg.Secrets) == 0 {
		return nil, fmt.Errorf("at least one webhook secret is required (WEBHOOK_SECRET_IDENTITY, WEBHOOK_SECRET_PAYMENT or WEBHOOK_SECRET_BANKING)")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
