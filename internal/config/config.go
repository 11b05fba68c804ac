// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database (optional; audit log falls back to in-memory if not set)
	DatabaseURL string

	// Risk scorer (external LLM service)
	ScorerURL     string
	ScorerAPIKey  string
	ScorerModel   string
	ScorerTimeout time.Duration

	// Voice channel (telephony provider)
	VoiceAPIURL       string
	VoiceAPIKey       string
	VoiceConnectionID string
	VoiceFromNumber   string // provider-assigned outbound number
	ApproverNumber    string // the human who gets the call

	// Authorization workflow
	EscalateThreshold int           // scores above this require a human
	PendingTimeout    time.Duration // ceiling before an unanswered case fails closed

	// Observability
	OTLPEndpoint string

	// Security
	RateLimitRPM int
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultScorerURL         = "https://api.groq.com/openai/v1"
	DefaultScorerModel       = "llama-3.3-70b-versatile"
	DefaultScorerTimeout     = 10 * time.Second
	DefaultVoiceAPIURL       = "https://api.telnyx.com/v2"
	DefaultEscalateThreshold = 50
	DefaultPendingTimeout    = 3 * time.Minute
	DefaultRateLimit         = 60
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ScorerURL:         getEnv("SCORER_URL", DefaultScorerURL),
		ScorerAPIKey:      os.Getenv("SCORER_API_KEY"),
		ScorerModel:       getEnv("SCORER_MODEL", DefaultScorerModel),
		ScorerTimeout:     getEnvDuration("SCORER_TIMEOUT", DefaultScorerTimeout),
		VoiceAPIURL:       getEnv("VOICE_API_URL", DefaultVoiceAPIURL),
		VoiceAPIKey:       os.Getenv("VOICE_API_KEY"),
		VoiceConnectionID: os.Getenv("VOICE_CONNECTION_ID"),
		VoiceFromNumber:   os.Getenv("VOICE_FROM_NUMBER"),
		ApproverNumber:    os.Getenv("APPROVER_PHONE_NUMBER"),
		EscalateThreshold: int(getEnvInt64("ESCALATE_THRESHOLD", DefaultEscalateThreshold)),
		PendingTimeout:    getEnvDuration("PENDING_TIMEOUT", DefaultPendingTimeout),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.ApproverNumber == "" {
		return fmt.Errorf("APPROVER_PHONE_NUMBER is required")
	}
	if c.VoiceFromNumber == "" {
		return fmt.Errorf("VOICE_FROM_NUMBER is required")
	}
	if c.EscalateThreshold < 0 || c.EscalateThreshold > 100 {
		return fmt.Errorf("ESCALATE_THRESHOLD must be between 0 and 100")
	}
	if c.PendingTimeout <= 0 {
		return fmt.Errorf("PENDING_TIMEOUT must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
