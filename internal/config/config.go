// Package config loads the fraud engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/akylbek/payment-system/fraud-engine/internal/fraud"
	"github.com/akylbek/payment-system/fraud-engine/internal/service"
)

const (
	DefaultPort             = "8084"
	DefaultGRPCPort         = "9084"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultKafkaTopic       = "fraud.verdicts"
	DefaultNATSAlertSubject = "fraud.alerts"
)

type Config struct {
	Port     string
	GRPCPort string
	Env      string
	LogLevel string

	DatabaseURL      string // in-memory stores when empty
	RedisURL         string // in-process locker when empty
	KafkaBrokers     string
	KafkaTopic       string
	NATSURL          string
	NATSAlertSubject string
	JaegerEndpoint   string

	VelocityWindowMinutes int
	VelocityThreshold     int
	ZScoreThreshold       float64
	MinHistory            int
	TriggerIncrement      float64
	SaturatedIncrement    float64
	TierMedium            float64
	TierHigh              float64
	CommitMaxElapsed      time.Duration
	LockTimeout           time.Duration
}

// Load reads configuration from environment variables, loading a .env file
// first when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		GRPCPort:         getEnv("GRPC_PORT", DefaultGRPCPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		KafkaBrokers:     os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:       getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		NATSURL:          os.Getenv("NATS_URL"),
		NATSAlertSubject: getEnv("NATS_ALERT_SUBJECT", DefaultNATSAlertSubject),
		JaegerEndpoint:   os.Getenv("JAEGER_ENDPOINT"),

		VelocityWindowMinutes: getEnvInt("FRAUD_VELOCITY_WINDOW_MINUTES", fraud.DefaultVelocityWindowMinutes),
		VelocityThreshold:     getEnvInt("FRAUD_VELOCITY_THRESHOLD", fraud.DefaultVelocityThreshold),
		ZScoreThreshold:       getEnvFloat("FRAUD_ZSCORE_THRESHOLD", fraud.DefaultZScoreThreshold),
		MinHistory:            getEnvInt("FRAUD_MIN_HISTORY", fraud.DefaultMinHistory),
		TriggerIncrement:      getEnvFloat("FRAUD_TRIGGER_INCREMENT", fraud.DefaultTriggerIncrement),
		SaturatedIncrement:    getEnvFloat("FRAUD_SATURATED_INCREMENT", fraud.DefaultSaturatedIncrement),
		TierMedium:            getEnvFloat("FRAUD_TIER_MEDIUM", fraud.DefaultTierMedium),
		TierHigh:              getEnvFloat("FRAUD_TIER_HIGH", fraud.DefaultTierHigh),
		CommitMaxElapsed:      getEnvDuration("FRAUD_COMMIT_MAX_ELAPSED", service.DefaultCommitMaxElapsed),
		LockTimeout:           getEnvDuration("FRAUD_LOCK_TIMEOUT", service.DefaultLockTimeout),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.Port == c.GRPCPort {
		return fmt.Errorf("PORT and GRPC_PORT must differ")
	}
	if c.CommitMaxElapsed <= 0 {
		return fmt.Errorf("FRAUD_COMMIT_MAX_ELAPSED must be positive")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("FRAUD_LOCK_TIMEOUT must be positive")
	}
	if err := c.Fraud().Validate(); err != nil {
		return fmt.Errorf("fraud settings: %w", err)
	}
	return nil
}

// Fraud returns the check thresholds passed to the fraud components.
func (c *Config) Fraud() fraud.Config {
	return fraud.Config{
		VelocityWindowMinutes: c.VelocityWindowMinutes,
		VelocityThreshold:     c.VelocityThreshold,
		ZScoreThreshold:       c.ZScoreThreshold,
		MinHistory:            c.MinHistory,
		TriggerIncrement:      c.TriggerIncrement,
		SaturatedIncrement:    c.SaturatedIncrement,
		Tiers:                 fraud.TierBands{Medium: c.TierMedium, High: c.TierHigh},
	}
}

func (c *Config) Orchestration() service.Options {
	return service.Options{
		LockTimeout:      c.LockTimeout,
		CommitMaxElapsed: c.CommitMaxElapsed,
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
