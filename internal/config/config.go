package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config carries all runtime settings. Every field has an environment
// variable counterpart so the server can be configured without flags.
type Config struct {
	Port          string
	AllowedOrigin string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthSecret            string
	AccessTokenTTLMinutes int

	ReferralBaseURL       string
	SignupBonusCents      int64
	DefaultCommissionRate float64
	SummaryTTLSeconds     int
}

func Load() Config {
	return Config{
		Port:          getEnv("PORT", "8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://localhost:5173"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AuthSecret:            os.Getenv("AUTH_SECRET"),
		AccessTokenTTLMinutes: getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 60),

		ReferralBaseURL:       getEnv("REFERRAL_BASE_URL", "https://app.bengkelku.id/signup"),
		SignupBonusCents:      getEnvInt64("SIGNUP_BONUS_CENTS", 500),
		DefaultCommissionRate: getEnvFloat("DEFAULT_COMMISSION_RATE", 0.10),
		SummaryTTLSeconds:     getEnvInt("SUMMARY_TTL_SECONDS", 20),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
