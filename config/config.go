// Package config loads server configuration from the environment, with
// optional .env files for local development.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rythmn1111/coupon-collector/ledger"
)

// Config holds everything the server needs to start.
type Config struct {
	Port                int
	DBPath              string
	OTPBaseURL          string
	JWTSecret           string
	PriceTolerance      decimal.Decimal
	InjectionRewardTier ledger.Tier
	LogLevel            logrus.Level
}

// Load reads configuration from the environment. LoadEnv should run
// first when .env files are in play.
func Load() Config {
	return Config{
		Port:                GetEnvInt("PORT", 8080),
		DBPath:              GetEnv("DB_PATH", "./data/ledger.db"),
		OTPBaseURL:          GetEnv("OTP_BASE_URL", "http://localhost:3001"),
		JWTSecret:           GetEnv("JWT_SECRET", ""),
		PriceTolerance:      getEnvDecimal("PRICE_TOLERANCE", decimal.Zero),
		InjectionRewardTier: getEnvTier("INJECTION_REWARD_TIER", ledger.TierP1),
		LogLevel:            GetLogLevel(),
	}
}

// LoadEnv loads environment variables from local .env files.
func LoadEnv(logger *logrus.Logger) {
	files := []string{".env", ".env.dev"}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			if logger != nil {
				logger.WithError(err).Warnf("Failed to load %s", file)
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger == nil {
		return
	}
	if len(loaded) == 0 {
		logger.Debug("No local env files loaded; relying on process environment")
	} else {
		logger.Debugf("Loaded env files: %s", strings.Join(loaded, ", "))
	}
}

// GetEnv gets an environment variable with a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets an integer environment variable with a default value
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if parsed, err := decimal.NewFromString(value); err == nil && !parsed.IsNegative() {
			return parsed
		}
	}
	return defaultValue
}

func getEnvTier(key string, defaultValue ledger.Tier) ledger.Tier {
	if value := os.Getenv(key); value != "" {
		if tier := ledger.Tier(value); tier.Valid() {
			return tier
		}
	}
	return defaultValue
}

// GetLogLevel gets the log level from environment
func GetLogLevel() logrus.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
