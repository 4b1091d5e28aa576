package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer        string // Token issuer claim and TOTP provisioning issuer
	SigningSecret string // Required in prod: HMAC secret for access tokens

	DatabaseFile  string // Optional: path to SQLite database file (default: ./authcore.db)
	PepperFile    string // Optional: path to pepper file for password hashing (default: ./pepper)
	MasterKeyPath string // Optional: path to master encryption key file (MFA secrets at rest)
	RedisAddr     string // Optional: redis address for the status cache (empty = in-process)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
	Port      int    // HTTP server port (default: 8080)

	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)

	LockoutWindow    time.Duration // Rolling failure window (default: 15m)
	LockoutThreshold int           // Failures within window before lock (default: 3)
	LockoutDuration  time.Duration // Lock duration past the last failure (default: 15m)

	AccessTTL        time.Duration // Access token lifetime (default: 1h)
	RefreshTTL       time.Duration // Refresh token lifetime (default: 30 days)
	RefreshThreshold time.Duration // Refresh when expiry is this close (default: 5m)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:        getEnvOrDefault("AUTHCORE_ISSUER", "authcore"),
		SigningSecret: os.Getenv("AUTHCORE_SIGNING_SECRET"),

		DatabaseFile:  getEnvOrDefault("AUTHCORE_DATABASE_FILE", "authcore.db"),
		PepperFile:    getEnvOrDefault("AUTHCORE_PEPPER_FILE", "pepper"),
		MasterKeyPath: os.Getenv("AUTHCORE_MASTER_KEY_PATH"),
		RedisAddr:     os.Getenv("AUTHCORE_REDIS_ADDR"),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		Port:      getEnvIntOrDefault("PORT", 8080),

		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),

		LockoutWindow:    getEnvDurationOrDefault("LOCKOUT_WINDOW", 15*time.Minute),
		LockoutThreshold: getEnvIntOrDefault("LOCKOUT_THRESHOLD", 3),
		LockoutDuration:  getEnvDurationOrDefault("LOCKOUT_DURATION", 15*time.Minute),

		AccessTTL:        getEnvDurationOrDefault("ACCESS_TOKEN_TTL", 1*time.Hour),
		RefreshTTL:       getEnvDurationOrDefault("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		RefreshThreshold: getEnvDurationOrDefault("SESSION_REFRESH_THRESHOLD", 5*time.Minute),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Accept duration syntax (e.g. "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Accept bare integer minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
