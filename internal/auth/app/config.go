package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer         string // Required: issuer claim for tokens
	PublicURL      string // Optional: externally reachable base URL, used in discovery and device verification URIs
	BootstrapToken string // Optional: token required to perform bootstrap

	AccessSecret    string        // Optional: HMAC secret for HS256 access tokens; generated per process when empty
	AccessAlgorithm string        // Optional: access token signing algorithm (default: HS256)
	Algorithm       string        // Optional: ID token / JWKS signing algorithm (RS256, ES256, EdDSA) (default: RS256)
	RSABits         int           // Optional: RSA key size for RS256 (default: 4096)
	NumKeys         int           // Optional: number of signing keys to generate (default: 3, min: 1, max: 10)
	KeyStorageMode  string        // Optional: key storage mode (ephemeral, persistent) (default: ephemeral)
	KeyGracePeriod  time.Duration // Optional: grace period for retired keys (default: 30 days)
	MasterKeyPath   string        // Optional: path to master encryption key file (for persistent keys)
	DatabaseFile    string        // Optional: path to SQLite database file (default: ./authd.db)
	PepperFile      string        // Optional: path to file containing pepper for password hashing (default: ./pepper)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:          os.Getenv("AUTHD_ISSUER"),
		PublicURL:       getEnvOrDefault("AUTHD_PUBLIC_URL", "http://localhost:8080"),
		BootstrapToken:  os.Getenv("AUTHD_BOOTSTRAP_TOKEN"),
		AccessSecret:    os.Getenv("AUTHD_ACCESS_SECRET"),
		AccessAlgorithm: getEnvOrDefault("AUTHD_ACCESS_ALGORITHM", "HS256"),
		// ID tokens are advertised as RS256 in discovery, so that is the
		// default even though the key manager supports more.
		Algorithm:      getEnvOrDefault("AUTHD_ALGORITHM", "RS256"),
		KeyStorageMode: getEnvOrDefault("AUTHD_KEY_STORAGE_MODE", "ephemeral"),
		KeyGracePeriod: getEnvDurationOrDefault("AUTHD_KEY_GRACE_PERIOD", 30*24*time.Hour),
		MasterKeyPath:  os.Getenv("AUTHD_MASTER_KEY_PATH"),
		DatabaseFile:   getEnvOrDefault("AUTHD_DATABASE_FILE", "authd.db"),
		PepperFile:     getEnvOrDefault("AUTHD_PEPPER_FILE", "pepper"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	// Zero means "use the key manager's default" for both of these.
	if rsaBitsStr := os.Getenv("AUTHD_RSA_BITS"); rsaBitsStr != "" {
		if bits, err := strconv.Atoi(rsaBitsStr); err == nil {
			cfg.RSABits = bits
		}
	}
	if numKeysStr := os.Getenv("AUTHD_NUM_KEYS"); numKeysStr != "" {
		if numKeys, err := strconv.Atoi(numKeysStr); err == nil {
			cfg.NumKeys = numKeys
		}
	}

	if cfg.Issuer == "" {
		cfg.Issuer = "lockplane-auth"
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

	// Accept Go duration strings ("1h", "30m", "90s") or bare integer minutes.
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
