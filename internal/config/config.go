package config

import (
	"log/slog"
	"os"
	"time"
)

const (
	DefaultAPIURL          = "http://localhost:8000/api/v1"
	DefaultCoalesceWindow  = 300 * time.Millisecond
	DefaultHTTPTimeout     = 30 * time.Second
	DefaultStorageDir      = "storage"
	DefaultPdftoppm        = "pdftoppm"
	DefaultSessionLifetime = 24
)

// Config holds the settings shared by the CLI commands
type Config struct {
	APIURL         string
	APIKey         string
	SessionID      string
	SessionToken   string
	CoalesceWindow time.Duration
	HTTPTimeout    time.Duration
	StorageDir     string
	DatabaseURL    string
	Pdftoppm       string
}

// Load reads the configuration from the environment. Call after godotenv has
// populated it.
func Load() Config {
	return Config{
		APIURL:         GetEnv("PDFSTAMP_API_URL", DefaultAPIURL),
		APIKey:         GetEnv("PDFSTAMP_API_KEY", ""),
		SessionID:      GetEnv("PDFSTAMP_SESSION_ID", ""),
		SessionToken:   GetEnv("PDFSTAMP_SESSION_TOKEN", ""),
		CoalesceWindow: GetDuration("PDFSTAMP_COALESCE_WINDOW", DefaultCoalesceWindow),
		HTTPTimeout:    GetDuration("PDFSTAMP_HTTP_TIMEOUT", DefaultHTTPTimeout),
		StorageDir:     GetEnv("PDFSTAMP_STORAGE_DIR", DefaultStorageDir),
		DatabaseURL:    GetEnv("PDFSTAMP_DATABASE_URL", ""),
		Pdftoppm:       GetEnv("PDFSTAMP_PDFTOPPM", DefaultPdftoppm),
	}
}

// GetEnv reads an environment variable or returns fallback.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// GetDuration reads a duration such as "300ms" from the environment.
// Malformed values are logged and replaced by fallback.
func GetDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		slog.Warn("Ignoring invalid duration", "key", key, "value", value)
		return fallback
	}
	return d
}
