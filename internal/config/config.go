// Package config loads the worker process configuration from the
// environment, with an optional .env file for development.
package config

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Default configuration values.
const (
	DefaultAPIAddr     = ":8090"
	DefaultDatabaseURL = "dash-jobs.db"
	DefaultSMTPPort    = 465
)

// Config holds the worker process settings.
type Config struct {
	// APIAddr is the listen address of the diagnostics HTTP server.
	APIAddr string

	// DatabaseURL selects the durable store: a postgres:// DSN or a SQLite
	// file path.
	DatabaseURL string

	// GeoAPIBaseURL overrides the IP geolocation endpoint. Empty uses the
	// production ipapi.co endpoint.
	GeoAPIBaseURL string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string

	// MailFrom is the From header on outgoing mail, e.g.
	// "Dash <no-reply@dashngshop.com>".
	MailFrom string
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in when present.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("config: no .env file loaded", "error", err)
	}

	return Config{
		APIAddr:       envOr("API_ADDR", DefaultAPIAddr),
		DatabaseURL:   envOr("DATABASE_URL", DefaultDatabaseURL),
		GeoAPIBaseURL: os.Getenv("GEO_API_BASE_URL"),
		SMTPHost:      os.Getenv("SMTP_HOST"),
		SMTPPort:      envIntOr("SMTP_PORT", DefaultSMTPPort),
		SMTPUser:      os.Getenv("SMTP_USER"),
		SMTPPassword:  os.Getenv("SMTP_PASS"),
		MailFrom:      envOr("MAIL_FROM", "Dash <"+os.Getenv("SMTP_USER")+">"),
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("config: invalid integer value; using default", "key", key, "value", value)
		return fallback
	}
	return parsed
}
