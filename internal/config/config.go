package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Pagestore connection
	PagestoreURL    string
	PagestoreAPIKey string

	// Auth
	PageeditAPIKey string

	// Backups
	BackupDir       string
	BackupRetention int

	// Session state
	SessionTTL   time.Duration
	WriteMessage string

	// Audit trail
	AuditDBPath string

	// Request limits
	MaxBodyBytes int64
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8091"),

		PagestoreURL:    envOr("PAGESTORE_URL", "http://localhost:8080"),
		PagestoreAPIKey: os.Getenv("PAGESTORE_API_KEY"),

		PageeditAPIKey: os.Getenv("PAGEEDIT_API_KEY"),

		BackupDir:       envOr("BACKUP_DIR", ".pageedit_backups"),
		BackupRetention: envInt("BACKUP_RETENTION", 10),

		SessionTTL:   envDuration("SESSION_TTL", 1*time.Hour),
		WriteMessage: envOr("WRITE_MESSAGE", "roundtrip edit"),

		AuditDBPath: envOr("AUDIT_DB_PATH", "pageedit_audit.db"),

		MaxBodyBytes: envInt64("MAX_BODY_BYTES", 10485760), // 10MB
	}

	if cfg.BackupRetention <= 0 {
		cfg.BackupRetention = 10
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 1 * time.Hour
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10485760
	}

	return cfg
}

func (c Config) Validate() error {
	if c.PagestoreAPIKey == "" {
		return fmt.Errorf("PAGESTORE_API_KEY is required")
	}
	if c.PageeditAPIKey == "" {
		return fmt.Errorf("PAGEEDIT_API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
