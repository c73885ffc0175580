package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Fallback modes for permission resolution when the backend check fails.
const (
	FailOpen   = "open"
	FailClosed = "closed"
)

// Config carries process-wide settings sourced from the environment.
type Config struct {
	ListenAddr  string
	DatabaseDSN string

	// TokenSecret signs the bearer tokens handed to the web client.
	TokenSecret string

	// DemoUserIDs is the auditable allow-list of demonstration accounts that
	// bypass permission checks entirely.
	DemoUserIDs []string

	// PermissionFailMode selects fail-open (degraded read-only fallback) or
	// fail-closed behavior when the authority check is unavailable.
	PermissionFailMode string

	DefaultTimezone string
	DefaultLanguage string

	// IPLookupURL is the best-effort public IP endpoint used when recording
	// login origins.
	IPLookupURL string

	// BackendCallTimeout bounds every remote authority call.
	BackendCallTimeout time.Duration
}

// Load reads configuration from the environment, consulting a local .env file
// when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:         getenv("MEDSTOCK_LISTEN_ADDR", ":8080"),
		DatabaseDSN:        os.Getenv("MEDSTOCK_PG_DSN"),
		TokenSecret:        os.Getenv("MEDSTOCK_TOKEN_SECRET"),
		PermissionFailMode: getenv("MEDSTOCK_PERMISSION_FAIL_MODE", FailOpen),
		DefaultTimezone:    getenv("MEDSTOCK_DEFAULT_TIMEZONE", "Europe/Amsterdam"),
		DefaultLanguage:    getenv("MEDSTOCK_DEFAULT_LANGUAGE", "nl"),
		IPLookupURL:        getenv("MEDSTOCK_IP_LOOKUP_URL", "https://api.ipify.org?format=json"),
		BackendCallTimeout: 5 * time.Second,
	}

	if raw := strings.TrimSpace(os.Getenv("MEDSTOCK_DEMO_USER_IDS")); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				cfg.DemoUserIDs = append(cfg.DemoUserIDs, id)
			}
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MEDSTOCK_BACKEND_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse MEDSTOCK_BACKEND_TIMEOUT: %w", err)
		}
		if d > 0 {
			cfg.BackendCallTimeout = d
		}
	}

	switch cfg.PermissionFailMode {
	case FailOpen, FailClosed:
	default:
		return Config{}, fmt.Errorf("unsupported MEDSTOCK_PERMISSION_FAIL_MODE %q", cfg.PermissionFailMode)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
