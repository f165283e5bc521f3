package config

import (
	"os"
	"strings"
	"time"

	"rolodex/pkg/domain"
)

// Config captures process-level configuration. FromEnv builds it from
// environment variables so main stays lean.
type Config struct {
	Addr          string
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  []string
	JWTSigningKey string

	// ProfileDirectoryURL points at the service profiles are fetched from.
	// Empty disables background profile refresh.
	ProfileDirectoryURL string

	// Self is the local user's own bound identity. Tuples overlapping it are
	// only acted on when the caller explicitly authorizes self-changes.
	Self LocalIdentity

	SyncDebounce time.Duration
}

// LocalIdentity holds the identifiers bound to the local account. Any field
// may be absent before registration completes.
type LocalIdentity struct {
	ACI  domain.ACI
	PNI  domain.PNI
	E164 domain.E164
}

// FromEnv reads configuration from the environment. Invalid identifier values
// are treated as absent rather than fatal; registration state is allowed to
// be partial.
func FromEnv() Config {
	cfg := Config{
		Addr:                envOr("ROLODEX_ADDR", ":8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		JWTSigningKey:       envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		ProfileDirectoryURL: os.Getenv("PROFILE_DIRECTORY_URL"),
		SyncDebounce:        5 * time.Second,
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	if aci, err := domain.ParseACI(os.Getenv("SELF_ACI")); err == nil {
		cfg.Self.ACI = aci
	}
	if pni, err := domain.ParsePNI(os.Getenv("SELF_PNI")); err == nil {
		cfg.Self.PNI = pni
	}
	if e164, err := domain.ParseE164(os.Getenv("SELF_E164")); err == nil {
		cfg.Self.E164 = e164
	}

	if d, err := time.ParseDuration(os.Getenv("SYNC_DEBOUNCE")); err == nil && d > 0 {
		cfg.SyncDebounce = d
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
