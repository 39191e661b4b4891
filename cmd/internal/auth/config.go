package auth

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	// SecretEnvKey is the env var name for the token signing secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	SecretEnvKey = "COURIER_TOKEN_SECRET"

	defaultIssuer = "courier"
	defaultTTL    = 15 * time.Minute

	// Minimum 32 bytes for an HMAC-SHA256 secret. Measured in bytes (not
	// runes) because the key is used as raw bytes.
	minSecretBytes = 32
)

// Config holds token manager settings.
type Config struct {
	Issuer         string
	AccessTokenTTL time.Duration
	Secret         []byte
}

// LoadConfigFromEnv reads token configuration from the environment.
// Fail-fast: a missing or short secret is a startup error, not a silent
// fallback to weaker crypto.
func LoadConfigFromEnv() (Config, error) {
	secret := strings.TrimSpace(os.Getenv(SecretEnvKey))
	if secret == "" {
		return Config{}, fmt.Errorf("%w: %s is not set", ErrConfig, SecretEnvKey)
	}
	if len(secret) < minSecretBytes {
		return Config{}, fmt.Errorf("%w: %s is too short (min %d bytes)", ErrConfig, SecretEnvKey, minSecretBytes)
	}

	issuer := strings.TrimSpace(os.Getenv("COURIER_TOKEN_ISSUER"))
	if issuer == "" {
		issuer = defaultIssuer
	}

	ttl := defaultTTL
	if raw := strings.TrimSpace(os.Getenv("COURIER_TOKEN_TTL")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			ttl = d
		}
	}

	return Config{Issuer: issuer, AccessTokenTTL: ttl, Secret: []byte(secret)}, nil
}
