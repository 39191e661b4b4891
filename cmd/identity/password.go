package identity

import (
	"errors"
	"fmt"

	"courier/cmd/security/password"
)

// Password hashing delegates to cmd/security/password as the single source of
// truth for Argon2id parameters, policy, and strict PHC decoding. identity
// keeps a baseline minimum of 8 characters; env policy may only tighten it.

const baselineMinPasswordLen = 8

func passwordConfig() (password.Config, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return password.Config{}, err
	}
	if cfg.Policy.MinLength < baselineMinPasswordLen {
		cfg.Policy.MinLength = baselineMinPasswordLen
	}
	return cfg, nil
}

// HashPassword returns a PHC-style Argon2id hash string.
func HashPassword(plain string) (string, error) {
	cfg, err := passwordConfig()
	if err != nil {
		return "", err
	}

	enc, err := cfg.Hash(plain)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort),
			errors.Is(err, password.ErrPasswordTooLong),
			errors.Is(err, password.ErrWeakPassword):
			return "", OpError{Op: "identity.HashPassword", Kind: ErrInvalidInput, Msg: err.Error()}
		default:
			return "", fmt.Errorf("identity.HashPassword: %w", err)
		}
	}
	return enc, nil
}

// VerifyPassword checks a password against a PHC Argon2id hash.
// Malformed hashes verify as false without error detail leaking to callers.
func VerifyPassword(plain, encodedPHC string) (bool, error) {
	cfg, err := passwordConfig()
	if err != nil {
		return false, err
	}

	ok, err := cfg.Verify(encodedPHC, plain)
	if err != nil {
		if errors.Is(err, password.ErrInvalidHash) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}
