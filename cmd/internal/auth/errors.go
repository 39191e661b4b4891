package auth

import "errors"

// Public, stable errors for callers.
var (
	// ErrInvalidToken covers malformed, expired, or badly signed tokens.
	// Authentication failures are terminal for the triggering request or
	// connection attempt and are never retried server-side.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrConfig marks invalid token-manager configuration.
	ErrConfig = errors.New("auth: invalid config")
)
