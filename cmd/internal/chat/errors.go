package chat

import "errors"

// Public, stable errors for callers.
var (
	// ErrValidation marks a send or query rejected before any side effect.
	ErrValidation = errors.New("chat: validation failure")

	// ErrStorage marks a durable log or queue operation that failed.
	// No partial state is committed past the failing step.
	ErrStorage = errors.New("chat: storage failure")
)
