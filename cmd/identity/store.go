package identity

import (
	"context"
	"time"
)

// User is Courier's canonical principal: a phone number with a display name.
type User struct {
	ID          string
	Phone       string
	PhoneNorm   string
	DisplayName string
	CreatedAt   time.Time
}

// UserAuth couples a user with its password hash for login verification.
// The hash never leaves the auth path.
type UserAuth struct {
	User         User
	PasswordHash string
}

// CreateUserInput describes a registration request. Password arrives plain and
// is hashed by the store; it is never persisted or logged as-is.
type CreateUserInput struct {
	Phone       string
	DisplayName string
	Password    string
	Now         time.Time
}

// Store is the identity persistence boundary.
type Store interface {
	// CreateUser registers a new principal. Returns a ConflictError when the
	// normalized phone number is already taken.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	GetUserByID(ctx context.Context, id string) (User, error)

	// GetUserAuthByPhone resolves a login identifier to the user and its
	// password hash. Returns ErrNotFound for unknown numbers.
	GetUserAuthByPhone(ctx context.Context, phone string) (UserAuth, error)
}

// validateCreateUser normalizes and checks registration input.
func validateCreateUser(in CreateUserInput) (phoneNorm string, err error) {
	phoneNorm = NormalizePhone(in.Phone)
	if phoneNorm == "" || !ValidPhone(phoneNorm) {
		return "", OpError{Op: "identity.CreateUser", Kind: ErrInvalidInput, Msg: "invalid phone number"}
	}
	if in.Password == "" {
		return "", OpError{Op: "identity.CreateUser", Kind: ErrInvalidInput, Msg: "password is required"}
	}
	return phoneNorm, nil
}
