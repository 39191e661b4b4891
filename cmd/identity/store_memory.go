package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process Store used when no database is configured.
// Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*memoryUser
	byPhone map[string]*memoryUser
}

type memoryUser struct {
	user User
	hash string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*memoryUser),
		byPhone: make(map[string]*memoryUser),
	}
}

// CreateUser implements Store.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	phoneNorm, err := validateCreateUser(in)
	if err != nil {
		return User{}, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	u := User{
		ID:          uuid.NewString(),
		Phone:       strings.TrimSpace(in.Phone),
		PhoneNorm:   phoneNorm,
		DisplayName: strings.TrimSpace(in.DisplayName),
		CreatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byPhone[phoneNorm]; taken {
		return User{}, ConflictError{Op: "identity.CreateUser", Field: "phone"}
	}

	rec := &memoryUser{user: u, hash: hash}
	s.byID[u.ID] = rec
	s.byPhone[phoneNorm] = rec
	return u, nil
}

// GetUserByID implements Store.
func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	rec := s.byID[id]
	s.mu.RUnlock()

	if rec == nil {
		return User{}, OpError{Op: "identity.GetUserByID", Kind: ErrNotFound}
	}
	return rec.user, nil
}

// GetUserAuthByPhone implements Store.
func (s *MemoryStore) GetUserAuthByPhone(ctx context.Context, phone string) (UserAuth, error) {
	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	s.mu.RLock()
	rec := s.byPhone[NormalizePhone(phone)]
	s.mu.RUnlock()

	if rec == nil {
		return UserAuth{}, OpError{Op: "identity.GetUserAuthByPhone", Kind: ErrNotFound}
	}
	return UserAuth{User: rec.user, PasswordHash: rec.hash}, nil
}
