package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultSchema = "courier"
	usersTable    = "users"

	pgUniqueViolation = "23505"
)

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresStore persists users in Postgres.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore) error

// WithSchema overrides the Postgres schema (default "courier").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRE.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema name: %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	s := &PostgresStore{pool: pool, schema: defaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, usersTable}.Sanitize()
}

// CreateUser implements Store. Phone uniqueness is enforced by the unique
// index on phone_norm; a violation maps to ConflictError.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
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

	q := fmt.Sprintf(`INSERT INTO %s (id, phone, phone_norm, display_name, password_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`, s.table())

	if _, err := s.pool.Exec(ctx, q, u.ID, u.Phone, u.PhoneNorm, u.DisplayName, hash, u.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return User{}, ConflictError{Op: "identity.CreateUser", Field: "phone"}
		}
		return User{}, fmt.Errorf("identity.CreateUser: %w", err)
	}
	return u, nil
}

// GetUserByID implements Store.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	q := fmt.Sprintf(`SELECT id, phone, phone_norm, display_name, created_at
FROM %s WHERE id = $1`, s.table())

	var u User
	err := s.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Phone, &u.PhoneNorm, &u.DisplayName, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, OpError{Op: "identity.GetUserByID", Kind: ErrNotFound}
		}
		return User{}, fmt.Errorf("identity.GetUserByID: %w", err)
	}
	return u, nil
}

// GetUserAuthByPhone implements Store.
func (s *PostgresStore) GetUserAuthByPhone(ctx context.Context, phone string) (UserAuth, error) {
	q := fmt.Sprintf(`SELECT id, phone, phone_norm, display_name, password_hash, created_at
FROM %s WHERE phone_norm = $1`, s.table())

	var ua UserAuth
	err := s.pool.QueryRow(ctx, q, NormalizePhone(phone)).Scan(
		&ua.User.ID, &ua.User.Phone, &ua.User.PhoneNorm, &ua.User.DisplayName, &ua.PasswordHash, &ua.User.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserAuth{}, OpError{Op: "identity.GetUserAuthByPhone", Kind: ErrNotFound}
		}
		return UserAuth{}, fmt.Errorf("identity.GetUserAuthByPhone: %w", err)
	}
	return ua, nil
}
