// Package auth is Courier's trust boundary for connection and request
// authentication: it issues and verifies short-lived HS256 access tokens.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the minimal identity envelope propagated across HTTP/WS.
type Claims struct {
	UserID      string
	DisplayName string
}

// Verifier checks a bearer token and returns the identity it binds.
type Verifier interface {
	Verify(token string, now time.Time) (Claims, error)
}

// Manager issues and verifies access tokens. It implements Verifier.
type Manager struct {
	issuer string
	ttl    time.Duration
	secret []byte
}

type accessClaims struct {
	Name string `json:"name,omitempty"`
	Typ  string `json:"typ"`
	jwt.RegisteredClaims
}

// NewManager constructs a token manager from config.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < minSecretBytes {
		return nil, ErrConfig
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = defaultIssuer
	}
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Manager{issuer: issuer, ttl: ttl, secret: cfg.Secret}, nil
}

// Issue signs an access token for the user.
func (m *Manager) Issue(userID, displayName string, now time.Time) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ErrConfig
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	exp := now.Add(m.ttl)

	claims := accessClaims{
		Name: displayName,
		Typ:  "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses and validates a token, enforcing signature, issuer,
// expiration, and the access-token type claim.
func (m *Manager) Verify(token string, now time.Time) (Claims, error) {
	if token == "" {
		return Claims{}, ErrInvalidToken
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Typ != "access" || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}

	return Claims{UserID: claims.Subject, DisplayName: claims.Name}, nil
}
