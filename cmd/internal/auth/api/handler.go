// Package authapi exposes Courier's registration and login endpoints.
// A successful call returns a short-lived access token; there is no
// server-side session state to refresh or revoke.
package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"courier/cmd/identity"
	"courier/cmd/internal/auth"
)

const defaultMaxBodyBytes = 64 << 10

// Config holds auth API settings.
type Config struct {
	MaxBodyBytes int64
}

// Handler wires HTTP auth endpoints to the identity store and token manager.
type Handler struct {
	log    *slog.Logger
	cfg    Config
	users  identity.Store
	tokens *auth.Manager

	dummyHash string
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, users identity.Store, tokens *auth.Manager, cfg Config) (*Handler, error) {
	if users == nil || tokens == nil {
		return nil, errors.New("authapi: nil dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	h := &Handler{log: log, cfg: cfg, users: users, tokens: tokens}

	// Dummy hash for timing-resistant login checks.
	if hash, err := identity.HashPassword("dummy-password-for-timing-only"); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
}

// ---- request/response shapes ----

type registerRequest struct {
	Phone       string `json:"phone"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Phone       string    `json:"phone"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

type tokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type authResponse struct {
	User  userResponse  `json:"user"`
	Token tokenResponse `json:"token"`
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	u, err := h.users.CreateUser(ctx, identity.CreateUserInput{
		Phone:       req.Phone,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Now:         now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "conflict", "phone number already registered")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid phone number or password")
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	token, exp, err := h.tokens.Issue(u.ID, u.DisplayName, now)
	if err != nil {
		h.log.Error("auth.register.token.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("auth.register", "user_id", u.ID)
	writeJSON(w, http.StatusOK, authResponse{
		User:  toUserResponse(u),
		Token: tokenResponse{AccessToken: token, ExpiresAt: exp},
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.Phone == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "phone and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	ua, err := h.users.GetUserAuthByPhone(ctx, req.Phone)
	if err != nil {
		// Timing resistance: perform a dummy verify when the user is missing.
		if h.dummyHash != "" {
			_, _ = identity.VerifyPassword(req.Password, h.dummyHash)
		}
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	ok, err := identity.VerifyPassword(req.Password, ua.PasswordHash)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	token, exp, err := h.tokens.Issue(ua.User.ID, ua.User.DisplayName, now)
	if err != nil {
		h.log.Error("auth.login.token.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("auth.login", "user_id", ua.User.ID)
	writeJSON(w, http.StatusOK, authResponse{
		User:  toUserResponse(ua.User),
		Token: tokenResponse{AccessToken: token, ExpiresAt: exp},
	})
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Phone:       u.Phone,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
	}
}
