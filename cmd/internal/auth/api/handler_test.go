package authapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"courier/cmd/identity"
	"courier/cmd/internal/auth"
)

const testPassword = "correct horse battery staple"

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()

	tokens, err := auth.NewManager(auth.Config{Secret: []byte(strings.Repeat("s", 32))})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	h, err := NewHandler(slog.New(slog.DiscardHandler), identity.NewMemoryStore(), tokens, Config{})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func postJSON(t *testing.T, mux *http.ServeMux, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func TestRegisterThenLogin(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)

	w := postJSON(t, mux, "/auth/register", registerRequest{
		Phone:       "+1 555 010 0001",
		DisplayName: "Alice",
		Password:    testPassword,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register status=%d body=%s", w.Code, w.Body.String())
	}

	var reg authResponse
	if err := json.Unmarshal(w.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reg.User.ID == "" || reg.Token.AccessToken == "" {
		t.Fatalf("response=%+v", reg)
	}
	if !reg.Token.ExpiresAt.After(time.Now()) {
		t.Fatalf("token already expired: %v", reg.Token.ExpiresAt)
	}

	w = postJSON(t, mux, "/auth/login", loginRequest{Phone: "+15550100001", Password: testPassword})
	if w.Code != http.StatusOK {
		t.Fatalf("login status=%d body=%s", w.Code, w.Body.String())
	}

	var login authResponse
	if err := json.Unmarshal(w.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if login.User.ID != reg.User.ID {
		t.Fatalf("login user=%q register user=%q", login.User.ID, reg.User.ID)
	}
}

func TestRegister_Rejections(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)

	seed := registerRequest{Phone: "+15550100002", DisplayName: "Bob", Password: testPassword}
	if w := postJSON(t, mux, "/auth/register", seed); w.Code != http.StatusOK {
		t.Fatalf("seed register: status=%d", w.Code)
	}

	cases := []struct {
		name string
		req  registerRequest
		want int
	}{
		{name: "duplicate phone", req: seed, want: http.StatusConflict},
		{name: "bad phone", req: registerRequest{Phone: "nope", Password: testPassword}, want: http.StatusBadRequest},
		{name: "short password", req: registerRequest{Phone: "+15550100003", Password: "x"}, want: http.StatusBadRequest},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if w := postJSON(t, mux, "/auth/register", tc.req); w.Code != tc.want {
				t.Fatalf("status=%d want=%d body=%s", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)

	if w := postJSON(t, mux, "/auth/register", registerRequest{Phone: "+15550100004", Password: testPassword}); w.Code != http.StatusOK {
		t.Fatalf("register: status=%d", w.Code)
	}

	// Unknown number and wrong password are indistinguishable.
	for _, req := range []loginRequest{
		{Phone: "+15550109999", Password: testPassword},
		{Phone: "+15550100004", Password: "definitely the wrong one"},
	} {
		w := postJSON(t, mux, "/auth/login", req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("login %+v: status=%d want=401", req, w.Code)
		}
		var resp errorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Error.Code != "invalid_credentials" {
			t.Fatalf("code=%q", resp.Error.Code)
		}
	}
}

func TestDecodeJSON_RejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)

	for _, body := range []string{
		`{"phone":"+15550100005","password":"` + testPassword + `","extra":true}`,
		`{"phone":"+15550100005","password":"` + testPassword + `"}{"again":1}`,
		`not json`,
	} {
		r := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, r)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status=%d want=400", body, w.Code)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	r := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d want=405", w.Code)
	}
}
