// Package app wires the Courier server runtime: config, logging, persistence,
// the realtime gateway, and HTTP routes.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"courier/cmd/identity"
	"courier/cmd/internal/auth"
	authapi "courier/cmd/internal/auth/api"
	"courier/cmd/internal/chat"
	"courier/cmd/internal/history"
	"courier/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the Courier server runtime: it owns the HTTP server and the
// lifecycle of every backing component.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	store chat.MessageLog

	ws      *realtime.Gateway
	authH   *authapi.Handler
	history *history.Handler
	janitor *chat.Janitor
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	stores, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		stores.close()
		return nil, err
	}
	tokens, err := auth.NewManager(authCfg)
	if err != nil {
		stores.close()
		return nil, err
	}

	presence := chat.NewPresence()
	hub := realtime.NewHub(log)

	coordinator, err := chat.NewCoordinator(log, stores.messages, stores.pending, stores.conversations, presence, hub)
	if err != nil {
		stores.close()
		return nil, err
	}

	ws := realtime.NewGateway(log, hub, tokens, coordinator, stores.messages, stores.pending, presence, cfg.RetentionWindow)

	historyH, err := history.NewHandler(log, tokens, stores.messages, stores.conversations, cfg.RetentionWindow)
	if err != nil {
		stores.close()
		return nil, err
	}

	authH, err := authapi.NewHandler(log, stores.users, tokens, authapi.Config{})
	if err != nil {
		stores.close()
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		dbPool:    stores.pool,
		dbEnabled: stores.pool != nil,
		store:     stores.messages,
		ws:        ws,
		authH:     authH,
		history:   historyH,
		janitor:   chat.NewJanitor(log, stores.messages, cfg.RetentionWindow, cfg.RetentionSweep),
	}, nil
}

// Run starts the HTTP server and the retention janitor, blocking until
// context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.authH, a.history)

	var handler http.Handler = mux
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	janitorCtx, cancelJanitor := context.WithCancel(ctx)
	defer cancelJanitor()
	go a.janitor.Run(janitorCtx)

	baseURL := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", baseURL,
		"ws_url", wsBaseURL(baseURL)+"/ws",
		"db_enabled", a.dbEnabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// stores bundles every persistence-backed component so construction failures
// can unwind cleanly.
type stores struct {
	pool *pgxpool.Pool

	messages      chat.MessageLog
	pending       chat.PendingQueue
	conversations chat.ConversationIndex
	users         identity.Store
}

func (s *stores) close() {
	if s.messages != nil {
		_ = s.messages.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// newStores decides between Postgres-backed persistence and the in-memory dev
// stores. Both modes expose identical interfaces to the rest of the app.
func newStores(ctx context.Context, cfg Config, log Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return &stores{
			messages:      chat.NewMemoryLog(),
			pending:       chat.NewMemoryQueue(),
			conversations: chat.NewMemoryIndex(),
			users:         identity.NewMemoryStore(),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("db.enabled.postgres_store")

	messages, err := chat.NewPostgresLog(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	pending, err := chat.NewPostgresQueue(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	conversations, err := chat.NewPostgresIndex(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &stores{
		pool:          pool,
		messages:      messages,
		pending:       pending,
		conversations: conversations,
		users:         users,
	}, nil
}

// runtimeBaseURL derives a browsable base URL from a bind address.
// Bind-all addresses map to loopback for local tooling.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "http://" + host + ":" + port
}

// wsBaseURL maps an http(s) base URL to its ws(s) counterpart.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
