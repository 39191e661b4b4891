// Package realtime contains Courier's websocket session manager: per-user
// delivery channels, the connection state machine, and live fanout.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"courier/cmd/internal/auth"
	"courier/cmd/internal/chat"
	v1 "courier/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "courier.chat.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Gateway is the WebSocket entrypoint for Courier realtime.
//
// Each connection walks the Connecting -> Authenticated -> Active -> Closed
// state machine: the bearer token is the only validation gate, activation
// registers presence and drains the undelivered queue, and shutdown is safe
// at any point in the lifecycle.
type Gateway struct {
	log         *slog.Logger
	hub         *Hub
	verifier    auth.Verifier
	coordinator *chat.Coordinator
	store       chat.MessageLog
	queue       chat.PendingQueue
	presence    *chat.Presence

	retention time.Duration

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewGateway constructs a gateway with secure defaults.
func NewGateway(
	log *slog.Logger,
	hub *Hub,
	verifier auth.Verifier,
	coordinator *chat.Coordinator,
	store chat.MessageLog,
	queue chat.PendingQueue,
	presence *chat.Presence,
	retention time.Duration,
) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if retention <= 0 {
		retention = chat.DefaultRetentionWindow
	}

	g := &Gateway{
		log:         log,
		hub:         hub,
		verifier:    verifier,
		coordinator: coordinator,
		store:       store,
		queue:       queue,
		presence:    presence,
		retention:   retention,
	}

	// Dev-only: disables Accept's origin verification entirely.
	g.devInsecure = envBoolWS("COURIER_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("COURIER_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("COURIER_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("COURIER_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("COURIER_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("COURIER_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("COURIER_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("COURIER_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("COURIER_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("COURIER_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the
// realtime loop for one connection.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// The handshake token is the only validation gate. Failures reject the
	// connection attempt outright; nothing is retried server-side.
	claims, err := g.verifier.Verify(bearerToken(r), time.Now().UTC())
	if err != nil {
		g.log.Info("ws.reject.token", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocolV1},

		// Authorize allowed origin hosts (e.g. localhost) for cross-origin requests.
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID := NewRandomHex(10)
	client := NewClient(claims.UserID, claims.DisplayName, sessionID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sessionsGauge.Inc()

	var closeOnce sync.Once

	// shutdown is idempotent and safe at any point in the lifecycle.
	// Membership removal happens before client.Close so broadcasters never
	// target a session that is being torn down, and client.Send stays open.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Leave(client.UserID, sessionID)

			if last := g.presence.MarkOffline(client.UserID, sessionID); last {
				onlineUsersGauge.Dec()
				g.hub.BroadcastPresence(client.UserID, v1.StatusOffline, time.Now().UTC())
			}

			client.Close()
			_ = conn.Close(code, reason)
			cancel()

			sessionsGauge.Dec()
			g.log.Info("ws.session.close", "user_id", client.UserID, "session_id", sessionID, "reason", reason)
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	// Authenticated -> Active: join the delivery channel BEFORE draining, so
	// a message enqueued concurrently with the drain either lands in the
	// drain snapshot or is routed live to the just-joined channel.
	g.hub.Join(client)

	if first := g.presence.MarkOnline(client.UserID, sessionID); first {
		onlineUsersGauge.Inc()
		g.hub.BroadcastPresence(client.UserID, v1.StatusOnline, time.Now().UTC())
	}
	g.log.Info("ws.session.active", "user_id", client.UserID, "session_id", sessionID)

	if err := g.drainPending(ctx, client); err != nil {
		g.log.Error("ws.drain.fail", "user_id", client.UserID, "err", err)
	}

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeSendMessage:
			if err := g.onSendMessage(ctx, client, env); err != nil {
				code := "send_failed"
				if errors.Is(err, chat.ErrValidation) {
					code = "invalid_send"
				}
				g.trySendError(ctx, client, code, err.Error())
				continue readLoop
			}

		case v1.TypeSync:
			if err := g.onSync(ctx, client, env, now); err != nil {
				g.trySendError(ctx, client, "sync_failed", err.Error())
				continue readLoop
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

// drainPending empties the undelivered queue for this user into this
// connection, preserving enqueue order. Messages that do not fit the send
// queue are re-queued rather than dropped.
func (g *Gateway) drainPending(ctx context.Context, client *Client) error {
	pending, err := g.queue.Drain(ctx, client.UserID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	delivered := 0
	for i, m := range pending {
		env, err := newMessageEnvelope(v1.TypeIncomingMessage, v1.IncomingMessagePayload{
			ID:      m.ID,
			From:    m.From,
			To:      m.To,
			Content: m.Content,
			SentAt:  m.SentAt,
		}, m.SentAt)
		if err != nil {
			return err
		}

		if !g.enqueue(ctx, client, env) {
			// Backpressure: put the rest back so nothing is silently dropped.
			for _, rest := range pending[i:] {
				if qerr := g.queue.Enqueue(ctx, client.UserID, rest); qerr != nil {
					g.log.Error("ws.drain.requeue.fail", "id", rest.ID, "err", qerr)
				}
			}
			break
		}
		delivered++
	}

	chat.CountDrained(delivered)
	g.log.Info("ws.drain", "user_id", client.UserID, "delivered", delivered, "pending", len(pending))
	return nil
}

func (g *Gateway) onSendMessage(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.SendMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: invalid payload", chat.ErrValidation)
	}

	if len([]rune(p.Content)) > maxMessageChars {
		return fmt.Errorf("%w: message too long: max=%d chars", chat.ErrValidation, maxMessageChars)
	}

	receipt, err := g.coordinator.Send(ctx, chat.SendRequest{
		FromID:          client.UserID,
		FromName:        client.DisplayName,
		To:              p.To,
		Content:         p.Content,
		TempID:          p.TempID,
		PeerDisplayName: p.PeerDisplayName,
	})
	if err != nil {
		return err
	}

	// The ack confirms persistence, not delivery; it is sent regardless of
	// whether the message was routed live or queued.
	ack, err := newMessageEnvelope(v1.TypeMessageSentAck, v1.MessageSentAckPayload{
		TempID:     receipt.TempID,
		AssignedID: receipt.MessageID,
		Timestamp:  receipt.SentAt,
	}, receipt.SentAt)
	if err != nil {
		return err
	}

	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: ack")
	}
	return nil
}

func (g *Gateway) onSync(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	var p v1.SyncPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	since := p.Since
	if cutoff := now.Add(-g.retention); since.Before(cutoff) {
		since = cutoff
	}

	msgs, err := g.store.QueryByParticipant(ctx, client.UserID, since)
	if err != nil {
		return err
	}

	out := make([]v1.IncomingMessagePayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, v1.IncomingMessagePayload{
			ID:      m.ID,
			From:    m.From,
			To:      m.To,
			Content: m.Content,
			SentAt:  m.SentAt,
		})
	}

	res, err := newMessageEnvelope(v1.TypeSyncResult, v1.SyncResultPayload{Messages: out}, now)
	if err != nil {
		return err
	}

	if !g.enqueue(ctx, client, res) {
		return errors.New("backpressure: sync result")
	}
	return nil
}

// ---- send helpers ----

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(v1.TypeError, p, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- bearer token extraction ----

// bearerToken pulls the handshake token from the "token" query parameter or
// the Authorization header.
func bearerToken(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}

	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return ""
	}
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
