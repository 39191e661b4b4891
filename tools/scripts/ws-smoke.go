// Package main provides a CI-friendly smoke test for Courier realtime.
//
// It validates:
//   - register over HTTP
//   - handshake + subprotocol selection with a bearer token
//   - send -> message-sent-ack
//   - live fanout of incoming-message to the recipient
//   - presence-change broadcast on connect
//   - sync returning the sent message
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "courier/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "courier.chat.v1"
	maxReadBytes = 1 << 20 // 1MiB
)

type smokeClient struct {
	name   string
	userID string
	conn   *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "Courier HTTP base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		text    = flag.String("text", "hello courier", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -base: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	nonce := time.Now().UnixNano() % 1_000_000_000

	phoneA := fmt.Sprintf("+1999%09d", nonce)
	phoneB := fmt.Sprintf("+1998%09d", nonce)

	idA, tokA := mustRegister(root, *baseURL, phoneA, "Smoke A", *timeout)
	idB, tokB := mustRegister(root, *baseURL, phoneB, "Smoke B", *timeout)

	if *verbose {
		fmt.Printf("registered: A=%s B=%s\n", idA, idB)
	}

	a := mustConnect(root, "A", idA, *baseURL, *origin, tokA, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", idB, *baseURL, *origin, tokB, *timeout)
	defer closeWS(b.conn)

	// A should see B come online.
	mustAssertPresence(root, a, idB, v1.StatusOnline, *timeout)

	tempID := fmt.Sprintf("tmp-%d", nonce)
	assignedID := mustSendAndAssertAck(root, a, idB, tempID, *text, *timeout)

	mustAssertIncoming(root, b, assignedID, idA, *text, *timeout)

	mustSyncContains(root, a, assignedID, *timeout)

	fmt.Printf("OK: A=%s B=%s message_id=%s\n", idA, idB, assignedID)
}

// ---- HTTP auth ----

type authResult struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Token struct {
		AccessToken string `json:"accessToken"`
	} `json:"token"`
}

func mustRegister(parent context.Context, baseURL, phone, name string, stepTimeout time.Duration) (userID, token string) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{
		"phone":       phone,
		"displayName": name,
		"password":    "smoke-test-password-123",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/auth/register", bytes.NewReader(body))
	if err != nil {
		fatalf("register %s: %v", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("register %s: %v", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("register %s: status=%d", name, resp.StatusCode)
	}

	var out authResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("register %s: decode: %v", name, err)
	}
	if out.User.ID == "" || out.Token.AccessToken == "" {
		fatalf("register %s: incomplete response", name)
	}
	return out.User.ID, out.Token.AccessToken
}

// ---- websocket ----

func mustConnect(parent context.Context, name, userID, baseURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	wsURL := toWSURL(baseURL) + "/ws?token=" + url.QueryEscape(token)

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.Envelope, 512),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.errCh <- err
				return
			}
			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.errCh <- err
				return
			}
			c.inbox <- env
		}
	}()
}

func (c *smokeClient) mustReadUntilType(parent context.Context, typ string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("%s: timeout waiting for %q", c.name, typ)
		case err := <-c.errCh:
			fatalf("%s: read: %v", c.name, err)
		case env := <-c.inbox:
			if env.Type == typ {
				return env
			}
		}
	}
}

func mustWrite(parent context.Context, c *smokeClient, typ string, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	raw, err := json.Marshal(payload)
	if err != nil {
		fatalf("%s: marshal: %v", c.name, err)
	}
	env := v1.Envelope{V: v1.Version, Type: typ, TS: time.Now().UTC(), Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		fatalf("%s: marshal envelope: %v", c.name, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		fatalf("%s: write: %v", c.name, err)
	}
}

// ---- assertions ----

func mustAssertPresence(parent context.Context, c *smokeClient, userID, status string, stepTimeout time.Duration) {
	for {
		env := c.mustReadUntilType(parent, v1.TypePresenceChange, stepTimeout)
		var p v1.PresenceChangePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("%s: presence payload: %v", c.name, err)
		}
		if p.UserID == userID && p.Status == status {
			return
		}
	}
}

func mustSendAndAssertAck(parent context.Context, c *smokeClient, to, tempID, text string, stepTimeout time.Duration) string {
	mustWrite(parent, c, v1.TypeSendMessage, v1.SendMessagePayload{
		To:      to,
		Content: text,
		TempID:  tempID,
	}, stepTimeout)

	env := c.mustReadUntilType(parent, v1.TypeMessageSentAck, stepTimeout)
	var p v1.MessageSentAckPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("%s: ack payload: %v", c.name, err)
	}
	if p.TempID != tempID || p.AssignedID == "" {
		fatalf("%s: ack mismatch: %+v", c.name, p)
	}
	return p.AssignedID
}

func mustAssertIncoming(parent context.Context, c *smokeClient, id, from, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeIncomingMessage, stepTimeout)
	var p v1.IncomingMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("%s: incoming payload: %v", c.name, err)
	}
	if p.ID != id || p.From != from || p.Content != text {
		fatalf("%s: incoming mismatch: %+v", c.name, p)
	}
}

func mustSyncContains(parent context.Context, c *smokeClient, id string, stepTimeout time.Duration) {
	mustWrite(parent, c, v1.TypeSync, v1.SyncPayload{Since: time.Now().UTC().Add(-time.Hour)}, stepTimeout)

	env := c.mustReadUntilType(parent, v1.TypeSyncResult, stepTimeout)
	var p v1.SyncResultPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("%s: sync payload: %v", c.name, err)
	}
	for _, m := range p.Messages {
		if m.ID == id {
			return
		}
	}
	fatalf("%s: sync missing message %s", c.name, id)
}

// ---- helpers ----

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func toWSURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	default:
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
}

func closeWS(conn *websocket.Conn) {
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "smoke done")
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
