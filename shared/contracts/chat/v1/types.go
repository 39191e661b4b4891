// Package v1 defines the Courier chat protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeSendMessage requests delivery of a direct message (client -> server).
	TypeSendMessage = "send-message"
	// TypeMessageSentAck confirms durable acceptance of a send (server -> sender).
	TypeMessageSentAck = "message-sent-ack"
	// TypeIncomingMessage pushes an accepted message to every live session of
	// the recipient (server -> client).
	TypeIncomingMessage = "incoming-message"

	// TypePresenceChange announces a user going online or offline (server -> client).
	TypePresenceChange = "presence-change"

	// TypeSync requests history addressed to/from the caller since a timestamp
	// (client -> server).
	TypeSync = "sync"
	// TypeSyncResult returns the messages matched by a sync request (server -> client).
	TypeSyncResult = "sync-result"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Presence status values carried by PresenceChangePayload.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeSendMessage,
		TypeMessageSentAck,
		TypeIncomingMessage,
		TypePresenceChange,
		TypeSync,
		TypeSyncResult,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// SendMessagePayload requests sending a direct message to another user.
// TempID is a client-local correlation id echoed back in the ack.
type SendMessagePayload struct {
	To              string `json:"to"`
	Content         string `json:"content"`
	TempID          string `json:"tempId,omitempty"`
	PeerDisplayName string `json:"peerDisplayName,omitempty"`
}

// MessageSentAckPayload correlates the client's TempID with the durable id and
// timestamp assigned at persistence time. An ack confirms persistence, not delivery.
type MessageSentAckPayload struct {
	TempID     string    `json:"tempId,omitempty"`
	AssignedID string    `json:"assignedId"`
	Timestamp  time.Time `json:"timestamp"`
}

// IncomingMessagePayload is pushed to every live session of the recipient,
// either live at send time or drained from the undelivered queue on reconnect.
type IncomingMessagePayload struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

// PresenceChangePayload announces a 0->1 or 1->0 session-count transition.
type PresenceChangePayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// SyncPayload requests all messages addressed to/from the caller at or after Since.
type SyncPayload struct {
	Since time.Time `json:"since"`
}

// SyncResultPayload returns the messages matched by a sync request, ordered by
// sentAt ascending.
type SyncResultPayload struct {
	Messages []IncomingMessagePayload `json:"messages"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
