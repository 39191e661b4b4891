package chat

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewMessageID returns a new ULID string (26 chars) used as the durable
// message id. ULIDs are globally unique and time-prefixed, which keeps ids
// monotonic-enough for window filters; ordering guarantees still come from
// SentAt, not from the id.
func NewMessageID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
