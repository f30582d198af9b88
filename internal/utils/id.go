package utils

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewConversationID returns a random UUIDv4 string.
func NewConversationID() string {
	return uuid.NewString()
}

// NewMessageID returns a ULID whose timestamp part is now.
// ULIDs sort lexicographically by creation millisecond.
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
