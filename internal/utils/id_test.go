package utils

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func TestNewConversationIDIsUUID(t *testing.T) {
	id := NewConversationID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected uuid, got %q: %v", id, err)
	}
	if id == NewConversationID() {
		t.Fatal("expected distinct ids")
	}
}

func TestNewMessageIDCarriesTimestamp(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	id, err := NewMessageID(at)
	if err != nil {
		t.Fatalf("new message id: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("expected 26-char ULID, got %q", id)
	}

	parsed, err := ulid.Parse(id)
	if err != nil {
		t.Fatalf("parse ulid: %v", err)
	}
	if got := ulid.Time(parsed.Time()); !got.Equal(at) {
		t.Fatalf("expected timestamp %v, got %v", at, got)
	}

	later, err := NewMessageID(at.Add(time.Second))
	if err != nil {
		t.Fatalf("new message id: %v", err)
	}
	if later <= id {
		t.Fatalf("expected %q to sort after %q", later, id)
	}
}
