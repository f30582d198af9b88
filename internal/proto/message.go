// Package proto holds the wire types shared by the HTTP/WebSocket server and
// the remote client.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vovakirdan/wirechat-sync/internal/store"
)

const (
	ProtocolVersion = 1

	// MaxPageSize bounds the limit of a message page. A zero limit means MaxPageSize.
	MaxPageSize = 500

	OutboundTypeReady = "ready"
	OutboundTypeEvent = "event"

	EventMessage = "message"
	EventChange  = "change"
)

// Outbound is the envelope of every WebSocket frame sent by the server.
type Outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ReadyData is sent once the subscription is registered.
type ReadyData struct {
	Protocol int `json:"protocol"`
}

// NewReady builds the ready frame.
func NewReady() Outbound {
	data, _ := json.Marshal(ReadyData{Protocol: ProtocolVersion})
	return Outbound{Type: OutboundTypeReady, Data: data}
}

// NewEvent builds an event frame carrying v.
func NewEvent(event string, v any) (Outbound, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Outbound{}, fmt.Errorf("encode %s event: %w", event, err)
	}
	return Outbound{Type: OutboundTypeEvent, Event: event, Data: data}, nil
}

// CreateConversationRequest is the body of POST /api/conversations.
type CreateConversationRequest struct {
	ParticipantA string `json:"participant_a" binding:"required"`
	ParticipantB string `json:"participant_b" binding:"required"`
}

// SendMessageRequest is the body of POST /api/conversations/:id/messages.
type SendMessageRequest struct {
	SenderID string `json:"sender_id" binding:"required"`
	Text     string `json:"text"`
	MediaURL string `json:"media_url"`
}

// UpsertProfileRequest is the body of PUT /api/profile.
type UpsertProfileRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// AddContactRequest is the body of POST /api/contacts.
type AddContactRequest struct {
	Email string `json:"email" binding:"required"`
}

// Error codes carried in ErrorResponse.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeNotAuthorized   = "not_authorized"
	CodeUnauthenticated = "unauthenticated"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeStorage         = "storage_error"
)

// ErrorResponse is the body of every failed REST call.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// CodeOf maps a store sentinel to its wire code.
func CodeOf(err error) string {
	switch {
	case errors.Is(err, store.ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, store.ErrNotAuthorized):
		return CodeNotAuthorized
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, store.ErrConflict):
		return CodeConflict
	default:
		return CodeStorage
	}
}

// Err turns a failed response back into an error wrapping the matching
// store sentinel. Unknown codes become plain errors.
func (r ErrorResponse) Err() error {
	var sentinel error
	switch r.Code {
	case CodeInvalidArgument:
		sentinel = store.ErrInvalidArgument
	case CodeNotAuthorized, CodeUnauthenticated:
		sentinel = store.ErrNotAuthorized
	case CodeNotFound:
		sentinel = store.ErrNotFound
	case CodeConflict:
		sentinel = store.ErrConflict
	default:
		return fmt.Errorf("server error: %s", r.Error)
	}
	return fmt.Errorf("%w: %s", sentinel, r.Error)
}
