package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert hits a uniqueness constraint.
	ErrConflict = errors.New("conflict")
	// ErrNotAuthorized is returned when the caller may not see or change a row.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrInvalidArgument is returned for malformed identifiers or payloads.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Conversation is a two-participant messaging thread.
type Conversation struct {
	ID           string    `json:"id"`
	ParticipantA string    `json:"participant_a"`
	ParticipantB string    `json:"participant_b"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Has reports whether userID takes part in the conversation.
func (c *Conversation) Has(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// Body is the content of a message. At least one field is set.
type Body struct {
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
}

// Empty reports whether the body carries neither text nor media.
func (b Body) Empty() bool {
	return b.Text == "" && b.MediaURL == ""
}

// Message is a persisted chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           Body      `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// Cursor returns the position of the message in its conversation.
func (m *Message) Cursor() MessageCursor {
	return MessageCursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// MessageCursor identifies a position in the (created_at, id) ordering.
// An empty ID sorts before every message with the same timestamp.
type MessageCursor struct {
	CreatedAt time.Time
	ID        string
}

// MessageQuery selects messages of one conversation in ascending
// (created_at, id) order.
type MessageQuery struct {
	ConversationID string
	// After restricts results to messages strictly after the cursor.
	After *MessageCursor
	// Limit caps the page size. Zero means no limit.
	Limit int
}

// Profile is the public part of a user account.
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username,omitempty"`
	Email     string    `json:"email,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Contact is an entry of a user's address book. Profile is nil when the
// contact has no profile row.
type Contact struct {
	ContactID string    `json:"contact_id"`
	Profile   *Profile  `json:"profile,omitempty"`
	AddedAt   time.Time `json:"added_at"`
}

// ConversationPreview is a conversation row joined with its newest message.
type ConversationPreview struct {
	Conversation *Conversation `json:"conversation"`
	LastMessage  *Message      `json:"last_message,omitempty"`
}

// ChangeKind names the row type carried by a Change.
type ChangeKind string

const (
	ChangeConversation ChangeKind = "conversation"
	ChangeMessage      ChangeKind = "message"
	ChangeProfile      ChangeKind = "profile"
)

// Change is a row-level change notification delivered to list views.
type Change struct {
	Kind         ChangeKind    `json:"kind"`
	Conversation *Conversation `json:"conversation,omitempty"`
	Message      *Message      `json:"message,omitempty"`
	Profile      *Profile      `json:"profile,omitempty"`
}

// ConversationStore handles conversation persistence.
type ConversationStore interface {
	// GetConversation retrieves a conversation by ID.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// FindConversation retrieves the conversation between a and b,
	// matching both orientations of the stored participant columns.
	FindConversation(ctx context.Context, a, b string) (*Conversation, error)

	// ListConversations lists conversations of a user, newest activity first,
	// each joined with its last message.
	ListConversations(ctx context.Context, userID string) ([]*ConversationPreview, error)

	// InsertConversation inserts the row unless a conversation for the same
	// participant pair exists, in which case ErrConflict is returned.
	// The check and the insert are a single statement.
	InsertConversation(ctx context.Context, conv *Conversation) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// InsertMessage persists a message and bumps the conversation's
	// updated_at to max(updated_at, message.created_at) atomically.
	InsertMessage(ctx context.Context, msg *Message) error

	// QueryMessages returns one page of messages ordered by (created_at, id).
	QueryMessages(ctx context.Context, q MessageQuery) ([]*Message, error)
}

// ProfileStore handles profile persistence.
type ProfileStore interface {
	// UpsertProfile creates or replaces a profile.
	UpsertProfile(ctx context.Context, p *Profile) error

	// QueryProfiles fetches the profiles that exist for ids. Missing ids are
	// absent from the result.
	QueryProfiles(ctx context.Context, ids []string) (map[string]*Profile, error)

	// FindProfileByEmail matches email case-insensitively, or fails with
	// ErrNotFound.
	FindProfileByEmail(ctx context.Context, email string) (*Profile, error)

	// ListProfiles returns the user directory ordered by (username, id).
	// Zero limit means no limit.
	ListProfiles(ctx context.Context, limit int) ([]*Profile, error)
}

// ContactStore handles per-user contact lists.
type ContactStore interface {
	// AddContact records contactID in ownerID's list. It reports false when
	// the contact was already there.
	AddContact(ctx context.Context, ownerID, contactID string, at time.Time) (bool, error)

	// RemoveContact deletes the entry. Removing an absent contact is a no-op.
	RemoveContact(ctx context.Context, ownerID, contactID string) error

	// ListContacts returns ownerID's contacts with their profiles, oldest first.
	ListContacts(ctx context.Context, ownerID string) ([]*Contact, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	ConversationStore
	MessageStore
	ProfileStore
	ContactStore

	// Close closes the underlying database connection.
	Close() error
}
