package chat

import (
	"context"

	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// Backend is the remote data service, already bound to the session's caller.
// Errors are expected to wrap the store sentinels (ErrNotFound, ErrConflict,
// ErrNotAuthorized, ErrInvalidArgument); anything else counts as a
// transient storage failure.
type Backend interface {
	// QueryConversation finds the conversation between a and b in either
	// orientation, or fails with store.ErrNotFound.
	QueryConversation(ctx context.Context, a, b string) (*store.Conversation, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListConversations(ctx context.Context) ([]*store.ConversationPreview, error)
	// InsertConversation fails with store.ErrConflict when the pair exists.
	InsertConversation(ctx context.Context, a, b string) (*store.Conversation, error)

	QueryMessages(ctx context.Context, q store.MessageQuery) ([]*store.Message, error)
	InsertMessage(ctx context.Context, conversationID, senderID string, body store.Body) (*store.Message, error)

	QueryProfiles(ctx context.Context, ids []string) (map[string]*store.Profile, error)

	SubscribeMessages(ctx context.Context, conversationID string) (realtime.Subscription[*store.Message], error)
	SubscribeInbox(ctx context.Context) (realtime.Subscription[*store.Change], error)
}

// ContactBackend is the part of the data service the contact list uses.
// Profile changes arrive on the inbox stream.
type ContactBackend interface {
	ListContacts(ctx context.Context) ([]*store.Contact, error)
	AddContactByEmail(ctx context.Context, email string) (*store.Contact, error)
	RemoveContact(ctx context.Context, contactID string) error

	SubscribeInbox(ctx context.Context) (realtime.Subscription[*store.Change], error)
}
