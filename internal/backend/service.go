// Package backend is the data service the sync core talks to. It wraps a
// store with per-caller row-level checks and publishes every write to the
// realtime brokers.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/store"
	"github.com/vovakirdan/wirechat-sync/internal/utils"
)

// DefaultMaxMessageBytes bounds message text when no limit is configured.
const DefaultMaxMessageBytes = 4096

// Service binds storage and brokers. Use As to act on behalf of a user.
type Service struct {
	store    store.Store
	messages realtime.Broker[*store.Message]
	changes  realtime.Broker[*store.Change]

	log             *zerolog.Logger
	now             func() time.Time
	maxMessageBytes int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source used for row timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxMessageBytes limits the size of message text.
func WithMaxMessageBytes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxMessageBytes = n
		}
	}
}

// NewService creates a Service. messages carries new messages per
// conversation topic; changes carries inbox and profile changes.
func NewService(
	st store.Store,
	messages realtime.Broker[*store.Message],
	changes realtime.Broker[*store.Change],
	opts ...Option,
) *Service {
	nop := zerolog.Nop()
	s := &Service{
		store:           st,
		messages:        messages,
		changes:         changes,
		log:             &nop,
		now:             time.Now,
		maxMessageBytes: DefaultMaxMessageBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// As returns a handle acting as userID. Every operation of a handle with an
// empty user id fails with store.ErrNotAuthorized.
func (s *Service) As(userID string) *Caller {
	return &Caller{svc: s, userID: userID}
}

// timestamp returns server time with microsecond precision, the finest
// resolution every store keeps.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Caller performs operations with the row-level permissions of one user.
type Caller struct {
	svc    *Service
	userID string
}

// UserID returns the identity the handle acts as.
func (c *Caller) UserID() string { return c.userID }

func (c *Caller) authenticated() error {
	if c.userID == "" {
		return fmt.Errorf("%w: anonymous caller", store.ErrNotAuthorized)
	}
	return nil
}

func (c *Caller) requireParticipant(a, b string) error {
	if err := c.authenticated(); err != nil {
		return err
	}
	if c.userID != a && c.userID != b {
		return fmt.Errorf("%w: %s is not a participant", store.ErrNotAuthorized, c.userID)
	}
	return nil
}

// GetConversation returns a conversation the caller takes part in.
func (c *Caller) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	if err := c.authenticated(); err != nil {
		return nil, err
	}
	conv, err := c.svc.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.Has(c.userID) {
		return nil, fmt.Errorf("%w: conversation %s", store.ErrNotAuthorized, id)
	}
	return conv, nil
}

// QueryConversation looks up the conversation between a and b.
func (c *Caller) QueryConversation(ctx context.Context, a, b string) (*store.Conversation, error) {
	if _, err := store.PairKey(a, b); err != nil {
		return nil, err
	}
	if err := c.requireParticipant(a, b); err != nil {
		return nil, err
	}
	return c.svc.store.FindConversation(ctx, a, b)
}

// ListConversations lists the caller's conversations with their last message.
func (c *Caller) ListConversations(ctx context.Context) ([]*store.ConversationPreview, error) {
	if err := c.authenticated(); err != nil {
		return nil, err
	}
	return c.svc.store.ListConversations(ctx, c.userID)
}

// InsertConversation creates the conversation between a and b. It returns
// store.ErrConflict when one already exists.
func (c *Caller) InsertConversation(ctx context.Context, a, b string) (*store.Conversation, error) {
	if _, err := store.PairKey(a, b); err != nil {
		return nil, err
	}
	if err := c.requireParticipant(a, b); err != nil {
		return nil, err
	}

	now := c.svc.timestamp()
	conv := &store.Conversation{
		ID:           utils.NewConversationID(),
		ParticipantA: a,
		ParticipantB: b,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := c.svc.store.InsertConversation(ctx, conv); err != nil {
		return nil, err
	}

	c.svc.log.Debug().
		Str("conversation_id", conv.ID).
		Str("participant_a", a).
		Str("participant_b", b).
		Msg("conversation created")

	change := &store.Change{Kind: store.ChangeConversation, Conversation: conv}
	c.svc.publishChange(ctx, change, realtime.UserTopic(a), realtime.UserTopic(b))
	return conv, nil
}

// QueryMessages returns a page of messages of a conversation the caller takes part in.
func (c *Caller) QueryMessages(ctx context.Context, q store.MessageQuery) ([]*store.Message, error) {
	if _, err := c.GetConversation(ctx, q.ConversationID); err != nil {
		return nil, err
	}
	if q.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", store.ErrInvalidArgument)
	}
	return c.svc.store.QueryMessages(ctx, q)
}

// InsertMessage stores a message sent by senderID, who must be the caller.
// The id and timestamp are assigned by the service.
func (c *Caller) InsertMessage(ctx context.Context, conversationID, senderID string, body store.Body) (*store.Message, error) {
	if err := c.authenticated(); err != nil {
		return nil, err
	}
	if senderID != c.userID {
		return nil, fmt.Errorf("%w: cannot send as %s", store.ErrNotAuthorized, senderID)
	}

	body.Text = strings.TrimSpace(body.Text)
	body.MediaURL = strings.TrimSpace(body.MediaURL)
	if body.Empty() {
		return nil, fmt.Errorf("%w: empty message", store.ErrInvalidArgument)
	}
	if len(body.Text) > c.svc.maxMessageBytes {
		return nil, fmt.Errorf("%w: message exceeds %d bytes", store.ErrInvalidArgument, c.svc.maxMessageBytes)
	}
	if !utf8.ValidString(body.Text) {
		return nil, fmt.Errorf("%w: message is not valid utf-8", store.ErrInvalidArgument)
	}

	conv, err := c.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	now := c.svc.timestamp()
	id, err := utils.NewMessageID(now)
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	msg := &store.Message{
		ID:             id,
		ConversationID: conv.ID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      now,
	}
	if err := c.svc.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	if err := c.svc.messages.Publish(ctx, realtime.ConversationTopic(conv.ID), msg); err != nil {
		c.svc.log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("publish message failed")
	}
	change := &store.Change{Kind: store.ChangeMessage, Message: msg}
	c.svc.publishChange(ctx, change, realtime.UserTopic(conv.ParticipantA), realtime.UserTopic(conv.ParticipantB))
	return msg, nil
}

// QueryProfiles fetches profiles by id.
func (c *Caller) QueryProfiles(ctx context.Context, ids []string) (map[string]*store.Profile, error) {
	if err := c.authenticated(); err != nil {
		return nil, err
	}
	return c.svc.store.QueryProfiles(ctx, ids)
}

// UpsertProfile replaces the caller's own profile.
func (c *Caller) UpsertProfile(ctx context.Context, p store.Profile) (*store.Profile, error) {
	if err := c.authenticated(); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = c.userID
	}
	if p.ID != c.userID {
		return nil, fmt.Errorf("%w: cannot edit profile %s", store.ErrNotAuthorized, p.ID)
	}
	p.UpdatedAt = c.svc.timestamp()

	if err := c.svc.store.UpsertProfile(ctx, &p); err != nil {
		return nil, err
	}
	c.svc.publishChange(ctx, &store.Change{Kind: store.ChangeProfile, Profile: &p}, realtime.ProfilesTopic)
	return &p, nil
}

// LookupProfile finds the profile registered with email.
func (c *Caller) LookupProfile(ctx context.Context, email string) (*store.Profile, error) {
	if err := c.authenticated(); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: empty email", store.ErrInvalidArgument)
	}
	return c.svc.store.FindProfileByEmail(ctx, email)
}

// ListProfiles returns the user directory ordered by username. Zero limit
// returns every profile.
func (c *Caller) ListProfiles(ctx context.Context, limit int) ([]*store.Profile, error) {
	if err := c.authenticated(); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", store.ErrInvalidArgument)
	}
	return c.svc.store.ListProfiles(ctx, limit)
}

// ListContacts returns the caller's contacts, oldest first.
func (c *Caller) ListContacts(ctx context.Context) ([]*store.Contact, error) {
	if err := c.authenticated(); err != nil {
		return nil, err
	}
	return c.svc.store.ListContacts(ctx, c.userID)
}

// AddContactByEmail adds the user registered with email to the caller's
// contacts. Adding an existing contact returns it unchanged.
func (c *Caller) AddContactByEmail(ctx context.Context, email string) (*store.Contact, error) {
	profile, err := c.LookupProfile(ctx, email)
	if err != nil {
		return nil, err
	}
	if profile.ID == c.userID {
		return nil, fmt.Errorf("%w: cannot add yourself as a contact", store.ErrInvalidArgument)
	}

	now := c.svc.timestamp()
	added, err := c.svc.store.AddContact(ctx, c.userID, profile.ID, now)
	if err != nil {
		return nil, err
	}
	if added {
		c.svc.log.Debug().Str("user_id", c.userID).Str("contact_id", profile.ID).Msg("contact added")
	}
	return &store.Contact{ContactID: profile.ID, Profile: profile, AddedAt: now}, nil
}

// RemoveContact drops contactID from the caller's contacts. Removing an
// unknown contact is not an error.
func (c *Caller) RemoveContact(ctx context.Context, contactID string) error {
	if err := c.authenticated(); err != nil {
		return err
	}
	if strings.TrimSpace(contactID) == "" {
		return fmt.Errorf("%w: empty contact id", store.ErrInvalidArgument)
	}
	return c.svc.store.RemoveContact(ctx, c.userID, contactID)
}

// SubscribeMessages streams new messages of a conversation the caller takes part in.
func (c *Caller) SubscribeMessages(ctx context.Context, conversationID string) (realtime.Subscription[*store.Message], error) {
	if _, err := c.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return c.svc.messages.Subscribe(ctx, realtime.ConversationTopic(conversationID))
}

// SubscribeInbox streams conversation, message and profile changes relevant
// to the caller's conversation list.
func (c *Caller) SubscribeInbox(ctx context.Context) (realtime.Subscription[*store.Change], error) {
	if err := c.authenticated(); err != nil {
		return nil, err
	}
	return c.svc.changes.Subscribe(ctx, realtime.UserTopic(c.userID), realtime.ProfilesTopic)
}

// publishChange delivers change once per distinct topic. Failures are logged, not returned.
func (s *Service) publishChange(ctx context.Context, change *store.Change, topics ...string) {
	seen := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		if err := s.changes.Publish(ctx, topic, change); err != nil && !errors.Is(err, realtime.ErrClosed) {
			s.log.Warn().Err(err).Str("topic", topic).Str("kind", string(change.Kind)).Msg("publish change failed")
		}
	}
}
