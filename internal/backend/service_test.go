package backend

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/store"
	"github.com/vovakirdan/wirechat-sync/internal/store/sqlite"
)

type testEnv struct {
	svc      *Service
	messages *realtime.Hub[*store.Message]
	changes  *realtime.Hub[*store.Change]
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	messages := realtime.NewHub[*store.Message]()
	changes := realtime.NewHub[*store.Change]()
	t.Cleanup(func() {
		_ = messages.Close()
		_ = changes.Close()
	})

	return &testEnv{
		svc:      NewService(st, messages, changes, opts...),
		messages: messages,
		changes:  changes,
	}
}

func mustEvent[T any](t *testing.T, sub realtime.Subscription[T]) T {
	t.Helper()

	select {
	case v := <-sub.Events():
		return v
	case <-sub.Done():
		t.Fatalf("subscription ended: %v", sub.Err())
	case <-time.After(2 * time.Second):
		t.Fatal("expected event not received")
	}
	var zero T
	return zero
}

func TestInsertConversationRequiresParticipant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.As("mallory").InsertConversation(ctx, "alice", "bob")
	if !errors.Is(err, store.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	_, err = env.svc.As("").ListConversations(ctx)
	if !errors.Is(err, store.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for anonymous caller, got %v", err)
	}

	_, err = env.svc.As("alice").InsertConversation(ctx, "alice", "alice")
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestInsertConversationConflictAndLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.svc.As("alice")
	bob := env.svc.As("bob")

	inbox, err := bob.SubscribeInbox(ctx)
	if err != nil {
		t.Fatalf("subscribe inbox: %v", err)
	}
	defer inbox.Close()

	conv, err := alice.InsertConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("insert conversation: %v", err)
	}

	change := mustEvent(t, inbox)
	if change.Kind != store.ChangeConversation || change.Conversation.ID != conv.ID {
		t.Fatalf("unexpected inbox change %+v", change)
	}

	if _, err := bob.InsertConversation(ctx, "bob", "alice"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	found, err := bob.QueryConversation(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("query conversation: %v", err)
	}
	if found.ID != conv.ID {
		t.Fatalf("expected %s, got %s", conv.ID, found.ID)
	}

	if _, err := env.svc.As("carol").GetConversation(ctx, conv.ID); !errors.Is(err, store.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for outsider, got %v", err)
	}
}

func TestInsertMessageValidatesAndPublishes(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	env := newTestEnv(t, WithClock(func() time.Time { return base }), WithMaxMessageBytes(16))
	ctx := context.Background()
	alice := env.svc.As("alice")

	conv, err := alice.InsertConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("insert conversation: %v", err)
	}

	sub, err := env.svc.As("bob").SubscribeMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("subscribe messages: %v", err)
	}
	defer sub.Close()

	tests := []struct {
		name   string
		sender string
		body   store.Body
		want   error
	}{
		{name: "empty", sender: "alice", body: store.Body{Text: "   "}, want: store.ErrInvalidArgument},
		{name: "too long", sender: "alice", body: store.Body{Text: strings.Repeat("x", 17)}, want: store.ErrInvalidArgument},
		{name: "spoofed sender", sender: "bob", body: store.Body{Text: "hi"}, want: store.ErrNotAuthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := alice.InsertMessage(ctx, conv.ID, tt.sender, tt.body)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	msg, err := alice.InsertMessage(ctx, conv.ID, "alice", store.Body{Text: "  hello  "})
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if msg.Body.Text != "hello" {
		t.Fatalf("expected trimmed text, got %q", msg.Body.Text)
	}
	if want := base.Truncate(time.Microsecond); !msg.CreatedAt.Equal(want) {
		t.Fatalf("expected created_at %v, got %v", want, msg.CreatedAt)
	}

	got := mustEvent(t, sub)
	if got.ID != msg.ID {
		t.Fatalf("expected published %s, got %s", msg.ID, got.ID)
	}

	media, err := alice.InsertMessage(ctx, conv.ID, "alice", store.Body{MediaURL: "media/cat.png"})
	if err != nil {
		t.Fatalf("insert media message: %v", err)
	}
	if media.Body.Text != "" || media.Body.MediaURL != "media/cat.png" {
		t.Fatalf("unexpected media body %+v", media.Body)
	}
}

func TestQueryMessagesRequiresParticipant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	conv, err := env.svc.As("alice").InsertConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	if _, err := env.svc.As("alice").InsertMessage(ctx, conv.ID, "alice", store.Body{Text: "hi"}); err != nil {
		t.Fatalf("insert message: %v", err)
	}

	msgs, err := env.svc.As("bob").QueryMessages(ctx, store.MessageQuery{ConversationID: conv.ID})
	if err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	_, err = env.svc.As("carol").QueryMessages(ctx, store.MessageQuery{ConversationID: conv.ID})
	if !errors.Is(err, store.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	_, err = env.svc.As("carol").SubscribeMessages(ctx, conv.ID)
	if !errors.Is(err, store.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	_, err = env.svc.As("alice").QueryMessages(ctx, store.MessageQuery{ConversationID: "missing"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertProfileOwnOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	inbox, err := env.svc.As("bob").SubscribeInbox(ctx)
	if err != nil {
		t.Fatalf("subscribe inbox: %v", err)
	}
	defer inbox.Close()

	if _, err := env.svc.As("alice").UpsertProfile(ctx, store.Profile{ID: "bob", Username: "evil"}); !errors.Is(err, store.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	p, err := env.svc.As("alice").UpsertProfile(ctx, store.Profile{Username: "alice"})
	if err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	if p.ID != "alice" || p.UpdatedAt.IsZero() {
		t.Fatalf("unexpected profile %+v", p)
	}

	change := mustEvent(t, inbox)
	if change.Kind != store.ChangeProfile || change.Profile.ID != "alice" {
		t.Fatalf("unexpected change %+v", change)
	}

	profiles, err := env.svc.As("bob").QueryProfiles(ctx, []string{"alice"})
	if err != nil {
		t.Fatalf("query profiles: %v", err)
	}
	if profiles["alice"] == nil || profiles["alice"].Username != "alice" {
		t.Fatalf("unexpected profiles %+v", profiles)
	}
}

func TestContactsByEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.As("alice").UpsertProfile(ctx, store.Profile{Username: "alice", Email: "alice@example.com"}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	if _, err := env.svc.As("bob").UpsertProfile(ctx, store.Profile{Username: "bob", Email: "Bob@Example.com"}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	alice := env.svc.As("alice")

	tests := []struct {
		email string
		want  error
	}{
		{email: "  ", want: store.ErrInvalidArgument},
		{email: "nobody@example.com", want: store.ErrNotFound},
		{email: "alice@example.com", want: store.ErrInvalidArgument},
	}
	for _, tt := range tests {
		if _, err := alice.AddContactByEmail(ctx, tt.email); !errors.Is(err, tt.want) {
			t.Errorf("add %q: expected %v, got %v", tt.email, tt.want, err)
		}
	}

	c, err := alice.AddContactByEmail(ctx, " bob@example.com ")
	if err != nil {
		t.Fatalf("add contact: %v", err)
	}
	if c.ContactID != "bob" || c.Profile == nil || c.Profile.Username != "bob" {
		t.Fatalf("unexpected contact %+v", c)
	}
	if _, err := alice.AddContactByEmail(ctx, "bob@example.com"); err != nil {
		t.Fatalf("repeated add should succeed: %v", err)
	}

	contacts, err := alice.ListContacts(ctx)
	if err != nil {
		t.Fatalf("list contacts: %v", err)
	}
	if len(contacts) != 1 || contacts[0].ContactID != "bob" {
		t.Fatalf("unexpected contacts %+v", contacts)
	}
	// Contacts are one-directional.
	if theirs, err := env.svc.As("bob").ListContacts(ctx); err != nil || len(theirs) != 0 {
		t.Fatalf("bob should have no contacts: %+v, %v", theirs, err)
	}

	if err := alice.RemoveContact(ctx, "bob"); err != nil {
		t.Fatalf("remove contact: %v", err)
	}
	if err := alice.RemoveContact(ctx, ""); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	contacts, err = alice.ListContacts(ctx)
	if err != nil || len(contacts) != 0 {
		t.Fatalf("expected no contacts: %+v, %v", contacts, err)
	}

	if _, err := env.svc.As("").ListContacts(ctx); !errors.Is(err, store.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestDirectory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, name := range []string{"carol", "alice", "bob"} {
		if _, err := env.svc.As(name).UpsertProfile(ctx, store.Profile{Username: name, Email: name + "@example.com"}); err != nil {
			t.Fatalf("upsert profile: %v", err)
		}
	}

	profiles, err := env.svc.As("alice").ListProfiles(ctx, 2)
	if err != nil {
		t.Fatalf("list profiles: %v", err)
	}
	if len(profiles) != 2 || profiles[0].ID != "alice" || profiles[1].ID != "bob" {
		t.Fatalf("unexpected directory page %+v", profiles)
	}
	if _, err := env.svc.As("alice").ListProfiles(ctx, -1); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	p, err := env.svc.As("alice").LookupProfile(ctx, "CAROL@example.com")
	if err != nil || p.ID != "carol" {
		t.Fatalf("lookup: %+v, %v", p, err)
	}
}
