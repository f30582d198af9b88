package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vovakirdan/wirechat-sync/internal/store"
)

func TestWithSchemaValidation(t *testing.T) {
	tests := []struct {
		schema string
		ok     bool
	}{
		{schema: "wirechat", ok: true},
		{schema: "chat_2024", ok: true},
		{schema: "", ok: false},
		{schema: "   ", ok: false},
		{schema: "bad-name", ok: false},
		{schema: "1starts_with_digit", ok: false},
		{schema: `x"; DROP TABLE y; --`, ok: false},
	}

	for _, tt := range tests {
		st := &Store{}
		err := WithSchema(tt.schema)(st)
		if tt.ok && err != nil {
			t.Errorf("schema %q: unexpected error %v", tt.schema, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("schema %q: expected error", tt.schema)
		}
	}
}

func TestNewRejectsNilPool(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestTableQuoting(t *testing.T) {
	st := &Store{schema: "wirechat"}
	if got := st.table("messages"); got != `"wirechat"."messages"` {
		t.Fatalf("unexpected table identifier %s", got)
	}
}

// newIntegrationStore connects to WIRECHAT_DATABASE_URL and isolates the test
// in its own schema.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("WIRECHAT_DATABASE_URL")
	if dsn == "" {
		t.Skip("WIRECHAT_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	schema := fmt.Sprintf("wirechat_test_%d", time.Now().UnixNano())
	st, err := New(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { dropSchema(pool, schema) })
	return st
}

func dropSchema(pool *pgxpool.Pool, schema string) {
	_, _ = pool.Exec(context.Background(), `DROP SCHEMA IF EXISTS `+pgIdent(schema)+` CASCADE`)
}

func TestIntegrationConversationInsertIfAbsent(t *testing.T) {
	st := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	const writers = 6
	var wg sync.WaitGroup
	results := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "u1", "u2"
			if i%2 == 1 {
				a, b = b, a
			}
			results[i] = st.InsertConversation(ctx, &store.Conversation{
				ID: fmt.Sprintf("c%d", i), ParticipantA: a, ParticipantB: b, CreatedAt: now, UpdatedAt: now,
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
			continue
		}
		if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected one winner, got %d", winners)
	}

	conv, err := st.FindConversation(ctx, "u2", "u1")
	if err != nil {
		t.Fatalf("find conversation: %v", err)
	}
	if !conv.Has("u1") || !conv.Has("u2") {
		t.Fatalf("unexpected conversation %+v", conv)
	}
}

func TestIntegrationMessagesCursor(t *testing.T) {
	st := newIntegrationStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	if err := st.InsertConversation(ctx, &store.Conversation{
		ID: "c1", ParticipantA: "u1", ParticipantB: "u2", CreatedAt: base, UpdatedAt: base,
	}); err != nil {
		t.Fatalf("insert conversation: %v", err)
	}

	for _, m := range []struct {
		id string
		at time.Duration
	}{
		{"m3", 3 * time.Second},
		{"m1", time.Second},
		{"m2b", 2 * time.Second},
		{"m2a", 2 * time.Second},
	} {
		if err := st.InsertMessage(ctx, &store.Message{
			ID: m.id, ConversationID: "c1", SenderID: "u1", Body: store.Body{Text: m.id}, CreatedAt: base.Add(m.at),
		}); err != nil {
			t.Fatalf("insert message %s: %v", m.id, err)
		}
	}

	msgs, err := st.QueryMessages(ctx, store.MessageQuery{
		ConversationID: "c1",
		After:          &store.MessageCursor{CreatedAt: base.Add(2 * time.Second), ID: "m2a"},
	})
	if err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m2b" || msgs[1].ID != "m3" {
		t.Fatalf("unexpected page: %+v", msgs)
	}

	conv, err := st.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if !conv.UpdatedAt.Equal(base.Add(3 * time.Second)) {
		t.Fatalf("expected updated_at bumped to newest message, got %v", conv.UpdatedAt)
	}

	previews, err := st.ListConversations(ctx, "u2")
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(previews) != 1 || previews[0].LastMessage == nil || previews[0].LastMessage.ID != "m3" {
		t.Fatalf("unexpected previews: %+v", previews)
	}
}

func TestIntegrationProfiles(t *testing.T) {
	st := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	if err := st.UpsertProfile(ctx, &store.Profile{ID: "u1", Username: "alice", UpdatedAt: now}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.UpsertProfile(ctx, &store.Profile{ID: "u1", Username: "alicia", UpdatedAt: now}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	profiles, err := st.QueryProfiles(ctx, []string{"u1", "u9"})
	if err != nil {
		t.Fatalf("query profiles: %v", err)
	}
	if len(profiles) != 1 || profiles["u1"].Username != "alicia" {
		t.Fatalf("unexpected profiles: %+v", profiles)
	}
}

func TestIntegrationContacts(t *testing.T) {
	st := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	if err := st.UpsertProfile(ctx, &store.Profile{ID: "u2", Username: "bob", Email: "Bob@Example.com", UpdatedAt: now}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	p, err := st.FindProfileByEmail(ctx, "bob@example.com")
	if err != nil || p.ID != "u2" {
		t.Fatalf("find by email: %+v, %v", p, err)
	}
	if _, err := st.FindProfileByEmail(ctx, "none@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if added, err := st.AddContact(ctx, "u1", "u2", now); err != nil || !added {
		t.Fatalf("add: added=%v err=%v", added, err)
	}
	if added, err := st.AddContact(ctx, "u1", "u2", now); err != nil || added {
		t.Fatalf("duplicate add: added=%v err=%v", added, err)
	}
	if _, err := st.AddContact(ctx, "u1", "u9", now.Add(time.Second)); err != nil {
		t.Fatalf("add: %v", err)
	}

	contacts, err := st.ListContacts(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(contacts) != 2 || contacts[0].Profile == nil || contacts[0].Profile.Username != "bob" || contacts[1].Profile != nil {
		t.Fatalf("unexpected contacts %+v", contacts)
	}

	if err := st.RemoveContact(ctx, "u1", "u2"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	contacts, err = st.ListContacts(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(contacts) != 1 || contacts[0].ContactID != "u9" {
		t.Fatalf("unexpected contacts after remove %+v", contacts)
	}
}
