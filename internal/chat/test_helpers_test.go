package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-sync/internal/backend"
	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/store"
	"github.com/vovakirdan/wirechat-sync/internal/store/sqlite"
)

var _ Backend = (*backend.Caller)(nil)

var errConnReset = errors.New("connection reset by peer")

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func msg(id, conv string, sec int) *store.Message {
	return &store.Message{ID: id, ConversationID: conv, SenderID: "u1", Body: store.Body{Text: id}, CreatedAt: at(sec)}
}

func ids(msgs []*store.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func fastRetry() Option {
	return WithRetryPolicy(RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond})
}

// clock hands out strictly increasing timestamps.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type testEnv struct {
	store    *sqlite.SQLiteStore
	svc      *backend.Service
	messages *realtime.Hub[*store.Message]
	changes  *realtime.Hub[*store.Change]
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	messages := realtime.NewHub[*store.Message]()
	changes := realtime.NewHub[*store.Change]()
	t.Cleanup(func() {
		_ = messages.Close()
		_ = changes.Close()
		_ = st.Close()
	})

	clk := &clock{now: base.Add(time.Hour)}
	return &testEnv{
		store:    st,
		svc:      backend.NewService(st, messages, changes, backend.WithClock(clk.Now)),
		messages: messages,
		changes:  changes,
	}
}

func (e *testEnv) conversation(t *testing.T, a, b string) *store.Conversation {
	t.Helper()

	conv, err := e.svc.As(a).InsertConversation(context.Background(), a, b)
	if err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	return conv
}

// seed stores m directly, bypassing the brokers.
func (e *testEnv) seed(t *testing.T, m *store.Message) {
	t.Helper()

	if err := e.store.InsertMessage(context.Background(), m); err != nil {
		t.Fatalf("seed message %s: %v", m.ID, err)
	}
}

// faultyBackend wraps a real caller and injects failures.
type faultyBackend struct {
	*backend.Caller

	mu             sync.Mutex
	queryErrs      []error
	convErrs       []error
	insertMsgErrs  []error
	staleLookups   int
	queries        []store.MessageQuery
	inserts        int
	queryGate      chan struct{}
	beforeInsertFn func()
}

func newFaulty(c *backend.Caller) *faultyBackend {
	return &faultyBackend{Caller: c}
}

func (f *faultyBackend) QueryConversation(ctx context.Context, a, b string) (*store.Conversation, error) {
	f.mu.Lock()
	stale := f.staleLookups > 0
	if stale {
		f.staleLookups--
	}
	f.mu.Unlock()

	if stale {
		return nil, store.ErrNotFound
	}
	return f.Caller.QueryConversation(ctx, a, b)
}

func (f *faultyBackend) InsertConversation(ctx context.Context, a, b string) (*store.Conversation, error) {
	f.mu.Lock()
	f.inserts++
	hook := f.beforeInsertFn
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return f.Caller.InsertConversation(ctx, a, b)
}

func (f *faultyBackend) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	f.mu.Lock()
	var err error
	if len(f.convErrs) > 0 {
		err, f.convErrs = f.convErrs[0], f.convErrs[1:]
	}
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return f.Caller.GetConversation(ctx, id)
}

func (f *faultyBackend) QueryMessages(ctx context.Context, q store.MessageQuery) ([]*store.Message, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	gate := f.queryGate
	f.queryGate = nil
	var err error
	if len(f.queryErrs) > 0 {
		err, f.queryErrs = f.queryErrs[0], f.queryErrs[1:]
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return f.Caller.QueryMessages(ctx, q)
}

func (f *faultyBackend) InsertMessage(ctx context.Context, conversationID, senderID string, body store.Body) (*store.Message, error) {
	f.mu.Lock()
	var err error
	if len(f.insertMsgErrs) > 0 {
		err, f.insertMsgErrs = f.insertMsgErrs[0], f.insertMsgErrs[1:]
	}
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return f.Caller.InsertMessage(ctx, conversationID, senderID, body)
}

func (f *faultyBackend) recordedQueries() []store.MessageQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.MessageQuery, len(f.queries))
	copy(out, f.queries)
	return out
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", what)
}

func mustSignal(t *testing.T, ch <-chan Signal, kind SignalKind) Signal {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				t.Fatalf("signals closed while waiting for %v", kind)
			}
			if s.Kind == kind {
				return s
			}
		case <-deadline:
			t.Fatalf("expected signal %v not received", kind)
			return Signal{}
		}
	}
}
