package chat

import (
	"context"
	"fmt"

	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// Room is the live, ordered message list of one conversation.
type Room struct {
	view

	backend Backend
	session Session
	conv    *store.Conversation

	timeline *Timeline
	summary  Summary
}

// NewRoom creates a room in StateLoading. Call Open to load it.
func NewRoom(b Backend, session Session, conv *store.Conversation, opts ...Option) *Room {
	r := &Room{
		backend:  b,
		session:  session,
		conv:     conv,
		timeline: NewTimeline(),
		summary:  Project(conv, nil, session.UserID, nil),
	}
	r.setup("room", newConfig(opts))
	return r
}

// OpenRoom creates and opens a room.
func OpenRoom(ctx context.Context, b Backend, session Session, conv *store.Conversation, opts ...Option) (*Room, error) {
	r := NewRoom(b, session, conv, opts...)
	if err := r.Open(ctx); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// Open subscribes to the conversation, loads its messages and goes live.
// Events arriving during the load are held by the subscription and merged
// afterwards. On failure the room is in StateError and Open may be retried.
func (r *Room) Open(ctx context.Context) error {
	if err := r.session.requireParticipant("open", r.conv); err != nil {
		return err
	}

	opCtx, cancel, err := r.beginOpen(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	sub, err := retry(opCtx, r.cfg, "subscribe", r.cfg.retry.bounded(opCtx), r.subscribe)
	if err != nil {
		r.fail(err)
		return err
	}

	msgs, err := r.fetchAfter(opCtx, nil)
	if err != nil {
		_ = sub.Close()
		r.fail(err)
		return err
	}

	err = r.goLive(func() {
		for _, m := range msgs {
			r.timeline.Insert(m)
		}
		r.summary = Project(r.conv, r.timeline.msgs, r.session.UserID, nil)
	}, Signal{Kind: SignalLoaded, ConversationID: r.conv.ID}, func() {
		follow(&r.view, sub, r.apply, r.reconnect)
	})
	if err != nil {
		_ = sub.Close()
		return err
	}

	r.cfg.log.Debug().Str("conversation_id", r.conv.ID).Int("messages", len(msgs)).Msg("room loaded")
	return nil
}

func (r *Room) subscribe(ctx context.Context) (realtime.Subscription[*store.Message], error) {
	return r.backend.SubscribeMessages(ctx, r.conv.ID)
}

// fetchAfter pages through all messages after cursor.
func (r *Room) fetchAfter(ctx context.Context, after *store.MessageCursor) ([]*store.Message, error) {
	var all []*store.Message
	for {
		q := store.MessageQuery{ConversationID: r.conv.ID, After: after, Limit: r.cfg.pageSize}
		page, err := retry(ctx, r.cfg, "query_messages", r.cfg.retry.bounded(ctx), func(ctx context.Context) ([]*store.Message, error) {
			return r.backend.QueryMessages(ctx, q)
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < r.cfg.pageSize {
			return all, nil
		}
		c := page[len(page)-1].Cursor()
		after = &c
	}
}

// reconnect resubscribes and merges everything after the last known message.
func (r *Room) reconnect(ctx context.Context) (realtime.Subscription[*store.Message], error) {
	sub, err := r.subscribe(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	after := r.timeline.Cursor()
	r.mu.RUnlock()
	if after != nil && r.cfg.overlap > 0 {
		after = &store.MessageCursor{CreatedAt: after.CreatedAt.Add(-r.cfg.overlap)}
	}

	msgs, err := r.fetchAfter(ctx, after)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	for _, m := range msgs {
		r.apply(m)
	}
	return sub, nil
}

// apply merges m and signals a new tail.
func (r *Room) apply(m *store.Message) error {
	if m == nil || m.ConversationID != r.conv.ID || !r.live() {
		return nil
	}

	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return nil
	}
	result := r.timeline.Insert(m)
	r.summary.apply(m, result, r.timeline, r.session.UserID)
	r.mu.Unlock()

	r.cfg.metrics.Merge(result.String())
	if result == Appended {
		r.emit(Signal{Kind: SignalNewMessage, ConversationID: r.conv.ID, Message: m})
	}
	return nil
}

// Send posts body as the session user. The returned message is already
// merged; its realtime echo is deduplicated. On error nothing is merged and
// the caller still holds body.
func (r *Room) Send(ctx context.Context, body store.Body) (*store.Message, error) {
	const op = "send"

	if st := r.State(); st != StateLive {
		if st == StateClosed {
			return nil, &Error{Code: CodeCanceled, Op: op, Err: ErrClosed}
		}
		return nil, &Error{Code: CodeInvalidArgument, Op: op, Err: fmt.Errorf("%w: room is %s", ErrNotLive, st)}
	}
	if body.Empty() {
		return nil, &Error{Code: CodeInvalidArgument, Op: op, Err: fmt.Errorf("%w: empty message", store.ErrInvalidArgument)}
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer context.AfterFunc(r.ctx, cancel)()
	defer cancel()

	msg, err := retry(opCtx, r.cfg, "insert_message", r.cfg.retry.bounded(opCtx), func(ctx context.Context) (*store.Message, error) {
		return r.backend.InsertMessage(ctx, r.conv.ID, r.session.UserID, body)
	})
	if err != nil {
		return nil, err
	}
	_ = r.apply(msg)
	return msg, nil
}

// Conversation returns the conversation row the room was opened for.
func (r *Room) Conversation() *store.Conversation { return r.conv }

// Messages returns a snapshot of the ordered messages.
func (r *Room) Messages() []*store.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timeline.Messages()
}

// Summary returns the current projection of the room.
func (r *Room) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.summary
}
