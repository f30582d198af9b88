package chat

import (
	"context"

	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// Inbox is the live conversation list of the session user, newest activity
// first, with the other participant's profile attached.
type Inbox struct {
	view

	backend Backend
	session Session

	list     *SummaryList
	profiles map[string]*store.Profile
}

// NewInbox creates an inbox in StateLoading. Call Open to load it.
func NewInbox(b Backend, session Session, opts ...Option) *Inbox {
	in := &Inbox{
		backend:  b,
		session:  session,
		list:     NewSummaryList(session.UserID),
		profiles: make(map[string]*store.Profile),
	}
	in.setup("inbox", newConfig(opts))
	return in
}

// OpenInbox creates and opens an inbox.
func OpenInbox(ctx context.Context, b Backend, session Session, opts ...Option) (*Inbox, error) {
	in := NewInbox(b, session, opts...)
	if err := in.Open(ctx); err != nil {
		_ = in.Close()
		return nil, err
	}
	return in, nil
}

// Open subscribes to inbox changes, loads the list, hydrates profiles in one
// batch and goes live.
func (in *Inbox) Open(ctx context.Context) error {
	if err := in.session.Validate(); err != nil {
		return err
	}

	opCtx, cancel, err := in.beginOpen(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	sub, err := retry(opCtx, in.cfg, "subscribe", in.cfg.retry.bounded(opCtx), in.backend.SubscribeInbox)
	if err != nil {
		in.fail(err)
		return err
	}

	summaries, err := in.load(opCtx)
	if err != nil {
		_ = sub.Close()
		in.fail(err)
		return err
	}

	err = in.goLive(func() {
		in.commit(summaries)
	}, Signal{Kind: SignalLoaded}, func() {
		follow(&in.view, sub, in.apply, in.reconnect)
	})
	if err != nil {
		_ = sub.Close()
		return err
	}
	in.cfg.log.Debug().Str("user_id", in.session.UserID).Int("conversations", len(summaries)).Msg("inbox loaded")
	return nil
}

// load fetches every conversation with its last message and the profiles of
// the other participants.
func (in *Inbox) load(ctx context.Context) ([]Summary, error) {
	previews, err := retry(ctx, in.cfg, "list_conversations", in.cfg.retry.bounded(ctx), in.backend.ListConversations)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(previews))
	for _, p := range previews {
		ids = append(ids, p.Conversation.Other(in.session.UserID))
	}
	profiles, err := in.queryProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(previews))
	for _, p := range previews {
		var msgs []*store.Message
		if p.LastMessage != nil {
			msgs = []*store.Message{p.LastMessage}
		}
		summaries = append(summaries, Project(p.Conversation, msgs, in.session.UserID, profiles))
	}
	return summaries, nil
}

func (in *Inbox) queryProfiles(ctx context.Context, ids []string) (map[string]*store.Profile, error) {
	if len(ids) == 0 {
		return map[string]*store.Profile{}, nil
	}
	return retry(ctx, in.cfg, "query_profiles", in.cfg.retry.bounded(ctx), func(ctx context.Context) (map[string]*store.Profile, error) {
		return in.backend.QueryProfiles(ctx, ids)
	})
}

// commit must run with the write lock held.
func (in *Inbox) commit(summaries []Summary) {
	for _, s := range summaries {
		if s.Other != nil {
			in.profiles[s.OtherID] = s.Other
		} else if p, ok := in.profiles[s.OtherID]; ok {
			s.Other = p
		}
		in.list.Upsert(s)
	}
}

// reconnect resubscribes and re-fetches the whole list.
func (in *Inbox) reconnect(ctx context.Context) (realtime.Subscription[*store.Change], error) {
	sub, err := in.backend.SubscribeInbox(ctx)
	if err != nil {
		return nil, err
	}
	summaries, err := in.load(ctx)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	in.mu.Lock()
	if in.state == StateClosed {
		in.mu.Unlock()
		_ = sub.Close()
		return nil, ErrClosed
	}
	in.commit(summaries)
	in.mu.Unlock()

	for _, s := range summaries {
		in.emit(Signal{Kind: SignalUpdated, ConversationID: s.ConversationID()})
	}
	return sub, nil
}

// apply folds one change into the list. It runs on the live loop, so it may
// block on the backend to fill in a missing conversation or profile.
func (in *Inbox) apply(ch *store.Change) error {
	if ch == nil || !in.live() {
		return nil
	}

	switch ch.Kind {
	case store.ChangeConversation:
		if ch.Conversation == nil || !ch.Conversation.Has(in.session.UserID) {
			return nil
		}
		in.applyConversation(ch.Conversation)

	case store.ChangeMessage:
		m := ch.Message
		if m == nil {
			return nil
		}
		in.mu.Lock()
		_, known := in.list.Get(m.ConversationID)
		changed := known && in.list.ApplyMessage(m)
		in.mu.Unlock()

		if !known {
			conv, err := retry(in.ctx, in.cfg, "get_conversation", in.cfg.retry.bounded(in.ctx), func(ctx context.Context) (*store.Conversation, error) {
				return in.backend.GetConversation(ctx, m.ConversationID)
			})
			if err != nil {
				in.cfg.log.Warn().Err(err).Str("conversation_id", m.ConversationID).Msg("inbox: conversation lookup failed, resyncing")
				return wrap("get_conversation", err)
			}
			in.applyConversation(conv)
			in.mu.Lock()
			changed = in.list.ApplyMessage(m)
			in.mu.Unlock()
		}
		in.cfg.metrics.Merge(mergeLabel(changed))
		if changed {
			in.emit(Signal{Kind: SignalUpdated, ConversationID: m.ConversationID, Message: m})
		}

	case store.ChangeProfile:
		p := ch.Profile
		if p == nil {
			return nil
		}
		in.mu.Lock()
		if in.state == StateClosed {
			in.mu.Unlock()
			return nil
		}
		if cur, ok := in.profiles[p.ID]; !ok || !p.UpdatedAt.Before(cur.UpdatedAt) {
			in.profiles[p.ID] = p
		}
		changed := in.list.ApplyProfile(p)
		in.mu.Unlock()

		for _, id := range changed {
			in.emit(Signal{Kind: SignalUpdated, ConversationID: id})
		}
	}
	return nil
}

func (in *Inbox) applyConversation(conv *store.Conversation) {
	otherID := conv.Other(in.session.UserID)

	in.mu.RLock()
	profile, ok := in.profiles[otherID]
	in.mu.RUnlock()

	if !ok {
		profiles, err := in.queryProfiles(in.ctx, []string{otherID})
		if err != nil {
			in.cfg.log.Warn().Err(err).Str("user_id", otherID).Msg("inbox: profile lookup failed")
		}
		profile = profiles[otherID]
	}
	if !in.live() {
		return
	}

	s := Project(conv, nil, in.session.UserID, nil)
	s.Other = profile

	in.mu.Lock()
	if in.state == StateClosed {
		in.mu.Unlock()
		return
	}
	in.commit([]Summary{s})
	in.mu.Unlock()

	in.emit(Signal{Kind: SignalUpdated, ConversationID: conv.ID})
}

func mergeLabel(changed bool) string {
	if changed {
		return Appended.String()
	}
	return Duplicate.String()
}

// Summaries returns the list in display order.
func (in *Inbox) Summaries() []Summary {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.list.Items()
}

// Summary returns the entry of one conversation.
func (in *Inbox) Summary(conversationID string) (Summary, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.list.Get(conversationID)
}
