package chat

import (
	"context"
	"fmt"

	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// Resolver finds or creates the single conversation of a participant pair.
type Resolver struct {
	backend Backend
	session Session
	cfg     *config
}

// NewResolver creates a resolver acting for session.
func NewResolver(b Backend, session Session, opts ...Option) *Resolver {
	return &Resolver{backend: b, session: session, cfg: newConfig(opts)}
}

// Resolve returns the conversation between a and b, creating it if needed.
// Concurrent calls for the same pair, in either order, return the same row:
// the insert is conditional on the pair being absent and a lost race is
// answered by reading the winner.
func (r *Resolver) Resolve(ctx context.Context, a, b string) (*store.Conversation, error) {
	const op = "resolve"

	if _, err := store.PairKey(a, b); err != nil {
		return nil, wrap(op, err)
	}
	if err := r.session.Validate(); err != nil {
		return nil, err
	}
	if r.session.UserID != a && r.session.UserID != b {
		r.cfg.metrics.Resolve("error")
		return nil, &Error{Code: CodeNotAuthorized, Op: op, Err: fmt.Errorf("%w: %s is not %s or %s", store.ErrNotAuthorized, r.session.UserID, a, b)}
	}

	conv, err := r.lookup(ctx, a, b)
	if err != nil {
		r.cfg.metrics.Resolve("error")
		return nil, err
	}
	if conv != nil {
		r.cfg.metrics.Resolve("found")
		return conv, nil
	}

	conv, err = retry(ctx, r.cfg, "insert_conversation", r.cfg.retry.bounded(ctx), func(ctx context.Context) (*store.Conversation, error) {
		return r.backend.InsertConversation(ctx, a, b)
	})
	if err == nil {
		r.cfg.metrics.Resolve("created")
		r.cfg.log.Debug().Str("conversation_id", conv.ID).Str("a", a).Str("b", b).Msg("conversation created")
		return conv, nil
	}
	if CodeOf(err) != CodeConflict {
		r.cfg.metrics.Resolve("error")
		return nil, err
	}

	// Someone else won the insert.
	conv, err = r.lookup(ctx, a, b)
	if err != nil {
		r.cfg.metrics.Resolve("error")
		return nil, err
	}
	if conv == nil {
		r.cfg.metrics.Resolve("error")
		return nil, &Error{Code: CodeConflict, Op: op, Err: fmt.Errorf("%w: winner for %s/%s not visible", store.ErrConflict, a, b)}
	}
	r.cfg.metrics.Resolve("conflict")
	return conv, nil
}

// lookup returns nil without error when the pair has no conversation.
func (r *Resolver) lookup(ctx context.Context, a, b string) (*store.Conversation, error) {
	conv, err := retry(ctx, r.cfg, "query_conversation", r.cfg.retry.bounded(ctx), func(ctx context.Context) (*store.Conversation, error) {
		return r.backend.QueryConversation(ctx, a, b)
	})
	if CodeOf(err) == CodeNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}
