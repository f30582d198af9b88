package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// Contacts is the live address book of the session user, oldest entry
// first. Profiles of contacts follow the profiles stream.
type Contacts struct {
	view

	backend ContactBackend
	session Session

	entries []*store.Contact
}

// NewContacts creates a contact list in StateLoading. Call Open to load it.
func NewContacts(b ContactBackend, session Session, opts ...Option) *Contacts {
	c := &Contacts{backend: b, session: session}
	c.setup("contacts", newConfig(opts))
	return c
}

// OpenContacts creates and opens a contact list.
func OpenContacts(ctx context.Context, b ContactBackend, session Session, opts ...Option) (*Contacts, error) {
	c := NewContacts(b, session, opts...)
	if err := c.Open(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Open subscribes to profile changes, loads the contacts and goes live.
func (c *Contacts) Open(ctx context.Context) error {
	if err := c.session.Validate(); err != nil {
		return err
	}

	opCtx, cancel, err := c.beginOpen(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	sub, err := retry(opCtx, c.cfg, "subscribe", c.cfg.retry.bounded(opCtx), c.backend.SubscribeInbox)
	if err != nil {
		c.fail(err)
		return err
	}
	entries, err := retry(opCtx, c.cfg, "list_contacts", c.cfg.retry.bounded(opCtx), c.backend.ListContacts)
	if err != nil {
		_ = sub.Close()
		c.fail(err)
		return err
	}

	err = c.goLive(func() {
		c.entries = entries
	}, Signal{Kind: SignalLoaded}, func() {
		follow(&c.view, sub, c.apply, c.reconnect)
	})
	if err != nil {
		_ = sub.Close()
		return err
	}
	c.cfg.log.Debug().Str("user_id", c.session.UserID).Int("contacts", len(entries)).Msg("contacts loaded")
	return nil
}

// reconnect resubscribes and reloads the whole list.
func (c *Contacts) reconnect(ctx context.Context) (realtime.Subscription[*store.Change], error) {
	sub, err := c.backend.SubscribeInbox(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := c.backend.ListContacts(ctx)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		_ = sub.Close()
		return nil, ErrClosed
	}
	c.entries = entries
	c.mu.Unlock()
	return sub, nil
}

// apply refreshes the profile of a contact. Older profile versions are ignored.
func (c *Contacts) apply(ch *store.Change) error {
	if ch == nil || ch.Kind != store.ChangeProfile || ch.Profile == nil || !c.live() {
		return nil
	}
	p := ch.Profile

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	changed := false
	if i := c.index(p.ID); i >= 0 {
		cur := c.entries[i]
		if cur.Profile == nil || !p.UpdatedAt.Before(cur.Profile.UpdatedAt) {
			next := *cur
			next.Profile = p
			c.entries[i] = &next
			changed = true
		}
	}
	c.mu.Unlock()

	if changed {
		c.emit(Signal{Kind: SignalUpdated, UserID: p.ID})
	}
	return nil
}

// index must run with the lock held.
func (c *Contacts) index(userID string) int {
	for i, e := range c.entries {
		if e.ContactID == userID {
			return i
		}
	}
	return -1
}

func (c *Contacts) writable(op string) error {
	switch st := c.State(); st {
	case StateLive:
		return nil
	case StateClosed:
		return &Error{Code: CodeCanceled, Op: op, Err: ErrClosed}
	default:
		return &Error{Code: CodeInvalidArgument, Op: op, Err: fmt.Errorf("%w: contacts are %s", ErrNotLive, st)}
	}
}

// Add looks the user up by email and adds them. Adding a known contact
// refreshes its profile and keeps its position.
func (c *Contacts) Add(ctx context.Context, email string) (*store.Contact, error) {
	const op = "add_contact"

	if err := c.writable(op); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, &Error{Code: CodeInvalidArgument, Op: op, Err: fmt.Errorf("%w: empty email", store.ErrInvalidArgument)}
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer context.AfterFunc(c.ctx, cancel)()
	defer cancel()

	added, err := retry(opCtx, c.cfg, op, c.cfg.retry.bounded(opCtx), func(ctx context.Context) (*store.Contact, error) {
		return c.backend.AddContactByEmail(ctx, email)
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return added, nil
	}
	if i := c.index(added.ContactID); i >= 0 {
		next := *c.entries[i]
		next.Profile = added.Profile
		c.entries[i] = &next
	} else {
		c.entries = append(c.entries, added)
	}
	c.mu.Unlock()

	c.emit(Signal{Kind: SignalUpdated, UserID: added.ContactID})
	return added, nil
}

// Remove drops a contact. Removing an unknown contact succeeds.
func (c *Contacts) Remove(ctx context.Context, userID string) error {
	const op = "remove_contact"

	if err := c.writable(op); err != nil {
		return err
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer context.AfterFunc(c.ctx, cancel)()
	defer cancel()

	_, err := retry(opCtx, c.cfg, op, c.cfg.retry.bounded(opCtx), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.RemoveContact(ctx, userID)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	removed := false
	if i := c.index(userID); i >= 0 && c.state != StateClosed {
		c.entries = append(c.entries[:i:i], c.entries[i+1:]...)
		removed = true
	}
	c.mu.Unlock()

	if removed {
		c.emit(Signal{Kind: SignalUpdated, UserID: userID})
	}
	return nil
}

// List returns a snapshot of the contacts, oldest first.
func (c *Contacts) List() []store.Contact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]store.Contact, len(c.entries))
	for i, e := range c.entries {
		out[i] = *e
	}
	return out
}

// Contact returns the entry of one user.
func (c *Contacts) Contact(userID string) (store.Contact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.index(userID); i >= 0 {
		return *c.entries[i], true
	}
	return store.Contact{}, false
}
