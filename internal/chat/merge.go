package chat

import (
	"slices"
	"strings"

	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// Compare orders messages by (CreatedAt, ID).
func Compare(a, b *store.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Less reports whether a sorts before b.
func Less(a, b *store.Message) bool {
	return Compare(a, b) < 0
}

// MergeResult tells how an incoming message changed a timeline.
type MergeResult int

const (
	// Duplicate means the id was already present; nothing changed.
	Duplicate MergeResult = iota
	// Appended means the message became the new tail.
	Appended
	// Inserted means the message landed before the tail.
	Inserted
)

func (r MergeResult) String() string {
	switch r {
	case Duplicate:
		return "duplicate"
	case Appended:
		return "appended"
	case Inserted:
		return "inserted"
	default:
		return "unknown"
	}
}

// Timeline is a message list kept strictly ordered by (CreatedAt, ID) with
// unique ids. It is not safe for concurrent use.
type Timeline struct {
	msgs []*store.Message
	ids  map[string]struct{}
}

// NewTimeline builds a timeline from messages in any order.
func NewTimeline(msgs ...*store.Message) *Timeline {
	t := &Timeline{
		msgs: make([]*store.Message, 0, len(msgs)),
		ids:  make(map[string]struct{}, len(msgs)),
	}
	for _, m := range msgs {
		t.Insert(m)
	}
	return t
}

// Insert merges m. Replaying a message already present is a no-op.
func (t *Timeline) Insert(m *store.Message) MergeResult {
	if m == nil {
		return Duplicate
	}
	if _, ok := t.ids[m.ID]; ok {
		return Duplicate
	}
	t.ids[m.ID] = struct{}{}

	n := len(t.msgs)
	if n == 0 || Less(t.msgs[n-1], m) {
		t.msgs = append(t.msgs, m)
		return Appended
	}

	i, _ := slices.BinarySearchFunc(t.msgs, m, Compare)
	t.msgs = slices.Insert(t.msgs, i, m)
	return Inserted
}

// Len returns the number of messages.
func (t *Timeline) Len() int { return len(t.msgs) }

// Contains reports whether a message with id is present.
func (t *Timeline) Contains(id string) bool {
	_, ok := t.ids[id]
	return ok
}

// Last returns the newest message or nil.
func (t *Timeline) Last() *store.Message {
	if len(t.msgs) == 0 {
		return nil
	}
	return t.msgs[len(t.msgs)-1]
}

// Cursor returns the position of the newest message, or nil when empty.
func (t *Timeline) Cursor() *store.MessageCursor {
	last := t.Last()
	if last == nil {
		return nil
	}
	c := last.Cursor()
	return &c
}

// Messages returns a copy of the ordered list.
func (t *Timeline) Messages() []*store.Message {
	return slices.Clone(t.msgs)
}

// Merge returns local with incoming merged in, deduplicated by id and
// ordered by (CreatedAt, ID). Neither input is modified.
func Merge(local []*store.Message, incoming ...*store.Message) []*store.Message {
	t := NewTimeline(local...)
	for _, m := range incoming {
		t.Insert(m)
	}
	return t.msgs
}
