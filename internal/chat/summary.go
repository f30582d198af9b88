package chat

import (
	"strings"
	"time"

	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// Summary is the list-view preview of one conversation.
type Summary struct {
	Conversation *store.Conversation
	// LastMessage is the newest known message, nil for an empty conversation.
	LastMessage *store.Message
	// OtherID is the participant that is not the viewer.
	OtherID string
	// Other is OtherID's profile once known.
	Other *store.Profile
	// UpdatedAt is the last activity, never earlier than LastMessage.CreatedAt.
	UpdatedAt time.Time
}

// ConversationID returns the id of the summarized conversation.
func (s Summary) ConversationID() string {
	if s.Conversation == nil {
		return ""
	}
	return s.Conversation.ID
}

// HasMedia reports whether the last message carries a media reference.
func (s Summary) HasMedia() bool {
	return s.LastMessage != nil && s.LastMessage.Body.MediaURL != ""
}

// Preview returns a one-line rendering of the last message.
func (s Summary) Preview() string {
	if s.LastMessage == nil {
		return ""
	}
	text := strings.Join(strings.Fields(s.LastMessage.Body.Text), " ")
	if text == "" && s.HasMedia() {
		return "[media]"
	}
	return text
}

// Project computes the summary of conv from scratch. messages may be in any
// order; the last message is the one with the greatest (CreatedAt, ID).
func Project(conv *store.Conversation, messages []*store.Message, viewer string, profiles map[string]*store.Profile) Summary {
	s := Summary{
		Conversation: conv,
		OtherID:      conv.Other(viewer),
		UpdatedAt:    conv.UpdatedAt,
	}
	for _, m := range messages {
		if m == nil || m.ConversationID != conv.ID {
			continue
		}
		if s.LastMessage == nil || Less(s.LastMessage, m) {
			s.LastMessage = m
		}
	}
	if s.LastMessage != nil && s.LastMessage.CreatedAt.After(s.UpdatedAt) {
		s.UpdatedAt = s.LastMessage.CreatedAt
	}
	if profiles != nil {
		s.Other = profiles[s.OtherID]
	}
	return s
}

// apply updates s after m was merged into t with result r: O(1) for a tail
// append, a full projection for an out-of-order insert.
func (s *Summary) apply(m *store.Message, r MergeResult, t *Timeline, viewer string) {
	switch r {
	case Appended:
		s.LastMessage = m
		if m.CreatedAt.After(s.UpdatedAt) {
			s.UpdatedAt = m.CreatedAt
		}
	case Inserted:
		other := s.Other
		*s = Project(s.Conversation, t.msgs, viewer, nil)
		s.Other = other
	}
}

// merge folds b into s so that the result does not depend on the order in
// which summaries of the same conversation arrive.
func (s *Summary) merge(b Summary) {
	if b.Conversation != nil {
		if s.Conversation == nil || b.Conversation.UpdatedAt.After(s.Conversation.UpdatedAt) {
			s.Conversation = b.Conversation
		}
	}
	if b.LastMessage != nil && (s.LastMessage == nil || Less(s.LastMessage, b.LastMessage)) {
		s.LastMessage = b.LastMessage
	}
	if b.UpdatedAt.After(s.UpdatedAt) {
		s.UpdatedAt = b.UpdatedAt
	}
	if s.OtherID == "" {
		s.OtherID = b.OtherID
	}
	if b.Other != nil && (s.Other == nil || !b.Other.UpdatedAt.Before(s.Other.UpdatedAt)) {
		s.Other = b.Other
	}
}

// SummaryList keeps one summary per conversation sorted by UpdatedAt
// descending, ties broken by conversation id. A change moves only the entry
// it touches. It is not safe for concurrent use.
type SummaryList struct {
	viewer string
	items  []*Summary
	index  map[string]int
}

// NewSummaryList creates an empty list for viewer.
func NewSummaryList(viewer string) *SummaryList {
	return &SummaryList{viewer: viewer, index: make(map[string]int)}
}

// Len returns the number of conversations.
func (l *SummaryList) Len() int { return len(l.items) }

// Get returns the summary of a conversation.
func (l *SummaryList) Get(conversationID string) (Summary, bool) {
	i, ok := l.index[conversationID]
	if !ok {
		return Summary{}, false
	}
	return *l.items[i], true
}

// Items returns the summaries in display order.
func (l *SummaryList) Items() []Summary {
	out := make([]Summary, len(l.items))
	for i, s := range l.items {
		out[i] = *s
	}
	return out
}

// Upsert adds s or folds it into the existing entry.
func (l *SummaryList) Upsert(s Summary) {
	id := s.ConversationID()
	if id == "" {
		return
	}
	if i, ok := l.index[id]; ok {
		l.items[i].merge(s)
		l.move(i)
		return
	}
	if s.OtherID == "" {
		s.OtherID = s.Conversation.Other(l.viewer)
	}
	entry := s
	l.items = append(l.items, &entry)
	i := len(l.items) - 1
	l.index[id] = i
	l.move(i)
}

// ApplyConversation records a conversation row, creating its entry if needed.
func (l *SummaryList) ApplyConversation(conv *store.Conversation) {
	l.Upsert(Summary{Conversation: conv, OtherID: conv.Other(l.viewer), UpdatedAt: conv.UpdatedAt})
}

// ApplyMessage updates the entry of m's conversation in O(1) plus the
// positional move. It returns false when the conversation is unknown or m is
// not newer than the current last message.
func (l *SummaryList) ApplyMessage(m *store.Message) bool {
	i, ok := l.index[m.ConversationID]
	if !ok {
		return false
	}
	s := l.items[i]
	if s.LastMessage != nil && !Less(s.LastMessage, m) {
		return false
	}
	s.LastMessage = m
	if m.CreatedAt.After(s.UpdatedAt) {
		s.UpdatedAt = m.CreatedAt
	}
	l.move(i)
	return true
}

// ApplyProfile attaches p to every entry whose other participant is p.ID and
// returns the ids of the conversations it touched.
func (l *SummaryList) ApplyProfile(p *store.Profile) []string {
	var changed []string
	for _, s := range l.items {
		if s.OtherID != p.ID {
			continue
		}
		if s.Other != nil && p.UpdatedAt.Before(s.Other.UpdatedAt) {
			continue
		}
		s.Other = p
		changed = append(changed, s.ConversationID())
	}
	return changed
}

// OtherIDs returns the distinct other participants of all entries.
func (l *SummaryList) OtherIDs() []string {
	seen := make(map[string]struct{}, len(l.items))
	ids := make([]string, 0, len(l.items))
	for _, s := range l.items {
		if _, ok := seen[s.OtherID]; ok || s.OtherID == "" {
			continue
		}
		seen[s.OtherID] = struct{}{}
		ids = append(ids, s.OtherID)
	}
	return ids
}

func before(a, b *Summary) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ConversationID() < b.ConversationID()
}

// move bubbles the entry at i to its sorted position.
func (l *SummaryList) move(i int) {
	for i > 0 && before(l.items[i], l.items[i-1]) {
		l.swap(i, i-1)
		i--
	}
	for i < len(l.items)-1 && before(l.items[i+1], l.items[i]) {
		l.swap(i, i+1)
		i++
	}
}

func (l *SummaryList) swap(i, j int) {
	l.items[i], l.items[j] = l.items[j], l.items[i]
	l.index[l.items[i].ConversationID()] = i
	l.index[l.items[j].ConversationID()] = j
}
