// Package inbox holds the client-side conversation state and the reconciler
// that keeps it consistent with the push stream and on-demand pulls.
package inbox

import (
	"sort"
	"strings"
	"time"

	"github.com/tOgg1/atelier/internal/chat"
)

var epoch = time.Unix(0, 0).UTC()

// recentLimit bounds the message IDs remembered per conversation.
const recentLimit = 64

// List is the viewer's conversation summaries, newest activity first.
// It is not safe for concurrent use; the Reconciler owns it.
type List struct {
	viewer string
	items  []chat.Conversation
	// recent holds the last applied message IDs per conversation, oldest
	// first.
	recent map[string][]string
}

// NewList creates an empty list for viewer.
func NewList(viewer string) *List {
	return &List{viewer: viewer, recent: make(map[string][]string)}
}

// ReplaceAll swaps the whole list for convs. Duplicate IDs keep the first
// occurrence.
func (l *List) ReplaceAll(convs []chat.Conversation) {
	seen := make(map[string]struct{}, len(convs))
	items := make([]chat.Conversation, 0, len(convs))
	for _, conv := range convs {
		id := strings.TrimSpace(conv.ID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		conv = conv.Clone()
		conv.ID = id
		items = append(items, conv)
	}
	l.items = items
	l.sort()
}

// PatchFromIncomingMessage applies a new message to the summary of
// conversationID. The viewer's unread slot is reset when isActive and
// incremented by one otherwise. A message ID already applied is ignored,
// and the preview only moves forward in time. It reports false when the
// conversation is not in the list.
func (l *List) PatchFromIncomingMessage(conversationID string, msg chat.Message, isActive bool) bool {
	i := l.find(conversationID)
	if i < 0 {
		return false
	}
	conv := &l.items[i]
	if !l.remember(conv.ID, msg.ID) {
		return true
	}
	if !msg.CreatedAt.Before(conv.LastMessageAt) {
		conv.LastMessageText = msg.Text
		conv.LastMessageAt = msg.CreatedAt
	}
	if conv.UnreadByUser == nil {
		conv.UnreadByUser = make(map[string]int)
	}
	if isActive {
		conv.UnreadByUser[l.viewer] = 0
	} else {
		conv.UnreadByUser[l.viewer] = conv.UnreadFor(l.viewer) + 1
	}
	l.sort()
	return true
}

// remember records messageID for conversationID and reports whether it was
// new. Empty IDs are never deduplicated.
func (l *List) remember(conversationID, messageID string) bool {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return true
	}
	ids := l.recent[conversationID]
	for _, id := range ids {
		if id == messageID {
			return false
		}
	}
	ids = append(ids, messageID)
	if len(ids) > recentLimit {
		ids = ids[len(ids)-recentLimit:]
	}
	l.recent[conversationID] = ids
	return true
}

// Remove drops conversationID from the list.
func (l *List) Remove(conversationID string) bool {
	i := l.find(conversationID)
	if i < 0 {
		return false
	}
	delete(l.recent, l.items[i].ID)
	l.items = append(l.items[:i], l.items[i+1:]...)
	return true
}

// ResetUnread zeroes the viewer's unread slot for conversationID.
func (l *List) ResetUnread(conversationID string) bool {
	i := l.find(conversationID)
	if i < 0 {
		return false
	}
	if l.items[i].UnreadByUser == nil {
		l.items[i].UnreadByUser = make(map[string]int)
	}
	l.items[i].UnreadByUser[l.viewer] = 0
	return true
}

// SetPreview overwrites the preview of conversationID. A zero at clears the
// timestamp.
func (l *List) SetPreview(conversationID, text string, at time.Time) bool {
	i := l.find(conversationID)
	if i < 0 {
		return false
	}
	l.items[i].LastMessageText = text
	l.items[i].LastMessageAt = at
	l.sort()
	return true
}

// Upsert inserts conv, or refreshes the counterpart of an existing entry.
// Existing previews and counters are kept. It reports whether conv was new.
func (l *List) Upsert(conv chat.Conversation) bool {
	id := strings.TrimSpace(conv.ID)
	if id == "" {
		return false
	}
	if i := l.find(id); i >= 0 {
		if conv.Counterpart.UID != "" {
			l.items[i].Counterpart = conv.Counterpart
		}
		return false
	}
	conv = conv.Clone()
	conv.ID = id
	l.items = append(l.items, conv)
	l.sort()
	return true
}

// Get returns a copy of the summary for conversationID.
func (l *List) Get(conversationID string) (chat.Conversation, bool) {
	i := l.find(conversationID)
	if i < 0 {
		return chat.Conversation{}, false
	}
	return l.items[i].Clone(), true
}

// Snapshot returns a deep copy of the ordered list.
func (l *List) Snapshot() []chat.Conversation {
	out := make([]chat.Conversation, len(l.items))
	for i, conv := range l.items {
		out[i] = conv.Clone()
	}
	return out
}

func (l *List) Len() int { return len(l.items) }

// TotalUnread sums the viewer's unread slots.
func (l *List) TotalUnread() int {
	total := 0
	for _, conv := range l.items {
		total += conv.UnreadFor(l.viewer)
	}
	return total
}

func (l *List) find(id string) int {
	id = strings.TrimSpace(id)
	if id == "" {
		return -1
	}
	for i := range l.items {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *List) sort() {
	sort.SliceStable(l.items, func(i, j int) bool {
		return sortKey(l.items[i].LastMessageAt).After(sortKey(l.items[j].LastMessageAt))
	})
}

func sortKey(t time.Time) time.Time {
	if t.IsZero() {
		return epoch
	}
	return t
}
