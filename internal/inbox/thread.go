package inbox

import (
	"strings"

	"github.com/tOgg1/atelier/internal/chat"
)

// Thread is the ordered message history of the active conversation.
// It is not safe for concurrent use; the Reconciler owns it.
type Thread struct {
	conversationID string
	messages       []chat.Message
}

// NewThread creates an empty thread with no active conversation.
func NewThread() *Thread {
	return &Thread{}
}

// Load replaces the thread with messages of conversationID. Messages from
// other conversations and repeated IDs are dropped.
func (t *Thread) Load(conversationID string, messages []chat.Message) {
	t.conversationID = strings.TrimSpace(conversationID)
	seen := make(map[string]struct{}, len(messages))
	kept := make([]chat.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.ConversationID != t.conversationID || msg.ID == "" {
			continue
		}
		if _, ok := seen[msg.ID]; ok {
			continue
		}
		seen[msg.ID] = struct{}{}
		kept = append(kept, msg)
	}
	chat.SortMessages(kept)
	t.messages = kept
}

// Append adds msg to the end of the thread. Messages already present or
// belonging to another conversation are ignored.
func (t *Thread) Append(msg chat.Message) bool {
	if t.conversationID == "" || msg.ConversationID != t.conversationID || msg.ID == "" {
		return false
	}
	if t.index(msg.ID) >= 0 {
		return false
	}
	t.messages = append(t.messages, msg)
	return true
}

// Replace swaps the message with the same ID in place.
func (t *Thread) Replace(msg chat.Message) bool {
	i := t.index(msg.ID)
	if i < 0 || msg.ConversationID != t.conversationID {
		return false
	}
	t.messages[i] = msg
	return true
}

// RemoveByID drops the message with messageID.
func (t *Thread) RemoveByID(messageID string) bool {
	i := t.index(messageID)
	if i < 0 {
		return false
	}
	t.messages = append(t.messages[:i], t.messages[i+1:]...)
	return true
}

// Clear empties the thread and forgets the conversation.
func (t *Thread) Clear() {
	t.conversationID = ""
	t.messages = nil
}

// Last returns the newest message.
func (t *Thread) Last() (chat.Message, bool) {
	if len(t.messages) == 0 {
		return chat.Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// Snapshot returns a copy of the messages in order.
func (t *Thread) Snapshot() []chat.Message {
	out := make([]chat.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Thread) ConversationID() string { return t.conversationID }

func (t *Thread) Len() int { return len(t.messages) }

func (t *Thread) index(id string) int {
	if id == "" {
		return -1
	}
	for i := range t.messages {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}
