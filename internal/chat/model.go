// Package chat defines the conversation domain shared by the sync client and
// the reference daemon: entities, wire payloads, validation, and errors.
package chat

import (
	"sort"
	"time"
)

// Counterpart is the denormalized profile snapshot of the other participant.
type Counterpart struct {
	UID       string
	Username  string
	Name      string
	AvatarURL string
}

// DisplayName prefers the display name, then the username, then the uid.
func (c Counterpart) DisplayName() string {
	switch {
	case c.Name != "":
		return c.Name
	case c.Username != "":
		return c.Username
	default:
		return c.UID
	}
}

// Conversation is a two-party thread summary as seen by one viewer.
type Conversation struct {
	ID              string
	LastMessageText string
	// LastMessageAt is zero when the conversation has no messages yet.
	LastMessageAt time.Time
	UnreadByUser  map[string]int
	Counterpart   Counterpart
}

// UnreadFor returns the unread counter slot for uid.
func (c Conversation) UnreadFor(uid string) int {
	if c.UnreadByUser == nil {
		return 0
	}
	if n := c.UnreadByUser[uid]; n > 0 {
		return n
	}
	return 0
}

// Clone returns a deep copy.
func (c Conversation) Clone() Conversation {
	out := c
	if c.UnreadByUser != nil {
		out.UnreadByUser = make(map[string]int, len(c.UnreadByUser))
		for k, v := range c.UnreadByUser {
			out.UnreadByUser[k] = v
		}
	}
	return out
}

// Message is a single message inside a conversation.
type Message struct {
	ID             string
	ConversationID string
	SenderUID      string
	RecipientUID   string
	Text           string
	CreatedAt      time.Time
}

// SortMessages orders messages by creation time, keeping the relative order
// of messages created at the same instant.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}
