package chat

import (
	"strings"
	"time"
)

// UserDTO is the counterpart profile as sent on the wire.
type UserDTO struct {
	UID       string `json:"firebase_uid"`
	Username  string `json:"username,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"profil_url,omitempty"`
}

// ConversationDTO is a conversation summary as sent on the wire.
type ConversationDTO struct {
	ID              string         `json:"_id"`
	LastMessageText *string        `json:"lastMessageText,omitempty"`
	LastMessageAt   *time.Time     `json:"lastMessageAt,omitempty"`
	UnreadCount     *int           `json:"unread_count,omitempty"`
	UnreadByUser    map[string]int `json:"unreadByUser,omitempty"`
	OtherUser       *UserDTO       `json:"otherUser,omitempty"`
}

// MessageDTO is a message as sent on the wire.
type MessageDTO struct {
	ID             string    `json:"_id"`
	ConversationID string    `json:"conversation_id"`
	SenderUID      string    `json:"sender_uid"`
	RecipientUID   string    `json:"recipient_uid"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ConversationFromDTO converts a wire summary for the given viewer. A legacy
// scalar unread_count fills the viewer slot when unreadByUser lacks it.
func ConversationFromDTO(dto ConversationDTO, viewer string) Conversation {
	conv := Conversation{ID: strings.TrimSpace(dto.ID)}
	if dto.LastMessageText != nil {
		conv.LastMessageText = *dto.LastMessageText
	}
	if dto.LastMessageAt != nil {
		conv.LastMessageAt = dto.LastMessageAt.UTC()
	}
	conv.UnreadByUser = make(map[string]int, len(dto.UnreadByUser)+1)
	for uid, n := range dto.UnreadByUser {
		if n < 0 {
			n = 0
		}
		conv.UnreadByUser[uid] = n
	}
	if _, ok := conv.UnreadByUser[viewer]; !ok && dto.UnreadCount != nil && viewer != "" {
		n := *dto.UnreadCount
		if n < 0 {
			n = 0
		}
		conv.UnreadByUser[viewer] = n
	}
	if dto.OtherUser != nil {
		conv.Counterpart = Counterpart{
			UID:       dto.OtherUser.UID,
			Username:  dto.OtherUser.Username,
			Name:      dto.OtherUser.Name,
			AvatarURL: dto.OtherUser.AvatarURL,
		}
	}
	return conv
}

// MessageFromDTO converts a wire message.
func MessageFromDTO(dto MessageDTO) Message {
	return Message{
		ID:             strings.TrimSpace(dto.ID),
		ConversationID: strings.TrimSpace(dto.ConversationID),
		SenderUID:      dto.SenderUID,
		RecipientUID:   dto.RecipientUID,
		Text:           dto.Text,
		CreatedAt:      dto.CreatedAt.UTC(),
	}
}

// ConversationToDTO renders conv for viewer, filling both the per-user map
// and the legacy scalar unread_count.
func ConversationToDTO(conv Conversation, viewer string) ConversationDTO {
	dto := ConversationDTO{ID: conv.ID}
	if !conv.LastMessageAt.IsZero() {
		text := conv.LastMessageText
		at := conv.LastMessageAt.UTC()
		dto.LastMessageText = &text
		dto.LastMessageAt = &at
	}
	if len(conv.UnreadByUser) > 0 {
		dto.UnreadByUser = make(map[string]int, len(conv.UnreadByUser))
		for uid, n := range conv.UnreadByUser {
			dto.UnreadByUser[uid] = n
		}
	}
	unread := conv.UnreadFor(viewer)
	dto.UnreadCount = &unread
	if conv.Counterpart.UID != "" {
		dto.OtherUser = &UserDTO{
			UID:       conv.Counterpart.UID,
			Username:  conv.Counterpart.Username,
			Name:      conv.Counterpart.Name,
			AvatarURL: conv.Counterpart.AvatarURL,
		}
	}
	return dto
}

// MessageToDTO converts a message for the wire.
func MessageToDTO(m Message) MessageDTO {
	return MessageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderUID:      m.SenderUID,
		RecipientUID:   m.RecipientUID,
		Text:           m.Text,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

type GetConversationsRequest struct {
	UserUID string `json:"userUid"`
}

type GetMessagesRequest struct {
	ConversationID string `json:"conversationId"`
}

type ConversationUserRequest struct {
	ConversationID string `json:"conversationId"`
	UserUID        string `json:"userUid"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	SenderUID      string `json:"senderUid"`
	Text           string `json:"text"`
}

type EditMessageRequest struct {
	MessageID string `json:"messageId"`
	UserUID   string `json:"userUid"`
	Text      string `json:"text"`
}

type DeleteMessageRequest struct {
	MessageID string `json:"messageId"`
	UserUID   string `json:"userUid"`
}

type StartConversationRequest struct {
	CurrentUserUID string `json:"currentUserUid"`
	OtherUserUID   string `json:"otherUserUid"`
}

// Ack is the common acknowledgement envelope. Only the fields relevant to the
// acknowledged event are populated.
type Ack struct {
	OK             bool              `json:"ok"`
	Error          string            `json:"error,omitempty"`
	Conversations  []ConversationDTO `json:"conversations,omitempty"`
	Messages       []MessageDTO      `json:"messages,omitempty"`
	Message        *MessageDTO       `json:"message,omitempty"`
	Conversation   *ConversationDTO  `json:"conversation,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
	LegacyID       string            `json:"_id,omitempty"`
}

// FailedAck builds an ok:false acknowledgement.
func FailedAck(reason string) Ack {
	return Ack{OK: false, Error: reason}
}

type MessagePush struct {
	ConversationID string     `json:"conversationId"`
	Message        MessageDTO `json:"message"`
}

type MessageDeletedPush struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type MessageEditedPush struct {
	Message MessageDTO `json:"message"`
}

type ConversationDeletedPush struct {
	ConversationID string `json:"conversationId"`
}
