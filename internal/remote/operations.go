package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/tOgg1/atelier/internal/chat"
)

// ListConversations pulls the viewer's conversation summaries.
func (c *Client) ListConversations(ctx context.Context, viewer string) ([]chat.Conversation, error) {
	viewer, err := chat.RequireID("userUid", viewer)
	if err != nil {
		return nil, err
	}
	ack, err := c.call(ctx, chat.EventGetConversations, chat.GetConversationsRequest{UserUID: viewer})
	if err != nil {
		return nil, err
	}
	out := make([]chat.Conversation, 0, len(ack.Conversations))
	for _, dto := range ack.Conversations {
		if strings.TrimSpace(dto.ID) == "" {
			continue
		}
		out = append(out, chat.ConversationFromDTO(dto, viewer))
	}
	return out, nil
}

// ListMessages pulls the history of a conversation ordered by creation time.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	conversationID, err := chat.RequireID("conversationId", conversationID)
	if err != nil {
		return nil, err
	}
	ack, err := c.call(ctx, chat.EventGetMessages, chat.GetMessagesRequest{ConversationID: conversationID})
	if err != nil {
		return nil, err
	}
	out := make([]chat.Message, 0, len(ack.Messages))
	for _, dto := range ack.Messages {
		out = append(out, chat.MessageFromDTO(dto))
	}
	chat.SortMessages(out)
	return out, nil
}

// SendMessage posts text to a conversation and returns the stored message.
func (c *Client) SendMessage(ctx context.Context, conversationID, sender, text string) (chat.Message, error) {
	conversationID, err := chat.RequireID("conversationId", conversationID)
	if err != nil {
		return chat.Message{}, err
	}
	if sender, err = chat.RequireID("senderUid", sender); err != nil {
		return chat.Message{}, err
	}
	if text, err = chat.NormalizeText(text); err != nil {
		return chat.Message{}, err
	}
	ack, err := c.call(ctx, chat.EventSendMessage, chat.SendMessageRequest{
		ConversationID: conversationID,
		SenderUID:      sender,
		Text:           text,
	})
	if err != nil {
		return chat.Message{}, err
	}
	return ackMessage(chat.EventSendMessage, ack)
}

// EditMessage replaces the text of a message owned by viewer.
func (c *Client) EditMessage(ctx context.Context, messageID, viewer, text string) (chat.Message, error) {
	messageID, err := chat.RequireID("messageId", messageID)
	if err != nil {
		return chat.Message{}, err
	}
	if viewer, err = chat.RequireID("userUid", viewer); err != nil {
		return chat.Message{}, err
	}
	if text, err = chat.NormalizeText(text); err != nil {
		return chat.Message{}, err
	}
	ack, err := c.call(ctx, chat.EventEditMessage, chat.EditMessageRequest{
		MessageID: messageID,
		UserUID:   viewer,
		Text:      text,
	})
	if err != nil {
		return chat.Message{}, err
	}
	return ackMessage(chat.EventEditMessage, ack)
}

// DeleteMessage removes a message owned by viewer.
func (c *Client) DeleteMessage(ctx context.Context, messageID, viewer string) error {
	messageID, err := chat.RequireID("messageId", messageID)
	if err != nil {
		return err
	}
	if viewer, err = chat.RequireID("userUid", viewer); err != nil {
		return err
	}
	_, err = c.call(ctx, chat.EventDeleteMessage, chat.DeleteMessageRequest{MessageID: messageID, UserUID: viewer})
	return err
}

// DeleteConversation removes a conversation from the viewer's list.
func (c *Client) DeleteConversation(ctx context.Context, conversationID, viewer string) error {
	req, err := conversationUser(conversationID, viewer)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, chat.EventDeleteConversation, req)
	return err
}

// StartConversation returns the conversation between viewer and other,
// creating it on first contact. The daemon may answer with a full summary or
// only an ID under either conversationId or _id.
func (c *Client) StartConversation(ctx context.Context, viewer, other string) (chat.Conversation, error) {
	viewer, err := chat.RequireID("currentUserUid", viewer)
	if err != nil {
		return chat.Conversation{}, err
	}
	if other, err = chat.RequireID("otherUserUid", other); err != nil {
		return chat.Conversation{}, err
	}
	if viewer == other {
		return chat.Conversation{}, &chat.ValidationError{Field: "otherUserUid", Reason: "cannot message yourself"}
	}
	ack, err := c.call(ctx, chat.EventStartConversation, chat.StartConversationRequest{
		CurrentUserUID: viewer,
		OtherUserUID:   other,
	})
	if err != nil {
		return chat.Conversation{}, err
	}
	if ack.Conversation != nil && strings.TrimSpace(ack.Conversation.ID) != "" {
		return chat.ConversationFromDTO(*ack.Conversation, viewer), nil
	}
	for _, id := range []string{ack.ConversationID, ack.LegacyID} {
		if id = strings.TrimSpace(id); id != "" {
			return chat.Conversation{
				ID:           id,
				UnreadByUser: map[string]int{viewer: 0},
				Counterpart:  chat.Counterpart{UID: other},
			}, nil
		}
	}
	return chat.Conversation{}, fmt.Errorf("%s: ack carries no conversation id", chat.EventStartConversation)
}

// JoinConversation subscribes the viewer to pushes for a conversation.
func (c *Client) JoinConversation(ctx context.Context, conversationID, viewer string) error {
	req, err := conversationUser(conversationID, viewer)
	if err != nil {
		return err
	}
	return c.emit(ctx, chat.EventJoinConversation, req)
}

// MarkRead resets the viewer's unread counter on the daemon.
func (c *Client) MarkRead(ctx context.Context, conversationID, viewer string) error {
	req, err := conversationUser(conversationID, viewer)
	if err != nil {
		return err
	}
	return c.emit(ctx, chat.EventMarkRead, req)
}

func conversationUser(conversationID, viewer string) (chat.ConversationUserRequest, error) {
	conversationID, err := chat.RequireID("conversationId", conversationID)
	if err != nil {
		return chat.ConversationUserRequest{}, err
	}
	if viewer, err = chat.RequireID("userUid", viewer); err != nil {
		return chat.ConversationUserRequest{}, err
	}
	return chat.ConversationUserRequest{ConversationID: conversationID, UserUID: viewer}, nil
}

func ackMessage(op string, ack chat.Ack) (chat.Message, error) {
	if ack.Message == nil || strings.TrimSpace(ack.Message.ID) == "" {
		return chat.Message{}, fmt.Errorf("%s: ack carries no message", op)
	}
	return chat.MessageFromDTO(*ack.Message), nil
}
