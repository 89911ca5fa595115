package chatd

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/tOgg1/atelier/internal/channel"
	"github.com/tOgg1/atelier/internal/chat"
	"github.com/tOgg1/atelier/internal/chatd/store"
)

// errForbidden rejects a request whose claimed uid differs from the
// connection's uid.
var errForbidden = errors.New("forbidden")

type eventHandler func(ctx context.Context, p *peer, data json.RawMessage) (chat.Ack, error)

func (d *Daemon) eventHandlers() map[string]eventHandler {
	return map[string]eventHandler{
		chat.EventGetConversations:   d.getConversations,
		chat.EventGetMessages:        d.getMessages,
		chat.EventJoinConversation:   d.joinConversation,
		chat.EventMarkRead:           d.markRead,
		chat.EventSendMessage:        d.sendMessage,
		chat.EventEditMessage:        d.editMessage,
		chat.EventDeleteMessage:      d.deleteMessage,
		chat.EventDeleteConversation: d.deleteConversation,
		chat.EventStartConversation:  d.startConversation,
	}
}

// handle runs one emission and, when it carries a correlation ID, answers
// with exactly one acknowledgement.
func (d *Daemon) handle(p *peer, frame channel.Frame) {
	start := time.Now()
	result := "ok"
	defer func() {
		d.metrics.events.WithLabelValues(frame.Event, result).Inc()
		d.metrics.eventDuration.WithLabelValues(frame.Event).Observe(time.Since(start).Seconds())
	}()

	handler, ok := d.handlers[frame.Event]
	if !ok {
		result = "unknown"
		p.logger.Warn().Str("event", frame.Event).Msg("unknown event")
		d.reply(p, frame, chat.FailedAck(chat.ReasonInvalid))
		return
	}
	if !p.limiter.Allow() {
		result = "rate_limited"
		d.reply(p, frame, chat.FailedAck(chat.ReasonRateLimited))
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, eventTimeout)
	defer cancel()
	ack, err := handler(ctx, p, frame.Data)
	if err != nil {
		reason := reasonFor(err)
		result = "rejected"
		event := p.logger.Info()
		if reason == chat.ReasonInternal {
			result = "error"
			event = p.logger.Error()
		}
		event.Err(err).Str("event", frame.Event).Str("reason", reason).Msg("event rejected")
		ack = chat.FailedAck(reason)
	} else {
		ack.OK = true
	}
	d.reply(p, frame, ack)
}

func (d *Daemon) reply(p *peer, frame channel.Frame, ack chat.Ack) {
	if frame.ID == "" {
		return
	}
	data, err := json.Marshal(ack)
	if err != nil {
		p.logger.Error().Err(err).Str("event", frame.Event).Msg("encode ack")
		return
	}
	if !p.enqueue(channel.Frame{Event: frame.Event, Ack: frame.ID, Data: data}) {
		d.dropSlow(p)
	}
}

// push queues a server event to peers.
func (d *Daemon) push(peers []*peer, event string, payload any) {
	if len(peers) == 0 {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error().Err(err).Str("event", event).Msg("encode push")
		return
	}
	frame := channel.Frame{Event: event, Data: data}
	for _, p := range peers {
		if p.enqueue(frame) {
			d.metrics.pushes.WithLabelValues(event).Inc()
			continue
		}
		d.dropSlow(p)
	}
}

func (d *Daemon) dropSlow(p *peer) {
	select {
	case <-p.done:
		return
	default:
	}
	p.logger.Warn().Msg("dropping slow connection")
	d.metrics.dropped.Inc()
	p.close()
}

func (d *Daemon) getConversations(ctx context.Context, p *peer, data json.RawMessage) (chat.Ack, error) {
	var req chat.GetConversationsRequest
	if err := decode(data, &req); err != nil {
		return chat.Ack{}, err
	}
	uid, err := authorize(p, "userUid", req.UserUID)
	if err != nil {
		return chat.Ack{}, err
	}
	convs, err := d.store.ListConversations(ctx, uid)
	if err != nil {
		return chat.Ack{}, err
	}
	ack := chat.Ack{Conversations: make([]chat.ConversationDTO, 0, len(convs))}
	for _, conv := range convs {
		ack.Conversations = append(ack.Conversations, chat.ConversationToDTO(conv, uid))
	}
	return ack, nil
}

func (d *Daemon) getMessages(ctx context.Context, p *peer, data json.RawMessage) (chat.Ack, error) {
	var req chat.GetMessagesRequest
	if err := decode(data, &req); err != nil {
		return chat.Ack{}, err
	}
	id, err := chat.RequireID("conversationId", req.ConversationID)
	if err != nil {
		return chat.Ack{}, err
	}
	if err := d.requireMember(ctx, p, id); err != nil {
		return chat.Ack{}, err
	}
	msgs, err := d.store.ListMessages(ctx, id)
	if err != nil {
		return chat.Ack{}, err
	}
	ack := chat.Ack{Messages: make([]chat.MessageDTO, 0, len(msgs))}
	for _, msg := range msgs {
		ack.Messages = append(ack.Messages, chat.MessageToDTO(msg))
	}
	return ack, nil
}

func (d *Daemon) joinConversation(ctx context.Context, p *peer, data json.RawMessage) (chat.Ack, error) {
	id, _, err := d.conversationUser(p, data)
	if err != nil {
		return chat.Ack{}, err
	}
	if err := d.requireMember(ctx, p, id); err != nil {
		return chat.Ack{}, err
	}
	d.hub.join(p, id)
	return chat.Ack{}, nil
}

func (d *Daemon) markRead(ctx context.Context, p *peer, data json.RawMessage) (chat.Ack, error) {
	id, uid, err := d.conversationUser(p, data)
	if err != nil {
		return chat.Ack{}, err
	}
	return chat.Ack{}, d.store.MarkRead(ctx, id, uid)
}

func (d *Daemon) sendMessage(ctx context.Context, p *peer, data json.RawMessage) (chat.Ack, error) {
	var req chat.SendMessageRequest
	if err := decode(data, &req); err != nil {
		return chat.Ack{}, err
	}
	id, err := chat.RequireID("conversationId", req.ConversationID)
	if err != nil {
		return chat.Ack{}, err
	}
	sender, err := authorize(p, "senderUid", req.SenderUID)
	if err != nil {
		return chat.Ack{}, err
	}
	text, err := chat.NormalizeText(req.Text)
	if err != nil {
		return chat.Ack{}, err
	}

	msg, err := d.store.SendMessage(ctx, id, sender, text)
	if err != nil {
		return chat.Ack{}, err
	}
	dto := chat.MessageToDTO(msg)
	d.push(d.hub.audience(id, []string{msg.SenderUID, msg.RecipientUID}, nil),
		chat.PushMessage, chat.MessagePush{ConversationID: id, Message: dto})
	return chat.Ack{Message: &dto}, nil
}

func (d *Daemon) editMessage(ctx context.Context, p *peer, data json.RawMessage) (chat.Ack, error) {
	var req chat.EditMessageRequest
	if err := decode(data, &req); err != nil {
		return chat.Ack{}, err
	}
	messageID, err := chat.RequireID("messageId", req.MessageID)
	if err != nil {
		return chat.Ack{}, err
	}
	uid, err := authorize(p, "userUid", req.UserUID)
	if err != nil {
		return chat.Ack{}, err
	}
	text, err := chat.NormalizeText(req.Text)
	if err != nil {
		return chat.Ack{}, err
	}

	msg, err := d.store.EditMessage(ctx, messageID, uid, text)
	if err != nil {
		return chat.Ack{}, err
	}
	dto := chat.MessageToDTO(msg)
	d.push(d.hub.audience(msg.ConversationID, []string{msg.SenderUID, msg.RecipientUID}, nil),
		chat.PushMessageEdited, chat.MessageEditedPush{Message: dto})
	return chat.Ack{Message: &dto}, nil
}

func (d *Daemon) deleteMessage(ctx context.Context, p *peer, data json.RawMessage) (chat.Ack, error) {
	var req chat.DeleteMessageRequest
	if err := decode(data, &req); err != nil {
		return chat.Ack{}, err
	}
	messageID, err := chat.RequireID("messageId", req.MessageID)
	if err != nil {
		return chat.Ack{}, err
	}
	uid, err := authorize(p, "userUid", req.UserUID)
	if err != nil {
		return chat.Ack{}, err
	}

	msg, err := d.store.DeleteMessage(ctx, messageID, uid)
	if err != nil {
		return chat.Ack{}, err
	}
	d.push(d.hub.audience(msg.ConversationID, []string{msg.SenderUID, msg.RecipientUID}, nil),
		chat.PushMessageDeleted, chat.MessageDeletedPush{MessageID: msg.ID, ConversationID: msg.ConversationID})
	return chat.Ack{}, nil
}

func (d *Daemon) deleteConversation(ctx context.Context, p *peer, data json.RawMessage) (chat.Ack, error) {
	id, uid, err := d.conversationUser(p, data)
	if err != nil {
		return chat.Ack{}, err
	}
	if err := d.store.DeleteConversation(ctx, id, uid); err != nil {
		return chat.Ack{}, err
	}
	d.push(d.hub.audience("", []string{uid}, p),
		chat.PushConversationDeleted, chat.ConversationDeletedPush{ConversationID: id})
	return chat.Ack{}, nil
}

func (d *Daemon) startConversation(ctx context.Context, p *peer, data json.RawMessage) (chat.Ack, error) {
	var req chat.StartConversationRequest
	if err := decode(data, &req); err != nil {
		return chat.Ack{}, err
	}
	uid, err := authorize(p, "currentUserUid", req.CurrentUserUID)
	if err != nil {
		return chat.Ack{}, err
	}
	other, err := chat.RequireID("otherUserUid", req.OtherUserUID)
	if err != nil {
		return chat.Ack{}, err
	}

	conv, created, err := d.store.StartConversation(ctx, uid, other)
	if err != nil {
		return chat.Ack{}, err
	}
	p.logger.Debug().Str("conversation", conv.ID).Bool("created", created).Msg("conversation started")
	dto := chat.ConversationToDTO(conv, uid)
	return chat.Ack{Conversation: &dto, ConversationID: conv.ID}, nil
}

func (d *Daemon) conversationUser(p *peer, data json.RawMessage) (string, string, error) {
	var req chat.ConversationUserRequest
	if err := decode(data, &req); err != nil {
		return "", "", err
	}
	id, err := chat.RequireID("conversationId", req.ConversationID)
	if err != nil {
		return "", "", err
	}
	uid, err := authorize(p, "userUid", req.UserUID)
	if err != nil {
		return "", "", err
	}
	return id, uid, nil
}

// requireMember checks that the connection's viewer takes part in
// conversation id. Anonymous connections are only checked for existence.
func (d *Daemon) requireMember(ctx context.Context, p *peer, id string) error {
	members, err := d.store.Participants(ctx, id)
	if err != nil {
		return err
	}
	if p.uid == "" {
		return nil
	}
	for _, member := range members {
		if member == p.uid {
			return nil
		}
	}
	return store.ErrNotParticipant
}

// authorize validates a claimed uid against the connection's uid.
func authorize(p *peer, field, claimed string) (string, error) {
	uid, err := chat.RequireID(field, claimed)
	if err != nil {
		return "", err
	}
	if p.uid != "" && uid != p.uid {
		return "", errForbidden
	}
	return uid, nil
}

func decode(data json.RawMessage, v any) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return &chat.ValidationError{Field: "payload", Reason: "required"}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &chat.ValidationError{Field: "payload", Reason: err.Error()}
	}
	return nil
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return chat.ReasonNotFound
	case errors.Is(err, store.ErrNotOwner):
		return chat.ReasonNotOwner
	case errors.Is(err, store.ErrNotParticipant):
		return chat.ReasonNotParticipant
	case errors.Is(err, errForbidden):
		return chat.ReasonForbidden
	case errors.Is(err, store.ErrInvalid), chat.IsValidation(err):
		return chat.ReasonInvalid
	default:
		return chat.ReasonInternal
	}
}
