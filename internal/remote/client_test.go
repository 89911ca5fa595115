package remote

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/atelier/internal/chat"
)

type emission struct {
	event   string
	payload any
	acked   bool
}

type fakeEmitter struct {
	mu      sync.Mutex
	acks    map[string]any
	errs    map[string]error
	hang    map[string]bool
	emitted []emission
	emitErr error
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{
		acks: make(map[string]any),
		errs: make(map[string]error),
		hang: make(map[string]bool),
	}
}

func (f *fakeEmitter) Emit(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, emission{event: event, payload: payload})
	return nil
}

func (f *fakeEmitter) EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	f.mu.Lock()
	f.emitted = append(f.emitted, emission{event: event, payload: payload, acked: true})
	err := f.errs[event]
	hang := f.hang[event]
	ack, ok := f.acks[event]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !ok {
		ack = chat.Ack{OK: true}
	}
	return json.Marshal(ack)
}

func (f *fakeEmitter) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.emitted))
	for _, e := range f.emitted {
		out = append(out, e.event)
	}
	return out
}

func strPtr(s string) *string { return &s }

func TestListConversationsConvertsAndSkipsBlankIDs(t *testing.T) {
	em := newFakeEmitter()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	em.acks[chat.EventGetConversations] = chat.Ack{OK: true, Conversations: []chat.ConversationDTO{
		{ID: "c1", LastMessageText: strPtr("hi"), LastMessageAt: &at, UnreadByUser: map[string]int{"u1": 2}},
		{ID: "  "},
	}}
	client := New(em)

	convs, err := client.ListConversations(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "hi", convs[0].LastMessageText)
	require.Equal(t, 2, convs[0].UnreadFor("u1"))
}

func TestListMessagesSortsByCreation(t *testing.T) {
	em := newFakeEmitter()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	em.acks[chat.EventGetMessages] = chat.Ack{OK: true, Messages: []chat.MessageDTO{
		{ID: "m2", ConversationID: "c1", CreatedAt: base.Add(time.Minute)},
		{ID: "m1", ConversationID: "c1", CreatedAt: base},
	}}
	msgs, err := New(em).ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, "m2", msgs[1].ID)
}

func TestRejectedAckBecomesRemoteError(t *testing.T) {
	em := newFakeEmitter()
	em.acks[chat.EventEditMessage] = chat.FailedAck(chat.ReasonNotOwner)

	_, err := New(em).EditMessage(context.Background(), "m1", "u1", "hi")
	require.True(t, chat.IsRemote(err))
	require.Equal(t, chat.ReasonNotOwner, chat.RemoteReason(err))
}

func TestValidationHappensBeforeEmission(t *testing.T) {
	em := newFakeEmitter()
	client := New(em)

	_, err := client.SendMessage(context.Background(), "c1", "u1", "   ")
	require.True(t, chat.IsValidation(err))
	_, err = client.EditMessage(context.Background(), "", "u1", "hi")
	require.True(t, chat.IsValidation(err))
	require.True(t, chat.IsValidation(client.DeleteMessage(context.Background(), "m1", "")))
	require.True(t, chat.IsValidation(client.JoinConversation(context.Background(), "", "u1")))
	_, err = client.StartConversation(context.Background(), "u1", "u1")
	require.True(t, chat.IsValidation(err))

	require.Empty(t, em.events())
}

func TestTimeoutBecomesOperationTimedOut(t *testing.T) {
	em := newFakeEmitter()
	em.hang[chat.EventSendMessage] = true
	client := New(em, WithTimeout(30*time.Millisecond))

	_, err := client.SendMessage(context.Background(), "c1", "u1", "hello")
	require.ErrorIs(t, err, chat.ErrOperationTimedOut)
}

func TestCallerCancellationIsNotATimeout(t *testing.T) {
	em := newFakeEmitter()
	em.hang[chat.EventGetMessages] = true
	client := New(em, WithTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := client.ListMessages(ctx, "c1")
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, chat.ErrOperationTimedOut)
}

func TestTransportErrorsPropagate(t *testing.T) {
	em := newFakeEmitter()
	em.errs[chat.EventDeleteConversation] = chat.ErrChannelUnavailable
	err := New(em).DeleteConversation(context.Background(), "c1", "u1")
	require.ErrorIs(t, err, chat.ErrChannelUnavailable)

	em.emitErr = chat.ErrChannelUnavailable
	require.ErrorIs(t, New(em).MarkRead(context.Background(), "c1", "u1"), chat.ErrChannelUnavailable)
}

func TestSendMessageRequiresMessageInAck(t *testing.T) {
	em := newFakeEmitter()
	_, err := New(em).SendMessage(context.Background(), "c1", "u1", "hello")
	require.ErrorContains(t, err, "ack carries no message")
}

func TestStartConversationAcceptsEveryIDShape(t *testing.T) {
	cases := []chat.Ack{
		{OK: true, Conversation: &chat.ConversationDTO{ID: "c9", OtherUser: &chat.UserDTO{UID: "u2", Name: "Rae"}}},
		{OK: true, ConversationID: "c9"},
		{OK: true, LegacyID: "c9"},
	}
	for _, ack := range cases {
		em := newFakeEmitter()
		em.acks[chat.EventStartConversation] = ack
		conv, err := New(em).StartConversation(context.Background(), "u1", "u2")
		require.NoError(t, err)
		require.Equal(t, "c9", conv.ID)
		require.Equal(t, "u2", conv.Counterpart.UID)
	}

	em := newFakeEmitter()
	_, err := New(em).StartConversation(context.Background(), "u1", "u2")
	require.ErrorContains(t, err, "no conversation id")
}

func TestJoinAndMarkReadAreFireAndForget(t *testing.T) {
	em := newFakeEmitter()
	client := New(em)
	require.NoError(t, client.JoinConversation(context.Background(), "c1", "u1"))
	require.NoError(t, client.MarkRead(context.Background(), "c1", "u1"))

	em.mu.Lock()
	defer em.mu.Unlock()
	require.Len(t, em.emitted, 2)
	require.False(t, em.emitted[0].acked)
	require.Equal(t, chat.ConversationUserRequest{ConversationID: "c1", UserUID: "u1"}, em.emitted[0].payload)
	require.Equal(t, chat.EventMarkRead, em.emitted[1].event)
}
