package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/atelier/internal/chat"
)

type fakeRemote struct {
	mu            sync.Mutex
	conversations []chat.Conversation
	listErr       error
	messages      map[string][]chat.Message
	historyErr    map[string]error
	gates         map[string]chan struct{}
	editErr       error
	deleteErr     error
	calls         []string
	nextID        int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		messages:   make(map[string][]chat.Message),
		historyErr: make(map[string]error),
		gates:      make(map[string]chan struct{}),
	}
}

func (f *fakeRemote) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) called(call string) bool {
	for _, c := range f.Calls() {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeRemote) ListConversations(ctx context.Context, viewer string) ([]chat.Conversation, error) {
	f.record("getConversations")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]chat.Conversation, len(f.conversations))
	for i, c := range f.conversations {
		out[i] = c.Clone()
	}
	return out, nil
}

func (f *fakeRemote) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	f.record("getMessages:" + conversationID)
	f.mu.Lock()
	gate := f.gates[conversationID]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.historyErr[conversationID]; err != nil {
		return nil, err
	}
	return append([]chat.Message(nil), f.messages[conversationID]...), nil
}

func (f *fakeRemote) SendMessage(ctx context.Context, conversationID, sender, text string) (chat.Message, error) {
	f.record("sendMessage:" + conversationID)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return chat.Message{
		ID:             fmt.Sprintf("sent-%d", f.nextID),
		ConversationID: conversationID,
		SenderUID:      sender,
		Text:           text,
		CreatedAt:      at(1000 + f.nextID),
	}, nil
}

func (f *fakeRemote) EditMessage(ctx context.Context, messageID, viewer, text string) (chat.Message, error) {
	f.record("editMessage:" + messageID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return chat.Message{}, f.editErr
	}
	for convID, msgs := range f.messages {
		for _, m := range msgs {
			if m.ID == messageID {
				m.ConversationID = convID
				m.Text = text
				return m, nil
			}
		}
	}
	return chat.Message{}, &chat.RemoteError{Op: chat.EventEditMessage, Reason: chat.ReasonNotFound}
}

func (f *fakeRemote) DeleteMessage(ctx context.Context, messageID, viewer string) error {
	f.record("deleteMessage:" + messageID)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteErr
}

func (f *fakeRemote) DeleteConversation(ctx context.Context, conversationID, viewer string) error {
	f.record("deleteConversation:" + conversationID)
	return nil
}

func (f *fakeRemote) StartConversation(ctx context.Context, viewer, other string) (chat.Conversation, error) {
	f.record("startConversation:" + other)
	return chat.Conversation{ID: "new-" + other, Counterpart: chat.Counterpart{UID: other}}, nil
}

func (f *fakeRemote) JoinConversation(ctx context.Context, conversationID, viewer string) error {
	f.record("joinConversation:" + conversationID)
	return nil
}

func (f *fakeRemote) MarkRead(ctx context.Context, conversationID, viewer string) error {
	f.record("markConversationRead:" + conversationID)
	return nil
}

type fakeSubscriber struct {
	mu       sync.Mutex
	handlers map[string]func(json.RawMessage)
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{handlers: make(map[string]func(json.RawMessage))}
}

func (s *fakeSubscriber) Subscribe(event string, handler func(json.RawMessage)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, event)
	}
}

func (s *fakeSubscriber) push(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	s.mu.Lock()
	h := s.handlers[event]
	s.mu.Unlock()
	require.NotNil(t, h, "no handler for %s", event)
	h(data)
}

func (s *fakeSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

func pushMessage(m chat.Message) chat.MessagePush {
	return chat.MessagePush{ConversationID: m.ConversationID, Message: chat.MessageToDTO(m)}
}

func newTestReconciler(t *testing.T, remote *fakeRemote) (*Reconciler, *fakeSubscriber) {
	t.Helper()
	subs := newFakeSubscriber()
	r := New("alice", remote, subs, zerolog.Nop())
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.Start(context.Background()))
	return r, subs
}

// flush waits until every queued mailbox entry has been applied.
func flush(t *testing.T, r *Reconciler) {
	t.Helper()
	require.True(t, r.do(func() {}))
}

func TestStartPullsConversations(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 10, 1), conv("c2", 20, 2)}
	r, subs := newTestReconciler(t, remote)

	snap := r.Snapshot()
	require.Equal(t, []string{"c2", "c1"}, ids(snap.Conversations))
	require.Equal(t, 3, snap.TotalUnread)
	require.Equal(t, PhaseIdle, snap.Phase)
	require.False(t, snap.ListLoading)
	require.Equal(t, 4, subs.count())
}

func TestListPullFailureKeepsPreviousList(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 10, 0)}
	r, _ := newTestReconciler(t, remote)

	remote.mu.Lock()
	remote.listErr = chat.ErrChannelUnavailable
	remote.mu.Unlock()

	err := r.RefreshConversations(context.Background())
	require.ErrorIs(t, err, chat.ErrChannelUnavailable)

	snap := r.Snapshot()
	require.Equal(t, []string{"c1"}, ids(snap.Conversations))
	require.ErrorIs(t, snap.ListError, chat.ErrChannelUnavailable)
}

func TestOpenJoinsBeforePullAndMarksRead(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 10, 4)}
	remote.messages["c1"] = []chat.Message{
		msg("m2", "c1", "bob", "second", 9),
		msg("m1", "c1", "bob", "first", 5),
	}
	r, _ := newTestReconciler(t, remote)

	require.NoError(t, r.Open(context.Background(), "c1"))

	require.Equal(t, []string{
		"getConversations",
		"joinConversation:c1",
		"getMessages:c1",
		"markConversationRead:c1",
	}, remote.Calls())

	snap := r.Snapshot()
	require.Equal(t, PhaseReady, snap.Phase)
	require.Equal(t, "c1", snap.ActiveID)
	require.Equal(t, []string{"m1", "m2"}, messageIDs(snap.Messages))
	active, ok := snap.Active()
	require.True(t, ok)
	require.Equal(t, 0, active.UnreadFor("alice"))
}

func TestOpenRejectsEmptyID(t *testing.T) {
	r, _ := newTestReconciler(t, newFakeRemote())
	err := r.Open(context.Background(), "  ")
	require.True(t, chat.IsValidation(err))
}

// A push for a conversation other than the active one updates the list
// only.
func TestPushForOtherConversationLeavesThread(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 10, 0), conv("c2", 20, 0)}
	remote.messages["c2"] = []chat.Message{msg("m1", "c2", "bob", "hello", 20)}
	r, subs := newTestReconciler(t, remote)
	require.NoError(t, r.Open(context.Background(), "c2"))

	subs.push(t, chat.PushMessage, pushMessage(msg("x1", "c1", "carol", "hey alice", 40)))
	flush(t, r)

	snap := r.Snapshot()
	require.Equal(t, []string{"m1"}, messageIDs(snap.Messages))
	require.Equal(t, []string{"c1", "c2"}, ids(snap.Conversations))
	require.Equal(t, "hey alice", snap.Conversations[0].LastMessageText)
	require.Equal(t, 1, snap.Conversations[0].UnreadFor("alice"))
}

func TestPushForActiveConversationAppendsAndMarksRead(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 10, 0)}
	remote.messages["c1"] = []chat.Message{msg("m1", "c1", "bob", "one", 10)}
	r, subs := newTestReconciler(t, remote)
	require.NoError(t, r.Open(context.Background(), "c1"))

	incoming := msg("m2", "c1", "bob", "two", 20)
	subs.push(t, chat.PushMessage, pushMessage(incoming))
	subs.push(t, chat.PushMessage, pushMessage(incoming))
	flush(t, r)

	snap := r.Snapshot()
	require.Equal(t, []string{"m1", "m2"}, messageIDs(snap.Messages))
	require.Equal(t, 0, snap.Conversations[0].UnreadFor("alice"))
	require.Equal(t, "two", snap.Conversations[0].LastMessageText)

	require.Eventually(t, func() bool {
		n := 0
		for _, c := range remote.Calls() {
			if c == "markConversationRead:c1" {
				n++
			}
		}
		return n == 2
	}, time.Second, 10*time.Millisecond)
}

func TestPushForUnknownConversationRefreshesList(t *testing.T) {
	remote := newFakeRemote()
	r, subs := newTestReconciler(t, remote)
	require.Empty(t, r.Snapshot().Conversations)

	remote.mu.Lock()
	remote.conversations = []chat.Conversation{conv("fresh", 50, 1)}
	remote.mu.Unlock()

	subs.push(t, chat.PushMessage, pushMessage(msg("m1", "fresh", "bob", "first contact", 50)))

	require.Eventually(t, func() bool {
		return len(r.Snapshot().Conversations) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "fresh", r.Snapshot().Conversations[0].ID)
}

// Two quick switches: the first pull resolves last and must be discarded.
func TestRapidSwitchDiscardsStaleHistory(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("a", 10, 0), conv("b", 20, 0)}
	remote.messages["a"] = []chat.Message{msg("a1", "a", "bob", "from a", 10)}
	remote.messages["b"] = []chat.Message{msg("b1", "b", "carol", "from b", 20)}
	gate := make(chan struct{})
	remote.gates["a"] = gate
	r, _ := newTestReconciler(t, remote)

	errCh := make(chan error, 1)
	go func() { errCh <- r.Open(context.Background(), "a") }()
	require.Eventually(t, func() bool { return remote.called("getMessages:a") }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Open(context.Background(), "b"))
	close(gate)
	require.NoError(t, <-errCh)

	snap := r.Snapshot()
	require.Equal(t, "b", snap.ActiveID)
	require.Equal(t, PhaseReady, snap.Phase)
	require.Equal(t, []string{"b1"}, messageIDs(snap.Messages))
	require.False(t, remote.called("markConversationRead:a"))
}

func TestPushDuringLoadIsMergedOnce(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 10, 0)}
	remote.messages["c1"] = []chat.Message{
		msg("m1", "c1", "bob", "one", 10),
		msg("m2", "c1", "bob", "two", 20),
	}
	gate := make(chan struct{})
	remote.gates["c1"] = gate
	r, subs := newTestReconciler(t, remote)

	errCh := make(chan error, 1)
	go func() { errCh <- r.Open(context.Background(), "c1") }()
	require.Eventually(t, func() bool { return remote.called("getMessages:c1") }, time.Second, 5*time.Millisecond)
	require.Equal(t, PhaseLoading, r.Snapshot().Phase)

	subs.push(t, chat.PushMessage, pushMessage(msg("m2", "c1", "bob", "two", 20)))
	subs.push(t, chat.PushMessage, pushMessage(msg("m3", "c1", "bob", "three", 30)))
	flush(t, r)
	require.Empty(t, r.Snapshot().Messages)

	close(gate)
	require.NoError(t, <-errCh)

	snap := r.Snapshot()
	require.Equal(t, []string{"m1", "m2", "m3"}, messageIDs(snap.Messages))
	require.Equal(t, "three", snap.Conversations[0].LastMessageText)
}

func TestHistoryFailureEntersFailed(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 10, 2)}
	remote.historyErr["c1"] = chat.ErrOperationTimedOut
	r, _ := newTestReconciler(t, remote)

	err := r.Open(context.Background(), "c1")
	require.ErrorIs(t, err, chat.ErrOperationTimedOut)

	snap := r.Snapshot()
	require.Equal(t, PhaseFailed, snap.Phase)
	require.ErrorIs(t, snap.ThreadError, chat.ErrOperationTimedOut)
	require.Empty(t, snap.Messages)
	require.Equal(t, []string{"c1"}, ids(snap.Conversations))
	require.Contains(t, snap.Describe(), "failed to load")
	require.False(t, remote.called("markConversationRead:c1"))
}

// Deleting the newest message recomputes the preview from the new last
// message.
func TestDeleteLastMessageRecomputesPreview(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 30, 0)}
	remote.messages["c1"] = []chat.Message{
		msg("m1", "c1", "alice", "hello", 10),
		msg("m2", "c1", "alice", "bye", 30),
	}
	r, _ := newTestReconciler(t, remote)
	require.NoError(t, r.Open(context.Background(), "c1"))

	require.NoError(t, r.Delete(context.Background(), "m2"))

	snap := r.Snapshot()
	require.Equal(t, []string{"m1"}, messageIDs(snap.Messages))
	require.Equal(t, "hello", snap.Conversations[0].LastMessageText)
	require.Equal(t, at(10), snap.Conversations[0].LastMessageAt)

	require.NoError(t, r.Delete(context.Background(), "m1"))
	snap = r.Snapshot()
	require.Empty(t, snap.Messages)
	require.Empty(t, snap.Conversations[0].LastMessageText)
	require.True(t, snap.Conversations[0].LastMessageAt.IsZero())
}

func TestDeletePushForInactiveConversationIgnored(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 30, 0), conv("c2", 10, 0)}
	remote.messages["c2"] = []chat.Message{msg("m1", "c2", "bob", "x", 10)}
	r, subs := newTestReconciler(t, remote)
	require.NoError(t, r.Open(context.Background(), "c2"))

	subs.push(t, chat.PushMessageDeleted, chat.MessageDeletedPush{MessageID: "m1", ConversationID: "c1"})
	flush(t, r)
	require.Equal(t, []string{"m1"}, messageIDs(r.Snapshot().Messages))

	subs.push(t, chat.PushMessageDeleted, chat.MessageDeletedPush{MessageID: "m1", ConversationID: "c2"})
	flush(t, r)
	require.Empty(t, r.Snapshot().Messages)
}

// A rejected edit leaves every piece of local state untouched.
func TestRejectedEditLeavesStateUnchanged(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 10, 0)}
	remote.messages["c1"] = []chat.Message{msg("m1", "c1", "bob", "bob's words", 10)}
	remote.editErr = &chat.RemoteError{Op: chat.EventEditMessage, Reason: chat.ReasonNotOwner}
	r, _ := newTestReconciler(t, remote)
	require.NoError(t, r.Open(context.Background(), "c1"))
	before := r.Snapshot()

	_, err := r.Edit(context.Background(), "m1", "hijacked")
	require.True(t, chat.IsRemote(err))
	require.Equal(t, chat.ReasonNotOwner, chat.RemoteReason(err))

	after := r.Snapshot()
	require.Equal(t, before.Messages, after.Messages)
	require.Equal(t, before.Conversations, after.Conversations)
}

func TestEditAppliesAcknowledgedMessage(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 20, 0)}
	remote.messages["c1"] = []chat.Message{
		msg("m1", "c1", "alice", "tpyo", 10),
		msg("m2", "c1", "bob", "later", 20),
	}
	r, _ := newTestReconciler(t, remote)
	require.NoError(t, r.Open(context.Background(), "c1"))

	edited, err := r.Edit(context.Background(), "m1", "typo")
	require.NoError(t, err)
	require.Equal(t, "typo", edited.Text)

	snap := r.Snapshot()
	require.Equal(t, []string{"m1", "m2"}, messageIDs(snap.Messages))
	require.Equal(t, "typo", snap.Messages[0].Text)
	require.Equal(t, "later", snap.Conversations[0].LastMessageText)
}

func TestSendRequiresActiveConversation(t *testing.T) {
	r, _ := newTestReconciler(t, newFakeRemote())
	_, err := r.Send(context.Background(), "hello")
	require.ErrorIs(t, err, chat.ErrNoActiveConversation)
}

func TestSendAppliesAckAndEchoOnce(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 10, 0), conv("c2", 20, 0)}
	r, subs := newTestReconciler(t, remote)
	require.NoError(t, r.Open(context.Background(), "c1"))

	sent, err := r.Send(context.Background(), "hi bob")
	require.NoError(t, err)
	subs.push(t, chat.PushMessage, pushMessage(sent))
	flush(t, r)

	snap := r.Snapshot()
	require.Equal(t, []string{sent.ID}, messageIDs(snap.Messages))
	require.Equal(t, []string{"c1", "c2"}, ids(snap.Conversations))
	require.Equal(t, "hi bob", snap.Conversations[0].LastMessageText)
	require.Equal(t, 0, snap.Conversations[0].UnreadFor("alice"))
}

// The echo of a sent message and a newer reply can both land before the
// send acknowledgement. The late ack must not roll the preview back.
func TestLateSendAckKeepsNewerPreview(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 10, 0)}
	r, subs := newTestReconciler(t, remote)
	require.NoError(t, r.Open(context.Background(), "c1"))

	subs.push(t, chat.PushMessage, pushMessage(msg("sent-1", "c1", "alice", "mine", 1001)))
	subs.push(t, chat.PushMessage, pushMessage(msg("m2", "c1", "bob", "reply", 2000)))
	flush(t, r)

	sent, err := r.Send(context.Background(), "mine")
	require.NoError(t, err)
	require.Equal(t, "sent-1", sent.ID)

	snap := r.Snapshot()
	require.Equal(t, []string{"sent-1", "m2"}, messageIDs(snap.Messages))
	require.Equal(t, "reply", snap.Conversations[0].LastMessageText)
	require.Equal(t, at(2000), snap.Conversations[0].LastMessageAt)
	require.Equal(t, 0, snap.Conversations[0].UnreadFor("alice"))
}

func TestRepeatedPushForInactiveConversationCountsOnce(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 10, 0), conv("c2", 20, 0)}
	r, subs := newTestReconciler(t, remote)
	require.NoError(t, r.Open(context.Background(), "c1"))

	repeated := msg("m9", "c2", "bob", "ping", 30)
	subs.push(t, chat.PushMessage, pushMessage(repeated))
	subs.push(t, chat.PushMessage, pushMessage(repeated))
	flush(t, r)

	snap := r.Snapshot()
	require.Equal(t, []string{"c2", "c1"}, ids(snap.Conversations))
	require.Equal(t, 1, snap.Conversations[0].UnreadFor("alice"))
	require.Equal(t, 1, snap.TotalUnread)
}

// A message the viewer sent from another device never counts as unread,
// even for a conversation that is not open.
func TestOwnPushForInactiveConversationStaysRead(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 10, 0), conv("c2", 20, 0)}
	r, subs := newTestReconciler(t, remote)
	require.NoError(t, r.Open(context.Background(), "c1"))

	subs.push(t, chat.PushMessage, pushMessage(msg("o1", "c2", "alice", "from my phone", 30)))
	flush(t, r)

	snap := r.Snapshot()
	require.Equal(t, []string{"c2", "c1"}, ids(snap.Conversations))
	require.Equal(t, "from my phone", snap.Conversations[0].LastMessageText)
	require.Equal(t, 0, snap.Conversations[0].UnreadFor("alice"))
	require.Equal(t, []string{}, messageIDs(snap.Messages))
}

func TestConversationDeletedPushClosesThread(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 10, 0)}
	r, subs := newTestReconciler(t, remote)
	require.NoError(t, r.Open(context.Background(), "c1"))

	subs.push(t, chat.PushConversationDeleted, chat.ConversationDeletedPush{ConversationID: "c1"})
	flush(t, r)

	snap := r.Snapshot()
	require.Empty(t, snap.Conversations)
	require.Equal(t, PhaseIdle, snap.Phase)
	require.Empty(t, snap.ActiveID)
}

func TestDeleteConversationRemovesAfterAck(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 10, 0), conv("c2", 20, 0)}
	r, _ := newTestReconciler(t, remote)

	require.NoError(t, r.DeleteConversation(context.Background(), "c1"))
	require.Equal(t, []string{"c2"}, ids(r.Snapshot().Conversations))
}

func TestStartConversationAddsToList(t *testing.T) {
	r, _ := newTestReconciler(t, newFakeRemote())

	c, err := r.StartConversation(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, "new-bob", c.ID)
	require.Equal(t, []string{"new-bob"}, ids(r.Snapshot().Conversations))
}

func TestCloseThreadDiscardsInflightLoad(t *testing.T) {
	remote := newFakeRemote()
	remote.conversations = []chat.Conversation{conv("c1", 10, 0)}
	remote.messages["c1"] = []chat.Message{msg("m1", "c1", "bob", "x", 10)}
	gate := make(chan struct{})
	remote.gates["c1"] = gate
	r, _ := newTestReconciler(t, remote)

	errCh := make(chan error, 1)
	go func() { errCh <- r.Open(context.Background(), "c1") }()
	require.Eventually(t, func() bool { return remote.called("getMessages:c1") }, time.Second, 5*time.Millisecond)

	r.CloseThread()
	close(gate)
	require.NoError(t, <-errCh)

	snap := r.Snapshot()
	require.Equal(t, PhaseIdle, snap.Phase)
	require.Empty(t, snap.Messages)
}

func TestUpdatesSignalsChanges(t *testing.T) {
	r, subs := newTestReconciler(t, newFakeRemote())
	// Drain the signal left by Start.
	select {
	case <-r.Updates():
	default:
	}

	subs.push(t, chat.PushConversationDeleted, chat.ConversationDeletedPush{ConversationID: "none"})
	select {
	case <-r.Updates():
	case <-time.After(time.Second):
		t.Fatal("expected update signal")
	}
}

func TestClosedReconcilerRejectsOperations(t *testing.T) {
	remote := newFakeRemote()
	subs := newFakeSubscriber()
	r := New("alice", remote, subs, zerolog.Nop())
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	require.Zero(t, subs.count())
	err := r.Open(context.Background(), "c1")
	require.True(t, errors.Is(err, ErrClosed))
	_, err = r.Send(context.Background(), "x")
	require.ErrorIs(t, err, ErrClosed)
}
