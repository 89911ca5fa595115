package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/atelier/internal/chat"
	"github.com/tOgg1/atelier/internal/logging"
)

const (
	mailboxSize       = 256
	fireForgetTimeout = 5 * time.Second
)

// ErrClosed is returned by operations on a closed Reconciler.
var ErrClosed = errors.New("inbox closed")

// Phase is the load state of the active thread.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseFailed  Phase = "failed"
)

// Remote is the set of server operations the reconciler drives.
// *remote.Client satisfies it.
type Remote interface {
	ListConversations(ctx context.Context, viewer string) ([]chat.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
	SendMessage(ctx context.Context, conversationID, sender, text string) (chat.Message, error)
	EditMessage(ctx context.Context, messageID, viewer, text string) (chat.Message, error)
	DeleteMessage(ctx context.Context, messageID, viewer string) error
	DeleteConversation(ctx context.Context, conversationID, viewer string) error
	StartConversation(ctx context.Context, viewer, other string) (chat.Conversation, error)
	JoinConversation(ctx context.Context, conversationID, viewer string) error
	MarkRead(ctx context.Context, conversationID, viewer string) error
}

// Subscriber registers push handlers. *channel.Conn satisfies it.
type Subscriber interface {
	Subscribe(event string, handler func(data json.RawMessage)) func()
}

// Snapshot is an immutable view of the reconciler state.
type Snapshot struct {
	Viewer        string
	Phase         Phase
	ActiveID      string
	Generation    uint64
	Conversations []chat.Conversation
	Messages      []chat.Message
	ListLoading   bool
	ListError     error
	ThreadError   error
	TotalUnread   int
}

// Active returns the summary of the active conversation, if listed.
func (s Snapshot) Active() (chat.Conversation, bool) {
	if s.ActiveID == "" {
		return chat.Conversation{}, false
	}
	for _, conv := range s.Conversations {
		if conv.ID == s.ActiveID {
			return conv, true
		}
	}
	return chat.Conversation{}, false
}

// Reconciler owns the list and thread state. A single goroutine applies
// push events, pull results, and acknowledged mutations in mailbox order.
type Reconciler struct {
	viewer string
	remote Remote
	subs   Subscriber
	logger zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	mailbox chan op
	done    chan struct{}
	updates chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	unsubMu   sync.Mutex
	unsub     []func()

	snapMu sync.RWMutex
	snap   Snapshot

	// Owned by the actor goroutine.
	list        *List
	thread      *Thread
	phase       Phase
	activeID    string
	generation  uint64
	replay      []func(*Thread)
	listLoading bool
	listErr     error
	threadErr   error
}

// New starts a reconciler for viewer. Call Start to subscribe and pull the
// conversation list.
func New(viewer string, remote Remote, subs Subscriber, logger zerolog.Logger) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		viewer:  strings.TrimSpace(viewer),
		remote:  remote,
		subs:    subs,
		logger:  logger.With().Str("component", "inbox").Str("viewer", viewer).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		mailbox: make(chan op, mailboxSize),
		done:    make(chan struct{}),
		updates: make(chan struct{}, 1),
		list:    NewList(viewer),
		thread:  NewThread(),
		phase:   PhaseIdle,
	}
	r.publish()
	go r.loop()
	return r
}

// Viewer returns the uid the reconciler acts for.
func (r *Reconciler) Viewer() string { return r.viewer }

// Start subscribes to push events once and pulls the conversation list.
func (r *Reconciler) Start(ctx context.Context) error {
	r.startOnce.Do(func() {
		if r.subs == nil {
			return
		}
		r.unsubMu.Lock()
		defer r.unsubMu.Unlock()
		r.unsub = append(r.unsub,
			r.subs.Subscribe(chat.PushMessage, r.onMessage),
			r.subs.Subscribe(chat.PushMessageEdited, r.onMessageEdited),
			r.subs.Subscribe(chat.PushMessageDeleted, r.onMessageDeleted),
			r.subs.Subscribe(chat.PushConversationDeleted, r.onConversationDeleted),
		)
	})
	return r.RefreshConversations(ctx)
}

// RefreshConversations re-pulls the conversation list. On failure the
// previous list is kept and the error is exposed in the snapshot.
func (r *Reconciler) RefreshConversations(ctx context.Context) error {
	if !r.do(func() { r.listLoading = true }) {
		return ErrClosed
	}
	convs, err := r.remote.ListConversations(ctx, r.viewer)
	if !r.do(func() { r.applyConversations(convs, err) }) {
		return ErrClosed
	}
	return err
}

// Open makes conversationID the active thread: it joins the conversation,
// pulls its history, and marks it read. Results of a superseded Open are
// discarded.
func (r *Reconciler) Open(ctx context.Context, conversationID string) error {
	conversationID, err := chat.RequireID("conversationId", conversationID)
	if err != nil {
		return err
	}

	var gen uint64
	if !r.do(func() {
		r.generation++
		gen = r.generation
		r.activeID = conversationID
		r.phase = PhaseLoading
		r.threadErr = nil
		r.replay = nil
		r.thread.Clear()
	}) {
		return ErrClosed
	}

	var msgs []chat.Message
	err = r.remote.JoinConversation(ctx, conversationID, r.viewer)
	if err == nil {
		msgs, err = r.remote.ListMessages(ctx, conversationID)
	}

	applied, stale := false, false
	if !r.do(func() {
		stale = gen != r.generation
		applied = r.applyHistory(conversationID, gen, msgs, err)
	}) {
		return ErrClosed
	}
	if stale {
		return nil
	}
	if !applied {
		return err
	}
	if err := r.remote.MarkRead(ctx, conversationID, r.viewer); err != nil {
		logger := logging.WithConversation(r.logger, conversationID)
		logger.Warn().Err(err).Msg("mark read failed")
	}
	return nil
}

// Resync re-pulls the list and reopens the active conversation. It is meant
// for after a reconnect, when pushes may have been missed.
func (r *Reconciler) Resync(ctx context.Context) error {
	var active string
	if !r.do(func() { active = r.activeID }) {
		return ErrClosed
	}
	if err := r.RefreshConversations(ctx); err != nil {
		return err
	}
	if active == "" {
		return nil
	}
	return r.Open(ctx, active)
}

// CloseThread leaves the active conversation.
func (r *Reconciler) CloseThread() {
	r.do(r.resetThread)
}

// Send posts text to the active conversation. Local state changes only
// after the acknowledgement.
func (r *Reconciler) Send(ctx context.Context, text string) (chat.Message, error) {
	conversationID, err := r.activeConversation()
	if err != nil {
		return chat.Message{}, err
	}
	msg, err := r.remote.SendMessage(ctx, conversationID, r.viewer, text)
	if err != nil {
		return chat.Message{}, err
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	if !r.do(func() { r.applyIncoming(msg.ConversationID, msg) }) {
		return msg, ErrClosed
	}
	return msg, nil
}

// Edit replaces the text of one of the viewer's messages.
func (r *Reconciler) Edit(ctx context.Context, messageID, text string) (chat.Message, error) {
	msg, err := r.remote.EditMessage(ctx, messageID, r.viewer, text)
	if err != nil {
		return chat.Message{}, err
	}
	if !r.do(func() { r.applyEdited(msg) }) {
		return msg, ErrClosed
	}
	return msg, nil
}

// Delete removes one of the viewer's messages from the active conversation.
func (r *Reconciler) Delete(ctx context.Context, messageID string) error {
	conversationID, err := r.activeConversation()
	if err != nil {
		return err
	}
	if err := r.remote.DeleteMessage(ctx, messageID, r.viewer); err != nil {
		return err
	}
	if !r.do(func() { r.applyDeleted(conversationID, messageID) }) {
		return ErrClosed
	}
	return nil
}

// DeleteConversation hides conversationID for the viewer.
func (r *Reconciler) DeleteConversation(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if err := r.remote.DeleteConversation(ctx, conversationID, r.viewer); err != nil {
		return err
	}
	if !r.do(func() { r.applyConversationDeleted(conversationID) }) {
		return ErrClosed
	}
	return nil
}

// StartConversation finds or creates the conversation with other and adds
// it to the list.
func (r *Reconciler) StartConversation(ctx context.Context, other string) (chat.Conversation, error) {
	conv, err := r.remote.StartConversation(ctx, r.viewer, other)
	if err != nil {
		return chat.Conversation{}, err
	}
	if !r.do(func() { r.list.Upsert(conv) }) {
		return conv, ErrClosed
	}
	return conv, nil
}

// Snapshot returns the latest published state.
func (r *Reconciler) Snapshot() Snapshot {
	r.snapMu.RLock()
	defer r.snapMu.RUnlock()
	return r.snap
}

// Updates signals after every state change. Signals coalesce; read
// Snapshot after each one.
func (r *Reconciler) Updates() <-chan struct{} {
	return r.updates
}

// Close unsubscribes from the channel and stops the actor.
func (r *Reconciler) Close() error {
	r.closeOnce.Do(func() {
		r.unsubMu.Lock()
		for _, fn := range r.unsub {
			fn()
		}
		r.unsub = nil
		r.unsubMu.Unlock()
		r.cancel()
		<-r.done
	})
	return nil
}

func (r *Reconciler) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return
		case o := <-r.mailbox:
			o.fn()
			r.publish()
			if o.done != nil {
				close(o.done)
			}
		}
	}
}

// op is one mailbox entry. done, when set, closes after the resulting
// snapshot is published.
type op struct {
	fn   func()
	done chan struct{}
}

// post enqueues fn for the actor without waiting for it to run.
func (r *Reconciler) post(fn func()) bool {
	return r.enqueue(op{fn: fn})
}

func (r *Reconciler) enqueue(o op) bool {
	select {
	case <-r.ctx.Done():
		return false
	case r.mailbox <- o:
		return true
	}
}

// do runs fn on the actor and waits until its effect is published.
func (r *Reconciler) do(fn func()) bool {
	finished := make(chan struct{})
	if !r.enqueue(op{fn: fn, done: finished}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-r.done:
		return false
	}
}

func (r *Reconciler) publish() {
	snap := Snapshot{
		Viewer:        r.viewer,
		Phase:         r.phase,
		ActiveID:      r.activeID,
		Generation:    r.generation,
		Conversations: r.list.Snapshot(),
		Messages:      r.thread.Snapshot(),
		ListLoading:   r.listLoading,
		ListError:     r.listErr,
		ThreadError:   r.threadErr,
		TotalUnread:   r.list.TotalUnread(),
	}
	r.snapMu.Lock()
	r.snap = snap
	r.snapMu.Unlock()

	select {
	case r.updates <- struct{}{}:
	default:
	}
}

func (r *Reconciler) activeConversation() (string, error) {
	var id string
	if !r.do(func() { id = r.activeID }) {
		return "", ErrClosed
	}
	if id == "" {
		return "", chat.ErrNoActiveConversation
	}
	return id, nil
}

func (r *Reconciler) isActive(conversationID string) bool {
	return conversationID != "" && conversationID == r.activeID && r.phase != PhaseIdle
}

func (r *Reconciler) resetThread() {
	r.generation++
	r.activeID = ""
	r.phase = PhaseIdle
	r.threadErr = nil
	r.replay = nil
	r.thread.Clear()
}

func (r *Reconciler) applyConversations(convs []chat.Conversation, err error) {
	r.listLoading = false
	if err != nil {
		r.listErr = err
		r.logger.Warn().Err(err).Msg("conversation list pull failed")
		return
	}
	r.listErr = nil
	r.list.ReplaceAll(convs)
	if r.isActive(r.activeID) {
		r.list.ResetUnread(r.activeID)
	}
}

func (r *Reconciler) applyHistory(conversationID string, gen uint64, msgs []chat.Message, err error) bool {
	if gen != r.generation || conversationID != r.activeID {
		logger := logging.WithConversation(r.logger, conversationID)
		logger.Debug().
			Uint64("generation", gen).
			Uint64("current", r.generation).
			Msg("discarding stale history")
		return false
	}
	if err != nil {
		r.phase = PhaseFailed
		r.threadErr = err
		r.replay = nil
		logger := logging.WithConversation(r.logger, conversationID)
		logger.Warn().Err(err).Msg("history pull failed")
		return false
	}
	r.thread.Load(conversationID, msgs)
	for _, replay := range r.replay {
		replay(r.thread)
	}
	r.replay = nil
	r.phase = PhaseReady
	r.threadErr = nil
	r.list.ResetUnread(conversationID)
	r.syncPreview(conversationID)
	return true
}

// applyIncoming applies a message the server accepted, whether it arrived
// as a push or as a send acknowledgement.
func (r *Reconciler) applyIncoming(conversationID string, msg chat.Message) {
	active := r.isActive(conversationID)
	own := msg.SenderUID == r.viewer
	if !r.list.PatchFromIncomingMessage(conversationID, msg, active || own) {
		logger := logging.WithConversation(r.logger, conversationID)
		logger.Debug().Msg("message for unknown conversation")
		r.scheduleRefresh()
	}
	if !active {
		return
	}
	switch r.phase {
	case PhaseLoading:
		r.replay = append(r.replay, func(t *Thread) { t.Append(msg) })
	case PhaseReady:
		if r.thread.Append(msg) && !own {
			r.markReadAsync(conversationID)
		}
	}
}

func (r *Reconciler) applyEdited(msg chat.Message) {
	if !r.isActive(msg.ConversationID) {
		return
	}
	switch r.phase {
	case PhaseLoading:
		r.replay = append(r.replay, func(t *Thread) { t.Replace(msg) })
	case PhaseReady:
		r.thread.Replace(msg)
	}
}

func (r *Reconciler) applyDeleted(conversationID, messageID string) {
	if !r.isActive(conversationID) {
		return
	}
	switch r.phase {
	case PhaseLoading:
		r.replay = append(r.replay, func(t *Thread) { t.RemoveByID(messageID) })
	case PhaseReady:
		if r.thread.RemoveByID(messageID) {
			r.syncPreview(conversationID)
		}
	}
}

func (r *Reconciler) applyConversationDeleted(conversationID string) {
	r.list.Remove(conversationID)
	if conversationID != "" && conversationID == r.activeID {
		r.resetThread()
	}
}

// syncPreview points the list preview at the last loaded message.
func (r *Reconciler) syncPreview(conversationID string) {
	if last, ok := r.thread.Last(); ok {
		r.list.SetPreview(conversationID, last.Text, last.CreatedAt)
		return
	}
	r.list.SetPreview(conversationID, "", time.Time{})
}

func (r *Reconciler) scheduleRefresh() {
	if r.listLoading {
		return
	}
	r.listLoading = true
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, fireForgetTimeout*2)
		defer cancel()
		convs, err := r.remote.ListConversations(ctx, r.viewer)
		r.post(func() { r.applyConversations(convs, err) })
	}()
}

func (r *Reconciler) markReadAsync(conversationID string) {
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, fireForgetTimeout)
		defer cancel()
		if err := r.remote.MarkRead(ctx, conversationID, r.viewer); err != nil {
			logger := logging.WithConversation(r.logger, conversationID)
			logger.Debug().Err(err).Msg("mark read failed")
		}
	}()
}

func (r *Reconciler) onMessage(data json.RawMessage) {
	var push chat.MessagePush
	if err := json.Unmarshal(data, &push); err != nil {
		r.logger.Warn().Err(err).Msg("decode message push")
		return
	}
	msg := chat.MessageFromDTO(push.Message)
	conversationID := strings.TrimSpace(push.ConversationID)
	if conversationID == "" {
		conversationID = msg.ConversationID
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	r.post(func() { r.applyIncoming(conversationID, msg) })
}

func (r *Reconciler) onMessageEdited(data json.RawMessage) {
	var push chat.MessageEditedPush
	if err := json.Unmarshal(data, &push); err != nil {
		r.logger.Warn().Err(err).Msg("decode messageEdited push")
		return
	}
	msg := chat.MessageFromDTO(push.Message)
	r.post(func() { r.applyEdited(msg) })
}

func (r *Reconciler) onMessageDeleted(data json.RawMessage) {
	var push chat.MessageDeletedPush
	if err := json.Unmarshal(data, &push); err != nil {
		r.logger.Warn().Err(err).Msg("decode messageDeleted push")
		return
	}
	r.post(func() { r.applyDeleted(strings.TrimSpace(push.ConversationID), push.MessageID) })
}

func (r *Reconciler) onConversationDeleted(data json.RawMessage) {
	var push chat.ConversationDeletedPush
	if err := json.Unmarshal(data, &push); err != nil {
		r.logger.Warn().Err(err).Msg("decode conversationDeleted push")
		return
	}
	r.post(func() { r.applyConversationDeleted(strings.TrimSpace(push.ConversationID)) })
}

func (p Phase) String() string { return string(p) }

// Describe renders the snapshot phase for status lines.
func (s Snapshot) Describe() string {
	switch s.Phase {
	case PhaseLoading:
		return fmt.Sprintf("loading %s", s.ActiveID)
	case PhaseFailed:
		if s.ThreadError != nil {
			return fmt.Sprintf("failed to load: %v", s.ThreadError)
		}
		return "failed to load"
	case PhaseReady:
		return fmt.Sprintf("%d messages", len(s.Messages))
	default:
		return "no conversation selected"
	}
}
