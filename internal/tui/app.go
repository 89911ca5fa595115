// Package tui is the interactive conversation view. It renders reconciler
// snapshots and turns keys into sync operations; it never mutates
// conversation state itself.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/tOgg1/atelier/internal/channel"
	"github.com/tOgg1/atelier/internal/chat"
	"github.com/tOgg1/atelier/internal/inbox"
	"github.com/tOgg1/atelier/internal/viewstate"
)

const (
	tickInterval  = 120 * time.Millisecond
	opTimeout     = 15 * time.Second
	listPaneWidth = 34
)

// Inbox is the reconciler surface the view drives. *inbox.Reconciler
// satisfies it.
type Inbox interface {
	Snapshot() inbox.Snapshot
	Updates() <-chan struct{}
	RefreshConversations(ctx context.Context) error
	Open(ctx context.Context, conversationID string) error
	Resync(ctx context.Context) error
	Send(ctx context.Context, text string) (chat.Message, error)
	Edit(ctx context.Context, messageID, text string) (chat.Message, error)
	Delete(ctx context.Context, messageID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	StartConversation(ctx context.Context, other string) (chat.Conversation, error)
}

// StateSource reports channel state changes. *channel.Conn satisfies it.
type StateSource interface {
	State() channel.State
	OnStateChange(fn func(channel.State)) func()
}

// Config configures the view.
type Config struct {
	Theme          string
	ShowTimestamps bool
	// State persists drafts, read markers and the last open conversation.
	// Nil keeps them in memory only.
	State  *viewstate.Manager
	Logger zerolog.Logger
}

type pane int

const (
	paneList pane = iota
	paneThread
)

type inputMode int

const (
	inputNone inputMode = iota
	inputCompose
	inputEdit
	inputStart
)

type confirmation struct {
	prompt string
	run    tea.Cmd
}

type snapshotMsg struct{}

type tickMsg struct{}

type channelStateMsg struct {
	state channel.State
}

type opDoneMsg struct {
	op   string
	err  error
	conv chat.Conversation
}

// Model is the bubbletea model of the conversation view.
type Model struct {
	ctx    context.Context
	inbox  Inbox
	state  *viewstate.Manager
	styles styles
	logger zerolog.Logger

	showTimestamps bool

	width  int
	height int

	snap     inbox.Snapshot
	focus    pane
	cursor   int
	selected int

	mode      inputMode
	input     []rune
	editingID string
	confirm   *confirmation

	status    string
	statusErr bool
	showHelp  bool

	channelState channel.State
	reconnecting bool

	scroll      int
	threadLines int

	frame   int
	ticking bool
}

// NewModel builds the view over in.
func NewModel(ctx context.Context, in Inbox, cfg Config) *Model {
	m := &Model{
		ctx:            ctx,
		inbox:          in,
		state:          cfg.State,
		styles:         newStyles(cfg.Theme),
		logger:         cfg.Logger.With().Str("component", "tui").Logger(),
		showTimestamps: cfg.ShowTimestamps,
		selected:       -1,
		channelState:   channel.StateConnected,
	}
	m.snap = in.Snapshot()
	m.threadLines = len(m.threadContent(m.threadWidth()))
	if m.state != nil {
		if last := m.state.LastConversation(); last != "" {
			m.selectConversation(last)
		}
	}
	return m
}

// Run starts the view and blocks until the viewer quits or ctx is done.
func Run(ctx context.Context, in Inbox, source StateSource, cfg Config) error {
	model := NewModel(ctx, in, cfg)
	if source != nil {
		model.channelState = source.State()
	}
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if source != nil {
		states := make(chan channel.State, 16)
		unsub := source.OnStateChange(func(state channel.State) {
			select {
			case states <- state:
			default:
			}
		})
		defer unsub()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case state := <-states:
					program.Send(channelStateMsg{state: state})
				}
			}
		}()
	}

	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Model) Init() tea.Cmd {
	return waitForUpdate(m.inbox.Updates())
}

func waitForUpdate(updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return nil
		}
		return snapshotMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

// run wraps a blocking inbox call as a command reporting opDoneMsg.
func (m *Model) run(op string, fn func(ctx context.Context) (chat.Conversation, error)) tea.Cmd {
	parent := m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, opTimeout)
		defer cancel()
		conv, err := fn(ctx)
		return opDoneMsg{op: op, err: err, conv: conv}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.threadLines = len(m.threadContent(m.threadWidth()))
		return m, nil
	case snapshotMsg:
		return m, tea.Batch(m.applySnapshot(m.inbox.Snapshot()), waitForUpdate(m.inbox.Updates()))
	case tickMsg:
		if m.snap.Phase != inbox.PhaseLoading {
			m.ticking = false
			return m, nil
		}
		m.frame++
		return m, tick()
	case channelStateMsg:
		return m, m.handleChannelState(typed.state)
	case opDoneMsg:
		return m, m.handleOpDone(typed)
	case tea.KeyMsg:
		return m, m.handleKey(typed)
	}
	return m, nil
}

// applySnapshot adopts next, keeping the list selection on the same
// conversation and the thread pinned to where the viewer was reading.
func (m *Model) applySnapshot(next inbox.Snapshot) tea.Cmd {
	prevID := m.cursorID()
	sameThread := next.ActiveID == m.snap.ActiveID && next.Generation == m.snap.Generation
	m.snap = next

	if prevID != "" {
		m.selectConversation(prevID)
	}
	m.clampCursor()

	lines := len(m.threadContent(m.threadWidth()))
	if sameThread && m.scroll > 0 {
		m.scroll += lines - m.threadLines
	}
	if !sameThread {
		m.scroll = 0
		m.selected = -1
	}
	m.threadLines = lines
	m.clampScroll()
	if m.selected >= len(m.snap.Messages) {
		m.selected = len(m.snap.Messages) - 1
	}

	if m.state != nil && next.Phase == inbox.PhaseReady && len(next.Messages) > 0 {
		last := next.Messages[len(next.Messages)-1]
		m.state.MarkSeen(next.ActiveID, last.ID, last.CreatedAt)
	}

	if next.Phase == inbox.PhaseLoading && !m.ticking {
		m.ticking = true
		return tick()
	}
	return nil
}

func (m *Model) handleChannelState(state channel.State) tea.Cmd {
	prev := m.channelState
	m.channelState = state
	switch state {
	case channel.StateReconnecting:
		m.reconnecting = true
		m.setStatus("connection lost, reconnecting…", true)
	case channel.StateConnected:
		if prev != channel.StateConnected || m.reconnecting {
			m.reconnecting = false
			m.setStatus("reconnected, resyncing", false)
			return m.run("resync", func(ctx context.Context) (chat.Conversation, error) {
				return chat.Conversation{}, m.inbox.Resync(ctx)
			})
		}
	case channel.StateFailed:
		m.setStatus("disconnected from the daemon; restart atelier to reconnect", true)
	}
	return nil
}

func (m *Model) handleOpDone(msg opDoneMsg) tea.Cmd {
	if msg.err != nil {
		m.logger.Debug().Err(msg.err).Str("op", msg.op).Msg("operation failed")
		m.setStatus(msg.op+" failed: "+describeError(msg.err), true)
		return nil
	}
	switch msg.op {
	case "send":
		m.input = nil
		if m.state != nil {
			m.state.DeleteDraft(m.snap.ActiveID)
		}
		m.scroll = 0
		m.setStatus("sent", false)
	case "edit":
		m.setStatus("message edited", false)
	case "delete":
		m.setStatus("message deleted", false)
	case "delete conversation":
		m.setStatus("conversation deleted", false)
	case "start":
		m.setStatus("conversation ready", false)
		return m.openConversation(msg.conv.ID)
	case "resync", "refresh":
		m.setStatus("up to date", false)
	case "open":
		m.status = ""
	}
	return nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	key := msg.String()
	if key == "ctrl+c" {
		return tea.Quit
	}
	if m.confirm != nil {
		pending := m.confirm
		m.confirm = nil
		if key == "y" || key == "Y" {
			m.status = ""
			return pending.run
		}
		m.setStatus("cancelled", false)
		return nil
	}
	if m.mode != inputNone {
		return m.handleInputKey(msg)
	}

	switch key {
	case "q":
		return tea.Quit
	case "?":
		m.showHelp = !m.showHelp
		return nil
	case "tab":
		if m.focus == paneList && m.snap.ActiveID != "" {
			m.focus = paneThread
		} else {
			m.focus = paneList
		}
		return nil
	case "r":
		m.setStatus("refreshing…", false)
		return m.run("refresh", func(ctx context.Context) (chat.Conversation, error) {
			return chat.Conversation{}, m.inbox.Resync(ctx)
		})
	case "n":
		m.mode = inputStart
		m.input = nil
		return nil
	}

	if m.focus == paneList {
		return m.handleListKey(key)
	}
	return m.handleThreadKey(key)
}

func (m *Model) handleListKey(key string) tea.Cmd {
	switch key {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.snap.Conversations)-1 {
			m.cursor++
		}
	case "enter", "l", "right":
		if id := m.cursorID(); id != "" {
			return m.openConversation(id)
		}
	case "D":
		return m.confirmDeleteConversation(m.cursorID())
	}
	return nil
}

func (m *Model) handleThreadKey(key string) tea.Cmd {
	switch key {
	case "esc", "h", "left":
		m.focus = paneList
	case "up", "k":
		if len(m.snap.Messages) == 0 {
			return nil
		}
		if m.selected < 0 {
			m.selected = len(m.snap.Messages) - 1
		} else if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected >= 0 && m.selected < len(m.snap.Messages)-1 {
			m.selected++
		}
	case "pgup", "ctrl+u":
		m.scroll += m.threadHeight() / 2
		m.clampScroll()
	case "pgdown", "ctrl+d":
		m.scroll -= m.threadHeight() / 2
		m.clampScroll()
	case "G", "end":
		m.scroll = 0
		m.selected = -1
	case "i", "enter":
		if m.snap.ActiveID == "" || m.snap.Phase != inbox.PhaseReady {
			return nil
		}
		m.mode = inputCompose
		m.input = m.draftFor(m.snap.ActiveID)
	case "e":
		msg, ok := m.selectedOwnMessage()
		if !ok {
			m.setStatus("select one of your messages to edit", true)
			return nil
		}
		m.mode = inputEdit
		m.editingID = msg.ID
		m.input = []rune(msg.Text)
	case "d":
		msg, ok := m.selectedOwnMessage()
		if !ok {
			m.setStatus("select one of your messages to delete", true)
			return nil
		}
		id := msg.ID
		m.confirm = &confirmation{
			prompt: "Delete this message? (y/n)",
			run: m.run("delete", func(ctx context.Context) (chat.Conversation, error) {
				return chat.Conversation{}, m.inbox.Delete(ctx, id)
			}),
		}
	case "D":
		return m.confirmDeleteConversation(m.snap.ActiveID)
	}
	return nil
}

func (m *Model) handleInputKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc:
		if m.mode == inputCompose {
			m.saveDraft()
		} else {
			m.input = nil
		}
		m.mode = inputNone
		m.editingID = ""
		return nil
	case tea.KeyEnter:
		return m.submitInput()
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
	case tea.KeyCtrlU:
		m.input = nil
	case tea.KeySpace:
		m.input = append(m.input, ' ')
	case tea.KeyRunes:
		m.input = append(m.input, msg.Runes...)
	default:
		return nil
	}
	if m.mode == inputCompose {
		m.saveDraft()
	}
	return nil
}

func (m *Model) submitInput() tea.Cmd {
	text := strings.TrimSpace(string(m.input))
	mode := m.mode
	m.mode = inputNone
	if text == "" {
		m.setStatus("nothing to send", true)
		return nil
	}

	switch mode {
	case inputCompose:
		m.saveDraft()
		return m.run("send", func(ctx context.Context) (chat.Conversation, error) {
			_, err := m.inbox.Send(ctx, text)
			return chat.Conversation{}, err
		})
	case inputEdit:
		id := m.editingID
		m.editingID = ""
		m.input = nil
		m.confirm = &confirmation{
			prompt: "Save the edited message? (y/n)",
			run: m.run("edit", func(ctx context.Context) (chat.Conversation, error) {
				_, err := m.inbox.Edit(ctx, id, text)
				return chat.Conversation{}, err
			}),
		}
	case inputStart:
		m.input = nil
		return m.run("start", func(ctx context.Context) (chat.Conversation, error) {
			return m.inbox.StartConversation(ctx, text)
		})
	}
	return nil
}

func (m *Model) confirmDeleteConversation(id string) tea.Cmd {
	if id == "" {
		return nil
	}
	name := id
	for _, conv := range m.snap.Conversations {
		if conv.ID == id {
			name = conv.Counterpart.DisplayName()
		}
	}
	m.confirm = &confirmation{
		prompt: "Delete the conversation with " + name + "? (y/n)",
		run: m.run("delete conversation", func(ctx context.Context) (chat.Conversation, error) {
			if err := m.inbox.DeleteConversation(ctx, id); err != nil {
				return chat.Conversation{}, err
			}
			if m.state != nil {
				m.state.Forget(id)
			}
			return chat.Conversation{}, nil
		}),
	}
	return nil
}

func (m *Model) openConversation(id string) tea.Cmd {
	m.selectConversation(id)
	m.focus = paneThread
	m.scroll = 0
	m.selected = -1
	m.mode = inputNone
	m.input = m.draftFor(id)
	if m.state != nil {
		m.state.SetLastConversation(id)
	}
	cmds := []tea.Cmd{m.run("open", func(ctx context.Context) (chat.Conversation, error) {
		return chat.Conversation{}, m.inbox.Open(ctx, id)
	})}
	if !m.ticking {
		m.ticking = true
		cmds = append(cmds, tick())
	}
	return tea.Batch(cmds...)
}

func (m *Model) draftFor(id string) []rune {
	if m.state == nil {
		return nil
	}
	if draft, ok := m.state.Draft(id); ok {
		return []rune(draft.Text)
	}
	return nil
}

func (m *Model) saveDraft() {
	if m.state == nil || m.snap.ActiveID == "" {
		return
	}
	m.state.SetDraft(viewstate.Draft{ConversationID: m.snap.ActiveID, Text: string(m.input)})
}

func (m *Model) selectedOwnMessage() (chat.Message, bool) {
	if m.selected < 0 || m.selected >= len(m.snap.Messages) {
		return chat.Message{}, false
	}
	msg := m.snap.Messages[m.selected]
	if msg.SenderUID != m.snap.Viewer {
		return chat.Message{}, false
	}
	return msg, true
}

func (m *Model) cursorID() string {
	if m.cursor < 0 || m.cursor >= len(m.snap.Conversations) {
		return ""
	}
	return m.snap.Conversations[m.cursor].ID
}

func (m *Model) selectConversation(id string) {
	for i, conv := range m.snap.Conversations {
		if conv.ID == id {
			m.cursor = i
			return
		}
	}
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.snap.Conversations) {
		m.cursor = len(m.snap.Conversations) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) clampScroll() {
	limit := m.threadLines - m.threadHeight()
	if m.scroll > limit {
		m.scroll = limit
	}
	if m.scroll < 0 {
		m.scroll = 0
	}
}

func (m *Model) setStatus(text string, isErr bool) {
	m.status = text
	m.statusErr = isErr
}

// describeError renders err for the status line.
func describeError(err error) string {
	switch {
	case errors.Is(err, chat.ErrChannelUnavailable):
		return "not connected"
	case errors.Is(err, chat.ErrOperationTimedOut), errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, chat.ErrNoActiveConversation):
		return "no conversation open"
	}
	if reason := chat.RemoteReason(err); reason != "" {
		return reason
	}
	var invalid *chat.ValidationError
	if errors.As(err, &invalid) {
		return invalid.Field + " " + invalid.Reason
	}
	return err.Error()
}
