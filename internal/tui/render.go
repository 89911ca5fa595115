package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tOgg1/atelier/internal/channel"
	"github.com/tOgg1/atelier/internal/inbox"
)

const (
	defaultWidth  = 100
	defaultHeight = 30
	// header, status and hint lines plus pane borders.
	chromeLines = 5
)

func (m *Model) size() (int, int) {
	w, h := m.width, m.height
	if w <= 0 {
		w = defaultWidth
	}
	if h <= 0 {
		h = defaultHeight
	}
	return w, h
}

func (m *Model) listWidth() int {
	w, _ := m.size()
	lw := listPaneWidth
	if w/3 < lw {
		lw = w / 3
	}
	if lw < 12 {
		lw = 12
	}
	return lw
}

func (m *Model) threadWidth() int {
	w, _ := m.size()
	tw := w - m.listWidth() - 4
	if tw < 10 {
		tw = 10
	}
	return tw
}

func (m *Model) threadHeight() int {
	_, h := m.size()
	th := h - chromeLines
	if m.mode != inputNone || m.confirm != nil {
		th--
	}
	if th < 1 {
		th = 1
	}
	return th
}

func (m *Model) View() string {
	header := m.renderHeader()
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.renderList(), m.renderThread())
	footer := m.renderFooter()
	if m.showHelp {
		return lipgloss.JoinVertical(lipgloss.Left, header, m.renderHelp(), footer)
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m *Model) renderHeader() string {
	parts := []string{m.styles.header.Render("atelier"), m.snap.Viewer}
	state := string(m.channelState)
	switch m.channelState {
	case channel.StateConnected:
		parts = append(parts, m.styles.muted.Render(state))
	case channel.StateFailed, channel.StateClosed:
		parts = append(parts, m.styles.errText.Render(state))
	default:
		parts = append(parts, m.styles.warn.Render(state))
	}
	if m.snap.TotalUnread > 0 {
		parts = append(parts, m.styles.unread.Render(fmt.Sprintf("%d unread", m.snap.TotalUnread)))
	}
	return strings.Join(parts, " · ")
}

func (m *Model) renderList() string {
	width := m.listWidth()
	height := m.threadHeight()
	var lines []string

	switch {
	case len(m.snap.Conversations) == 0 && m.snap.ListLoading:
		lines = append(lines, m.styles.muted.Render(spinner(m.frame)+" loading…"))
	case len(m.snap.Conversations) == 0 && m.snap.ListError != nil:
		lines = append(lines, m.styles.errText.Render("failed to load conversations"))
	case len(m.snap.Conversations) == 0:
		lines = append(lines, m.styles.muted.Render("no conversations"), m.styles.muted.Render("press n to start one"))
	}

	now := time.Now()
	for i, conv := range m.snap.Conversations {
		badge := ""
		if n := conv.UnreadFor(m.snap.Viewer); n > 0 {
			badge = fmt.Sprintf(" (%d)", n)
		}
		age := formatAge(conv.LastMessageAt, now)
		name := fit(conv.Counterpart.DisplayName(), width-len(badge)-len(age)-1)
		title := name + m.styles.unread.Render(badge) + " " + m.styles.muted.Render(age)
		preview := m.styles.muted.Render(fit(conv.LastMessageText, width))
		if i == m.cursor {
			title = m.styles.selected.Render(name + badge + " " + age)
		}
		if conv.ID == m.snap.ActiveID {
			title = m.styles.accent.Render("▌") + title
		}
		lines = append(lines, title, preview)
	}
	if m.snap.ListError != nil && len(m.snap.Conversations) > 0 {
		lines = append(lines, m.styles.errText.Render("list may be stale"))
	}

	start := 0
	if cursorLine := m.cursor*2 + 1; cursorLine >= height {
		start = cursorLine - height + 1
	}
	lines = window(lines, start, height)

	style := m.styles.inactivePane
	if m.focus == paneList {
		style = m.styles.activePane
	}
	return style.Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

func (m *Model) renderThread() string {
	width := m.threadWidth()
	height := m.threadHeight()

	var body string
	switch m.snap.Phase {
	case inbox.PhaseIdle:
		body = m.styles.muted.Render("Select a conversation and press enter.")
	case inbox.PhaseLoading:
		body = m.styles.muted.Render(spinner(m.frame) + " Loading messages…")
	case inbox.PhaseFailed:
		body = m.styles.errText.Render("Failed to load messages. Press r to retry.")
	default:
		lines := m.threadContent(width)
		if len(lines) == 0 {
			body = m.styles.muted.Render("No messages yet. Press i to write.")
			break
		}
		end := len(lines) - m.scroll
		body = strings.Join(window(lines, end-height, height), "\n")
	}

	style := m.styles.inactivePane
	if m.focus == paneThread {
		style = m.styles.activePane
	}
	return style.Width(width).Height(height).Render(body)
}

// threadContent renders every message of the ready thread as lines.
func (m *Model) threadContent(width int) []string {
	if m.snap.Phase != inbox.PhaseReady {
		return nil
	}
	wrap := lipgloss.NewStyle().Width(width)
	var lines []string
	for i, msg := range m.snap.Messages {
		who := m.styles.other.Render(msg.SenderUID)
		if msg.SenderUID == m.snap.Viewer {
			who = m.styles.own.Render("you")
		}
		head := who
		if m.showTimestamps {
			head += " " + m.styles.muted.Render(msg.CreatedAt.Local().Format("Jan 2 15:04"))
		}
		text := wrap.Render(msg.Text)
		if i == m.selected {
			head = m.styles.selected.Render("›") + " " + head
		}
		lines = append(lines, head)
		lines = append(lines, strings.Split(text, "\n")...)
	}
	return lines
}

func (m *Model) renderFooter() string {
	var lines []string
	switch {
	case m.confirm != nil:
		lines = append(lines, m.styles.warn.Render(m.confirm.prompt))
	case m.mode != inputNone:
		label := map[inputMode]string{
			inputCompose: "message",
			inputEdit:    "edit",
			inputStart:   "start with uid",
		}[m.mode]
		lines = append(lines, m.styles.accent.Render(label+"> ")+string(m.input)+"█")
	}
	status := m.status
	if status != "" {
		if m.statusErr {
			status = m.styles.errText.Render(status)
		} else {
			status = m.styles.muted.Render(status)
		}
	}
	lines = append(lines, status, m.styles.muted.Render(m.hints()))
	return strings.Join(lines, "\n")
}

func (m *Model) hints() string {
	switch {
	case m.confirm != nil:
		return "y confirm · any other key cancels"
	case m.mode != inputNone:
		return "enter submit · esc cancel"
	case m.focus == paneThread:
		return "i write · ↑↓ select · e edit · d delete · D delete conversation · pgup/pgdn scroll · esc back · ? help"
	default:
		return "↑↓ move · enter open · n new · D delete · r refresh · q quit · ? help"
	}
}

func (m *Model) renderHelp() string {
	rows := []string{
		"tab      switch pane",
		"enter    open conversation / write",
		"n        start a conversation",
		"r        refresh list and thread",
		"e        edit selected message (yours)",
		"d        delete selected message (yours)",
		"D        delete conversation",
		"G        jump to newest",
		"q        quit",
	}
	return strings.Join(rows, "\n")
}

// window returns up to n lines starting at start, clamped to lines.
func window(lines []string, start, n int) []string {
	if start < 0 {
		start = 0
	}
	if start > len(lines) {
		start = len(lines)
	}
	end := start + n
	if end > len(lines) {
		end = len(lines)
	}
	return lines[start:end]
}

// fit collapses whitespace and truncates text to width runes.
func fit(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	if width <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= width {
		return text
	}
	if width == 1 {
		return "…"
	}
	return string(runes[:width-1]) + "…"
}

func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	}
}
