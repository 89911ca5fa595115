package tui

import "github.com/charmbracelet/lipgloss"

// palette holds ANSI-256 color codes for one theme.
type palette struct {
	Foreground   string
	Muted        string
	Accent       string
	Own          string
	Other        string
	Unread       string
	Error        string
	Warning      string
	Selected     string
	ActivePane   string
	InactivePane string
}

var palettes = map[string]palette{
	"default": {
		Foreground:   "252",
		Muted:        "245",
		Accent:       "75",
		Own:          "81",
		Other:        "147",
		Unread:       "214",
		Error:        "203",
		Warning:      "220",
		Selected:     "237",
		ActivePane:   "75",
		InactivePane: "240",
	},
	"high-contrast": {
		Foreground:   "231",
		Muted:        "250",
		Accent:       "51",
		Own:          "87",
		Other:        "225",
		Unread:       "226",
		Error:        "196",
		Warning:      "229",
		Selected:     "238",
		ActivePane:   "231",
		InactivePane: "250",
	},
}

type styles struct {
	header       lipgloss.Style
	muted        lipgloss.Style
	accent       lipgloss.Style
	own          lipgloss.Style
	other        lipgloss.Style
	unread       lipgloss.Style
	errText      lipgloss.Style
	warn         lipgloss.Style
	selected     lipgloss.Style
	activePane   lipgloss.Style
	inactivePane lipgloss.Style
}

func newStyles(theme string) styles {
	p, ok := palettes[theme]
	if !ok {
		p = palettes["default"]
	}
	fg := func(code string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(code))
	}
	pane := func(code string) lipgloss.Style {
		return lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(code))
	}
	return styles{
		header:       fg(p.Accent).Bold(true),
		muted:        fg(p.Muted),
		accent:       fg(p.Accent),
		own:          fg(p.Own).Bold(true),
		other:        fg(p.Other).Bold(true),
		unread:       fg(p.Unread).Bold(true),
		errText:      fg(p.Error),
		warn:         fg(p.Warning),
		selected:     lipgloss.NewStyle().Background(lipgloss.Color(p.Selected)).Foreground(lipgloss.Color(p.Foreground)),
		activePane:   pane(p.ActivePane),
		inactivePane: pane(p.InactivePane),
	}
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

func spinner(frame int) string {
	if frame < 0 {
		frame = -frame
	}
	return spinnerFrames[frame%len(spinnerFrames)]
}
