package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/atelier/internal/chat"
	"github.com/tOgg1/atelier/internal/inbox"
)

const (
	previewWidth = 48
	nameWidth    = 24
)

// withSession loads the runtime, resolves the viewer and connects before
// running fn.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime, s *session) error) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	viewer, err := rt.viewer(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx, rt, viewer)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, rt, s)
}

func newConversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls", "list"},
		Short:   "List conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, rt *runtime, s *session) error {
				if err := s.start(ctx); err != nil {
					return err
				}
				snap := s.reconciler.Snapshot()
				if rt.json {
					return writeConversationsJSON(cmd.OutOrStdout(), snap)
				}
				return writeConversationsTable(cmd.OutOrStdout(), snap, time.Now())
			})
		},
	}
}

func writeConversationsJSON(out io.Writer, snap inbox.Snapshot) error {
	dtos := make([]chat.ConversationDTO, 0, len(snap.Conversations))
	for _, conv := range snap.Conversations {
		dtos = append(dtos, chat.ConversationToDTO(conv, snap.Viewer))
	}
	return writeJSON(out, dtos)
}

func writeConversationsTable(out io.Writer, snap inbox.Snapshot, now time.Time) error {
	if len(snap.Conversations) == 0 {
		_, err := fmt.Fprintln(out, "No conversations yet. Start one with `atelier start <uid>`.")
		return err
	}
	rows := make([][]string, 0, len(snap.Conversations))
	for _, conv := range snap.Conversations {
		unread := ""
		if n := conv.UnreadFor(snap.Viewer); n > 0 {
			unread = strconv.Itoa(n)
		}
		rows = append(rows, []string{
			conv.ID,
			conv.Counterpart.DisplayName(),
			unread,
			formatAge(conv.LastMessageAt, now),
			truncate(conv.LastMessageText, previewWidth),
		})
	}
	t := &table{
		headers:  []string{"ID", "WITH", "UNREAD", "LAST", "PREVIEW"},
		rows:     rows,
		maxWidth: map[int]int{1: nameWidth},
	}
	return t.write(out)
}

func writeJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Exitf(ExitCodeFailure, "encode output: %v", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// formatAge renders t relative to now.
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	default:
		return t.Local().Format("2006-01-02")
	}
}

func truncate(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= width {
		return text
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}
