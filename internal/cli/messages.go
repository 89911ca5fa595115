package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/atelier/internal/chat"
	"github.com/tOgg1/atelier/internal/inbox"
)

func newMessagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "messages <conversation-id>",
		Aliases: []string{"read", "thread"},
		Short:   "Show the messages of a conversation and mark it read",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			if limit < 0 {
				return usageError(cmd, "--limit must not be negative")
			}
			return withSession(cmd, func(ctx context.Context, rt *runtime, s *session) error {
				if err := s.start(ctx); err != nil {
					return err
				}
				id := strings.TrimSpace(args[0])
				if err := s.reconciler.Open(ctx, id); err != nil {
					return operationError(chat.EventGetMessages, err)
				}
				snap := s.reconciler.Snapshot()
				if snap.Phase == inbox.PhaseFailed {
					return operationError(chat.EventGetMessages, snap.ThreadError)
				}
				rememberSeen(rt, id, snap.Messages)

				msgs := snap.Messages
				if limit > 0 && len(msgs) > limit {
					msgs = msgs[len(msgs)-limit:]
				}
				if rt.json {
					dtos := make([]chat.MessageDTO, 0, len(msgs))
					for _, msg := range msgs {
						dtos = append(dtos, chat.MessageToDTO(msg))
					}
					return writeJSON(cmd.OutOrStdout(), dtos)
				}
				return writeThread(cmd.OutOrStdout(), snap.Viewer, msgs)
			})
		},
	}
	cmd.Flags().IntP("limit", "n", 0, "show only the newest n messages")
	return cmd
}

// rememberSeen records the newest message of id as seen.
func rememberSeen(rt *runtime, id string, msgs []chat.Message) {
	rt.state.SetLastConversation(id)
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	rt.state.MarkSeen(id, last.ID, last.CreatedAt)
}

func writeThread(out io.Writer, viewer string, msgs []chat.Message) error {
	if len(msgs) == 0 {
		_, err := fmt.Fprintln(out, "No messages yet.")
		return err
	}
	for _, msg := range msgs {
		from := msg.SenderUID
		if from == viewer {
			from = "you"
		}
		_, err := fmt.Fprintf(out, "%s  %-12s %s  [%s]\n",
			msg.CreatedAt.Local().Format("2006-01-02 15:04"), from, msg.Text, msg.ID)
		if err != nil {
			return err
		}
	}
	return nil
}
