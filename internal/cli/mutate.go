package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/atelier/internal/chat"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <conversation-id> [text]",
		Short: "Send a message (text from the argument, --file, or stdin)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bodyArg := ""
			if len(args) > 1 {
				bodyArg = args[1]
			}
			filePath, _ := cmd.Flags().GetString("file")
			text, err := resolveText(cmd, bodyArg, filePath)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, rt *runtime, s *session) error {
				id := strings.TrimSpace(args[0])
				msg, err := s.remote.SendMessage(ctx, id, s.viewer, text)
				if err != nil {
					return operationError(chat.EventSendMessage, err)
				}
				rt.state.DeleteDraft(id)
				rt.state.MarkSeen(id, msg.ID, msg.CreatedAt)
				if rt.json {
					return writeJSON(cmd.OutOrStdout(), chat.MessageToDTO(msg))
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg.ID)
				printHints(cmd.ErrOrStderr(), hintContext{Action: "send", ConversationID: id})
				return nil
			})
		},
	}
	cmd.Flags().StringP("file", "f", "", "read the message text from a file")
	return cmd
}

func newEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <message-id> <text>",
		Short: "Replace the text of one of your messages",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, rt *runtime, s *session) error {
				msg, err := s.remote.EditMessage(ctx, args[0], s.viewer, args[1])
				if err != nil {
					return operationError(chat.EventEditMessage, err)
				}
				if rt.json {
					return writeJSON(cmd.OutOrStdout(), chat.MessageToDTO(msg))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "edited %s\n", msg.ID)
				return nil
			})
		},
	}
}

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <message-id>",
		Short: "Delete one of your messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := confirm(cmd, fmt.Sprintf("Delete message %s?", args[0])); err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, rt *runtime, s *session) error {
				if err := s.remote.DeleteMessage(ctx, args[0], s.viewer); err != nil {
					return operationError(chat.EventDeleteMessage, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", strings.TrimSpace(args[0]))
				return nil
			})
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newDeleteConversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete-conversation <conversation-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a conversation from your list",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := confirm(cmd, fmt.Sprintf("Delete conversation %s?", args[0])); err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, rt *runtime, s *session) error {
				id := strings.TrimSpace(args[0])
				if err := s.remote.DeleteConversation(ctx, id, s.viewer); err != nil {
					return operationError(chat.EventDeleteConversation, err)
				}
				rt.state.Forget(id)
				fmt.Fprintf(cmd.OutOrStdout(), "deleted conversation %s\n", id)
				return nil
			})
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <uid>",
		Short: "Find or create the conversation with another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, rt *runtime, s *session) error {
				conv, err := s.remote.StartConversation(ctx, s.viewer, args[0])
				if err != nil {
					return operationError(chat.EventStartConversation, err)
				}
				if rt.json {
					return writeJSON(cmd.OutOrStdout(), chat.ConversationToDTO(conv, s.viewer))
				}
				fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
				printHints(cmd.ErrOrStderr(), hintContext{Action: "start", ConversationID: conv.ID})
				return nil
			})
		},
	}
}

// confirm asks for a y answer on stdin unless --yes is set. Without a
// terminal the command refuses instead of guessing.
func confirm(cmd *cobra.Command, prompt string) error {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return nil
	}
	if isNonInteractive(cmd) || !hasTTY() {
		return usageError(cmd, "confirmation required; pass --yes")
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N] ", prompt)
	if !readYes(cmd.InOrStdin()) {
		return &ExitError{Code: ExitCodeFailure, Err: fmt.Errorf("aborted")}
	}
	return nil
}

func readYes(in io.Reader) bool {
	var answer string
	if _, err := fmt.Fscanln(in, &answer); err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func resolveText(cmd *cobra.Command, bodyArg, filePath string) (string, error) {
	bodyArgTrim := strings.TrimSpace(bodyArg)
	filePath = strings.TrimSpace(filePath)

	if filePath != "" && bodyArgTrim != "" {
		return "", usageError(cmd, "provide either a message argument or --file, not both")
	}

	var raw string
	switch {
	case filePath != "":
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", Exitf(ExitCodeFailure, "read file: %v", err)
		}
		raw = string(data)
	case bodyArgTrim != "":
		raw = bodyArg
	default:
		data, err := readStdinIfPiped(cmd.InOrStdin())
		if err != nil {
			return "", Exitf(ExitCodeFailure, "read stdin: %v", err)
		}
		raw = data
	}

	text, err := chat.NormalizeText(raw)
	if err != nil {
		return "", usageError(cmd, err.Error())
	}
	return text, nil
}

func readStdinIfPiped(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok {
		info, err := f.Stat()
		if err != nil {
			return "", err
		}
		if info.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
