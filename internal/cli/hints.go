package cli

import (
	"fmt"
	"io"
)

// hintContext describes the command that just ran.
type hintContext struct {
	Action         string
	ConversationID string
}

// printHints writes suggested follow-up commands to out.
func printHints(out io.Writer, ctx hintContext) {
	hints := generateHints(ctx)
	if len(hints) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	for _, hint := range hints {
		fmt.Fprintf(out, "  %s\n", hint)
	}
}

func generateHints(ctx hintContext) []string {
	if ctx.ConversationID == "" {
		return nil
	}
	switch ctx.Action {
	case "start":
		return []string{
			fmt.Sprintf("atelier send %s \"hello\"     # Say hello", ctx.ConversationID),
			fmt.Sprintf("atelier messages %s         # Read the thread", ctx.ConversationID),
		}
	case "send":
		return []string{
			fmt.Sprintf("atelier messages %s         # Read the thread", ctx.ConversationID),
			"atelier watch                      # Follow replies",
		}
	default:
		return nil
	}
}
