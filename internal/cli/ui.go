package cli

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tOgg1/atelier/internal/tui"
)

func newTUICmd() *cobra.Command {
	return &cobra.Command{
		Use:     "tui",
		Aliases: []string{"ui"},
		Short:   "Open the interactive conversation view",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if isNonInteractive(cmd) || !hasTTY() {
				return &ExitError{
					Code: ExitCodeUsage,
					Err:  errors.New("the interactive view needs a terminal; use `atelier conversations` or `atelier watch` instead"),
				}
			}
			return withSession(cmd, func(ctx context.Context, rt *runtime, s *session) error {
				if err := s.start(ctx); err != nil {
					return err
				}
				return tui.Run(ctx, s.reconciler, s.conn, tui.Config{
					Theme:          rt.cfg.TUI.Theme,
					ShowTimestamps: rt.cfg.TUI.ShowTimestamps,
					State:          rt.state,
					Logger:         rt.logger,
				})
			})
		},
	}
}

func hasTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
