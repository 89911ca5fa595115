package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/atelier/internal/chat"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <uid>",
		Short: "Sign in as a viewer",
		Long:  "Sign in as a viewer. Read markers and drafts of the previous viewer are dropped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := chat.RequireID("uid", args[0])
			if err != nil {
				return usageError(cmd, err.Error())
			}
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			rt.state.SetViewerUID(uid)
			if err := rt.state.SaveNow(); err != nil {
				return Exitf(ExitCodeFailure, "save viewer state: %v", err)
			}
			if rt.json {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"viewer": uid})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", uid)
			return err
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and drop local viewer state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			previous := rt.state.ViewerUID()
			rt.state.SetViewerUID("")
			if err := rt.state.SaveNow(); err != nil {
				return Exitf(ExitCodeFailure, "save viewer state: %v", err)
			}
			if previous == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Signed out %s\n", previous)
			return err
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the acting viewer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			viewer, err := rt.viewer(cmd)
			if err != nil {
				return err
			}
			if rt.json {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"viewer": viewer,
					"url":    rt.cfg.Channel.URL,
				})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s @ %s\n", viewer, rt.cfg.Channel.URL)
			return err
		},
	}
}
