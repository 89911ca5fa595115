// Package cli implements the atelier command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tOgg1/atelier/internal/channel"
	"github.com/tOgg1/atelier/internal/config"
	"github.com/tOgg1/atelier/internal/logging"
	"github.com/tOgg1/atelier/internal/viewstate"
)

// Execute runs the atelier command tree with args.
func Execute(ctx context.Context, version string, args []string) error {
	cmd := newRootCmd(version)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "atelier",
		Short:         "Direct conversations from the terminal",
		Long:          "atelier lists, reads and writes direct conversations held by an atelierd daemon.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (default is $HOME/.config/atelier/config.yaml)")
	flags.StringP("viewer", "u", "", "act as this viewer uid (default is the signed-in viewer)")
	flags.String("url", "", "daemon websocket URL")
	flags.String("log-level", "", "override logging level (debug, info, warn, error)")
	flags.String("log-format", "", "override logging format (json, console)")
	flags.Bool("json", false, "machine-readable output")
	flags.Bool("non-interactive", false, "never start the interactive UI")

	cmd.AddCommand(
		newTUICmd(),
		newConversationsCmd(),
		newMessagesCmd(),
		newSendCmd(),
		newEditCmd(),
		newDeleteCmd(),
		newDeleteConversationCmd(),
		newStartCmd(),
		newWatchCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newConfigCmd(),
	)
	return cmd
}

// runtime is the per-invocation environment shared by commands.
type runtime struct {
	cfg    *config.Config
	loader *config.Loader
	state  *viewstate.Manager
	logger zerolog.Logger
	logOut io.Closer
	json   bool

	// provider is shared by every session of the process for one viewer.
	provider       *channel.Provider
	providerViewer string
}

// loadRuntime resolves config, logging and viewer state for cmd.
func loadRuntime(cmd *cobra.Command) (*runtime, error) {
	configFile, _ := cmd.Flags().GetString("config")
	loader := config.NewLoader()
	loader.SetDotEnvFiles(".env")
	if strings.TrimSpace(configFile) != "" {
		loader.SetConfigFile(configFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, Exitf(ExitCodeConfig, "load config: %v", err)
	}

	if v, _ := cmd.Flags().GetString("url"); strings.TrimSpace(v) != "" {
		cfg.Channel.URL = strings.TrimSpace(v)
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Logging.Format = v
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, Exitf(ExitCodeConfig, "%v", err)
	}

	rt := &runtime{cfg: cfg, loader: loader}
	rt.json, _ = cmd.Flags().GetBool("json")

	logCfg := logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		EnableCaller: cfg.Logging.EnableCaller,
		Output:       os.Stderr,
	}
	if cfg.Logging.File != "" {
		f, err := logging.OpenFile(cfg.Logging.File)
		if err != nil {
			return nil, Exitf(ExitCodeConfig, "open log file: %v", err)
		}
		logCfg.Output = f
		logCfg.Format = "json"
		rt.logOut = f
	} else if cfg.Logging.Level == "info" {
		// Interactive commands stay quiet unless asked otherwise.
		logCfg.Level = "warn"
	}
	logging.Init(logCfg)
	rt.logger = logging.Component("atelier")

	rt.state = viewstate.New(cfg.StatePath())
	if err := rt.state.Load(); err != nil {
		rt.logger.Warn().Err(err).Str("path", cfg.StatePath()).Msg("viewer state unreadable, starting fresh")
	}
	return rt, nil
}

// channelProvider returns the process-wide provider for viewer, replacing it
// when the viewer changes.
func (rt *runtime) channelProvider(viewer string) *channel.Provider {
	if rt.provider == nil || rt.providerViewer != viewer {
		logger := logging.WithViewer(rt.logger, viewer)
		rt.provider = channel.NewProvider(channelOptions(rt.cfg.Channel, viewer, logger))
		rt.providerViewer = viewer
	}
	return rt.provider
}

// close flushes viewer state and the log file.
func (rt *runtime) close() {
	if rt == nil {
		return
	}
	if err := rt.state.Close(); err != nil {
		rt.logger.Warn().Err(err).Msg("failed to save viewer state")
	}
	if rt.logOut != nil {
		_ = rt.logOut.Close()
	}
}

// viewer resolves the acting uid: --viewer, then config, then the
// persisted sign-in.
func (rt *runtime) viewer(cmd *cobra.Command) (string, error) {
	if v, _ := cmd.Flags().GetString("viewer"); strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	if uid := strings.TrimSpace(rt.cfg.Client.ViewerUID); uid != "" {
		return uid, nil
	}
	if uid := rt.state.ViewerUID(); uid != "" {
		return uid, nil
	}
	return "", &ExitError{
		Code: ExitCodeUsage,
		Err:  fmt.Errorf("no viewer signed in; run `atelier login <uid>` or pass --viewer"),
	}
}

func isNonInteractive(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("non-interactive")
	return v || os.Getenv("ATELIER_NON_INTERACTIVE") != ""
}
