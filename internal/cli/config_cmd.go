package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tOgg1/atelier/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialize configuration",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigPathCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			path := configFilePath(cmd, rt)
			if err := config.WriteFile(path, config.DefaultConfig(), force); err != nil {
				if errors.Is(err, config.ErrConfigExists) {
					return usageError(cmd, err.Error()+"; pass --force to overwrite")
				}
				return Exitf(ExitCodeConfig, "write config: %v", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return err
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing config file")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config, state and log locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			paths := map[string]string{
				"config": configFilePath(cmd, rt),
				"state":  rt.cfg.StatePath(),
				"log":    rt.cfg.Logging.File,
			}
			if rt.json {
				return writeJSON(cmd.OutOrStdout(), paths)
			}
			rows := [][]string{
				{"config", paths["config"]},
				{"state", paths["state"]},
				{"log", paths["log"]},
			}
			return writeTable(cmd.OutOrStdout(), []string{"WHAT", "PATH"}, rows)
		},
	}
}

// configFilePath is the file in use, the --config flag, or the default
// location under the config dir.
func configFilePath(cmd *cobra.Command, rt *runtime) string {
	if used := rt.loader.ConfigFileUsed(); used != "" {
		return used
	}
	if flag, _ := cmd.Flags().GetString("config"); flag != "" {
		return flag
	}
	return filepath.Join(rt.cfg.Global.ConfigDir, "config.yaml")
}
