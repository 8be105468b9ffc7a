package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/configs"
	"github.com/agentbrain/agentbrain/internal/config"
	"github.com/agentbrain/agentbrain/internal/errors"
)

func newInitCmd(flags *rootFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the project state directory and config template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := flags.paths()
			if err != nil {
				return err
			}
			if err := paths.EnsureLayout(); err != nil {
				return errors.Internal("create state layout", err)
			}

			if _, err := os.Stat(paths.ConfigFile); err == nil {
				if !force {
					fmt.Printf("config already exists at %s (use --force to overwrite)\n", paths.ConfigFile)
					return nil
				}
				backup, err := config.Backup(paths.ConfigFile)
				if err != nil {
					return errors.Internal("back up existing config", err)
				}
				if backup != "" {
					fmt.Printf("previous config saved to %s\n", backup)
				}
			}
			if err := os.WriteFile(paths.ConfigFile, []byte(configs.DefaultConfigTemplate), 0o644); err != nil {
				return errors.Internal("write config template", err)
			}

			fmt.Printf("initialized %s\n", paths.Dir)
			fmt.Printf("config written to %s\n", paths.ConfigFile)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
