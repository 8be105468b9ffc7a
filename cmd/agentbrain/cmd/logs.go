package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/internal/logging"
)

func newLogsCmd(flags *rootFlags) *cobra.Command {
	var tail int
	var follow bool
	var level string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the instance log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := flags.paths()
			if err != nil {
				return err
			}
			logPath := filepath.Join(paths.LogDir, "agentbrain.log")

			viewer := logging.NewViewer(level, os.Stdout)
			if follow {
				return viewer.Follow(cmd.Context(), logPath, tail)
			}
			return viewer.Tail(logPath, tail)
		},
	}
	cmd.Flags().IntVar(&tail, "tail", 50, "number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep following the log")
	cmd.Flags().StringVar(&level, "level", "", "only show entries at or above this level")
	return cmd
}
