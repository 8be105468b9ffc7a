package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/internal/lifecycle"
)

func newStopCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running instance for this project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := flags.paths()
			if err != nil {
				return err
			}
			rt, err := discover(paths)
			if err != nil {
				return err
			}
			if err := lifecycle.StopRemote(cmd.Context(), rt.BaseURL); err != nil {
				return err
			}
			fmt.Printf("stopped instance %s (pid %d)\n", rt.InstanceID, rt.PID)
			return nil
		},
	}
}
