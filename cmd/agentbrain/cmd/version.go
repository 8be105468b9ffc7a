package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentbrain %s (commit %s, built %s, %s)\n",
				version.Version, version.Commit, version.Date, version.GoVersion)
		},
	}
}
