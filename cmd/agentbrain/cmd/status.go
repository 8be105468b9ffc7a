package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/internal/health"
)

func newStatusCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running instance's status",
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

			var snap health.Snapshot
			if err := callJSON(cmd.Context(), http.MethodGet, rt.BaseURL+"/health/status", nil, &snap); err != nil {
				return err
			}
			if asJSON {
				return printJSON(snap)
			}

			fmt.Printf("status:     %s\n", snap.Status)
			fmt.Printf("instance:   %s (pid %d)\n", snap.InstanceID, rt.PID)
			fmt.Printf("address:    %s\n", snap.BaseURL)
			fmt.Printf("mode:       %s\n", snap.Mode)
			fmt.Printf("uptime:     %.0fs\n", snap.UptimeSeconds)
			fmt.Printf("documents:  %d", snap.Documents.Total)
			for st, n := range snap.Documents.BySourceType {
				fmt.Printf("  %s=%d", st, n)
			}
			fmt.Println()
			fmt.Printf("pool:       %s (%d/%d checked out)\n", snap.Pool.Status, snap.Pool.CheckedOut, snap.Pool.Total)
			if snap.Graph.Enabled {
				fmt.Printf("graph:      %s, %d entities, %d triples\n",
					snap.Graph.StoreType, snap.Graph.Entities, snap.Graph.Triples)
			} else {
				fmt.Println("graph:      disabled")
			}
			if snap.Queue.Running != nil {
				fmt.Printf("job:        %s running (%.0f%%)\n", snap.Queue.Running.ID, snap.Queue.Running.Progress*100)
			}
			if snap.Queue.Pending > 0 {
				fmt.Printf("pending:    %d job(s)\n", snap.Queue.Pending)
			}
			if snap.ProviderError != "" {
				fmt.Printf("provider:   %s unhealthy: %s\n", snap.Provider, snap.ProviderError)
			} else if snap.Provider != "" {
				fmt.Printf("provider:   %s\n", snap.Provider)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status document")
	return cmd
}
