package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/internal/config"
	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/graph"
	"github.com/agentbrain/agentbrain/internal/lockfile"
	"github.com/agentbrain/agentbrain/internal/store"
)

func newResetCmd(flags *rootFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all indexed documents and graph data for this project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := flags.resolveRoot()
			if err != nil {
				return err
			}
			if !yes && !confirm("This deletes every indexed document for "+root+". Continue? [y/N] ") {
				fmt.Println("aborted")
				return nil
			}

			paths, err := flags.paths()
			if err != nil {
				return err
			}
			if err := paths.EnsureLayout(); err != nil {
				return errors.Internal("create state layout", err)
			}

			logger, cleanup, err := flags.cliLogger("")
			if err != nil {
				return err
			}
			defer cleanup()

			// Reset works on the stores directly, so it needs the
			// instance singleton lock: refuse while a daemon is live.
			manager := lockfile.NewManager(paths, logger)
			if err := manager.RecoverStale(cmd.Context()); err != nil {
				return err
			}
			held, survivor, err := manager.Acquire()
			if err != nil {
				return err
			}
			if !held {
				e := errors.New(errors.KindConflict, "an instance is running for this project").
					WithSuggestion("run 'agentbrain stop' first")
				if survivor != nil {
					e = e.WithSuggestion("run 'agentbrain stop' first (instance at " + survivor.BaseURL + ")")
				}
				return e
			}
			defer func() { _ = manager.Release() }()

			cfg, err := config.Load(root)
			if err != nil {
				return err
			}
			backend, err := store.Open(cfg, paths, logger)
			if err != nil {
				return err
			}
			defer func() { _ = backend.Close() }()

			if err := backend.Initialize(cmd.Context()); err != nil {
				return err
			}
			if err := backend.Reset(cmd.Context()); err != nil {
				return err
			}

			if cfg.Graph.Enabled {
				g, err := graph.Open(cfg.Graph.Store, paths.GraphDir, logger)
				if err != nil {
					return err
				}
				defer func() { _ = g.Close() }()
				if err := g.Load(); err == nil {
					if err := g.Clear(); err != nil {
						return err
					}
					if err := g.Persist(); err != nil {
						return err
					}
				}
			}

			fmt.Println("index reset")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
