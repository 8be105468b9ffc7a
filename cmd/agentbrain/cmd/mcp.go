package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/lockfile"
	"github.com/agentbrain/agentbrain/internal/logging"
	"github.com/agentbrain/agentbrain/internal/mcpserver"
)

func newMCPCmd(flags *rootFlags) *cobra.Command {
	var autoStart bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the Model Context Protocol over stdio",
		Long: `Serves MCP tools (query, index, status) over stdio, proxying the
running instance's HTTP API. Stdout carries the protocol, so logs go
to the instance log file only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := flags.paths()
			if err != nil {
				return err
			}
			rt, err := discover(paths)
			if err != nil {
				if !autoStart || errors.KindOf(err) != errors.KindNotFound {
					return err
				}
				rt, err = autoStartInstance(flags, paths.ProjectRoot)
				if err != nil {
					return err
				}
			}

			// Stdout belongs to the protocol: log to file, never stderr noise.
			logCfg := logging.DefaultConfig(filepath.Join(paths.LogDir, "agentbrain.log"))
			logCfg.Level = flags.logLevel
			logCfg.WriteToStderr = false
			logger, cleanup, err := logging.Setup(logCfg)
			if err != nil {
				return err
			}
			defer cleanup()

			srv, err := mcpserver.New(rt.BaseURL, logger)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&autoStart, "auto-start", false, "start the instance if none is running")
	return cmd
}

func autoStartInstance(flags *rootFlags, root string) (*lockfile.RuntimeState, error) {
	rt, _, err := daemonize(flags, root, "project")
	return rt, err
}
