// Package cmd provides the agentbrain CLI commands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/logging"
	"github.com/agentbrain/agentbrain/internal/project"
	"github.com/agentbrain/agentbrain/internal/state"
	"github.com/agentbrain/agentbrain/pkg/version"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	projectRoot string
	logLevel    string
}

func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "agentbrain",
		Short: "Per-project local retrieval service",
		Long: `Agent Brain gives coding agents long-term memory over a project:
it ingests documentation and source code into vector, keyword, and
graph indexes, and serves retrieval queries over a local HTTP API.

Each project gets its own instance, discovered through the
.claude/agent-brain/runtime.json rendezvous file.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("agentbrain version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&flags.projectRoot, "root", "C", ".", "project root directory")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newInitCmd(flags),
		newStartCmd(flags),
		newStopCmd(flags),
		newStatusCmd(flags),
		newListCmd(),
		newIndexCmd(flags),
		newQueryCmd(flags),
		newResetCmd(flags),
		newJobsCmd(flags),
		newLogsCmd(flags),
		newMCPCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the CLI and maps errors to exit codes.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd()
	cmd.SetContext(ctx)
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, errors.FormatForCLI(err))
		return errors.ExitCode(err)
	}
	return 0
}

// resolveRoot walks from --root (default the working directory) to the
// project root, so every command run inside the same subtree converges
// on the same instance.
func (f *rootFlags) resolveRoot() (string, error) {
	return project.Resolve(context.Background(), f.projectRoot)
}

// paths resolves the state layout for the selected project.
func (f *rootFlags) paths() (state.Paths, error) {
	root, err := f.resolveRoot()
	if err != nil {
		return state.Paths{}, err
	}
	return state.New(root), nil
}

// cliLogger builds a stderr logger for commands that run in-process
// work (start --foreground, reset).
func (f *rootFlags) cliLogger(filePath string) (*slog.Logger, func(), error) {
	cfg := logging.DefaultConfig(filePath)
	cfg.Level = f.logLevel
	return logging.Setup(cfg)
}
