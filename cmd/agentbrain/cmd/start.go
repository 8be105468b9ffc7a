package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/lifecycle"
	"github.com/agentbrain/agentbrain/internal/lockfile"
	"github.com/agentbrain/agentbrain/internal/state"
)

// daemonizeTimeout bounds how long the parent waits for the child's
// rendezvous file.
const daemonizeTimeout = 15 * time.Second

func newStartCmd(flags *rootFlags) *cobra.Command {
	var mode string
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the instance for this project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode != "project" && mode != "shared" {
				return errors.InvalidArgument("mode must be project or shared, got " + mode)
			}
			root, err := flags.resolveRoot()
			if err != nil {
				return err
			}
			if foreground {
				return runForeground(cmd, flags, root, mode)
			}
			rt, already, err := daemonize(flags, root, mode)
			if err != nil {
				return err
			}
			if already {
				fmt.Printf("already running at %s (pid %d)\n", rt.BaseURL, rt.PID)
			} else {
				fmt.Printf("started at %s (pid %d)\n", rt.BaseURL, rt.PID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "project", "instance mode (project or shared)")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "run in the foreground instead of daemonizing")
	return cmd
}

func runForeground(cmd *cobra.Command, flags *rootFlags, root, mode string) error {
	paths := state.New(root)
	if err := paths.EnsureLayout(); err != nil {
		return errors.Internal("create state layout", err)
	}
	logger, cleanup, err := flags.cliLogger(filepath.Join(paths.LogDir, "agentbrain.log"))
	if err != nil {
		return err
	}
	defer cleanup()

	controller, survivor, err := lifecycle.Start(cmd.Context(), lifecycle.StartOptions{
		ProjectRoot: root,
		Mode:        mode,
		Logger:      logger,
	})
	if err != nil {
		if survivor != nil {
			fmt.Printf("already running at %s (pid %d)\n", survivor.BaseURL, survivor.PID)
			return nil
		}
		return err
	}

	rt := controller.Runtime()
	fmt.Printf("listening at %s (instance %s)\n", rt.BaseURL, rt.InstanceID)
	return controller.Wait(cmd.Context())
}

// daemonize re-execs the binary with --foreground detached from the
// terminal, then waits for the child to publish its rendezvous. It
// returns the running instance's rendezvous and whether it was already
// up. Nothing is printed; stdout may belong to the MCP protocol.
func daemonize(flags *rootFlags, root, mode string) (*lockfile.RuntimeState, bool, error) {
	paths := state.New(root)
	if rt, err := lockfile.ReadRuntime(paths.RuntimeFile); err == nil &&
		lockfile.ProbeHealth(rt.BaseURL, lockfile.DefaultProbeTimeout) {
		return rt, true, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, false, errors.Internal("locate executable", err)
	}
	child := exec.Command(exe, "start",
		"--foreground",
		"--root", root,
		"--mode", mode,
		"--log-level", flags.logLevel,
	)
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	if err := child.Start(); err != nil {
		return nil, false, errors.Internal("spawn background instance", err)
	}
	// The child outlives this process; reap it if it ever exits.
	go func() { _ = child.Wait() }()

	deadline := time.Now().Add(daemonizeTimeout)
	for time.Now().Before(deadline) {
		if rt, err := lockfile.ReadRuntime(paths.RuntimeFile); err == nil &&
			rt.PID == child.Process.Pid &&
			lockfile.ProbeHealth(rt.BaseURL, time.Second) {
			return rt, false, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil, false, errors.New(errors.KindInternal, "instance did not start within "+daemonizeTimeout.String()).
		WithSuggestion("check the log at " + filepath.Join(paths.LogDir, "agentbrain.log"))
}
