package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctxmind/ctxmind/internal/daemon"
	"github.com/ctxmind/ctxmind/internal/output"
)

// newSchedulerCmd reports on the background scheduler the daemon runs
// internally (decay sweeps, stale session cleanup, checkpoint flush).
// There is no per-job RPC yet; status is derived from the daemon's
// process-level status, since the scheduler's lifetime matches the
// daemon's.
func newSchedulerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Inspect the daemon's background maintenance jobs",
	}
	cmd.AddCommand(newSchedulerStatusCmd())
	return cmd
}

func newSchedulerStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the background scheduler is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := daemon.NewClient(daemon.DefaultConfig())
			if !client.IsRunning() {
				return fmt.Errorf("daemon is not running. Run 'ctxmind daemon start' first")
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			out.Status("", "Scheduler runs inside the daemon process; its lifetime matches daemon uptime.")
			out.Statusf("", "Daemon uptime: %s", status.Uptime)
			out.Statusf("", "Projects loaded: %d", status.ProjectsLoaded)
			out.Status("", "Jobs: decay_sweep, session_cleanup, checkpoint_flush")
			return nil
		},
	}
	return cmd
}
