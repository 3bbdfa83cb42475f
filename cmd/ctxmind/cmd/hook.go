package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ctxmind/ctxmind/internal/daemon"
)

// newHookCmd is the entrypoint agent session lifecycle hook scripts invoke:
// one JSON object of event params on stdin, forwarded to the daemon's hook
// method. Requires a running daemon - hooks never start one themselves,
// since a hook firing before the daemon is up is not worth blocking on.
func newHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook <event>",
		Short: "Forward a session lifecycle event to the daemon",
		Long: `Reads one JSON object of event params from stdin and forwards it to the
daemon's hook handler.

event is one of: SessionStart, SessionEnd, UserPromptSubmit, PostToolUse,
PreCompact, Stop, SubagentStop, Notification.

Intended to be wired up as an agent's session lifecycle hook command, not
invoked directly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHook(cmd, args[0])
		},
	}
	return cmd
}

func runHook(cmd *cobra.Command, event string) error {
	raw, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("failed to read hook params: %w", err)
	}

	var params any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return fmt.Errorf("failed to parse hook params as JSON: %w", err)
		}
	}

	client := daemon.NewClient(daemon.DefaultConfig())
	if !client.IsRunning() {
		// A hook firing with no daemon running is not an error worth
		// surfacing to the agent session - there is simply nothing to
		// record this turn.
		return nil
	}

	result, err := client.Hook(cmd.Context(), daemon.HookParams{Event: event, Params: params})
	if err != nil {
		return err
	}
	if result.Warning != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), result.Warning)
	}
	return nil
}
