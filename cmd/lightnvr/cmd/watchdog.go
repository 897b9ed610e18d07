package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/lightnvr/lightnvr/internal/shutdown"
)

var (
	watchdogParentPID int
	watchdogTimeout   time.Duration
)

// watchdogCmd is spawned by serve as a detached sibling process via
// shutdown.SpawnWatchdog. It is hidden from --help since it has no
// standalone use outside that spawn.
var watchdogCmd = &cobra.Command{
	Use:    "watchdog",
	Hidden: true,
	Short:  "Force-kill a wedged parent process after a timeout (internal use)",
	RunE:   runWatchdog,
}

func init() {
	rootCmd.AddCommand(watchdogCmd)

	watchdogCmd.Flags().IntVar(&watchdogParentPID, "watchdog-pid", 0, "PID of the parent process to watch")
	watchdogCmd.Flags().DurationVar(&watchdogTimeout, "timeout", shutdown.DefaultWatchdogTimeout, "how long to wait for the parent to exit before killing its process group")
	_ = watchdogCmd.MarkFlagRequired("watchdog-pid")
}

func runWatchdog(cmd *cobra.Command, args []string) error {
	if watchdogParentPID <= 0 {
		return fmt.Errorf("--watchdog-pid is required")
	}
	return shutdown.RunWatchdog(slog.Default(), watchdogParentPID, watchdogTimeout)
}
