package shutdown

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// DefaultWatchdogTimeout is how long the watchdog waits for the parent
// process to exit before sending SIGKILL to its process group.
const DefaultWatchdogTimeout = 60 * time.Second

// SpawnWatchdog forks a sibling process running the same binary with the
// hidden watchdog subcommand, passing this process's PID and a timeout.
// The watchdog outlives InitiateShutdown's own timeout by design: it is
// the last line of defense against a component that never reaches
// STOPPED because it is truly wedged, not merely slow.
//
// self is the path to the running binary (os.Executable()); subcommand is
// the cobra command name that dispatches to RunWatchdog (e.g. "watchdog").
func SpawnWatchdog(logger *slog.Logger, self, subcommand string, pid int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultWatchdogTimeout
	}

	cmd := exec.Command(self, subcommand,
		"--watchdog-pid", fmt.Sprintf("%d", pid),
		"--timeout", timeout.String(),
	)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	// Detach: the watchdog must survive the parent's own process group
	// signal if SIGTERM/SIGINT was sent group-wide.
	setWatchdogSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning watchdog: %w", err)
	}

	logger.Info("watchdog spawned", slog.Int("watchdog_pid", cmd.Process.Pid), slog.Int("parent_pid", pid), slog.Duration("timeout", timeout))

	// Release our handle; the watchdog is independent from here on and we
	// don't want a zombie if it outlives us.
	return cmd.Process.Release()
}

// RunWatchdog is the body of the hidden watchdog subcommand: poll until
// the parent PID is gone, or SIGKILL its process group once timeout
// elapses. Intended to be called from cmd/lightnvr/cmd/watchdog.go.
func RunWatchdog(logger *slog.Logger, parentPID int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !processAlive(parentPID) {
			logger.Info("watchdog observed parent exit, nothing to do", slog.Int("parent_pid", parentPID))
			return nil
		}
		if time.Now().After(deadline) {
			logger.Warn("watchdog timeout elapsed, killing parent process group", slog.Int("parent_pid", parentPID))
			return killProcessGroup(parentPID)
		}
		<-ticker.C
	}
}

// processAlive reports whether pid refers to a live process. On unix,
// FindProcess always succeeds, so liveness is checked with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscallSig0()) == nil
}
