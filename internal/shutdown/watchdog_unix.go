//go:build unix

package shutdown

import (
	"os/exec"
	"syscall"
)

// setWatchdogSysProcAttr puts the watchdog in its own process group so a
// group-wide signal aimed at the parent (e.g. a shell sending SIGTERM to
// the whole job) doesn't also kill the watchdog before it can do its job.
func setWatchdogSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func syscallSig0() syscall.Signal { return syscall.Signal(0) }

// killProcessGroup sends SIGKILL to the process group led by pid. Assumes
// the target was started with Setpgid so pid also identifies its group.
func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
