//go:build unix

package cmd

import (
	"os/exec"
	"syscall"
)

// setDaemonSysProcAttr puts the daemonized child in its own session so
// it survives the launching shell/terminal closing.
func setDaemonSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
