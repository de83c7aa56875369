//go:build unix

package capability

import (
	"os/exec"
	"syscall"
)

// isolateProcessGroup puts the command in its own process group and makes
// cancellation kill the whole group, so background children die with it.
func isolateProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
