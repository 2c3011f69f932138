//go:build unix

package renderer

import (
	"os/exec"
	"syscall"
)

// isolateProcess starts the renderer in its own process group so a timeout
// kills everything it spawned.
func isolateProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
