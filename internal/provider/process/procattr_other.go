//go:build !linux && !windows

package process

import (
	"os/exec"
	"syscall"
)

// setProcAttr puts the child in its own process group. Pdeathsig is Linux only.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
