//go:build linux

package process

import (
	"os/exec"
	"syscall"
)

// setProcAttr puts the child in its own process group and asks the kernel to
// SIGTERM it if we die first.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
