//go:build !windows

package process

import (
	"os"
	"syscall"
)

// killGroup sends SIGKILL to the whole process group so helpers spawned by
// the agent go down with it.
func killGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	return syscall.Kill(-p.Pid, syscall.SIGKILL)
}
