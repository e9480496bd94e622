//go:build unix && !linux

package process

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr puts the child in its own process group, so terminal
// signals reach only the supervisor.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func startProcess(p *Process) error {
	return p.start()
}
