//go:build linux

package process

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr puts the child in its own process group, so terminal
// signals reach only the supervisor, and kills it if the supervisor dies.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

// startProcess starts p from a goroutine that is not locked to its thread.
// Pdeathsig fires when the forking thread exits, not the process, and the
// runtime only retires threads that a locked goroutine leaves behind.
func startProcess(p *Process) error {
	errc := make(chan error, 1)
	go func() {
		errc <- p.start()
	}()
	return <-errc
}
