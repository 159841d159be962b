//go:build windows

package supervisor

import (
	"os/exec"
	"syscall"
)

func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// terminate asks the child to stop. Windows has no SIGTERM delivery for
// unrelated processes, so Kill is the only reliable fallback.
func (p *ManagedProcess) terminate() {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

func (p *ManagedProcess) kill() {
	p.terminate()
}

// TerminationSignals lists the graceful-stop signals the platform
// supports. Windows only delivers SIGTERM semantics.
func TerminationSignals() []syscall.Signal {
	return []syscall.Signal{syscall.SIGTERM}
}
