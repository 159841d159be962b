//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so a
// graceful stop can signal the whole group at once.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends SIGTERM to the child's process group.
func (p *ManagedProcess) terminate() {
	pid := p.PID()
	if pid <= 0 {
		return
	}
	p.log.Debug("sending SIGTERM", "pid", pid)
	_ = syscall.Kill(-pid, syscall.SIGTERM)
}

// kill sends SIGKILL to the child's process group.
func (p *ManagedProcess) kill() {
	pid := p.PID()
	if pid <= 0 {
		return
	}
	p.log.Debug("sending SIGKILL", "pid", pid)
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// TerminationSignals lists the graceful-stop signals the platform
// supports; the shutdown path must honor each of them identically.
func TerminationSignals() []syscall.Signal {
	return []syscall.Signal{syscall.SIGTERM, syscall.SIGINT}
}
