package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Bound on captured output so a pathological child cannot grow the
// harness without limit. Oldest lines are dropped first.
const maxCapturedLines = 10000

// ManagedProcess is a handle to one started child. It is exclusively
// owned by the scenario that started it; the monitor goroutine spawned
// by Supervisor.Start is the only waiter on the underlying process.
type ManagedProcess struct {
	argv []string
	log  *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  bool
	exitErr error

	stdinMu sync.Mutex
	stdin   io.WriteCloser

	stdout *lineBuffer
	stderr *lineBuffer

	drainers sync.WaitGroup
	waitDone chan struct{}
}

func (p *ManagedProcess) setStarted(cmd *exec.Cmd) {
	p.mu.Lock()
	p.cmd = cmd
	p.mu.Unlock()
}

func (p *ManagedProcess) started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil && p.cmd.Process != nil
}

func (p *ManagedProcess) markExited(err error) {
	p.mu.Lock()
	p.exited = true
	p.exitErr = err
	p.mu.Unlock()
	close(p.waitDone)
}

// PID returns the child's process id, or 0 before start.
func (p *ManagedProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Exited reports whether the monitor has reaped the child.
func (p *ManagedProcess) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// ExitErr returns the error from cmd.Wait, valid once Exited is true.
func (p *ManagedProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// WaitExit blocks until the child has been reaped or the timeout elapses.
// It reports whether the exit was observed within the bound.
func (p *ManagedProcess) WaitExit(timeout time.Duration) bool {
	select {
	case <-p.waitDone:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Signal delivers sig to the child process itself (not the group).
func (p *ManagedProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return cmd.Process.Signal(sig)
}

// WriteCommand writes one control line to the child's stdin. Only one
// writer may use stdin at a time; the mutex enforces that.
func (p *ManagedProcess) WriteCommand(line string) error {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	if p.stdin == nil {
		return fmt.Errorf("stdin not enabled for this process")
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err := io.WriteString(p.stdin, line)
	return err
}

// CloseStdin closes the control channel, signalling EOF to the child.
func (p *ManagedProcess) CloseStdin() error {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	if p.stdin == nil {
		return nil
	}
	err := p.stdin.Close()
	p.stdin = nil
	return err
}

// StdoutLines returns a snapshot of captured stdout lines.
func (p *ManagedProcess) StdoutLines() []string {
	if p.stdout == nil {
		return nil
	}
	return p.stdout.snapshot()
}

// StderrLines returns a snapshot of captured stderr lines.
func (p *ManagedProcess) StderrLines() []string {
	if p.stderr == nil {
		return nil
	}
	return p.stderr.snapshot()
}

// StderrTail returns the last n captured stderr lines joined for logging.
func (p *ManagedProcess) StderrTail(n int) string {
	lines := p.StderrLines()
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func (p *ManagedProcess) drain(r io.Reader, buf *lineBuffer) {
	defer p.drainers.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		buf.append(sc.Text())
	}
}

// lineBuffer is a mutex-guarded ring of captured output lines.
type lineBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newLineBuffer(max int) *lineBuffer {
	return &lineBuffer{max: max}
}

func (b *lineBuffer) append(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
	b.mu.Unlock()
}

func (b *lineBuffer) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}
