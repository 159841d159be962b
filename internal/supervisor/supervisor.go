package supervisor

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Default termination escalation: after SIGTERM, the exit is polled
// TermWaitAttempts times every TermWaitInterval before SIGKILL.
const (
	DefaultTermWaitInterval = 100 * time.Millisecond
	DefaultTermWaitAttempts = 50
)

// Options controls how a child process is started.
type Options struct {
	// StdinEnabled attaches a pipe to the child's stdin so control
	// commands can be written to it. When false, stdin is closed.
	StdinEnabled bool
	// CaptureOutput drains stdout/stderr into in-memory line buffers.
	// When false, both streams are discarded.
	CaptureOutput bool
	// RunAsRoot prefixes the command with sudo.
	RunAsRoot bool
	// Env adds KEY=VALUE pairs on top of the harness environment.
	Env []string
}

// Supervisor spawns and terminates external binaries under test.
// It owns the stdio of every process it starts; exactly one Terminate
// (or Kill) call reaps each child.
type Supervisor struct {
	log *slog.Logger

	TermWaitInterval time.Duration
	TermWaitAttempts int
}

func New(log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Supervisor{
		log:              log,
		TermWaitInterval: DefaultTermWaitInterval,
		TermWaitAttempts: DefaultTermWaitAttempts,
	}
}

func buildArgv(argv []string, runAsRoot bool) []string {
	if runAsRoot {
		return append([]string{"sudo"}, argv...)
	}
	return argv
}

// Start launches argv as a background child in its own process group and
// returns a handle to it. A monitor goroutine waits on the child so the
// exit status is reaped exactly once; callers observe exit via WaitExit.
func (s *Supervisor) Start(argv []string, opts Options) (*ManagedProcess, error) {
	if len(argv) == 0 {
		return nil, &LaunchError{Err: fmt.Errorf("empty command")}
	}
	full := buildArgv(argv, opts.RunAsRoot)
	// #nosec G204 -- the harness exists to execute the binary under test
	cmd := exec.Command(full[0], full[1:]...)
	configureSysProcAttr(cmd)
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	p := &ManagedProcess{
		argv:     full,
		log:      s.log,
		waitDone: make(chan struct{}),
	}

	if opts.StdinEnabled {
		w, err := cmd.StdinPipe()
		if err != nil {
			return nil, &LaunchError{Argv: full, Err: err}
		}
		p.stdin = w
	}
	if opts.CaptureOutput {
		outR, err := cmd.StdoutPipe()
		if err != nil {
			return nil, &LaunchError{Argv: full, Err: err}
		}
		errR, err := cmd.StderrPipe()
		if err != nil {
			return nil, &LaunchError{Argv: full, Err: err}
		}
		p.stdout = newLineBuffer(maxCapturedLines)
		p.stderr = newLineBuffer(maxCapturedLines)
		p.drainers.Add(2)
		go p.drain(outR, p.stdout)
		go p.drain(errR, p.stderr)
	} else {
		null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return nil, &LaunchError{Argv: full, Err: err}
		}
		cmd.Stdout = null
		cmd.Stderr = null
	}

	s.log.Debug("starting child process", "argv", full)
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Argv: full, Err: err}
	}
	p.setStarted(cmd)

	// Single waiter: the monitor reaps the child and publishes the result.
	go func() {
		// Pipes must be fully drained before Wait returns their read ends
		// to the pool, otherwise a chatty child deadlocks on a full pipe.
		p.drainers.Wait()
		err := cmd.Wait()
		p.markExited(err)
	}()
	return p, nil
}

// Run executes argv in the foreground and waits for it to finish.
// When checked is true a nonzero exit is reported as a launch failure
// carrying the combined output, mirroring a failed binary invocation.
func (s *Supervisor) Run(argv []string, runAsRoot bool, checked bool) ([]byte, error) {
	if len(argv) == 0 {
		return nil, &LaunchError{Err: fmt.Errorf("empty command")}
	}
	full := buildArgv(argv, runAsRoot)
	// #nosec G204
	cmd := exec.Command(full[0], full[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil && checked {
		return out, &LaunchError{Argv: full, Output: out, Err: err}
	}
	if err != nil {
		s.log.Debug("unchecked run exited nonzero", "argv", full, "err", err)
		return out, nil
	}
	return out, nil
}

// Terminate delivers a graceful stop signal and polls for exit at a fixed
// interval up to a fixed attempt count before escalating to SIGKILL.
// On a forced kill the captured stderr tail is logged for diagnosis.
func (s *Supervisor) Terminate(p *ManagedProcess) error {
	if p == nil || !p.started() {
		return nil
	}
	p.terminate()
	return s.awaitExit(p)
}

func (s *Supervisor) awaitExit(p *ManagedProcess) error {
	interval := s.TermWaitInterval
	if interval <= 0 {
		interval = DefaultTermWaitInterval
	}
	attempts := s.TermWaitAttempts
	if attempts <= 0 {
		attempts = DefaultTermWaitAttempts
	}
	for i := 0; i < attempts; i++ {
		select {
		case <-p.waitDone:
			return nil
		case <-time.After(interval):
		}
	}
	s.log.Warn("process did not exit after graceful stop, killing",
		"argv", p.argv, "stderr_tail", p.StderrTail(20))
	p.kill()
	select {
	case <-p.waitDone:
	case <-time.After(time.Second):
		// best-effort
	}
	return fmt.Errorf("process %d required SIGKILL after graceful stop", p.PID())
}

// StopScope returns a cleanup func suitable for defer: it terminates the
// child on every exit path and ignores the already-exited case.
func (s *Supervisor) StopScope(p *ManagedProcess) func() {
	return func() {
		if p == nil {
			return
		}
		if p.Exited() {
			return
		}
		if err := s.Terminate(p); err != nil {
			s.log.Warn("scope termination", "err", err)
		}
	}
}
