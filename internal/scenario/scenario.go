// Package scenario drives lifecycle checks against a running tunnel
// daemon: reconnect storms and graceful termination. Scenarios talk to
// the daemon only through narrow interfaces so the checks run the same
// against a real child process or an in-process double.
package scenario

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/loykin/tunnelcheck/internal/readiness"
)

// Prober observes daemon readiness through its metrics listener.
type Prober interface {
	WaitReady(ctx context.Context, minConnections int, tunnelURL string) (readiness.Snapshot, error)
	ConfirmNotReady(ctx context.Context) error
}

// CommandWriter sends one control line to the daemon's stdin.
type CommandWriter interface {
	WriteCommand(line string) error
}

// Process is the slice of a supervised child a scenario needs to
// terminate it and observe the exit.
type Process interface {
	Signal(sig os.Signal) error
	WaitExit(timeout time.Duration) bool
	Exited() bool
}

// Result summarizes a scenario run.
type Result struct {
	Scenario string
	Rounds   int
	Passed   int
	Duration time.Duration
}

func (r Result) Failed() int { return r.Rounds - r.Passed }

// InvariantError reports a lifecycle guarantee the daemon broke. Err
// carries the observation that exposed it, when one exists.
type InvariantError struct {
	Scenario  string
	Invariant string
	Err       error
}

func (e *InvariantError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s scenario: %s: %v", e.Scenario, e.Invariant, e.Err)
	}
	return fmt.Sprintf("%s scenario: %s", e.Scenario, e.Invariant)
}

func (e *InvariantError) Unwrap() error { return e.Err }
