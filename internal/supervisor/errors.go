package supervisor

import (
	"fmt"
	"strings"
)

// LaunchError reports that a child binary could not be started, or that
// a checked foreground run exited nonzero. It is fatal and never
// retried; it is distinct from readiness timeouts so callers can tell a
// missing binary apart from a slow one.
type LaunchError struct {
	Argv   []string
	Output []byte
	Err    error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("launch %q: %v", strings.Join(e.Argv, " "), e.Err)
	if len(e.Output) > 0 {
		msg += fmt.Sprintf(" (output: %s)", strings.TrimSpace(string(e.Output)))
	}
	return msg
}

func (e *LaunchError) Unwrap() error { return e.Err }
