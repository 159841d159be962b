package readiness

import (
	"errors"
	"fmt"
)

// TransportError marks a poll attempt that failed before an HTTP
// response arrived (connection refused or reset). It is retryable and
// only surfaces once the attempt budget is exhausted.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("request %s: %v", e.URL, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// AsTransport reports whether err wraps a TransportError, storing it in
// target when it does.
func AsTransport(err error, target **TransportError) bool {
	return errors.As(err, target)
}

// NotReadyError reports an exhausted readiness budget. It carries the
// last observed snapshot (nil when no response ever arrived) so the
// failure is diagnosable without rerunning.
type NotReadyError struct {
	MinConnections int
	Last           *Snapshot
	Err            error
}

func (e *NotReadyError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("tunnel not ready (want >= %d connections, endpoint never responded): %v",
			e.MinConnections, e.Err)
	}
	return fmt.Sprintf("tunnel not ready (want >= %d connections, last snapshot %+v): %v",
		e.MinConnections, *e.Last, e.Err)
}

func (e *NotReadyError) Unwrap() error { return e.Err }
