package history

import (
	"context"
	"time"

	"github.com/loykin/tunnelcheck/internal/scenario"
)

// Record is one archived scenario run.
type Record struct {
	Scenario     string    `json:"scenario"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Passed       bool      `json:"passed"`
	Rounds       int       `json:"rounds"`
	RoundsPassed int       `json:"rounds_passed"`
	Detail       string    `json:"detail,omitempty"`
}

// FromResult converts a scenario outcome into a Record. runErr, when
// non-nil, marks the record failed and lands in Detail.
func FromResult(res scenario.Result, startedAt time.Time, runErr error) Record {
	rec := Record{
		Scenario:     res.Scenario,
		StartedAt:    startedAt.UTC(),
		FinishedAt:   startedAt.Add(res.Duration).UTC(),
		Passed:       runErr == nil,
		Rounds:       res.Rounds,
		RoundsPassed: res.Passed,
	}
	if runErr != nil {
		rec.Detail = runErr.Error()
	}
	return rec
}

// Sink is a destination for scenario records (dashboards, analytics).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, rec Record) error
}
