package scenario

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loykin/tunnelcheck/internal/metrics"
)

const reconnectScenario = "reconnect"

// DefaultReconnectRounds is how many drop-and-recover cycles a storm
// runs when the caller does not say otherwise.
const DefaultReconnectRounds = 5

// Reconnect drops every tunnel connection on command and checks that
// the daemon recovers within twice the requested outage.
type Reconnect struct {
	Prober  Prober
	Control CommandWriter

	// MinConnections is the readiness floor before and after each drop.
	MinConnections int
	// Delay is the outage length sent with each reconnect command.
	Delay time.Duration
	// Rounds bounds the storm (default DefaultReconnectRounds).
	Rounds int
	// TunnelURL, when set, is probed end to end on each recovery.
	TunnelURL string

	Log *slog.Logger
}

// Run executes the storm. A command is never sent before the daemon
// has been observed ready, so every drop measures a real transition.
// The run passes when a majority of rounds pass; the returned Result
// carries the exact split either way.
func (r Reconnect) Run(ctx context.Context) (Result, error) {
	if r.Rounds <= 0 {
		r.Rounds = DefaultReconnectRounds
	}
	if r.MinConnections <= 0 {
		r.MinConnections = 1
	}
	if r.Delay <= 0 {
		r.Delay = time.Second
	}
	log := r.Log
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	start := time.Now()
	res := Result{Scenario: reconnectScenario, Rounds: r.Rounds}
	var lastErr error
	for round := 1; round <= r.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := r.round(ctx)
		metrics.IncReconnectCycle(err == nil)
		if err != nil {
			lastErr = err
			log.Warn("reconnect round failed", "round", round, "error", err)
			continue
		}
		res.Passed++
		log.Info("reconnect round passed", "round", round)
	}
	res.Duration = time.Since(start)
	passed := res.Passed*2 > res.Rounds
	metrics.IncScenarioRound(reconnectScenario, passed)
	if !passed {
		return res, &InvariantError{
			Scenario:  reconnectScenario,
			Invariant: fmt.Sprintf("only %d of %d rounds recovered", res.Passed, res.Rounds),
			Err:       lastErr,
		}
	}
	return res, nil
}

func (r Reconnect) round(ctx context.Context) error {
	if _, err := r.Prober.WaitReady(ctx, r.MinConnections, r.TunnelURL); err != nil {
		return fmt.Errorf("daemon not ready before drop: %w", err)
	}
	// One command takes down one connection; the whole set must drop.
	cmd := fmt.Sprintf("reconnect %s", r.Delay)
	for i := 0; i < r.MinConnections; i++ {
		if err := r.Control.WriteCommand(cmd); err != nil {
			return fmt.Errorf("send %q: %w", cmd, err)
		}
	}
	if err := r.Prober.ConfirmNotReady(ctx); err != nil {
		return fmt.Errorf("connections did not drop: %w", err)
	}
	recoverCtx, cancel := context.WithTimeout(ctx, 2*r.Delay)
	defer cancel()
	if _, err := r.Prober.WaitReady(recoverCtx, r.MinConnections, r.TunnelURL); err != nil {
		return fmt.Errorf("daemon did not recover within %s: %w", 2*r.Delay, err)
	}
	return nil
}
