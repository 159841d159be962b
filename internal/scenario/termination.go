package scenario

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/loykin/tunnelcheck/internal/metrics"
	"github.com/loykin/tunnelcheck/internal/origin"
	"github.com/loykin/tunnelcheck/internal/supervisor"
)

const terminationScenario = "termination"

// DefaultExitMargin pads the grace period when waiting for the child
// to exit, covering signal delivery and process teardown. It bounds
// only how long the scenario keeps collecting evidence; whether the
// shutdown was graceful is judged against GracePeriod itself.
const DefaultExitMargin = 3 * time.Second

// defaultStreamFreq matches the stream endpoint's frame cadence when
// the stream URL does not carry a freq parameter.
const defaultStreamFreq = time.Second

// Termination checks graceful shutdown: a signalled daemon must keep
// an in-flight stream alive, close it with a terminal status line, and
// exit before the grace period runs out.
type Termination struct {
	Prober Prober
	Proc   Process

	// Signal delivered to the daemon (SIGTERM or SIGINT).
	Signal os.Signal
	// GracePeriod the daemon was configured with.
	GracePeriod time.Duration
	// StreamURL is a long-lived endpoint held open across the signal.
	StreamURL string
	// StreamFreq is the frame cadence of the stream endpoint. When
	// zero it is read from the StreamURL's freq query parameter. The
	// held stream must serve at least GracePeriod/StreamFreq frames
	// before the daemon may close it.
	StreamFreq time.Duration
	// MinConnections is the readiness floor before signalling.
	MinConnections int
	// TunnelURL, when set, is probed end to end before signalling.
	TunnelURL string

	Client *http.Client
	Log    *slog.Logger
}

// StreamReport is what the in-flight consumer observed.
type StreamReport struct {
	Frames   int
	Served   time.Duration // how long the stream stayed open
	Terminal bool          // stream ended with the terminal status line
	Err      error
}

// Run signals the daemon once it is ready and verifies the shutdown
// contract. The stream consumer is joined with a bounded wait; a
// consumer still running past it means the daemon leaked the stream.
func (t Termination) Run(ctx context.Context) (Result, error) {
	if t.MinConnections <= 0 {
		t.MinConnections = 1
	}
	if t.GracePeriod <= 0 {
		t.GracePeriod = 30 * time.Second
	}
	if t.Signal == nil {
		t.Signal = os.Interrupt
	}
	log := t.Log
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	start := time.Now()
	res := Result{Scenario: terminationScenario, Rounds: 1}
	fail := func(invariant string, err error) (Result, error) {
		metrics.IncScenarioRound(terminationScenario, false)
		return res, &InvariantError{Scenario: terminationScenario, Invariant: invariant, Err: err}
	}

	if _, err := t.Prober.WaitReady(ctx, t.MinConnections, t.TunnelURL); err != nil {
		return fail("daemon never became ready", err)
	}

	reports := make(chan StreamReport, 1)
	if t.StreamURL != "" {
		go func() { reports <- t.consumeStream(ctx) }()
		// Let the stream register as in-flight before signalling.
		time.Sleep(100 * time.Millisecond)
	}

	log.Info("signalling daemon", "signal", t.Signal, "grace_period", t.GracePeriod)
	signalled := time.Now()
	if err := t.Proc.Signal(t.Signal); err != nil {
		return fail("could not signal daemon", err)
	}

	// The daemon must report not ready while it is still draining, not
	// merely once the listener is gone.
	if err := t.Prober.ConfirmNotReady(ctx); err != nil {
		return fail("daemon still reports ready after signal", err)
	}

	if !t.Proc.WaitExit(t.GracePeriod + DefaultExitMargin) {
		return fail(fmt.Sprintf("daemon still running %s after signal", t.GracePeriod+DefaultExitMargin), nil)
	}
	shutdown := time.Since(signalled)
	metrics.ObserveShutdownDuration(shutdown.Seconds())
	log.Info("daemon exited", "after", shutdown)

	if t.StreamURL == "" && shutdown >= t.GracePeriod {
		return fail(fmt.Sprintf("shutdown took %s with nothing in flight, grace period is %s",
			shutdown.Round(time.Millisecond), t.GracePeriod), nil)
	}

	if t.StreamURL != "" {
		select {
		case rep := <-reports:
			if rep.Err != nil {
				return fail("in-flight stream failed during shutdown", rep.Err)
			}
			if !rep.Terminal {
				return fail(fmt.Sprintf("stream closed after %d frames without the terminal status line", rep.Frames), nil)
			}
			if floor := t.minStreamFrames(); rep.Frames < floor {
				return fail(fmt.Sprintf("stream served %d frames in %s before closing, want at least %d across the %s grace period",
					rep.Frames, rep.Served.Round(time.Millisecond), floor, t.GracePeriod), nil)
			}
			log.Info("stream drained", "frames", rep.Frames, "served", rep.Served)
		case <-time.After(t.GracePeriod + DefaultExitMargin):
			return fail("stream consumer still blocked after daemon exit", nil)
		}
	}

	res.Passed = 1
	res.Duration = time.Since(start)
	metrics.IncScenarioRound(terminationScenario, true)
	return res, nil
}

// minStreamFrames is how many frames the held stream must have served
// before the daemon closed it: one per StreamFreq tick across the
// grace period. Zero when the grace period is shorter than a tick.
func (t Termination) minStreamFrames() int {
	freq := t.StreamFreq
	if freq <= 0 {
		freq = streamFreqFromURL(t.StreamURL)
	}
	return int(t.GracePeriod / freq)
}

// streamFreqFromURL reads the freq query parameter the stream endpoint
// honors, falling back to the endpoint default.
func streamFreqFromURL(streamURL string) time.Duration {
	u, err := url.Parse(streamURL)
	if err != nil {
		return defaultStreamFreq
	}
	if d, err := time.ParseDuration(u.Query().Get("freq")); err == nil && d > 0 {
		return d
	}
	return defaultStreamFreq
}

// consumeStream reads the stream until the server closes it, counting
// frames and watching for the terminal status line.
func (t Termination) consumeStream(ctx context.Context) StreamReport {
	client := t.Client
	if client == nil {
		client = &http.Client{}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.StreamURL, nil)
	if err != nil {
		return StreamReport{Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return StreamReport{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return StreamReport{Err: fmt.Errorf("stream request returned %d", resp.StatusCode)}
	}

	opened := time.Now()
	var rep StreamReport
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.Contains(line, origin.TerminalStatusLine):
			rep.Terminal = true
		default:
			rep.Frames++
		}
	}
	rep.Served = time.Since(opened)
	// EOF after the terminal line is the expected close; any other
	// read error means the connection was cut mid-flight.
	if err := sc.Err(); err != nil && !rep.Terminal {
		rep.Err = err
	}
	return rep
}

// ShutdownSignals lists the signals the termination scenario exercises
// on this platform.
func ShutdownSignals() []os.Signal {
	sigs := supervisor.TerminationSignals()
	out := make([]os.Signal, 0, len(sigs))
	for _, s := range sigs {
		out = append(out, s)
	}
	return out
}
