package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/tunnelcheck/internal/origin"
	"github.com/loykin/tunnelcheck/internal/readiness"
)

// fakeDaemon stands in for a supervised tunnel daemon: a connection
// count the prober reads and a stdin the storm writes to.
type fakeDaemon struct {
	mu          sync.Mutex
	connections int
	events      []string
	failWrites  bool
}

func (d *fakeDaemon) record(ev string) {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
}

func (d *fakeDaemon) WaitReady(ctx context.Context, min int, tunnelURL string) (readiness.Snapshot, error) {
	deadline := time.Now().Add(500 * time.Millisecond)
	for {
		d.mu.Lock()
		n := d.connections
		d.mu.Unlock()
		if n >= min {
			d.record("ready")
			return readiness.Snapshot{ReadyConnections: n}, nil
		}
		if err := ctx.Err(); err != nil {
			return readiness.Snapshot{}, err
		}
		if time.Now().After(deadline) {
			return readiness.Snapshot{}, fmt.Errorf("have %d connections, want %d", n, min)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (d *fakeDaemon) ConfirmNotReady(ctx context.Context) error {
	d.mu.Lock()
	n := d.connections
	d.mu.Unlock()
	if n != 0 {
		return fmt.Errorf("still %d connections", n)
	}
	d.record("down")
	return nil
}

func (d *fakeDaemon) WriteCommand(line string) error {
	if d.failWrites {
		return errors.New("stdin closed")
	}
	d.record("command")
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "reconnect" {
		return fmt.Errorf("unexpected control line %q", line)
	}
	delay, err := time.ParseDuration(fields[1])
	if err != nil {
		return err
	}
	// One command drops one connection, which comes back after the delay.
	d.mu.Lock()
	if d.connections > 0 {
		d.connections--
	}
	d.mu.Unlock()
	go func() {
		time.Sleep(delay)
		d.mu.Lock()
		d.connections++
		d.mu.Unlock()
	}()
	return nil
}

func TestReconnectStormAllRoundsRecover(t *testing.T) {
	d := &fakeDaemon{connections: 4}
	r := Reconnect{
		Prober:         d,
		Control:        d,
		MinConnections: 4,
		Delay:          30 * time.Millisecond,
		Rounds:         3,
	}
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Passed != 3 || res.Rounds != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestReconnectNeverSignalsBeforeReady(t *testing.T) {
	d := &fakeDaemon{connections: 2}
	r := Reconnect{Prober: d, Control: d, MinConnections: 2, Delay: 20 * time.Millisecond, Rounds: 2}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ev := range d.events {
		if ev != "command" || (i > 0 && d.events[i-1] == "command") {
			continue
		}
		if i == 0 || d.events[i-1] != "ready" {
			t.Fatalf("command burst at event %d not preceded by a ready observation: %v", i, d.events)
		}
	}
}

func TestReconnectMajorityFailure(t *testing.T) {
	d := &fakeDaemon{connections: 1, failWrites: true}
	r := Reconnect{Prober: d, Control: d, MinConnections: 1, Delay: 10 * time.Millisecond, Rounds: 3}
	res, err := r.Run(context.Background())
	var inv *InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvariantError, got %v", err)
	}
	if res.Passed != 0 || res.Failed() != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

// fakeProcess exits when signalled, after an optional lag.
type fakeProcess struct {
	exitLag   time.Duration
	signalled chan struct{}
	done      chan struct{}
	once      sync.Once
}

func newFakeProcess(lag time.Duration) *fakeProcess {
	return &fakeProcess{exitLag: lag, signalled: make(chan struct{}), done: make(chan struct{})}
}

func (p *fakeProcess) Signal(os.Signal) error {
	p.once.Do(func() {
		close(p.signalled)
		time.AfterFunc(p.exitLag, func() { close(p.done) })
	})
	return nil
}

func (p *fakeProcess) WaitExit(timeout time.Duration) bool {
	select {
	case <-p.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *fakeProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// terminationProber reports ready until the process is signalled, the
// way a draining daemon flips to 503 while it is still running.
type terminationProber struct {
	proc          *fakeProcess
	confirmedLive atomic.Bool
}

func (p *terminationProber) signalled() bool {
	select {
	case <-p.proc.signalled:
		return true
	default:
		return false
	}
}

func (p *terminationProber) WaitReady(ctx context.Context, min int, tunnelURL string) (readiness.Snapshot, error) {
	if p.signalled() {
		return readiness.Snapshot{}, errors.New("daemon draining")
	}
	return readiness.Snapshot{ReadyConnections: min}, nil
}

func (p *terminationProber) ConfirmNotReady(ctx context.Context) error {
	deadline := time.Now().Add(200 * time.Millisecond)
	for !p.signalled() {
		if time.Now().After(deadline) {
			return errors.New("still ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.confirmedLive.Store(!p.proc.Exited())
	return nil
}

func streamServer(t *testing.T, stop <-chan struct{}, terminal bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer is not a flusher")
			return
		}
		frame := 0
		for {
			select {
			case <-stop:
				if terminal {
					_, _ = fmt.Fprintf(w, "%s\n", origin.TerminalStatusLine)
					flusher.Flush()
				}
				return
			case <-time.After(20 * time.Millisecond):
				_, _ = fmt.Fprintf(w, "%d\n\n", frame)
				frame++
				flusher.Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTerminationGracefulShutdown(t *testing.T) {
	// The daemon holds the stream through the grace period and exits
	// just past it, force-closing with the terminal line.
	proc := newFakeProcess(500 * time.Millisecond)
	prober := &terminationProber{proc: proc}
	srv := streamServer(t, proc.done, true)

	term := Termination{
		Prober:      prober,
		Proc:        proc,
		Signal:      os.Interrupt,
		GracePeriod: 300 * time.Millisecond,
		StreamURL:   srv.URL,
		StreamFreq:  20 * time.Millisecond,
	}
	res, err := term.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Passed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !prober.confirmedLive.Load() {
		t.Fatal("not-ready was confirmed only after the daemon exited")
	}
}

func TestTerminationNoConnectionExitsWithinGrace(t *testing.T) {
	proc := newFakeProcess(50 * time.Millisecond)
	term := Termination{
		Prober:      &terminationProber{proc: proc},
		Proc:        proc,
		GracePeriod: 500 * time.Millisecond,
	}
	res, err := term.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Passed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTerminationFailsWhenExitExceedsGracePeriod(t *testing.T) {
	// Exit well past the grace period, but inside the padded wait: the
	// scenario must still flag the slow shutdown.
	proc := newFakeProcess(400 * time.Millisecond)
	term := Termination{
		Prober:      &terminationProber{proc: proc},
		Proc:        proc,
		GracePeriod: 100 * time.Millisecond,
	}
	res, err := term.Run(context.Background())
	var inv *InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvariantError, got %v", err)
	}
	if !strings.Contains(inv.Invariant, "grace period") {
		t.Fatalf("unexpected invariant: %q", inv.Invariant)
	}
	if res.Passed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTerminationFailsWhenProcessOutlivesGrace(t *testing.T) {
	proc := newFakeProcess(time.Hour)
	term := Termination{
		Prober:      &terminationProber{proc: proc},
		Proc:        proc,
		GracePeriod: 50 * time.Millisecond,
	}
	// Shrink the padded wait by using a tiny grace period.
	_, err := term.Run(context.Background())
	var inv *InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvariantError, got %v", err)
	}
	if !strings.Contains(inv.Invariant, "still running") {
		t.Fatalf("unexpected invariant: %q", inv.Invariant)
	}
}

func TestTerminationFailsWithoutTerminalStatusLine(t *testing.T) {
	proc := newFakeProcess(100 * time.Millisecond)
	prober := &terminationProber{proc: proc}
	srv := streamServer(t, proc.done, false)

	term := Termination{
		Prober:      prober,
		Proc:        proc,
		GracePeriod: time.Second,
		StreamURL:   srv.URL,
	}
	_, err := term.Run(context.Background())
	var inv *InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvariantError, got %v", err)
	}
	if !strings.Contains(inv.Invariant, "terminal status line") {
		t.Fatalf("unexpected invariant: %q", inv.Invariant)
	}
}

func TestTerminationFailsWhenStreamCutAtSignal(t *testing.T) {
	// A daemon that slams the stream shut the moment it is signalled
	// must not pass just because the terminal line was present.
	proc := newFakeProcess(50 * time.Millisecond)
	prober := &terminationProber{proc: proc}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, "%s\n", origin.TerminalStatusLine)
	}))
	t.Cleanup(srv.Close)

	term := Termination{
		Prober:      prober,
		Proc:        proc,
		GracePeriod: 200 * time.Millisecond,
		StreamURL:   srv.URL,
		StreamFreq:  20 * time.Millisecond,
	}
	_, err := term.Run(context.Background())
	var inv *InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvariantError, got %v", err)
	}
	if !strings.Contains(inv.Invariant, "served 0 frames") {
		t.Fatalf("unexpected invariant: %q", inv.Invariant)
	}
}

func TestStreamFreqFromURL(t *testing.T) {
	if got := streamFreqFromURL("http://localhost:8080/sse?freq=1s"); got != time.Second {
		t.Fatalf("freq = %s", got)
	}
	if got := streamFreqFromURL("http://localhost:8080/sse"); got != defaultStreamFreq {
		t.Fatalf("default freq = %s", got)
	}
}
