// Package daemon implements the mock tunnel daemon: a stand-in for the
// real tunnel binary exposing the same observable surface (readiness
// endpoint, stdin reconnect control, graceful shutdown with a grace
// period, structured rotating logs) so the harness can be exercised
// without network access to a tunnel edge.
package daemon

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tracker models the daemon's HA connection set. Each slot is either
// connected or down; the readiness endpoint reports the connected count.
type Tracker struct {
	mu        sync.Mutex
	connected []bool
	draining  bool
	connector string
	log       *slog.Logger
}

func NewTracker(haConnections int, log *slog.Logger) *Tracker {
	if haConnections <= 0 {
		haConnections = 1
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tracker{
		connected: make([]bool, haConnections),
		connector: uuid.NewString(),
		log:       log,
	}
}

// ConnectorID identifies this daemon instance across reconnects.
func (t *Tracker) ConnectorID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connector
}

// ReadyConnections counts connected slots. While draining the daemon
// reports zero regardless of slot state.
func (t *Tracker) ReadyConnections() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining {
		return 0
	}
	n := 0
	for _, up := range t.connected {
		if up {
			n++
		}
	}
	return n
}

// ConnectAll marks every slot connected, one by one with a short pause
// between registrations like a real edge handshake.
func (t *Tracker) ConnectAll(interval time.Duration) {
	t.mu.Lock()
	slots := len(t.connected)
	t.mu.Unlock()
	for i := 0; i < slots; i++ {
		if interval > 0 {
			time.Sleep(interval)
		}
		t.mu.Lock()
		if t.draining {
			t.mu.Unlock()
			return
		}
		t.connected[i] = true
		t.mu.Unlock()
		t.log.Info("connection registered", "index", i, "connector", t.ConnectorID())
	}
}

// Reconnect takes one connected slot down and brings it back after
// delay. It reports whether a connected slot was found.
func (t *Tracker) Reconnect(delay time.Duration) bool {
	t.mu.Lock()
	idx := -1
	for i, up := range t.connected {
		if up {
			idx = i
			break
		}
	}
	if idx == -1 || t.draining {
		t.mu.Unlock()
		return false
	}
	t.connected[idx] = false
	t.mu.Unlock()
	t.log.Info("connection unregistered for reconnect", "index", idx, "delay", delay)

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		t.mu.Lock()
		if !t.draining {
			t.connected[idx] = true
		}
		t.mu.Unlock()
		t.log.Info("connection re-registered", "index", idx)
	}()
	return true
}

// StartDraining flips the tracker into shutdown mode: readiness drops
// to zero immediately and slots can no longer reconnect.
func (t *Tracker) StartDraining() {
	t.mu.Lock()
	t.draining = true
	t.mu.Unlock()
	t.log.Info("initiating graceful shutdown")
}

// Draining reports whether shutdown has begun.
func (t *Tracker) Draining() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draining
}
