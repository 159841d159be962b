package readiness

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/tunnelcheck/internal/retry"
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 5, Delay: 10 * time.Millisecond}
}

func readyServer(t *testing.T, connections *atomic.Int64, connectorID string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		n := connections.Load()
		code := http.StatusOK
		if n == 0 {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"readyConnections": n,
			"connectorId":      connectorID,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWaitReadyAtLeastMinConnections(t *testing.T) {
	var conns atomic.Int64
	conns.Store(4)
	srv := readyServer(t, &conns, "conn-abc")
	p := NewPoller(srv.URL, fastPolicy(), nil)

	snap, err := p.WaitReady(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if snap.ReadyConnections != 4 || snap.ConnectorID != "conn-abc" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	// HA setups can exceed the minimum; >= must hold, not ==.
	if _, err := p.WaitReady(context.Background(), 2, ""); err != nil {
		t.Fatalf("WaitReady with min below actual: %v", err)
	}
}

func TestWaitReadyFailsWithLastSnapshot(t *testing.T) {
	var conns atomic.Int64
	conns.Store(1)
	srv := readyServer(t, &conns, "conn-abc")
	p := NewPoller(srv.URL, retry.Policy{MaxAttempts: 2, Delay: time.Millisecond}, nil)

	_, err := p.WaitReady(context.Background(), 3, "")
	var nre *NotReadyError
	if !errors.As(err, &nre) {
		t.Fatalf("expected NotReadyError, got %v", err)
	}
	if nre.Last == nil || nre.Last.ReadyConnections != 1 {
		t.Fatalf("last snapshot not carried: %+v", nre.Last)
	}
}

func TestWaitReadyToleratesLateListenerBind(t *testing.T) {
	// The first attempts hit a closed port; the listener appears later.
	var conns atomic.Int64
	conns.Store(2)
	mux := http.NewServeMux()
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"readyConnections": conns.Load(), "connectorId": "c"})
	})
	srv := httptest.NewUnstartedServer(mux)
	addr := srv.Listener.Addr().String()
	go func() {
		time.Sleep(50 * time.Millisecond)
		srv.Start()
	}()
	t.Cleanup(srv.Close)

	p := NewPoller("http://"+addr, retry.Policy{MaxAttempts: 20, Delay: 20 * time.Millisecond}, nil)
	if _, err := p.WaitReady(context.Background(), 1, ""); err != nil {
		t.Fatalf("WaitReady should have survived the bind window: %v", err)
	}
}

func TestWaitReadyRequiresTunnelURL(t *testing.T) {
	var conns atomic.Int64
	conns.Store(1)
	srv := readyServer(t, &conns, "conn")
	var tunnelHits atomic.Int64
	tunnel := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tunnelHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(tunnel.Close)

	p := NewPoller(srv.URL, fastPolicy(), nil)
	if _, err := p.WaitReady(context.Background(), 1, tunnel.URL); err != nil {
		t.Fatalf("WaitReady with tunnel URL: %v", err)
	}
	if tunnelHits.Load() == 0 {
		t.Fatal("end-to-end tunnel URL was never probed")
	}
}

func TestWaitReadyTunnelURLFailureIsNotSatisfied(t *testing.T) {
	var conns atomic.Int64
	conns.Store(1)
	srv := readyServer(t, &conns, "conn")
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(bad.Close)

	p := NewPoller(srv.URL, retry.Policy{MaxAttempts: 2, Delay: time.Millisecond}, nil)
	if _, err := p.WaitReady(context.Background(), 1, bad.URL); err == nil {
		t.Fatal("ready endpoint alone must not satisfy the wait when tunnel URL fails")
	}
}

func TestConfirmNotReadyOn503(t *testing.T) {
	var conns atomic.Int64
	conns.Store(0)
	srv := readyServer(t, &conns, "conn")
	p := NewPoller(srv.URL, fastPolicy(), nil)
	if err := p.ConfirmNotReady(context.Background()); err != nil {
		t.Fatalf("ConfirmNotReady: %v", err)
	}
}

func TestConfirmNotReadyAcceptsRefusedConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // endpoint is gone, as after full daemon exit

	p := NewPoller(url, fastPolicy(), nil)
	if err := p.ConfirmNotReady(context.Background()); err != nil {
		t.Fatalf("refused connection must count as shut down: %v", err)
	}
	// Idempotent: a second call still succeeds.
	if err := p.ConfirmNotReady(context.Background()); err != nil {
		t.Fatalf("second ConfirmNotReady: %v", err)
	}
}

func TestConfirmNotReadyRejectsStillReady(t *testing.T) {
	var conns atomic.Int64
	conns.Store(2)
	srv := readyServer(t, &conns, "conn")
	p := NewPoller(srv.URL, retry.Policy{MaxAttempts: 2, Delay: time.Millisecond}, nil)
	if err := p.ConfirmNotReady(context.Background()); err == nil {
		t.Fatal("expected failure while connections are still ready")
	}
}

func TestConnectorID(t *testing.T) {
	var conns atomic.Int64
	conns.Store(1)
	srv := readyServer(t, &conns, "8f7d2c")
	p := NewPoller(srv.URL, fastPolicy(), nil)
	id, err := p.ConnectorID(context.Background())
	if err != nil {
		t.Fatalf("ConnectorID: %v", err)
	}
	if id != "8f7d2c" {
		t.Fatalf("connector id = %q", id)
	}
}
