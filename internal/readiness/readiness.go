// Package readiness polls a tunnel daemon's local readiness endpoint
// until it reports the desired connection state.
package readiness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/loykin/tunnelcheck/internal/metrics"
	"github.com/loykin/tunnelcheck/internal/retry"
)

// Snapshot is one point-in-time read of the /ready endpoint. It is an
// immutable value recomputed on every poll.
type Snapshot struct {
	ReadyConnections int    `json:"readyConnections"`
	ConnectorID      string `json:"connectorId"`
	StatusCode       int    `json:"-"`
}

// Poller issues bounded, synchronous readiness probes. Transport
// failures (connection refused while the child binds its listener) are
// retried under Policy rather than surfaced immediately.
type Poller struct {
	// MetricsURL is the base of the daemon's local metrics listener,
	// e.g. "http://localhost:51000".
	MetricsURL string
	Policy     retry.Policy

	log    *slog.Logger
	client *http.Client
}

func NewPoller(metricsURL string, policy retry.Policy, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := policy.Timeout
	if timeout <= 0 {
		timeout = retry.DefaultTimeout
	}
	return &Poller{
		MetricsURL: metricsURL,
		Policy:     policy,
		log:        log,
		client:     &http.Client{Timeout: timeout},
	}
}

// SetClient replaces the HTTP client, mainly for tests that need a
// shorter per-request timeout.
func (p *Poller) SetClient(c *http.Client) { p.client = c }

func (p *Poller) readyURL() string { return p.MetricsURL + "/ready" }

// fetch performs one GET against /ready and decodes the snapshot.
func (p *Poller) fetch(ctx context.Context) (Snapshot, error) {
	metrics.IncPollAttempt()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.readyURL(), nil)
	if err != nil {
		return Snapshot{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Snapshot{}, &TransportError{URL: p.readyURL(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	var snap Snapshot
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Snapshot{}, &TransportError{URL: p.readyURL(), Err: err}
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s response %q: %w", p.readyURL(), body, err)
	}
	snap.StatusCode = resp.StatusCode
	return snap, nil
}

// WaitReady polls until the endpoint reports at least minConnections
// ready connections. Counts are compared with >=, never ==: HA setups
// may transiently exceed the minimum during reconnect races.
//
// When tunnelURL is non-empty, a successful request through the tunnel
// itself is additionally required, proving end-to-end routing rather
// than just local listener health. Exhausting the attempt budget yields
// a NotReadyError carrying the last observed snapshot.
func (p *Poller) WaitReady(ctx context.Context, minConnections int, tunnelURL string) (Snapshot, error) {
	if minConnections <= 0 {
		minConnections = 1
	}
	var last *Snapshot
	err := retry.Do(ctx, p.Policy, func(ctx context.Context) error {
		snap, err := p.fetch(ctx)
		if err != nil {
			p.log.Debug("readiness probe failed", "err", err)
			return err
		}
		last = &snap
		if snap.ReadyConnections < minConnections {
			return fmt.Errorf("%d ready connections, want at least %d", snap.ReadyConnections, minConnections)
		}
		if tunnelURL != "" {
			if err := p.probeURL(ctx, tunnelURL); err != nil {
				p.log.Debug("tunnel URL probe failed", "url", tunnelURL, "err", err)
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, &NotReadyError{MinConnections: minConnections, Last: last, Err: err}
	}
	return *last, nil
}

// ConfirmNotReady polls until the endpoint reports a non-ready status
// with zero ready connections. A refused connection is accepted as
// evidence of shutdown, not a failure: the daemon may already be gone,
// and calling this after full exit must still succeed.
func (p *Poller) ConfirmNotReady(ctx context.Context) error {
	return retry.Do(ctx, p.Policy, func(ctx context.Context) error {
		snap, err := p.fetch(ctx)
		if err != nil {
			var te *TransportError
			if AsTransport(err, &te) {
				p.log.Debug("readiness endpoint unreachable, treating as shut down", "err", te.Err)
				return nil
			}
			return err
		}
		if snap.StatusCode == http.StatusOK {
			return fmt.Errorf("endpoint still ready: %+v", snap)
		}
		if snap.ReadyConnections != 0 {
			return fmt.Errorf("expected all connections terminated, got %d", snap.ReadyConnections)
		}
		return nil
	})
}

// ConnectorID reads the connector identifier from the endpoint. The
// daemon may already have terminated; that surfaces as a TransportError.
func (p *Poller) ConnectorID(ctx context.Context) (string, error) {
	snap, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}
	return snap.ConnectorID, nil
}

func (p *Poller) probeURL(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return &TransportError{URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return nil
}
