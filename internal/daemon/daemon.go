package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/loykin/tunnelcheck/internal/logger"
	"github.com/loykin/tunnelcheck/internal/metrics"
	"github.com/loykin/tunnelcheck/internal/origin"
)

// Registration pacing when bringing up the HA connection set.
const connectInterval = 50 * time.Millisecond

// Options configures one daemon run.
type Options struct {
	MetricsAddr   string        // listener for /ready, /quicktunnel, /metrics
	OriginAddr    string        // listener for the hello origin ("" = ephemeral)
	HAConnections int           // redundant connections to register (default 1)
	GracePeriod   time.Duration // shutdown bound once signalled (default 30s)
	LogLevel      slog.Level
	LogFile       logger.FileConfig // file/dir mode; zero = terminal only
}

// Daemon is the mock tunnel process. Run drives its whole lifecycle:
// bring-up, serving, stdin control, graceful shutdown on SIGTERM/SIGINT.
type Daemon struct {
	opts    Options
	log     *logger.Run
	tracker *Tracker
	origin  *origin.Server
	metrics *http.Server

	readyC      chan struct{} // closed once both listeners are bound
	metricsAddr net.Addr
}

// New validates opts and builds the daemon with its logging context.
func New(opts Options) (*Daemon, error) {
	if opts.MetricsAddr == "" {
		return nil, fmt.Errorf("metrics address is required")
	}
	if opts.HAConnections <= 0 {
		opts.HAConnections = 1
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 30 * time.Second
	}

	var run *logger.Run
	if opts.LogFile.Path() != "" {
		var err error
		run, err = logger.NewFileRun(opts.LogFile, opts.LogLevel)
		if err != nil {
			return nil, err
		}
	} else {
		run = logger.NewRun(os.Stderr, opts.LogLevel)
	}
	return &Daemon{
		opts:    opts,
		log:     run,
		tracker: NewTracker(opts.HAConnections, run.Logger),
		readyC:  make(chan struct{}),
	}, nil
}

// Logger exposes the daemon's logging context, mainly for tests.
func (d *Daemon) Logger() *slog.Logger { return d.log.Logger }

// Tracker exposes the connection tracker, mainly for tests.
func (d *Daemon) Tracker() *Tracker { return d.tracker }

// OriginURL returns the bound hello-origin URL once Run has started it.
func (d *Daemon) OriginURL() string {
	if d.origin == nil {
		return ""
	}
	return d.origin.URL()
}

// MetricsURL returns the bound metrics base URL once Run has started.
func (d *Daemon) MetricsURL() string {
	if d.metricsAddr == nil {
		return ""
	}
	return "http://" + d.metricsAddr.String()
}

// WaitListening blocks until both listeners are bound or the timeout
// elapses, reporting which happened.
func (d *Daemon) WaitListening(timeout time.Duration) bool {
	select {
	case <-d.readyC:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Run serves until ctx is cancelled or a termination signal arrives,
// then performs the graceful-shutdown protocol and closes the logging
// context. reconnectC carries requests from the stdin control loop.
func (d *Daemon) Run(ctx context.Context, reconnectC <-chan ReconnectSignal) error {
	defer func() { _ = d.log.Close() }()

	// Subscribe before anything is observable from the outside, so a
	// signal racing the bring-up is never dropped.
	sigC := make(chan os.Signal, 1)
	notifyTermination(sigC)
	defer signal.Stop(sigC)

	originLn, err := net.Listen("tcp", listenAddr(d.opts.OriginAddr))
	if err != nil {
		return fmt.Errorf("bind origin listener: %w", err)
	}
	d.origin = origin.New(originLn, d.log.Logger)
	originErrC := make(chan error, 1)
	go func() { originErrC <- d.origin.Start() }()

	metricsLn, err := net.Listen("tcp", d.opts.MetricsAddr)
	if err != nil {
		return fmt.Errorf("bind metrics listener: %w", err)
	}
	d.metricsAddr = metricsLn.Addr()
	router := NewMetricsRouter(d.tracker, hostnameFor(originLn))
	d.metrics = &http.Server{
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsErrC := make(chan error, 1)
	go func() { metricsErrC <- d.metrics.Serve(metricsLn) }()
	d.log.Info("metrics server listening", "addr", d.metricsAddr.String())
	close(d.readyC)

	d.log.Info("Starting tunnel",
		"connector", d.tracker.ConnectorID(),
		"ha_connections", d.opts.HAConnections)
	go d.tracker.ConnectAll(connectInterval)

	for {
		select {
		case sig := <-sigC:
			d.log.Info("termination signal received", "signal", sig.String())
			return d.shutdown()
		case <-ctx.Done():
			return d.shutdown()
		case rc := <-reconnectC:
			if !d.tracker.Reconnect(rc.Delay) {
				d.log.Warn("reconnect requested but no connection is up")
			}
		case err := <-originErrC:
			return fmt.Errorf("origin server: %w", err)
		case err := <-metricsErrC:
			return fmt.Errorf("metrics server: %w", err)
		}
	}
}

// shutdown implements the grace-period protocol: readiness drops to
// zero immediately; in-flight streams are served until they drain or
// the grace period elapses, then force-closed with the terminal status
// line. The whole daemon exits within the grace period.
func (d *Daemon) shutdown() error {
	start := time.Now()
	d.tracker.StartDraining()

	deadline := time.NewTimer(d.opts.GracePeriod)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

drain:
	for d.origin.InFlight() > 0 {
		select {
		case <-deadline.C:
			d.log.Warn("grace period elapsed with streams in flight",
				"in_flight", d.origin.InFlight())
			break drain
		case <-tick.C:
		}
	}
	d.origin.Drain()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = d.origin.Shutdown(ctx)
	_ = d.metrics.Close()

	elapsed := time.Since(start)
	metrics.ObserveShutdownDuration(elapsed.Seconds())
	d.log.Info("shutdown complete", "elapsed", elapsed)
	return nil
}

func listenAddr(addr string) string {
	if addr == "" {
		return "127.0.0.1:0"
	}
	return addr
}

func hostnameFor(ln net.Listener) string {
	return ln.Addr().String()
}
