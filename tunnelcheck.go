// Package tunnelcheck is a black-box lifecycle harness for tunnel
// daemons: it supervises the binary under test, polls its readiness
// endpoint, drives reconnect and termination scenarios and verifies
// the structured logs the daemon leaves behind.
package tunnelcheck

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/loykin/tunnelcheck/internal/config"
	"github.com/loykin/tunnelcheck/internal/history"
	"github.com/loykin/tunnelcheck/internal/history/factory"
	"github.com/loykin/tunnelcheck/internal/logverify"
	"github.com/loykin/tunnelcheck/internal/readiness"
	"github.com/loykin/tunnelcheck/internal/retry"
	"github.com/loykin/tunnelcheck/internal/scenario"
	"github.com/loykin/tunnelcheck/internal/supervisor"
	"github.com/loykin/tunnelcheck/internal/tunnel"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Policy = retry.Policy

type Snapshot = readiness.Snapshot

type Result = scenario.Result

type InvariantError = scenario.InvariantError

type TunnelConfig = tunnel.Config

type IngressRule = tunnel.IngressRule

type HistoryRecord = history.Record

type HistorySink = history.Sink

type FileConfig = config.FileConfig

// LoadConfig parses a TOML harness config file.
func LoadConfig(path string) (*FileConfig, error) { return config.Load(path) }

// StartupLogLine is what a tunnel daemon logs once its run loop is up.
const StartupLogLine = "Starting tunnel"

// Harness wires a supervised daemon, its readiness poller and the
// scenario runners behind one handle. One Harness drives one daemon.
type Harness struct {
	cfg    *config.FileConfig
	tunnel tunnel.Config
	log    *slog.Logger

	sup    *supervisor.Supervisor
	poller *readiness.Poller
	sink   history.Sink

	workDir string
	proc    *supervisor.ManagedProcess
	stop    func()
}

// New validates the config and prepares a harness. No process is
// started until StartDaemon.
func New(cfg *config.FileConfig, log *slog.Logger) (*Harness, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tcfg, err := cfg.TunnelConfig()
	if err != nil {
		return nil, fmt.Errorf("tunnel config: %w", err)
	}
	h := &Harness{
		cfg:    cfg,
		tunnel: tcfg,
		log:    log,
		sup:    supervisor.New(log),
		poller: readiness.NewPoller(tcfg.MetricsURL(), cfg.PollPolicy(), log),
	}
	if cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		h.sink = sink
	}
	return h, nil
}

// Argv returns the command line StartDaemon will launch.
func (h *Harness) Argv(configPath string) []string {
	return tunnel.RunCommand(h.cfg.Binary, configPath).Argv()
}

// TunnelURL is the public URL of the first ingress rule.
func (h *Harness) TunnelURL() string { return h.tunnel.URL() }

// MetricsURL is the base URL of the daemon's metrics listener.
func (h *Harness) MetricsURL() string { return h.tunnel.MetricsURL() }

// StartDaemon writes the daemon config into a scratch directory and
// launches the binary under test with stdin attached and output
// captured. The caller owns the daemon until StopDaemon.
func (h *Harness) StartDaemon(ctx context.Context) error {
	if h.proc != nil && !h.proc.Exited() {
		return fmt.Errorf("daemon already running (pid %d)", h.proc.PID())
	}
	workDir, err := os.MkdirTemp("", "tunnelcheck-*")
	if err != nil {
		return err
	}
	configPath, err := h.tunnel.WriteFile(workDir)
	if err != nil {
		_ = os.RemoveAll(workDir)
		return err
	}
	env, err := h.cfg.GlobalEnv()
	if err != nil {
		_ = os.RemoveAll(workDir)
		return err
	}
	proc, err := h.sup.Start(h.Argv(configPath), supervisor.Options{
		StdinEnabled:  true,
		CaptureOutput: true,
		RunAsRoot:     h.cfg.RunAsRoot(),
		Env:           env,
	})
	if err != nil {
		_ = os.RemoveAll(workDir)
		return err
	}
	h.workDir = workDir
	h.proc = proc
	h.stop = h.sup.StopScope(proc)
	h.log.Info("daemon started", "pid", proc.PID(), "config", configPath)
	return nil
}

// StopDaemon terminates the daemon if it is still running and removes
// the scratch directory. Safe to call more than once.
func (h *Harness) StopDaemon() {
	if h.stop != nil {
		h.stop()
		h.stop = nil
	}
	if h.workDir != "" {
		_ = os.RemoveAll(h.workDir)
		h.workDir = ""
	}
}

// Close releases the harness: the daemon, the scratch dir and the
// history sink.
func (h *Harness) Close() error {
	h.StopDaemon()
	if c, ok := h.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// WaitReady blocks until the daemon reports at least the configured
// connection floor.
func (h *Harness) WaitReady(ctx context.Context) (Snapshot, error) {
	return h.poller.WaitReady(ctx, h.cfg.Reconnect.MinConnections, "")
}

// ConfirmNotReady checks that no daemon answers ready on the metrics
// address. A refused connection counts as confirmation.
func (h *Harness) ConfirmNotReady(ctx context.Context) error {
	return h.poller.ConfirmNotReady(ctx)
}

// RunReconnect drives the reconnect storm against the running daemon
// and archives the outcome.
func (h *Harness) RunReconnect(ctx context.Context) (Result, error) {
	if h.proc == nil {
		return Result{}, fmt.Errorf("daemon not started")
	}
	started := time.Now()
	sc := scenario.Reconnect{
		Prober:         h.poller,
		Control:        h.proc,
		MinConnections: h.cfg.Reconnect.MinConnections,
		Delay:          h.cfg.Reconnect.Delay,
		Rounds:         h.cfg.Reconnect.Rounds,
		Log:            h.log,
	}
	res, err := sc.Run(ctx)
	h.record(ctx, res, started, err)
	return res, err
}

// RunTermination signals the running daemon and checks the graceful
// shutdown contract, holding a stream open when the config names a
// stream path.
func (h *Harness) RunTermination(ctx context.Context) (Result, error) {
	if h.proc == nil {
		return Result{}, fmt.Errorf("daemon not started")
	}
	sig, err := h.cfg.TerminationSignal()
	if err != nil {
		return Result{}, err
	}
	streamURL := ""
	if p := h.cfg.Termination.StreamPath; p != "" {
		streamURL = h.tunnel.URL() + p
	}
	started := time.Now()
	sc := scenario.Termination{
		Prober:         h.poller,
		Proc:           h.proc,
		Signal:         sig,
		GracePeriod:    h.cfg.Daemon.GracePeriod,
		StreamURL:      streamURL,
		MinConnections: h.cfg.Reconnect.MinConnections,
		Log:            h.log,
	}
	res, err := sc.Run(ctx)
	h.record(ctx, res, started, err)
	return res, err
}

// VerifyStartupLogs checks that the startup line showed up where the
// daemon was told to log: its file, or captured stderr otherwise. File
// records are also checked for the structured shape.
func (h *Harness) VerifyStartupLogs(ctx context.Context) error {
	if f := h.cfg.Daemon.LogFile; f != "" {
		if err := logverify.ExpectInFile(f, StartupLogLine, 0); err != nil {
			return err
		}
		return logverify.CheckJSONRecords(f, 0)
	}
	if h.proc == nil {
		return fmt.Errorf("daemon not started")
	}
	return logverify.ExpectProcessLine(ctx, h.proc.StderrLines, StartupLogLine, h.cfg.PollPolicy())
}

// VerifyRotation floods the tunnel with requests and checks the log
// directory rotation contract.
func (h *Harness) VerifyRotation(ctx context.Context, substring string) error {
	dir := h.cfg.Daemon.LogDirectory
	if dir == "" {
		return fmt.Errorf("log directory is not configured")
	}
	rc := logverify.RotationCheck{
		Dir:       dir,
		URL:       h.tunnel.URL(),
		Substring: substring,
		Log:       h.log,
	}
	return rc.Run(ctx)
}

func (h *Harness) record(ctx context.Context, res Result, started time.Time, runErr error) {
	if h.sink == nil {
		return
	}
	if err := h.sink.Send(ctx, history.FromResult(res, started, runErr)); err != nil {
		h.log.Warn("history sink rejected record", "scenario", res.Scenario, "error", err)
	}
}
