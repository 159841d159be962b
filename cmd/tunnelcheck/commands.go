package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/tunnelcheck"
	"github.com/loykin/tunnelcheck/internal/logger"
	"github.com/loykin/tunnelcheck/internal/origin"
	"github.com/loykin/tunnelcheck/internal/scenario"
)

const defaultScenarioTimeout = 5 * time.Minute

func newLogger(flags *GlobalFlags) *logger.Run {
	level := slog.LevelInfo
	if flags.Verbose {
		level = slog.LevelDebug
	}
	return logger.NewRun(os.Stderr, level)
}

// withHarness loads the config, starts the daemon and hands control to
// fn. The daemon is stopped on the way out unless keep is true.
func withHarness(flags *GlobalFlags, timeout time.Duration, keep bool, fn func(ctx context.Context, h *tunnelcheck.Harness) error) error {
	cfg, err := tunnelcheck.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flags.ConfigPath, err)
	}
	log := newLogger(flags)
	h, err := tunnelcheck.New(cfg, log.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	if timeout <= 0 {
		timeout = defaultScenarioTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := h.StartDaemon(ctx); err != nil {
		return err
	}
	if !keep {
		defer h.StopDaemon()
	}
	return fn(ctx, h)
}

func createReadyCommand(global *GlobalFlags, flags *ReadyFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "Start the daemon and wait until it reports ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.ConfirmDown {
				cfg, err := tunnelcheck.LoadConfig(global.ConfigPath)
				if err != nil {
					return err
				}
				h, err := tunnelcheck.New(cfg, newLogger(global).Logger)
				if err != nil {
					return err
				}
				defer func() { _ = h.Close() }()
				ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
				defer cancel()
				if err := h.ConfirmNotReady(ctx); err != nil {
					return err
				}
				cmd.Println("not ready: no daemon answers on the metrics address")
				return nil
			}
			return withHarness(global, flags.Timeout, false, func(ctx context.Context, h *tunnelcheck.Harness) error {
				snap, err := h.WaitReady(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("ready: %d connections, connector %s\n", snap.ReadyConnections, snap.ConnectorID)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", defaultScenarioTimeout, "overall deadline")
	cmd.Flags().BoolVar(&flags.ConfirmDown, "confirm-down", false, "assert that no daemon is ready instead")
	return cmd
}

func createReconnectCommand(global *GlobalFlags, flags *ScenarioFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconnect",
		Short: "Run the reconnect storm scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHarness(global, flags.Timeout, flags.KeepDaemon, func(ctx context.Context, h *tunnelcheck.Harness) error {
				res, err := h.RunReconnect(ctx)
				cmd.Printf("reconnect: %d/%d rounds passed in %s\n", res.Passed, res.Rounds, res.Duration.Round(time.Millisecond))
				return err
			})
		},
	}
	addScenarioFlags(cmd, flags)
	return cmd
}

func createTerminationCommand(global *GlobalFlags, flags *ScenarioFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "termination",
		Short: "Run the graceful termination scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHarness(global, flags.Timeout, flags.KeepDaemon, func(ctx context.Context, h *tunnelcheck.Harness) error {
				res, err := h.RunTermination(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("termination: daemon shut down cleanly in %s\n", res.Duration.Round(time.Millisecond))
				return nil
			})
		},
	}
	addScenarioFlags(cmd, flags)
	return cmd
}

func addScenarioFlags(cmd *cobra.Command, flags *ScenarioFlags) {
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", defaultScenarioTimeout, "overall deadline")
	cmd.Flags().BoolVar(&flags.KeepDaemon, "keep-daemon", false, "leave the daemon running afterwards")
}

func createLogsCommand(global *GlobalFlags, flags *LogsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Verify the daemon's structured log output",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHarness(global, flags.Timeout, false, func(ctx context.Context, h *tunnelcheck.Harness) error {
				if _, err := h.WaitReady(ctx); err != nil {
					return err
				}
				if err := h.VerifyStartupLogs(ctx); err != nil {
					return err
				}
				cmd.Println("logs: startup record present and well formed")
				if !flags.Rotation {
					return nil
				}
				if err := h.VerifyRotation(ctx, flags.Substring); err != nil {
					return err
				}
				cmd.Println("logs: rotation contract holds")
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", defaultScenarioTimeout, "overall deadline")
	cmd.Flags().BoolVar(&flags.Rotation, "rotation", false, "also check log directory rotation")
	cmd.Flags().StringVar(&flags.Substring, "substring", "Starting Hello", "line expected in the rotated file")
	return cmd
}

func createOriginCommand(flags *OriginFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "origin",
		Short: "Serve the hello origin for a tunnel to point at",
		RunE: func(cmd *cobra.Command, args []string) error {
			ln, err := net.Listen("tcp", flags.Addr)
			if err != nil {
				return err
			}
			log := logger.NewRun(os.Stderr, slog.LevelDebug)
			srv := origin.New(ln, log.Logger)
			cmd.Printf("origin listening at %s\n", srv.URL())

			errC := make(chan error, 1)
			go func() { errC <- srv.Start() }()

			sigC := make(chan os.Signal, 1)
			signal.Notify(sigC, scenario.ShutdownSignals()...)
			defer signal.Stop(sigC)

			select {
			case err := <-errC:
				return err
			case <-sigC:
				srv.Drain()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
	cmd.Flags().StringVar(&flags.Addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}
