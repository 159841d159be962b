// mocktunnel is a stand-in for a real tunnel daemon binary. It accepts
// the same invocation shape (tunnel --config <file> run), serves the
// readiness endpoint and hello origin, honors stdin reconnect commands
// and shuts down gracefully on SIGTERM/SIGINT. It exists so the harness
// and its tests can run without edge credentials.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/tunnelcheck/internal/daemon"
	"github.com/loykin/tunnelcheck/internal/metrics"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	flags := &RunFlags{}

	root := &cobra.Command{
		Use:           "mocktunnel",
		Short:         "Mock tunnel daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	tunnelCmd := &cobra.Command{
		Use:   "tunnel",
		Short: "Tunnel subcommands",
	}
	tunnelCmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "daemon config file (YAML)")

	runCmd := &cobra.Command{
		Use:   "run [tunnel-id]",
		Short: "Run the daemon until signalled",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(flags)
			if err != nil {
				return err
			}
			_ = metrics.Register(prometheus.DefaultRegisterer)
			d, err := daemon.New(opts)
			if err != nil {
				return err
			}
			reconnectC := make(chan daemon.ReconnectSignal)
			go daemon.RunControl(os.Stdin, reconnectC, d.Logger())
			return d.Run(context.Background(), reconnectC)
		},
	}
	tunnelCmd.AddCommand(runCmd)
	root.AddCommand(tunnelCmd)
	return root
}
