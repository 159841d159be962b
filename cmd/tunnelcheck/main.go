package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/tunnelcheck/internal/metrics"
)

func main() {
	root, bind := buildRoot()
	bind()

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and a pre-run hook.
func buildRoot() (*cobra.Command, func()) {
	globalFlags := &GlobalFlags{}
	readyFlags := &ReadyFlags{}
	scenarioFlags := &ScenarioFlags{}
	logsFlags := &LogsFlags{}
	originFlags := &OriginFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createReadyCommand(globalFlags, readyFlags),
		createReconnectCommand(globalFlags, scenarioFlags),
		createTerminationCommand(globalFlags, scenarioFlags),
		createLogsCommand(globalFlags, logsFlags),
		createOriginCommand(originFlags),
	)

	return root, func() {
		_ = metrics.Register(prometheus.DefaultRegisterer)
	}
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:           "tunnelcheck",
		Short:         "Lifecycle harness for tunnel daemons",
		Long:          "tunnelcheck supervises a tunnel daemon binary, polls its readiness endpoint and drives reconnect and termination scenarios against it.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "tunnelcheck.toml", "harness config file (TOML)")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "debug logging")
	return root
}
