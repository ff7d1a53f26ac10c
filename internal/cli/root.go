// Package cli wires the wallprof commands.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/wallprof/internal/cli/configcmd"
	"github.com/coral-mesh/wallprof/internal/cli/cpuclock"
	"github.com/coral-mesh/wallprof/internal/cli/helpers"
	"github.com/coral-mesh/wallprof/internal/cli/run"
	"github.com/coral-mesh/wallprof/internal/cli/symbolize"
	"github.com/coral-mesh/wallprof/pkg/version"
)

// NewRootCmd builds the wallprof command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wallprof",
		Short: "Wall-clock profiler with per-sample contexts",
		Long: `wallprof samples execution units at a fixed wall-clock period and attaches
the context each unit declared (a request, a route, a trace) to every
sample, so profiles can be sliced by what the program was doing.

Configuration is read from --config or WALLPROF_CONFIG, with WALLPROF_*
environment variables overriding individual settings.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String(helpers.ConfigFlag, "", "Config file (defaults to $WALLPROF_CONFIG)")
	root.PersistentFlags().String(helpers.LogLevelFlag, "", "Log level override (trace, debug, info, warn, error)")

	root.AddCommand(run.NewRunCmd())
	root.AddCommand(symbolize.NewSymbolizeCmd())
	root.AddCommand(cpuclock.NewCPUTimeCmd())
	root.AddCommand(configcmd.NewConfigCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("wallprof version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
