// Package symbolize implements the symbolize command.
package symbolize

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/wallprof/internal/cli/helpers"
	"github.com/coral-mesh/wallprof/internal/codemap"
	"github.com/coral-mesh/wallprof/internal/unit"
)

// frameRow is one resolved frame.
type frameRow struct {
	Address  string `header:"ADDRESS" json:"address"`
	Function string `header:"FUNCTION" json:"function"`
	Script   string `header:"SCRIPT" json:"script"`
	Line     int    `header:"LINE" json:"line"`
	Column   int    `header:"COLUMN" json:"column"`
}

// NewSymbolizeCmd creates the symbolize command.
func NewSymbolizeCmd() *cobra.Command {
	var (
		mapPath string
		pid     int
		format  string
	)

	cmd := &cobra.Command{
		Use:   "symbolize [flags] ADDRESS...",
		Short: "Resolve code addresses through a perf map",
		Long: `Resolve raw code addresses to functions using a perf map file.

Addresses are hexadecimal and given innermost frame first, as a stack
walker reports them. Frames are printed outermost first; addresses outside
every known code region are skipped.

Examples:
  wallprof symbolize --pid 4242 0x7f3a2c001040 0x7f3a2c000a10
  wallprof symbolize --map ./perf-4242.map -o json 7f3a2c001040`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := helpers.LoadEnv(cmd)
			if err != nil {
				return err
			}
			outFormat, err := helpers.ValidateFormat(format)
			if err != nil {
				return err
			}
			addrs, err := helpers.ParseAddresses(args)
			if err != nil {
				return err
			}

			path := mapPath
			if path == "" {
				if pid <= 0 {
					pid = os.Getpid()
				}
				path = codemap.PerfMapPath(pid)
			}

			feed := codemap.NewFeed()
			n, err := codemap.LoadPerfMapFile(path, feed)
			if err != nil {
				return err
			}
			env.Logger.Debug().Str("path", path).Int("regions", n).Msg("Perf map loaded")

			codes := codemap.New(unit.New(), feed, env.Logger)
			codes.Enable()
			defer codes.Disable()

			locs := codes.Symbolize(addrs)
			rows := make([]frameRow, 0, len(locs))
			for _, l := range locs {
				rows = append(rows, frameRow{
					Address:  fmt.Sprintf("%#x", l.Address),
					Function: l.FunctionName,
					Script:   l.ScriptName,
					Line:     l.Line,
					Column:   l.Column,
				})
			}
			if len(rows) == 0 {
				return fmt.Errorf("none of %d addresses resolved in %s", len(addrs), path)
			}

			f, err := helpers.NewFormatter(outFormat)
			if err != nil {
				return err
			}
			return f.Format(rows, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&mapPath, "map", "", "Perf map file (defaults to the perf map of --pid)")
	cmd.Flags().IntVar(&pid, "pid", 0, "Process whose perf map to read (defaults to this process)")
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable)
	return cmd
}
