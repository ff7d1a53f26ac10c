// Package cpuclock implements the cputime command.
package cpuclock

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/wallprof/internal/cli/helpers"
	"github.com/coral-mesh/wallprof/internal/cputime"
	"github.com/coral-mesh/wallprof/internal/registry"
	"github.com/coral-mesh/wallprof/internal/unit"
)

// clockRow is one line of the report.
type clockRow struct {
	Clock string `header:"CLOCK" json:"clock"`
	Value string `header:"VALUE" json:"value"`
}

// burner is a worker whose CPU time is read through a thread stopwatch.
// The stopwatch is only valid while the worker holds its OS thread.
type burner struct {
	id    unit.ID
	watch atomic.Pointer[cputime.Stopwatch]
	final atomic.Int64
}

func (b *burner) CPUTimeSinceLastRead() time.Duration {
	d := time.Duration(b.final.Swap(0))
	if w := b.watch.Load(); w != nil {
		d += w.GetAndReset()
	}
	return d
}

// finish takes the last thread reading. Call it before unlocking the
// thread.
func (b *burner) finish() {
	if w := b.watch.Swap(nil); w != nil {
		b.final.Add(int64(w.GetAndReset()))
	}
}

// NewCPUTimeCmd creates the cputime command.
func NewCPUTimeCmd() *cobra.Command {
	var (
		workers int
		burn    time.Duration
		format  string
	)

	cmd := &cobra.Command{
		Use:   "cputime",
		Short: "Show CPU clocks and worker CPU aggregation",
		Long: `Burn CPU on a few workers, each locked to its own thread, and report the
process clock, the calling thread clock and the CPU time aggregated over
the workers. Half of the workers unregister themselves before the
aggregate is read; their CPU time must still be accounted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := helpers.LoadEnv(cmd); err != nil {
				return err
			}
			outFormat, err := helpers.ValidateFormat(format)
			if err != nil {
				return err
			}

			rows, err := measure(cmd.Context(), workers, burn)
			if err != nil {
				return err
			}
			f, err := helpers.NewFormatter(outFormat)
			if err != nil {
				return err
			}
			return f.Format(rows, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 4, "Number of CPU-burning workers")
	cmd.Flags().DurationVar(&burn, "burn", 200*time.Millisecond, "CPU time each worker burns")
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable)
	return cmd
}

func measure(ctx context.Context, workers int, burn time.Duration) ([]clockRow, error) {
	procStart := cputime.Process().Now()
	reg := registry.New[unit.ID, *burner]()

	g, _ := errgroup.WithContext(ctx)
	for i := range workers {
		b := &burner{id: unit.New()}
		reg.Add(b.id, b)
		detach := i < workers/2
		g.Go(func() error {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			clock := cputime.ThisThread()
			b.watch.Store(cputime.NewStopwatch(clock))

			// Without thread clocks the loop is bounded by wall time only.
			deadline := time.Now().Add(burn)
			if cputime.ThreadClocksSupported {
				deadline = time.Now().Add(10 * burn)
			}
			start := clock.Now()
			x := uint64(1)
			for clock.Now()-start < burn && time.Now().Before(deadline) {
				for j := 0; j < 10_000; j++ {
					x ^= x<<13 ^ x>>7 ^ x<<17
				}
			}
			sink.Add(x)

			// Readings stay on the locked thread.
			if detach {
				reg.Remove(b.id, b)
			}
			b.finish()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	aggregate := reg.WorkerCPUTime()

	rows := []clockRow{
		{Clock: "process", Value: (cputime.Process().Now() - procStart).String()},
		{Clock: "thread", Value: cputime.CurrentThread().Now().String()},
		{Clock: "workers", Value: aggregate.String()},
	}
	if usage, err := cputime.ProcessUsage(); err == nil {
		rows = append(rows,
			clockRow{Clock: "process_user", Value: usage.User.String()},
			clockRow{Clock: "process_system", Value: usage.System.String()},
		)
	}
	return rows, nil
}

var sink atomic.Uint64
