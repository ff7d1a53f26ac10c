// Package run implements the run command: a synthetic multi-unit server
// workload profiled with wall profilers.
package run

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/pprof/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/wallprof/internal/cli/helpers"
	"github.com/coral-mesh/wallprof/internal/errors"
	"github.com/coral-mesh/wallprof/internal/metrics"
	"github.com/coral-mesh/wallprof/internal/wall"
)

type options struct {
	units       int
	duration    time.Duration
	rotate      time.Duration
	idle        time.Duration
	period      time.Duration
	output      string
	cpuOutput   string
	metricsAddr string
	tree        bool
	format      string
}

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Profile a synthetic workload",
		Long: `Run a synthetic request-serving workload on several execution units and
profile it with one wall profiler per unit.

Each unit tags its requests with a context (route and unit) that is matched
to the samples taken while the request ran. Sessions are rotated without a
gap and all of them are merged into one pprof file.

Examples:
  # Profile 4 units for 10s at 1ms
  wallprof run --units 4 --duration 10s --period 1ms

  # Also record the address sampler and print the call trees
  wallprof run --cpu-output cpu.pb.gz --tree`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := helpers.LoadEnv(cmd)
			if err != nil {
				return err
			}
			return runWorkload(cmd, env, opts)
		},
	}

	cmd.Flags().IntVar(&opts.units, "units", 2, "Number of execution units")
	cmd.Flags().DurationVar(&opts.duration, "duration", 5*time.Second, "How long to run the workload")
	cmd.Flags().DurationVar(&opts.rotate, "rotate", 0, "Session length before a gapless restart (defaults to profiler.duration)")
	cmd.Flags().DurationVar(&opts.idle, "idle", 3*time.Millisecond, "Idle time between requests")
	cmd.Flags().DurationVar(&opts.period, "period", 0, "Sampling period (overrides profiler.sampling_period)")
	cmd.Flags().StringVar(&opts.output, "output", "wall.pb.gz", "Wall profile output file")
	cmd.Flags().StringVar(&opts.cpuOutput, "cpu-output", "", "Address sampler profile output file (disabled when empty)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	cmd.Flags().BoolVar(&opts.tree, "tree", false, "Print the last call tree of every unit")
	helpers.AddFormatFlag(cmd, &opts.format, helpers.FormatTable)
	return cmd
}

// sessionRow is one line of the session summary.
type sessionRow struct {
	Unit      string `header:"UNIT" json:"unit"`
	Title     string `header:"SESSION" json:"session"`
	Samples   int    `header:"SAMPLES" json:"samples"`
	Matched   int    `header:"MATCHED" json:"matched"`
	Unmatched int    `header:"UNMATCHED" json:"unmatched"`
	Dropped   uint64 `header:"DROPPED" json:"dropped"`
	Missed    uint64 `header:"MISSED" json:"missed"`
	Stuck     string `header:"STUCK" json:"stuck"`
}

func runWorkload(cmd *cobra.Command, env *helpers.Env, opts options) error {
	format, err := helpers.ValidateFormat(opts.format)
	if err != nil {
		return err
	}
	if opts.units < 1 {
		return fmt.Errorf("--units must be at least 1")
	}

	logger := env.Logger
	cfg := env.Config.Profiler.Wall()
	if opts.period > 0 {
		cfg.SamplingPeriod = opts.period
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	rotate := opts.rotate
	if rotate <= 0 {
		rotate = cfg.Duration
	}

	m, stopMetrics, err := setupMetrics(env, opts.metricsAddr, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()
	ctx, cancelRun := context.WithTimeout(ctx, opts.duration)
	defer cancelRun()

	svc := wall.Default()
	workers := make([]*worker, opts.units)
	g, gctx := errgroup.WithContext(ctx)
	for i := range workers {
		w := newWorker(svc, cfg, logger, m)
		w.rotate = rotate
		w.idle = opts.idle
		if opts.cpuOutput != "" {
			w.cpuHz = env.Config.CPUSampler.FrequencyHz
		}
		workers[i] = w
		g.Go(func() error { return w.run(gctx) })
	}

	logger.Info().
		Int("units", opts.units).
		Dur("duration", opts.duration).
		Dur("period", cfg.SamplingPeriod).
		Msg("Running workload")
	if err := g.Wait(); err != nil {
		return fmt.Errorf("workload failed: %w", err)
	}

	cpuTime := svc.WorkerCPUTime()
	m.WorkerCPU(cpuTime)

	var rows []sessionRow
	var walls []*profile.Profile
	var cpus []*profile.Profile
	start := time.Now().Add(-opts.duration)
	for _, w := range workers {
		for _, res := range w.results {
			rows = append(rows, sessionRow{
				Unit:      w.id.String(),
				Title:     res.Title,
				Samples:   len(res.Raw.Samples),
				Matched:   res.Matched,
				Unmatched: res.Unmatched,
				Dropped:   res.DroppedContexts,
				Missed:    res.MissedInterrupts,
				Stuck:     res.Stuck.String(),
			})
			walls = append(walls, res.Pprof())
		}
		if w.cpu != nil {
			cpus = append(cpus, w.cpu.ToPprof(time.Duration(float64(time.Second)/w.cpuHz), start))
		}
	}

	if err := writeMerged(opts.output, walls); err != nil {
		return err
	}
	logger.Info().Str("path", opts.output).Int("sessions", len(walls)).Dur("worker_cpu", cpuTime).Msg("Wall profile written")
	if opts.cpuOutput != "" {
		if err := writeMerged(opts.cpuOutput, cpus); err != nil {
			return err
		}
		logger.Info().Str("path", opts.cpuOutput).Msg("CPU profile written")
	}

	f, err := helpers.NewFormatter(format)
	if err != nil {
		return err
	}
	if err := f.Format(rows, cmd.OutOrStdout()); err != nil {
		return err
	}

	if opts.tree {
		for _, w := range workers {
			if len(w.results) == 0 {
				continue
			}
			last := w.results[len(w.results)-1]
			cmd.Printf("\n%s %s\n", w.id, last.Title)
			cmd.Print(helpers.RenderProfile(last.Profile, last.Period))
		}
	}
	return nil
}

func setupMetrics(env *helpers.Env, addr string, logger zerolog.Logger) (*metrics.Metrics, func(), error) {
	if !env.Config.Metrics.Enabled && addr == "" {
		return nil, func() {}, nil
	}
	m := metrics.New(env.Config.Metrics.Namespace)
	reg := prometheus.NewRegistry()
	errors.Must(m.Register(reg), "failed to register metrics")
	if addr == "" {
		return m, func() {}, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")

	return m, func() {
		defer errors.DeferClose(logger, srv, "Failed to close metrics server")
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("Metrics server shutdown timed out")
		}
	}, nil
}

// writeMerged merges profiles and writes the result gzip-compressed to
// path.
func writeMerged(path string, profiles []*profile.Profile) (err error) {
	if len(profiles) == 0 {
		return fmt.Errorf("no profiles to write to %s", path)
	}
	merged, err := profile.Merge(profiles)
	if err != nil {
		return fmt.Errorf("failed to merge profiles: %w", err)
	}

	//nolint:gosec // G304: path is chosen by the operator.
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer errors.CloseInto(&err, f, "failed to close "+path)

	if err := merged.Write(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
