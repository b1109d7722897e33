package settlement

import (
	"context"
	"log/slog"
	"time"

	"fanzcore/core/types"
)

// Fetcher pulls a processor's settlement file for a given date. The
// processor registry satisfies this.
type Fetcher interface {
	FetchSettlement(ctx context.Context, name string, date time.Time) ([]types.SettlementLine, error)
}

// Runner fetches and reconciles each processor's settlement file on a
// fixed cadence, writing the discrepancy report after every run. One
// failing processor does not stop the others.
type Runner struct {
	engine     *Engine
	fetcher    Fetcher
	processors []string
	reportDir  string
	interval   time.Duration
	log        *slog.Logger
	now        func() time.Time
}

// RunnerOption customises the runner instance.
type RunnerOption func(*Runner)

// WithRunnerInterval overrides the run cadence. Defaults to daily.
func WithRunnerInterval(interval time.Duration) RunnerOption {
	return func(r *Runner) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// WithRunnerClock sets the function used to derive the window.
func WithRunnerClock(clock func() time.Time) RunnerOption {
	return func(r *Runner) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewRunner builds a runner over the given processor names.
func NewRunner(engine *Engine, fetcher Fetcher, processors []string, reportDir string, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine:     engine,
		fetcher:    fetcher,
		processors: processors,
		reportDir:  reportDir,
		interval:   24 * time.Hour,
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks until the context is cancelled, reconciling the previous
// UTC day on every tick.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce reconciles every processor for the previous UTC day.
func (r *Runner) RunOnce(ctx context.Context) {
	end := r.now().UTC().Truncate(24 * time.Hour)
	start := end.Add(-24 * time.Hour)
	for _, name := range r.processors {
		if err := r.runProcessor(ctx, name, start, end); err != nil {
			r.log.Error("settlement run failed", "processor", name, "err", err)
		}
	}
}

func (r *Runner) runProcessor(ctx context.Context, name string, start, end time.Time) error {
	lines, err := r.fetcher.FetchSettlement(ctx, name, start)
	if err != nil {
		return err
	}
	batch, err := r.engine.Reconcile(ctx, name, start, end, lines)
	if err != nil {
		return err
	}
	r.log.Info("settlement reconciled",
		"processor", name,
		"settlement_id", batch.ID,
		"gross", batch.Gross.Units,
		"net", batch.Net.Units,
		"clean", batch.Report.Empty(),
	)
	if r.reportDir == "" {
		return nil
	}
	files, err := WriteReport(r.reportDir, batch, lines)
	if err != nil {
		return err
	}
	r.log.Info("settlement report written", "processor", name, "csv", files.CSVPath, "parquet", files.ParquetPath)
	return nil
}
