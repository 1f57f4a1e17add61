package calc

import (
	"benritz/dtd/internal/merton"
	"benritz/dtd/internal/types"
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Recorder receives per-row and per-run outcomes, e.g. for metrics.
type Recorder interface {
	ObserveResult(res *types.Result)
	ObserveReport(rep *types.Report)
}

type Calculator struct {
	params   merton.Params
	workers  int
	logger   *slog.Logger
	recorder Recorder
}

type Option func(*Calculator)

// WithWorkers sets the number of rows solved concurrently. Values below 2 run
// rows sequentially.
func WithWorkers(n int) Option {
	return func(c *Calculator) {
		c.workers = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Calculator) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Calculator) {
		c.recorder = r
	}
}

func New(params merton.Params, opts ...Option) (*Calculator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	c := &Calculator{
		params:  params,
		workers: 1,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Calculator) Params() merton.Params {
	return c.params
}

// Observation solves a single firm observation. Failures are returned as a
// failed result, never as an error.
func (c *Calculator) Observation(n int, o *types.Observation) *types.Result {
	r := c.params.AnnualRate(o.DailyRate)
	L := c.params.Liabilities(o.ShortTermDebt, o.LongTermDebt, o.OtherLiability)

	fail := func(err error, iterations int) *types.Result {
		res := types.NewFailure(n, err)
		res.Liabilities = L
		res.Rate = r
		res.Iterations = iterations
		return res
	}

	s, err := c.params.ImpliedAssetValue(o.MarketCap, L, r)
	if err != nil {
		return fail(err, s.Iterations)
	}

	res := &types.Result{
		Row:         n,
		AssetValue:  s.AssetValue,
		Liabilities: L,
		Rate:        r,
		Converged:   s.Converged,
		Iterations:  s.Iterations,
		DTD:         math.NaN(),
	}

	if s.Converged {
		dtd, err := c.params.DistanceToDefault(s.AssetValue, L)
		if err != nil {
			return fail(err, s.Iterations)
		}
		res.DTD = dtd
	}

	return res
}

// Row extracts and solves one raw table row.
func (c *Calculator) Row(n int, h types.Header, row []string) *types.Result {
	o, err := types.ParseObservation(h, row)
	if err != nil {
		return types.NewFailure(n, err)
	}
	return c.Observation(n, o)
}

// Run solves every row of the table. The report holds exactly one result per
// input row, in input order and numbered from 1. Row failures are recorded in
// their result; the only error returned is context cancellation.
func (c *Calculator) Run(ctx context.Context, t *types.Table) (*types.Report, error) {
	start := time.Now()

	rep := &types.Report{
		RunID:   uuid.NewString(),
		Source:  t.Source,
		Date:    start,
		Results: make([]*types.Result, len(t.Rows)),
	}

	logger := c.logger.With("run_id", rep.RunID, "source", t.Source)
	logger.Debug("run started", "rows", len(t.Rows), "workers", c.workers)

	h := types.NewHeader(t.Header)

	solve := func(i int) {
		res := c.Row(i+1, h, t.Rows[i])
		if res.Failed() {
			logger.Debug("row failed", "row", res.Row, "error", res.Err)
		}
		if c.recorder != nil {
			c.recorder.ObserveResult(res)
		}
		rep.Results[i] = res
	}

	if c.workers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.workers)

		for i := range t.Rows {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				solve(i)
				return nil
			})
		}

		_ = g.Wait()
	} else {
		for i := range t.Rows {
			if ctx.Err() != nil {
				break
			}
			solve(i)
		}
	}

	// a run that solved every row stands even if ctx was cancelled afterwards
	for _, res := range rep.Results {
		if res == nil {
			return nil, fmt.Errorf("run %s cancelled: %w", rep.RunID, ctx.Err())
		}
	}

	rep.Duration = time.Since(start)

	if c.recorder != nil {
		c.recorder.ObserveReport(rep)
	}

	s := rep.Summary()
	logger.Info("run complete",
		"rows", s.Rows,
		"converged", s.Converged,
		"not_converged", s.NotConverged,
		"failed", s.Failed,
		"duration", rep.Duration)

	return rep, nil
}
