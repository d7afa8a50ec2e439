package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/storm-phase-correct/internal/domain"
	"github.com/couchcryptid/storm-phase-correct/internal/grid"
	"github.com/couchcryptid/storm-phase-correct/internal/observability"
	"github.com/couchcryptid/storm-phase-correct/internal/pyramid"
)

// Engine estimates motion and corrects forecasts for one lead time.
type Engine interface {
	Run(leadKey string, in pyramid.Input) (*pyramid.Result, error)
	Params() pyramid.Params
}

var _ Engine = (*pyramid.Controller)(nil)

// PhaseCorrector implements Corrector: it fetches the grids a request
// names, runs the engine under the run timeout and builds the result.
type PhaseCorrector struct {
	source     domain.GridSource
	engine     Engine
	metrics    *observability.Metrics
	logger     *slog.Logger
	runTimeout time.Duration
	newID      func() string

	latest atomic.Pointer[domain.RunRecord]
}

// NewCorrector creates a PhaseCorrector.
func NewCorrector(source domain.GridSource, engine Engine, metrics *observability.Metrics, logger *slog.Logger, runTimeout time.Duration) *PhaseCorrector {
	return &PhaseCorrector{
		source:     source,
		engine:     engine,
		metrics:    metrics,
		logger:     logger,
		runTimeout: runTimeout,
		newID:      uuid.NewString,
	}
}

// LatestRun returns the record of the most recent successful run.
func (c *PhaseCorrector) LatestRun() (domain.RunRecord, bool) {
	r := c.latest.Load()
	if r == nil {
		return domain.RunRecord{}, false
	}
	return *r, true
}

func (c *PhaseCorrector) Correct(ctx context.Context, raw domain.RawMessage) (domain.CorrectionResult, error) {
	req, err := domain.ParseRequest(raw)
	if err != nil {
		return domain.CorrectionResult{}, err
	}
	runID := c.newID()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	in, err := c.fetchInput(ctx, req)
	if err != nil {
		return domain.CorrectionResult{}, fmt.Errorf("run %s: fetch grids: %w", runID, err)
	}

	engineStart := time.Now()
	res, err := c.runEngine(ctx, runID, in)
	if err != nil {
		return domain.CorrectionResult{}, fmt.Errorf("run %s: %w", runID, err)
	}
	c.metrics.EngineDuration.Observe(time.Since(engineStart).Seconds())

	out, err := buildResult(runID, req, in, res)
	if err != nil {
		return domain.CorrectionResult{}, fmt.Errorf("run %s: %w", runID, err)
	}
	out.DurationMs = time.Since(start).Milliseconds()

	c.observe(res)
	rec := out.Record()
	c.latest.Store(&rec)

	c.logger.Info("request corrected",
		"run_id", runID,
		"request_id", req.ID,
		"gen_time", req.GenTime,
		"lead_seconds", req.LeadSeconds,
		"status", res.Status,
		"duration_ms", out.DurationMs,
	)
	return out, nil
}

// fetchInput downloads every grid of the request concurrently.
func (c *PhaseCorrector) fetchInput(ctx context.Context, req domain.CorrectionRequest) (pyramid.Input, error) {
	params := c.engine.Params()
	fields := make([]pyramid.FieldInput, len(params.Fields))
	var weight *grid.Grid

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range params.Fields {
		fields[i].Name = f.Name
		g.Go(func() error {
			fc, err := c.source.FetchGrid(gctx, req.Key(f.Name, domain.KindForecast))
			fields[i].Forecast = fc
			return err
		})
		g.Go(func() error {
			vf, err := c.source.FetchGrid(gctx, req.Key(f.Name, domain.KindVerification))
			fields[i].Verif = vf
			return err
		})
	}
	if req.UseWeight {
		g.Go(func() error {
			w, err := c.source.FetchGrid(gctx, req.Key(domain.WeightField, domain.KindWeight))
			weight = w
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return pyramid.Input{}, err
	}
	return pyramid.Input{Fields: fields, Weight: weight}, nil
}

type engineOutcome struct {
	res *pyramid.Result
	err error
}

// runEngine bounds the engine by ctx. The engine itself is not
// interruptible; a run that outlives ctx finishes in the background and
// its result is dropped.
func (c *PhaseCorrector) runEngine(ctx context.Context, runID string, in pyramid.Input) (*pyramid.Result, error) {
	done := make(chan engineOutcome, 1)
	go func() {
		res, err := c.engine.Run(runID, in)
		done <- engineOutcome{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("engine: %w", ctx.Err())
	case o := <-done:
		if o.err != nil {
			return nil, fmt.Errorf("engine: %w", o.err)
		}
		return o.res, nil
	}
}

func (c *PhaseCorrector) observe(res *pyramid.Result) {
	c.metrics.Runs.WithLabelValues(string(res.Status)).Inc()
	s := res.Summary
	c.metrics.Blocks.WithLabelValues("corrected").Add(float64(s.NumWithCorrection))
	c.metrics.Blocks.WithLabelValues("uncorrected").Add(float64(s.NumWithoutCorrection - s.NumSkipped))
	c.metrics.Blocks.WithLabelValues("skipped").Add(float64(s.NumSkipped))
}

func buildResult(runID string, req domain.CorrectionRequest, in pyramid.Input, res *pyramid.Result) (domain.CorrectionResult, error) {
	out := domain.NewResult(runID, req)
	out.Status = res.Status
	out.NoCorrection = res.NoCorrectionApplied()
	out.Summary = res.Summary

	ref := in.Fields[0].Forecast
	dx, dy := ref.DxKm, ref.DyKm

	out.U = domain.PayloadFromGrid(res.Motion.U)
	out.V = domain.PayloadFromGrid(res.Motion.V)
	out.U.DxKm, out.U.DyKm = dx, dy
	out.V.DxKm, out.V.DyKm = dx, dy

	if req.LeadSeconds > 0 && dx > 0 && dy > 0 {
		su, sv, err := res.Motion.SpeedMS(dx, dy, req.LeadSeconds)
		if err != nil {
			return domain.CorrectionResult{}, err
		}
		up, vp := domain.PayloadFromGrid(su), domain.PayloadFromGrid(sv)
		up.DxKm, up.DyKm = dx, dy
		vp.DxKm, vp.DyKm = dx, dy
		out.SpeedU, out.SpeedV = &up, &vp
	}

	out.Corrected = make(map[string]domain.GridPayload, len(res.Corrected))
	for name, g := range res.Corrected {
		out.Corrected[name] = domain.PayloadFromGrid(g)
	}
	return out, nil
}
