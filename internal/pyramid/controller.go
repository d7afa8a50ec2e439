// Package pyramid runs the multi-resolution motion estimation for one lead
// time: reduce, search blocks in parallel, build and filter the motion
// field, then shift each forecast along it.
package pyramid

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/couchcryptid/storm-phase-correct/internal/fuzzy"
	"github.com/couchcryptid/storm-phase-correct/internal/grid"
	"github.com/couchcryptid/storm-phase-correct/internal/motion"
	"github.com/couchcryptid/storm-phase-correct/internal/score"
	"github.com/couchcryptid/storm-phase-correct/internal/volume"
	"github.com/couchcryptid/storm-phase-correct/internal/window"
	"github.com/couchcryptid/storm-phase-correct/internal/workpool"
)

// ErrMissingField is returned when the input lacks a configured field.
var ErrMissingField = errors.New("missing input field")

// FieldInput is the forecast and verification grid for one data type.
type FieldInput struct {
	Name     string
	Forecast *grid.Grid
	Verif    *grid.Grid
}

// Input is everything a run reads. Weight is optional; nil leaves the
// motion undamped.
type Input struct {
	Fields []FieldInput
	Weight *grid.Grid
}

func (in Input) field(name string) (FieldInput, bool) {
	for _, f := range in.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldInput{}, false
}

// Pool is the subset of workpool.Pool the controller needs.
type Pool interface {
	Submit(key string, task func()) error
	Wait(key string)
}

var _ Pool = (*workpool.Pool)(nil)

// Totals are cumulative block counters across every run of a controller.
type Totals struct {
	Runs          int
	Blocks        int
	Searched      int
	Corrected     int
	ScoreEvals    int
	RefineTested  int
	NoCorrections int
}

// Controller runs the engine. It is safe for concurrent use with distinct
// lead keys.
type Controller struct {
	params    Params
	vol       volume.Params
	expansion *fuzzy.Func
	pool      Pool
	logger    *slog.Logger

	mu     sync.Mutex
	totals Totals
}

// NewController validates params and binds the pool that block searches
// run on.
func NewController(p Params, pool Pool, logger *slog.Logger) (*Controller, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("engine params: %w", err)
	}
	if pool == nil {
		return nil, errors.New("worker pool is required")
	}
	vp, err := p.VolumeParams()
	if err != nil {
		return nil, err
	}
	exp, err := p.Expansion()
	if err != nil {
		return nil, err
	}
	return &Controller{
		params:    p,
		vol:       vp,
		expansion: exp,
		pool:      pool,
		logger:    logger,
	}, nil
}

// Params returns the engine configuration.
func (c *Controller) Params() Params { return c.params }

// Totals returns a snapshot of the cumulative counters.
func (c *Controller) Totals() Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals
}

func (c *Controller) tally(st volume.Stats) {
	c.mu.Lock()
	c.totals.Blocks++
	if st.Searched {
		c.totals.Searched++
	}
	if st.Corrected() {
		c.totals.Corrected++
	}
	c.totals.ScoreEvals += st.NumScoreEvals
	c.totals.RefineTested += st.NumRefine
	c.mu.Unlock()
}

// Run estimates motion for one lead time and applies it to every forecast.
// leadKey groups the block searches on the pool and must be unique among
// concurrent runs.
func (c *Controller) Run(leadKey string, in Input) (*Result, error) {
	fields, err := c.resolve(in)
	if err != nil {
		return nil, err
	}
	nx, ny := fields[0].Forecast.Dims()
	dxKm, dyKm := fields[0].Forecast.DxKm, fields[0].Forecast.DyKm

	c.mu.Lock()
	c.totals.Runs++
	c.mu.Unlock()

	if !c.hasCoverage(fields) {
		c.mu.Lock()
		c.totals.NoCorrections++
		c.mu.Unlock()
		c.logger.Info("insufficient coverage, forecasts passed through", "lead", leadKey)
		return c.passThrough(fields, nx, ny)
	}

	data, err := c.prepare(fields)
	if err != nil {
		return nil, err
	}
	lowNx, lowNy := data[0].Forecast.Dims()

	scorer, err := score.NewScorer(data, c.vol.SizeX, c.vol.SizeY)
	if err != nil {
		return nil, fmt.Errorf("build scorer: %w", err)
	}

	vols, err := c.searchBlocks(leadKey, scorer, lowNx, lowNy)
	if err != nil {
		return nil, err
	}

	low, err := motion.NewField(lowNx, lowNy)
	if err != nil {
		return nil, err
	}
	blocks := make([]volume.Stats, len(vols))
	for i, v := range vols {
		v.AddTo(low)
		blocks[i] = v.Stats()
	}
	low.Normalize()

	p := c.params
	if err := low.SmoothList(p.LowResMotionSmooth, p.ExcludeZeroFromSmoothing); err != nil {
		return nil, fmt.Errorf("smooth low resolution motion: %w", err)
	}
	initial := low.Clone()
	if err := low.ConvThreshFilter(p.ConvThresh, c.expansion); err != nil {
		return nil, fmt.Errorf("convergence filter: %w", err)
	}

	final := low
	if p.LowResNgridpts > 1 {
		final, err = motion.NewField(nx, ny)
		if err != nil {
			return nil, err
		}
		if err := final.Interpolate(low, p.LowResNgridpts); err != nil {
			return nil, fmt.Errorf("interpolate motion: %w", err)
		}
	}
	if in.Weight != nil {
		if err := final.MultiplyByDestinationWeight(in.Weight); err != nil {
			return nil, err
		}
	}
	if err := final.SmoothList(p.HighResMotionSmooth, p.ExcludeZeroFromSmoothing); err != nil {
		return nil, fmt.Errorf("smooth full resolution motion: %w", err)
	}
	final.Expand(p.HighResMaxExpandNpt)

	corrected := make(map[string]*grid.Grid, len(fields))
	opts := p.CorrectOptions()
	for _, f := range fields {
		out, err := final.ShiftAndSmooth(f.Forecast, opts)
		if err != nil {
			return nil, fmt.Errorf("correct %s: %w", f.Name, err)
		}
		corrected[f.Name] = out
	}

	res := &Result{
		Status:    Corrected,
		Motion:    final,
		Initial:   initial,
		Corrected: corrected,
		Blocks:    blocks,
		Summary:   summarize(blocks, final, dxKm, dyKm),
	}
	c.logger.Info("motion field computed",
		"lead", leadKey,
		"blocks", res.Summary.NumBlocks,
		"with_correction", res.Summary.NumWithCorrection,
		"without_correction", res.Summary.NumWithoutCorrection,
		"max_displacement_cells", res.Summary.MaxDisplacementCells,
	)
	return res, nil
}

// resolve matches the input to the configured fields and checks that every
// grid shares one shape.
func (c *Controller) resolve(in Input) ([]FieldInput, error) {
	out := make([]FieldInput, 0, len(c.params.Fields))
	for _, fp := range c.params.Fields {
		f, ok := in.field(fp.Name)
		if !ok || f.Forecast == nil || f.Verif == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, fp.Name)
		}
		out = append(out, f)
	}
	ref := out[0].Forecast
	for _, f := range out {
		if !ref.SameDims(f.Forecast) || !ref.SameDims(f.Verif) {
			return nil, fmt.Errorf("field %s: %w", f.Name, grid.ErrDimMismatch)
		}
	}
	if in.Weight != nil && !ref.SameDims(in.Weight) {
		return nil, fmt.Errorf("weight: %w", grid.ErrDimMismatch)
	}
	return out, nil
}

// hasCoverage reports whether any field has enough verification and
// forecast signal at full resolution.
func (c *Controller) hasCoverage(fields []FieldInput) bool {
	minPcnt := c.params.GridAreaMinPcnt
	for i, f := range fields {
		thresh := c.params.Fields[i].Thresh
		if f.Verif.PcntGe(thresh) >= minPcnt && f.Forecast.PcntGe(thresh) >= minPcnt {
			return true
		}
	}
	return false
}

func (c *Controller) passThrough(fields []FieldInput, nx, ny int) (*Result, error) {
	m, err := motion.NewField(nx, ny)
	if err != nil {
		return nil, err
	}
	corrected := make(map[string]*grid.Grid, len(fields))
	for _, f := range fields {
		corrected[f.Name] = f.Forecast.Clone()
	}
	return &Result{
		Status:    NoCorrection,
		Motion:    m,
		Corrected: corrected,
	}, nil
}

// prepare builds the reduced, smoothed copies the scorer reads.
func (c *Controller) prepare(fields []FieldInput) ([]score.FieldData, error) {
	p := c.params
	data := make([]score.FieldData, len(fields))
	for i, f := range fields {
		fcst, verif := f.Forecast.Clone(), f.Verif.Clone()
		if p.LowResNgridpts > 1 {
			if err := fcst.Reduce(p.LowResNgridpts); err != nil {
				return nil, fmt.Errorf("reduce %s forecast: %w", f.Name, err)
			}
			if err := verif.Reduce(p.LowResNgridpts); err != nil {
				return nil, fmt.Errorf("reduce %s verification: %w", f.Name, err)
			}
		}
		if err := window.Smooth(verif, p.VerifInputSmooth, p.VerifInputSmooth, window.SmoothOptions{}); err != nil {
			return nil, fmt.Errorf("smooth %s verification: %w", f.Name, err)
		}
		if err := window.Smooth(fcst, p.FcstInputSmooth, p.FcstInputSmooth, window.SmoothOptions{}); err != nil {
			return nil, fmt.Errorf("smooth %s forecast: %w", f.Name, err)
		}
		fp := p.Fields[i]
		data[i] = score.FieldData{
			Name:                     f.Name,
			Forecast:                 fcst,
			Verif:                    verif,
			Thresh:                   fp.Thresh,
			FractionalAreaDataThresh: fp.FractionalAreaDataThresh,
			Alpha:                    fp.Alpha,
			Variance:                 fp.Variance,
		}
	}
	return data, nil
}

// searchBlocks tiles the low resolution grid, runs every block on the pool
// and returns the volumes in tile order once all have finished.
func (c *Controller) searchBlocks(key string, scorer *score.Scorer, nx, ny int) ([]*volume.Volume, error) {
	stepX := c.params.VolSize[0] - c.params.VolOverlap[0]
	stepY := c.params.VolSize[1] - c.params.VolOverlap[1]

	var vols []*volume.Volume
	var submitErr error
	for y := 0; y < ny && submitErr == nil; y += stepY {
		for x := 0; x < nx; x += stepX {
			v := volume.New(x, y, c.vol, c.logger)
			if err := c.pool.Submit(key, func() {
				v.Compute(scorer)
				c.tally(v.Stats())
			}); err != nil {
				submitErr = fmt.Errorf("submit block (%d,%d): %w", x, y, err)
				break
			}
			vols = append(vols, v)
		}
	}
	c.pool.Wait(key)
	if submitErr != nil {
		return nil, submitErr
	}
	return vols, nil
}
