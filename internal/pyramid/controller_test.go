package pyramid

import (
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-phase-correct/internal/fuzzy"
	"github.com/couchcryptid/storm-phase-correct/internal/grid"
	"github.com/couchcryptid/storm-phase-correct/internal/workpool"
)

// --- mocks ---

// inlinePool runs tasks synchronously and counts submissions.
type inlinePool struct {
	mu        sync.Mutex
	submitted int
	err       error
}

func (p *inlinePool) Submit(_ string, task func()) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	p.submitted++
	p.mu.Unlock()
	task()
	return nil
}

func (p *inlinePool) Wait(string) {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- helpers ---

// exactParams disables every smoothing and reduction step so block offsets
// pass straight through to the final field.
func exactParams() Params {
	return Params{
		Fields: []FieldParams{
			{Name: "precip", Thresh: 0, FractionalAreaDataThresh: 0, Alpha: 1, Variance: 1},
		},
		LowResNgridpts:        1,
		VolSize:               [2]int{4, 4},
		VolOverlap:            [2]int{2, 2},
		ShiftResNpt:           1,
		MaxShift:              2,
		GoodScaling:           1,
		GoodDistScaling:       1,
		Polarity:              "lower",
		FractionalAreaMinPcnt: 0.1,
		GridAreaMinPcnt:       0.01,
		ConvThresh:            0.5,
		NptToExpansion:        []fuzzy.Point{{X: 1, Y: 0}, {X: 10, Y: 1}},
	}
}

func gridFrom(t *testing.T, nx, ny int, f func(x, y int) float64) *grid.Grid {
	t.Helper()
	g, err := grid.New(nx, ny, grid.DefaultMissing)
	require.NoError(t, err)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			g.Set(x, y, f(x, y))
		}
	}
	g.DxKm, g.DyKm = 3, 3
	return g
}

// ramp has a unique value per cell so only the true shift scores zero.
func ramp(x, y int) float64 { return 100 + float64(x) + 20*float64(y) }

func singleField(fcst, verif *grid.Grid) Input {
	return Input{Fields: []FieldInput{{Name: "precip", Forecast: fcst, Verif: verif}}}
}

func newController(t *testing.T, p Params, pool Pool) *Controller {
	t.Helper()
	c, err := NewController(p, pool, discardLogger())
	require.NoError(t, err)
	return c
}

// --- tests ---

func TestDefaultParams_Valid(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"no fields", func(p *Params) { p.Fields = nil }},
		{"duplicate field", func(p *Params) { p.Fields = append(p.Fields, p.Fields[0]) }},
		{"zero variance", func(p *Params) { p.Fields[0].Variance = 0 }},
		{"zero reduction", func(p *Params) { p.LowResNgridpts = 0 }},
		{"overlap equals size", func(p *Params) { p.VolOverlap = p.VolSize }},
		{"negative smoothing", func(p *Params) { p.HighResMotionSmooth = []int{-1} }},
		{"area above one", func(p *Params) { p.GridAreaMinPcnt = 1.5 }},
		{"unknown polarity", func(p *Params) { p.Polarity = "sideways" }},
		{"non monotone expansion", func(p *Params) {
			p.NptToExpansion = []fuzzy.Point{{X: 1, Y: 1}, {X: 5, Y: 0}}
		}},
		{"scaling below one", func(p *Params) { p.GoodScaling = 0.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			require.Error(t, p.Validate())
		})
	}
}

func TestNewController_RejectsBadParams(t *testing.T) {
	p := exactParams()
	p.VolSize = [2]int{0, 0}
	_, err := NewController(p, &inlinePool{}, discardLogger())
	require.Error(t, err)

	_, err = NewController(exactParams(), nil, discardLogger())
	require.Error(t, err)
}

func TestRun_IdenticalGridsGiveZeroMotion(t *testing.T) {
	blob := func(x, y int) float64 {
		if x >= 3 && x <= 6 && y >= 3 && y <= 6 {
			return 5
		}
		return 0
	}
	fcst := gridFrom(t, 10, 10, blob)
	verif := gridFrom(t, 10, 10, blob)

	c := newController(t, exactParams(), &inlinePool{})
	res, err := c.Run("lead-0", singleField(fcst, verif))
	require.NoError(t, err)

	assert.Equal(t, Corrected, res.Status)
	assert.InDelta(t, 0.0, res.Motion.MaxMagnitude(), 0)
	assert.Zero(t, res.Summary.NumWithCorrection)
	assert.Equal(t, res.Summary.NumBlocks, res.Summary.NumWithoutCorrection)
	if diff := cmp.Diff(fcst.Values(), res.Corrected["precip"].Values()); diff != "" {
		t.Errorf("corrected forecast changed (-want +got):\n%s", diff)
	}
}

func TestRun_SmoothWhereCorrectedSkipsStillCells(t *testing.T) {
	blob := func(x, y int) float64 {
		if x >= 3 && x <= 6 && y >= 3 && y <= 6 {
			return 5
		}
		return 0
	}
	fcst := gridFrom(t, 10, 10, blob)
	verif := gridFrom(t, 10, 10, blob)

	p := exactParams()
	p.FcstOutputSmooth = []int{1}
	p.SmoothWhereCorrected = true
	res, err := newController(t, p, &inlinePool{}).Run("lead-0", singleField(fcst, verif))
	require.NoError(t, err)
	if diff := cmp.Diff(fcst.Values(), res.Corrected["precip"].Values()); diff != "" {
		t.Errorf("still forecast was smoothed (-want +got):\n%s", diff)
	}

	p.SmoothWhereCorrected = false
	res, err = newController(t, p, &inlinePool{}).Run("lead-0", singleField(fcst, verif))
	require.NoError(t, err)
	edge, ok := res.Corrected["precip"].Get(3, 3)
	require.True(t, ok)
	assert.Less(t, edge, 5.0)
}

func TestRun_RecoversKnownShift(t *testing.T) {
	fcst := gridFrom(t, 10, 10, ramp)
	verif := gridFrom(t, 10, 10, func(x, y int) float64 { return ramp(x-2, y) })

	pool := &inlinePool{}
	c := newController(t, exactParams(), pool)
	res, err := c.Run("lead-0", singleField(fcst, verif))
	require.NoError(t, err)

	assert.Equal(t, 25, pool.submitted, "5x5 tiles at step 2")
	assert.Equal(t, 25, res.Summary.NumWithCorrection)
	for _, p := range [][2]int{{5, 5}, {3, 7}, {6, 2}} {
		u, v, ok := res.Motion.Get(p[0], p[1])
		require.True(t, ok)
		assert.InDelta(t, 2.0, u, 1e-9, "u at %v", p)
		assert.InDelta(t, 0.0, v, 1e-9, "v at %v", p)
	}

	got, ok := res.Corrected["precip"].Get(5, 5)
	require.True(t, ok)
	want, _ := verif.Get(5, 5)
	assert.InDelta(t, want, got, 1e-9)
	assert.InDelta(t, 6.0, res.Summary.MeanDisplacementKm, 1e-9)
	assert.InDelta(t, 0.0, res.Summary.MeanFinalScore, 1e-12)
}

func TestRun_NoCoverageSkipsSearch(t *testing.T) {
	zero := func(int, int) float64 { return 0 }
	fcst := gridFrom(t, 10, 10, zero)
	verif := gridFrom(t, 10, 10, zero)

	p := exactParams()
	p.Fields[0].Thresh = 0.5
	pool := &inlinePool{}
	c := newController(t, p, pool)
	res, err := c.Run("lead-0", singleField(fcst, verif))
	require.NoError(t, err)

	assert.True(t, res.NoCorrectionApplied())
	assert.Zero(t, pool.submitted)
	assert.Nil(t, res.Initial)
	assert.InDelta(t, 0.0, res.Motion.MaxMagnitude(), 0)
	assert.Equal(t, fcst.Values(), res.Corrected["precip"].Values())
	assert.NotSame(t, fcst, res.Corrected["precip"])
	assert.Equal(t, 1, c.Totals().NoCorrections)
}

func TestRun_CoverageNeedsForecastToo(t *testing.T) {
	fcst := gridFrom(t, 10, 10, func(int, int) float64 { return 0 })
	verif := gridFrom(t, 10, 10, ramp)

	p := exactParams()
	p.Fields[0].Thresh = 1
	c := newController(t, p, &inlinePool{})
	res, err := c.Run("lead-0", singleField(fcst, verif))
	require.NoError(t, err)
	assert.Equal(t, NoCorrection, res.Status)
}

func TestRun_MissingField(t *testing.T) {
	c := newController(t, exactParams(), &inlinePool{})
	g := gridFrom(t, 10, 10, ramp)
	_, err := c.Run("lead-0", Input{Fields: []FieldInput{{Name: "reflectivity", Forecast: g, Verif: g}}})
	require.ErrorIs(t, err, ErrMissingField)
}

func TestRun_DimMismatch(t *testing.T) {
	c := newController(t, exactParams(), &inlinePool{})
	_, err := c.Run("lead-0", singleField(gridFrom(t, 10, 10, ramp), gridFrom(t, 12, 10, ramp)))
	require.ErrorIs(t, err, grid.ErrDimMismatch)

	in := singleField(gridFrom(t, 10, 10, ramp), gridFrom(t, 10, 10, ramp))
	in.Weight = gridFrom(t, 5, 5, ramp)
	_, err = c.Run("lead-0", in)
	require.ErrorIs(t, err, grid.ErrDimMismatch)
}

func TestRun_ClosedPool(t *testing.T) {
	pool, err := workpool.New(2, discardLogger())
	require.NoError(t, err)
	pool.Close()

	c := newController(t, exactParams(), pool)
	_, err = c.Run("lead-0", singleField(gridFrom(t, 10, 10, ramp), gridFrom(t, 10, 10, ramp)))
	require.ErrorIs(t, err, workpool.ErrClosed)
}

func TestRun_ZeroWeightStopsMotion(t *testing.T) {
	fcst := gridFrom(t, 10, 10, ramp)
	verif := gridFrom(t, 10, 10, func(x, y int) float64 { return ramp(x-2, y) })

	in := singleField(fcst, verif)
	in.Weight = gridFrom(t, 10, 10, func(int, int) float64 { return 0 })

	c := newController(t, exactParams(), &inlinePool{})
	res, err := c.Run("lead-0", in)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.Motion.MaxMagnitude(), 0)
	assert.Equal(t, fcst.Values(), res.Corrected["precip"].Values())
}

func TestRun_ReducedResolution(t *testing.T) {
	fcst := gridFrom(t, 20, 20, ramp)
	verif := gridFrom(t, 20, 20, func(x, y int) float64 { return ramp(x-4, y) })

	p := exactParams()
	p.LowResNgridpts = 2
	c := newController(t, p, &inlinePool{})
	res, err := c.Run("lead-0", singleField(fcst, verif))
	require.NoError(t, err)

	nx, ny := res.Motion.Dims()
	assert.Equal(t, []int{20, 20}, []int{nx, ny})
	lx, ly := res.Initial.Dims()
	assert.Equal(t, []int{10, 10}, []int{lx, ly})

	u, _, ok := res.Motion.Get(8, 8)
	require.True(t, ok)
	assert.InDelta(t, 4.0, u, 1e-9, "low resolution shift of 2 is scaled back up")
}

func TestRun_DeterministicAcrossWorkerCounts(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	noise := make([]float64, 48*48)
	for i := range noise {
		noise[i] = rng.Float64() * 4
	}
	at := func(x, y int) float64 {
		if x < 0 || y < 0 || x >= 48 || y >= 48 {
			return 0
		}
		return noise[y*48+x]
	}
	fcst := gridFrom(t, 48, 48, at)
	verif := gridFrom(t, 48, 48, func(x, y int) float64 { return at(x-3, y+1) })

	run := func(workers int) *Result {
		pool, err := workpool.New(workers, discardLogger())
		require.NoError(t, err)
		defer pool.Close()
		p := DefaultParams()
		p.VolSize = [2]int{8, 8}
		p.VolOverlap = [2]int{4, 4}
		c := newController(t, p, pool)
		res, err := c.Run("lead-3600", singleField(fcst, verif))
		require.NoError(t, err)
		return res
	}

	one, many := run(1), run(6)
	if diff := cmp.Diff(one.Motion.U.Values(), many.Motion.U.Values()); diff != "" {
		t.Errorf("U differs (-1 worker +6 workers):\n%s", diff)
	}
	if diff := cmp.Diff(one.Motion.V.Values(), many.Motion.V.Values()); diff != "" {
		t.Errorf("V differs (-1 worker +6 workers):\n%s", diff)
	}
	if diff := cmp.Diff(one.Blocks, many.Blocks); diff != "" {
		t.Errorf("block stats differ (-1 worker +6 workers):\n%s", diff)
	}
	assert.Equal(t, one.Summary, many.Summary)
}

func TestTotals_AccumulateAcrossRuns(t *testing.T) {
	c := newController(t, exactParams(), &inlinePool{})
	in := singleField(gridFrom(t, 10, 10, ramp), gridFrom(t, 10, 10, ramp))
	for i := 0; i < 2; i++ {
		_, err := c.Run("lead-0", in)
		require.NoError(t, err)
	}
	tot := c.Totals()
	assert.Equal(t, 2, tot.Runs)
	assert.Equal(t, 50, tot.Blocks)
	assert.Equal(t, 50, tot.Searched)
	assert.Positive(t, tot.ScoreEvals)
}
