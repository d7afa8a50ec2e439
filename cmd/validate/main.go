// Command validate runs the correction engine offline against a fixture
// written by synthgrid and checks that the known displacement is recovered
// and that the corrected forecast verifies better than the raw one.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -fixture data/fixtures/shift_3_-2.json \
//	  -params configs/engine.json \
//	  -tolerance 0.75
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/storm-phase-correct/internal/config"
	"github.com/couchcryptid/storm-phase-correct/internal/domain"
	"github.com/couchcryptid/storm-phase-correct/internal/grid"
	"github.com/couchcryptid/storm-phase-correct/internal/observability"
	"github.com/couchcryptid/storm-phase-correct/internal/pipeline"
	"github.com/couchcryptid/storm-phase-correct/internal/pyramid"
	"github.com/couchcryptid/storm-phase-correct/internal/workpool"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	fixturePath := flag.String("fixture", "", "path to a synthgrid fixture")
	paramsPath := flag.String("params", "", "engine params JSON; defaults when empty")
	tolerance := flag.Float64("tolerance", 0.75, "allowed error of the mean recovered shift, cells")
	workers := flag.Int("workers", 4, "worker pool size")
	flag.Parse()

	if *fixturePath == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(*fixturePath, *paramsPath, *tolerance, *workers))
}

func run(fixturePath, paramsPath string, tolerance float64, workers int) int {
	// Fixed clock so repeated runs print identical results.
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, time.April, 27, 6, 0, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	fmt.Println("=== Phase Correction Validation ===")
	fmt.Println()

	fx, err := domain.LoadFixture(fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	params, err := config.LoadEngineParams(paramsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load params: %v\n", err)
		return 1
	}

	integrity := validateFixture(fx, params)
	if !integrity.passed() {
		report([]*phase{integrity})
		return 1
	}

	res, err := correct(fx, params, workers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: engine run: %v\n", err)
		return 1
	}

	phases := []*phase{
		integrity,
		validateMotion(fx, params, res, tolerance),
		validateCorrection(fx, params, res),
	}

	fmt.Printf("Run %s: status=%s blocks=%d corrected=%d mean_disp_km=%.2f duration=%dms\n",
		res.RunID, res.Status, res.Summary.NumBlocks, res.Summary.NumWithCorrection,
		res.Summary.MeanDisplacementKm, res.DurationMs)

	if report(phases) {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func report(phases []*phase) bool {
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}
	return allPassed
}

// correct pushes the fixture request through the same corrector the
// service uses, with the fixture as grid source.
func correct(fx domain.Fixture, params pyramid.Params, workers int) (domain.CorrectionResult, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	pool, err := workpool.New(workers, logger)
	if err != nil {
		return domain.CorrectionResult{}, err
	}
	defer pool.Close()

	engine, err := pyramid.NewController(params, pool, logger)
	if err != nil {
		return domain.CorrectionResult{}, err
	}
	c := pipeline.NewCorrector(fx.Source(), engine, observability.NewMetricsForTesting(), logger, 10*time.Minute)

	body, err := json.Marshal(fx.Request)
	if err != nil {
		return domain.CorrectionResult{}, err
	}
	return c.Correct(context.Background(), domain.RawMessage{Key: []byte(fx.Request.ID), Value: body})
}

// ── Phase 1: Fixture integrity ──

func validateFixture(fx domain.Fixture, params pyramid.Params) *phase {
	p := &phase{name: "Phase 1: Fixture Integrity"}
	var nx, ny int
	for _, f := range params.Fields {
		for _, kind := range []domain.GridKind{domain.KindForecast, domain.KindVerification} {
			payload, ok := fx.Lookup(f.Name, kind)
			if !ok {
				p.errorf("%s/%s: grid missing", f.Name, kind)
				continue
			}
			g, err := payload.ToGrid()
			if err != nil {
				p.errorf("%s/%s: %v", f.Name, kind, err)
				continue
			}
			gx, gy := g.Dims()
			if nx == 0 {
				nx, ny = gx, gy
			} else if gx != nx || gy != ny {
				p.errorf("%s/%s: dims %dx%d, want %dx%d", f.Name, kind, gx, gy, nx, ny)
			}
		}
	}
	if math.IsNaN(fx.ShiftU) || math.IsNaN(fx.ShiftV) {
		p.errorf("fixture shift is not a number")
	}
	return p
}

// ── Phase 2: Motion recovery ──
// The mean motion over cells with verifying precipitation must match the
// fixture shift.

func validateMotion(fx domain.Fixture, params pyramid.Params, res domain.CorrectionResult, tolerance float64) *phase {
	p := &phase{name: "Phase 2: Motion Recovery"}
	if res.NoCorrection {
		p.errorf("engine applied no correction (status %s)", res.Status)
		return p
	}

	u, err := res.U.ToGrid()
	if err != nil {
		p.errorf("u: %v", err)
		return p
	}
	v, err := res.V.ToGrid()
	if err != nil {
		p.errorf("v: %v", err)
		return p
	}
	mask, err := precipMask(fx, params)
	if err != nil {
		p.errorf("%v", err)
		return p
	}

	us, vs := sample(u, mask), sample(v, mask)
	if len(us) == 0 {
		p.errorf("no cells above threshold %.2f", params.Fields[0].Thresh)
		return p
	}
	meanU, meanV := stat.Mean(us, nil), stat.Mean(vs, nil)
	fmt.Printf("  recovered shift (%.2f, %.2f) over %d cells, truth (%g, %g)\n", meanU, meanV, len(us), fx.ShiftU, fx.ShiftV)

	if d := math.Abs(meanU - fx.ShiftU); d > tolerance {
		p.errorf("mean u %.3f differs from %g by %.3f", meanU, fx.ShiftU, d)
	}
	if d := math.Abs(meanV - fx.ShiftV); d > tolerance {
		p.errorf("mean v %.3f differs from %g by %.3f", meanV, fx.ShiftV, d)
	}
	return p
}

// ── Phase 3: Correction quality ──
// Shifting the forecast must bring it closer to the verification.

func validateCorrection(fx domain.Fixture, params pyramid.Params, res domain.CorrectionResult) *phase {
	p := &phase{name: "Phase 3: Correction Quality"}
	for _, f := range params.Fields {
		corrected, ok := res.Corrected[f.Name]
		if !ok {
			p.errorf("%s: no corrected grid in result", f.Name)
			continue
		}
		fc, _ := fx.Lookup(f.Name, domain.KindForecast)
		vf, _ := fx.Lookup(f.Name, domain.KindVerification)

		before, okB := rmse(fc, vf)
		after, okA := rmse(corrected, vf)
		if !okB || !okA {
			p.errorf("%s: no comparable cells", f.Name)
			continue
		}
		fmt.Printf("  %s rmse %.3f -> %.3f\n", f.Name, before, after)
		if after >= before {
			p.errorf("%s: rmse did not improve (%.3f -> %.3f)", f.Name, before, after)
		}
	}
	return p
}

// ── Helpers ──

func precipMask(fx domain.Fixture, params pyramid.Params) (*grid.Grid, error) {
	f := params.Fields[0]
	payload, ok := fx.Lookup(f.Name, domain.KindVerification)
	if !ok {
		return nil, fmt.Errorf("%s: verification missing", f.Name)
	}
	g, err := payload.ToGrid()
	if err != nil {
		return nil, err
	}
	nx, ny := g.Dims()
	mask, err := grid.New(nx, ny, grid.DefaultMissing)
	if err != nil {
		return nil, err
	}
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			if v, ok := g.Get(x, y); ok && v >= f.Thresh {
				mask.Set(x, y, 1)
			}
		}
	}
	return mask, nil
}

func sample(g, mask *grid.Grid) []float64 {
	nx, ny := g.Dims()
	var out []float64
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			if m, ok := mask.Get(x, y); !ok || m == 0 {
				continue
			}
			if v, ok := g.Get(x, y); ok {
				out = append(out, v)
			}
		}
	}
	return out
}

// rmse compares two payloads over the cells both have data for.
func rmse(a, b domain.GridPayload) (float64, bool) {
	if a.Nx != b.Nx || a.Ny != b.Ny || len(a.Data) != len(b.Data) {
		return 0, false
	}
	var xs, ys []float64
	for i := range a.Data {
		if a.Data[i] == a.Missing || b.Data[i] == b.Missing {
			continue
		}
		xs = append(xs, a.Data[i])
		ys = append(ys, b.Data[i])
	}
	if len(xs) == 0 {
		return 0, false
	}
	return floats.Distance(xs, ys, 2) / math.Sqrt(float64(len(xs))), true
}
