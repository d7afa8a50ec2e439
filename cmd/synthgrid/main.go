// Command synthgrid writes a synthetic forecast/verification fixture with a
// known displacement. The verification is a field of Gaussian cells; the
// forecast is the same field displaced by (-shift-u, -shift-v) so a correct
// motion estimate recovers (shift-u, shift-v).
//
// Usage:
//
//	go run ./cmd/synthgrid \
//	  -out data/fixtures/shift_3_-2.json \
//	  -shift-u 3 -shift-v -2
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/storm-phase-correct/internal/domain"
	"github.com/couchcryptid/storm-phase-correct/internal/grid"
)

type cell struct {
	x, y, amp, radius float64
}

func main() {
	if err := run(clockwork.NewRealClock()); err != nil {
		log.Fatal(err)
	}
}

func run(clock clockwork.Clock) error {
	out := flag.String("out", "", "output path for the fixture JSON")
	nx := flag.Int("nx", 64, "grid width in cells")
	ny := flag.Int("ny", 64, "grid height in cells")
	dxKm := flag.Float64("dx-km", 3, "cell width in km")
	shiftU := flag.Float64("shift-u", 3, "displacement in x, cells")
	shiftV := flag.Float64("shift-v", -2, "displacement in y, cells")
	cells := flag.Int("cells", 6, "number of precipitation cells")
	field := flag.String("field", "precip", "field name")
	lead := flag.Int("lead", 3600, "lead time in seconds")
	gen := flag.String("gen-time", "", "generation time (RFC3339); defaults to the current hour")
	seed := flag.Uint64("seed", 1, "random seed")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if *nx <= 0 || *ny <= 0 || *cells <= 0 {
		return fmt.Errorf("nx, ny and cells must be positive")
	}

	genTime := clock.Now().UTC().Truncate(time.Hour)
	if *gen != "" {
		t, err := time.Parse(time.RFC3339, *gen)
		if err != nil {
			return fmt.Errorf("parse -gen-time: %w", err)
		}
		genTime = t.UTC()
	}

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	blobs := make([]cell, *cells)
	for i := range blobs {
		blobs[i] = cell{
			x:      rng.Float64() * float64(*nx),
			y:      rng.Float64() * float64(*ny),
			amp:    5 + rng.Float64()*20,
			radius: 3 + rng.Float64()*5,
		}
	}

	verif, err := render(*nx, *ny, *dxKm, blobs, 0, 0)
	if err != nil {
		return err
	}
	fcst, err := render(*nx, *ny, *dxKm, blobs, *shiftU, *shiftV)
	if err != nil {
		return err
	}

	fx := domain.Fixture{
		Request: domain.CorrectionRequest{
			ID:          fmt.Sprintf("synthetic-%d", *seed),
			GenTime:     genTime,
			LeadSeconds: *lead,
		},
		ShiftU: *shiftU,
		ShiftV: *shiftV,
		Grids: []domain.FixtureGrid{
			{Field: *field, Kind: domain.KindForecast, Grid: domain.PayloadFromGrid(fcst)},
			{Field: *field, Kind: domain.KindVerification, Grid: domain.PayloadFromGrid(verif)},
		},
	}
	if err := domain.WriteFixture(*out, fx); err != nil {
		return err
	}

	lo, hi, _ := verif.Range()
	log.Printf("wrote %s: %dx%d cells, shift (%g, %g), values %.2f..%.2f", *out, *nx, *ny, *shiftU, *shiftV, lo, hi)
	return nil
}

// render evaluates the cells at (x+du, y+dv), which places each feature
// (du, dv) cells behind where it sits at du = dv = 0.
func render(nx, ny int, dxKm float64, blobs []cell, du, dv float64) (*grid.Grid, error) {
	g, err := grid.New(nx, ny, grid.DefaultMissing)
	if err != nil {
		return nil, err
	}
	g.DxKm, g.DyKm = dxKm, dxKm
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			px, py := float64(x)+du, float64(y)+dv
			var v float64
			for _, b := range blobs {
				d2 := (px-b.x)*(px-b.x) + (py-b.y)*(py-b.y)
				v += b.amp * math.Exp(-d2/(2*b.radius*b.radius))
			}
			g.Set(x, y, v)
		}
	}
	return g, nil
}
