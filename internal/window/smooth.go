package window

import (
	"fmt"

	"github.com/couchcryptid/storm-phase-correct/internal/grid"
)

// SmoothOptions tunes Smooth.
type SmoothOptions struct {
	// MinGood is the fewest valid samples a box needs to produce output.
	MinGood             int
	Exclude             bool
	ExcludeValue        float64
	RejectCenterExclude bool
	// Mask, when set, limits the output to cells where it is true. Every
	// valid sample still feeds the boxes.
	Mask []bool
}

// Smooth replaces g with its (2sx+1)x(2sy+1) box mean. Cells whose box has
// too few valid samples become missing. sx=sy=0 and grids smaller than 2x2
// are left unchanged.
func Smooth(g *grid.Grid, sx, sy int, opts SmoothOptions) error {
	if sx <= 0 && sy <= 0 {
		return nil
	}
	nx, ny := g.Dims()
	if nx < 2 || ny < 2 {
		return nil
	}
	acc, err := NewAccumulator(nx, ny, sx, sy)
	if err != nil {
		return err
	}
	alg := &Mean{
		Exclude:             opts.Exclude,
		ExcludeValue:        opts.ExcludeValue,
		RejectCenterExclude: opts.RejectCenterExclude,
	}
	return Apply(acc, g, alg, opts.MinGood, opts.Mask)
}

// Apply runs alg over every cell of g and overwrites g with the results. A
// non-nil mask restricts the overwrite to cells where it is true.
func Apply(acc *Accumulator, g *grid.Grid, alg Algorithm, minGood int, mask []bool) error {
	if mask != nil && len(mask) != g.Len() {
		return fmt.Errorf("smoothing mask has %d cells, want %d: %w", len(mask), g.Len(), grid.ErrDimMismatch)
	}
	nx, _ := g.Dims()
	out := g.Clone()
	acc.Reinit()
	for acc.Increment(g, alg) {
		x, y := acc.Center()
		if mask != nil && !mask[y*nx+x] {
			continue
		}
		if v, ok := alg.Result(minGood, g, x, y); ok {
			out.Set(x, y, v)
		} else {
			out.SetMissing(x, y)
		}
	}
	return g.CopyFrom(out)
}

// SmoothList applies Smooth once per width in widths, in order, with a
// square box.
func SmoothList(g *grid.Grid, widths []int, opts SmoothOptions) error {
	for _, w := range widths {
		if err := Smooth(g, w, w, opts); err != nil {
			return err
		}
	}
	return nil
}
