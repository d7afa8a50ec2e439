package motion

import (
	"fmt"

	"github.com/couchcryptid/storm-phase-correct/internal/fuzzy"
	"github.com/couchcryptid/storm-phase-correct/internal/grid"
	"github.com/couchcryptid/storm-phase-correct/internal/xyrun"
)

// Partials returns the negated centered differences du = -dU/dx and
// dv = -dV/dy at interior cells. Border cells and cells next to missing
// motion are missing.
func (f *Field) Partials() (du, dv *grid.Grid) {
	du, dv = f.U.Clone(), f.V.Clone()
	du.Fill(du.Missing())
	dv.Fill(dv.Missing())
	nx, ny := f.Dims()
	for y := 1; y < ny-1; y++ {
		for x := 1; x < nx-1; x++ {
			ur, rok := f.U.Get(x+1, y)
			ul, lok := f.U.Get(x-1, y)
			if rok && lok {
				du.Set(x, y, -(ur-ul)/2)
			}
			vu, uok := f.V.Get(x, y+1)
			vd, dok := f.V.Get(x, y-1)
			if uok && dok {
				dv.Set(x, y, -(vu-vd)/2)
			}
		}
	}
	return du, dv
}

// ConvThreshFilter widens regions of strong convergence: rows of U are run
// filtered against du and columns of V against dv.
func (f *Field) ConvThreshFilter(thresh float64, expansion *fuzzy.Func) error {
	du, dv := f.Partials()
	s := &xyrun.Smoother{Thresh: thresh, Expansion: expansion}
	u, err := s.FilterX(f.U, du)
	if err != nil {
		return fmt.Errorf("convergence filter: %w", err)
	}
	v, err := s.FilterY(f.V, dv)
	if err != nil {
		return fmt.Errorf("convergence filter: %w", err)
	}
	f.U, f.V = u, v
	return nil
}
