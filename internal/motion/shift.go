package motion

import (
	"fmt"
	"math"

	"github.com/couchcryptid/storm-phase-correct/internal/grid"
	"github.com/couchcryptid/storm-phase-correct/internal/window"
)

// CorrectOptions tunes ShiftAndSmooth.
type CorrectOptions struct {
	// GapFill is the half width of the box mean that fills missing cells.
	GapFill int
	// Smooth lists output smoothing half widths, applied in order.
	Smooth []int
	// SmoothWhereCorrected limits output smoothing to cells the shift
	// moved data out of or into.
	SmoothWhereCorrected bool
}

// shifted is the forecast after the move. vacated marks cells that moved
// out and were never written; touched marks every from and to cell.
type shifted struct {
	out     *grid.Grid
	vacated []bool
	touched []bool
}

func (f *Field) shift(fcst *grid.Grid) (shifted, error) {
	if !f.U.SameDims(fcst) {
		return shifted{}, fmt.Errorf("shift forecast: %w", grid.ErrDimMismatch)
	}
	nx, ny := f.Dims()
	s := shifted{
		out:     fcst.Clone(),
		vacated: make([]bool, nx*ny),
		touched: make([]bool, nx*ny),
	}
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			if _, _, ok := f.moving(x, y); ok {
				s.out.SetMissing(x, y)
				s.vacated[y*nx+x] = true
				s.touched[y*nx+x] = true
			}
		}
	}
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			u, v, ok := f.moving(x, y)
			if !ok {
				continue
			}
			tx := int(math.Round(float64(x) + u))
			ty := int(math.Round(float64(y) + v))
			if !s.out.InRange(tx, ty) {
				continue
			}
			s.vacated[ty*nx+tx] = false
			s.touched[ty*nx+tx] = true
			if val, vok := fcst.Get(x, y); vok {
				s.out.Set(tx, ty, val)
			} else {
				s.out.SetMissing(tx, ty)
			}
		}
	}
	return s, nil
}

// Shift moves fcst along the field. Cells with nonzero motion are vacated,
// then each of them writes its original value to the nearest cell of
// (x+u, y+v). Vacated cells nobody moves into stay missing.
func (f *Field) Shift(fcst *grid.Grid) (*grid.Grid, error) {
	s, err := f.shift(fcst)
	if err != nil {
		return nil, err
	}
	return s.out, nil
}

// ShiftAndSmooth shifts fcst, fills each vacated cell with the nearest
// maximum around it, fills the remaining gaps and applies the output
// smoothing.
func (f *Field) ShiftAndSmooth(fcst *grid.Grid, opts CorrectOptions) (*grid.Grid, error) {
	s, err := f.shift(fcst)
	if err != nil {
		return nil, err
	}
	if _, err := s.out.FillNearestMax(s.vacated); err != nil {
		return nil, fmt.Errorf("fill vacated cells: %w", err)
	}
	s.out.FillGaps(opts.GapFill, opts.GapFill)

	smooth := window.SmoothOptions{}
	if opts.SmoothWhereCorrected {
		smooth.Mask = s.touched
	}
	if err := window.SmoothList(s.out, opts.Smooth, smooth); err != nil {
		return nil, fmt.Errorf("smooth corrected forecast: %w", err)
	}
	return s.out, nil
}
