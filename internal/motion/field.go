// Package motion holds the U/V displacement field and the operations that
// build, filter and apply it.
package motion

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/couchcryptid/storm-phase-correct/internal/grid"
	"github.com/couchcryptid/storm-phase-correct/internal/window"
)

// Field is a displacement field in grid cells plus the per-cell vote count.
type Field struct {
	U     *grid.Grid
	V     *grid.Grid
	Count *grid.Grid
}

// NewField creates a zero field of nx*ny cells.
func NewField(nx, ny int) (*Field, error) {
	u, err := grid.New(nx, ny, grid.DefaultMissing)
	if err != nil {
		return nil, fmt.Errorf("create motion field: %w", err)
	}
	f := &Field{U: u, V: u.Clone(), Count: u.Clone()}
	f.Zero()
	return f, nil
}

// Dims returns (nx, ny).
func (f *Field) Dims() (int, int) { return f.U.Dims() }

// Clone returns a deep copy.
func (f *Field) Clone() *Field {
	return &Field{U: f.U.Clone(), V: f.V.Clone(), Count: f.Count.Clone()}
}

// Zero sets all motion and counts to 0.
func (f *Field) Zero() {
	f.U.Fill(0)
	f.V.Fill(0)
	f.Count.Fill(0)
}

// Vote adds one (u, v) contribution at (x, y). Out of range votes are dropped.
func (f *Field) Vote(x, y int, u, v float64) {
	if !f.U.InRange(x, y) {
		return
	}
	f.U.Add(x, y, u)
	f.V.Add(x, y, v)
	f.Count.Add(x, y, 1)
}

// Normalize turns the accumulated votes into means. Cells without votes
// get zero motion.
func (f *Field) Normalize() {
	for i := 0; i < f.U.Len(); i++ {
		c := f.Count.At(i)
		if c > 0 && c != f.Count.Missing() {
			f.U.SetAt(i, f.U.At(i)/c)
			f.V.SetAt(i, f.V.At(i)/c)
			continue
		}
		f.U.SetAt(i, 0)
		f.V.SetAt(i, 0)
	}
}

// Covered reports whether (x, y) received at least one vote.
func (f *Field) Covered(x, y int) bool {
	c, ok := f.Count.Get(x, y)
	return ok && c > 0
}

// Get returns (u, v) at (x, y). ok is false out of range or when either
// component is missing.
func (f *Field) Get(x, y int) (u, v float64, ok bool) {
	u, uok := f.U.Get(x, y)
	v, vok := f.V.Get(x, y)
	return u, v, uok && vok
}

// moving returns (u, v) at (x, y) and whether the cell carries nonzero motion.
func (f *Field) moving(x, y int) (u, v float64, ok bool) {
	u, v, ok = f.Get(x, y)
	if !ok || (u == 0 && v == 0) {
		return 0, 0, false
	}
	return u, v, true
}

// MultiplyByDestinationWeight damps motion by w, first at each cell and then
// again by the weight at the cell's destination (x+u, y+v) when that weight
// is below 1.
func (f *Field) MultiplyByDestinationWeight(w *grid.Grid) error {
	if !f.U.SameDims(w) {
		return fmt.Errorf("weight grid: %w", grid.ErrDimMismatch)
	}
	if err := f.U.MultiplyGrid(w); err != nil {
		return err
	}
	if err := f.V.MultiplyGrid(w); err != nil {
		return err
	}
	nx, ny := f.Dims()
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			u, v, ok := f.moving(x, y)
			if !ok {
				continue
			}
			wv, wok := w.Get(int(float64(x)+u), int(float64(y)+v))
			if !wok || wv >= 1 {
				continue
			}
			f.U.Set(x, y, u*wv)
			f.V.Set(x, y, v*wv)
		}
	}
	return nil
}

// Reduce subsamples U, V and Count by factor r. Every grid is attempted; the
// first failure is reported.
func (f *Field) Reduce(r int) error {
	return errors.Join(
		wrap("u", f.U.Reduce(r)),
		wrap("v", f.V.Reduce(r)),
		wrap("count", f.Count.Reduce(r)),
	)
}

// Interpolate fills f from a field reduced by factor r and rescales the
// motion from low resolution cells to full resolution cells.
func (f *Field) Interpolate(low *Field, r int) error {
	err := errors.Join(
		wrap("u", f.U.Interpolate(low.U, r)),
		wrap("v", f.V.Interpolate(low.V, r)),
		wrap("count", f.Count.Interpolate(low.Count, r)),
	)
	if err != nil {
		return err
	}
	f.U.Scale(float64(r))
	f.V.Scale(float64(r))
	return nil
}

// Smooth box-averages U and V. With excludeZero, zero motion does not dilute
// the mean.
func (f *Field) Smooth(sx, sy int, excludeZero bool) error {
	opts := window.SmoothOptions{Exclude: excludeZero, ExcludeValue: 0}
	if err := window.Smooth(f.U, sx, sy, opts); err != nil {
		return fmt.Errorf("smooth u: %w", err)
	}
	if err := window.Smooth(f.V, sx, sy, opts); err != nil {
		return fmt.Errorf("smooth v: %w", err)
	}
	return nil
}

// SmoothList applies Smooth once per width.
func (f *Field) SmoothList(widths []int, excludeZero bool) error {
	for _, w := range widths {
		if err := f.Smooth(w, w, excludeZero); err != nil {
			return err
		}
	}
	return nil
}

// Magnitude returns sqrt(u^2+v^2), missing where either component is.
func (f *Field) Magnitude() *grid.Grid {
	m := f.U.Clone()
	nx, ny := f.Dims()
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			u, v, ok := f.Get(x, y)
			if !ok {
				m.SetMissing(x, y)
				continue
			}
			m.Set(x, y, math.Hypot(u, v))
		}
	}
	return m
}

// MaxMagnitude is the largest displacement length in the field.
func (f *Field) MaxMagnitude() float64 {
	mag := f.Magnitude()
	vals := make([]float64, 0, mag.Len())
	for _, v := range mag.Values() {
		if v != mag.Missing() {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0
	}
	return floats.Max(vals)
}

// Expand replaces each vector by the largest-magnitude vector in its
// (2n+1)x(2n+1) neighborhood.
func (f *Field) Expand(n int) {
	if n <= 0 {
		return
	}
	mag := f.Magnitude()
	src := f.Clone()
	nx, ny := f.Dims()
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			bx, by := x, y
			best, ok := mag.Get(x, y)
			if !ok {
				best = -1
			}
			for yy := y - n; yy <= y+n; yy++ {
				for xx := x - n; xx <= x+n; xx++ {
					if m, mok := mag.Get(xx, yy); mok && m > best {
						best, bx, by = m, xx, yy
					}
				}
			}
			if best < 0 {
				continue
			}
			u, v, _ := src.Get(bx, by)
			f.U.Set(x, y, u)
			f.V.Set(x, y, v)
		}
	}
}

// DisplacementKm converts the field from cells to kilometers.
func (f *Field) DisplacementKm(dxKm, dyKm float64) (u, v *grid.Grid) {
	u, v = f.U.Clone(), f.V.Clone()
	u.Scale(dxKm)
	v.Scale(dyKm)
	return u, v
}

// SpeedMS converts the field to meters per second over leadSeconds.
func (f *Field) SpeedMS(dxKm, dyKm float64, leadSeconds int) (u, v *grid.Grid, err error) {
	if leadSeconds <= 0 {
		return nil, nil, fmt.Errorf("lead time %ds must be positive for speed conversion", leadSeconds)
	}
	u, v = f.DisplacementKm(dxKm*1000/float64(leadSeconds), dyKm*1000/float64(leadSeconds))
	return u, v, nil
}

func wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s grid: %w", name, err)
}
