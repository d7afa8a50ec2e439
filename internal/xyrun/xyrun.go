// Package xyrun widens runs of strong convergence along one axis of a
// motion component. A run is a contiguous span whose driver value reaches
// a threshold; each run is expanded by a width looked up from its length and
// the cells it touches are replaced by a sliding mean of the original data.
package xyrun

import (
	"fmt"
	"math"

	"github.com/couchcryptid/storm-phase-correct/internal/fuzzy"
	"github.com/couchcryptid/storm-phase-correct/internal/grid"
)

// Smoother filters lines of a grid.
type Smoother struct {
	Thresh float64
	// Expansion maps run length (cells) to a fraction of the run length.
	Expansion *fuzzy.Func
}

// FilterLine filters values using driver to find runs and returns the
// filtered copy. NaN driver samples end a run. A line without runs comes
// back unchanged.
func (s *Smoother) FilterLine(values, driver []float64, missing float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)

	start := -1
	for i := range values {
		d := driver[i]
		if !math.IsNaN(d) && d >= s.Thresh {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			s.processRun(values, out, start, i-1, missing)
			start = -1
		}
	}
	if start >= 0 {
		s.processRun(values, out, start, len(values)-1, missing)
	}
	return out
}

// processRun replaces every cell within w of the run [lo, hi] by the mean of
// the original values in [c-w, c+w]. The window sum slides one cell at a time.
func (s *Smoother) processRun(values, out []float64, lo, hi int, missing float64) {
	npt := hi - lo + 1
	e := s.Expansion.Apply(float64(npt))
	if e <= 0 {
		return
	}
	w := int(float64(npt) * e)
	n := len(values)

	var sum float64
	var count int
	add := func(i int) {
		if i >= 0 && i < n && values[i] != missing {
			sum += values[i]
			count++
		}
	}
	remove := func(i int) {
		if i >= 0 && i < n && values[i] != missing {
			sum -= values[i]
			count--
		}
	}

	first := lo - w
	for i := first - w; i <= first+w; i++ {
		add(i)
	}
	for c := first; c <= hi+w; c++ {
		if c > first {
			remove(c - w - 1)
			add(c + w)
		}
		if c < 0 || c >= n {
			continue
		}
		if count == 0 {
			out[c] = missing
			continue
		}
		out[c] = sum / float64(count)
	}
}

// FilterX filters every row of g, using the same row of driver.
func (s *Smoother) FilterX(g, driver *grid.Grid) (*grid.Grid, error) {
	if !g.SameDims(driver) {
		return nil, fmt.Errorf("x run driver: %w", grid.ErrDimMismatch)
	}
	nx, ny := g.Dims()
	out := g.Clone()
	vals := make([]float64, nx)
	drv := make([]float64, nx)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			vals[x] = g.At(y*nx + x)
			drv[x] = driverAt(driver, x, y)
		}
		row := s.FilterLine(vals, drv, g.Missing())
		for x := 0; x < nx; x++ {
			out.SetAt(y*nx+x, row[x])
		}
	}
	return out, nil
}

// FilterY filters every column of g, using the same column of driver.
func (s *Smoother) FilterY(g, driver *grid.Grid) (*grid.Grid, error) {
	if !g.SameDims(driver) {
		return nil, fmt.Errorf("y run driver: %w", grid.ErrDimMismatch)
	}
	nx, ny := g.Dims()
	out := g.Clone()
	vals := make([]float64, ny)
	drv := make([]float64, ny)
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			vals[y] = g.At(y*nx + x)
			drv[y] = driverAt(driver, x, y)
		}
		col := s.FilterLine(vals, drv, g.Missing())
		for y := 0; y < ny; y++ {
			out.SetAt(y*nx+x, col[y])
		}
	}
	return out, nil
}

func driverAt(driver *grid.Grid, x, y int) float64 {
	v, ok := driver.Get(x, y)
	if !ok {
		return math.NaN()
	}
	return v
}
