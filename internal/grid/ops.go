package grid

import (
	"fmt"
	"math"
)

// PcntGe returns the fraction of non-missing samples that are >= v. A grid
// with no valid samples returns 0.
func (g *Grid) PcntGe(v float64) float64 {
	var above, total int
	for _, d := range g.data {
		if d == g.missing {
			continue
		}
		total++
		if d >= v {
			above++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(above) / float64(total)
}

// Reduce subsamples g in place, keeping every f-th cell along each axis.
func (g *Grid) Reduce(f int) error {
	if f < 2 {
		return fmt.Errorf("reduce factor %d must be at least 2", f)
	}
	nx, ny := g.nx/f, g.ny/f
	if nx < 1 || ny < 1 {
		return fmt.Errorf("reduce factor %d too large for %dx%d grid", f, g.nx, g.ny)
	}
	out := make([]float64, nx*ny)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			out[y*nx+x] = g.data[(y*f)*g.nx+x*f]
		}
	}
	g.nx, g.ny, g.data = nx, ny, out
	g.DxKm *= float64(f)
	g.DyKm *= float64(f)
	return nil
}

// Interpolate fills g by bilinear interpolation of a grid that was reduced
// from g's dimensions by factor f. A cell is missing when any of its four
// contributing low resolution samples is missing. Neighbors past the low
// resolution edge clamp to the last row or column.
func (g *Grid) Interpolate(low *Grid, f int) error {
	if f < 1 {
		return fmt.Errorf("interpolate factor %d must be positive", f)
	}
	if low.nx != g.nx/f || low.ny != g.ny/f {
		return fmt.Errorf("low resolution grid %dx%d does not match %dx%d / %d: %w",
			low.nx, low.ny, g.nx, g.ny, f, ErrDimMismatch)
	}
	inv := 1.0 / float64(f*f)
	for y := 0; y < g.ny; y++ {
		ry0 := min(y/f, low.ny-1)
		ry1 := min(ry0+1, low.ny-1)
		y0 := (y / f) * f
		wy := float64(y - y0)
		for x := 0; x < g.nx; x++ {
			rx0 := min(x/f, low.nx-1)
			rx1 := min(rx0+1, low.nx-1)
			x0 := (x / f) * f
			wx := float64(x - x0)

			f00, ok00 := low.Get(rx0, ry0)
			f10, ok10 := low.Get(rx1, ry0)
			f01, ok01 := low.Get(rx0, ry1)
			f11, ok11 := low.Get(rx1, ry1)
			if !ok00 || !ok10 || !ok01 || !ok11 {
				g.data[y*g.nx+x] = g.missing
				continue
			}
			fw := float64(f)
			v := f00*(fw-wx)*(fw-wy) + f10*wx*(fw-wy) + f01*(fw-wx)*wy + f11*wx*wy
			g.data[y*g.nx+x] = v * inv
		}
	}
	g.missing = low.missing
	return nil
}

// FillGaps replaces every missing cell by the mean of the valid samples in
// its (2sx+1)x(2sy+1) box. Cells with no valid neighbor stay missing.
func (g *Grid) FillGaps(sx, sy int) {
	if sx <= 0 && sy <= 0 {
		return
	}
	src := g.Clone()
	for y := 0; y < g.ny; y++ {
		for x := 0; x < g.nx; x++ {
			if !src.IsMissing(x, y) {
				continue
			}
			if v, ok := src.localMean(x, y, sx, sy); ok {
				g.data[y*g.nx+x] = v
			}
		}
	}
}

// FillNearestMax replaces each marked cell with the largest valid sample on
// the nearest square ring around it that holds an unmarked cell. A ring
// whose unmarked cells are all missing yields missing, as does a cell with
// no unmarked cell anywhere. It returns the number of cells filled with a
// value.
func (g *Grid) FillNearestMax(marked []bool) (int, error) {
	if len(marked) != len(g.data) {
		return 0, fmt.Errorf("mask has %d cells, want %d: %w", len(marked), len(g.data), ErrDimMismatch)
	}
	src := g.Clone()
	maxRadius := max(g.nx, g.ny)
	filled := 0
	for y := 0; y < g.ny; y++ {
		for x := 0; x < g.nx; x++ {
			if !marked[y*g.nx+x] {
				continue
			}
			g.data[y*g.nx+x] = g.missing
			for r := 1; r < maxRadius; r++ {
				v, found, valid := src.ringMax(marked, x, y, r)
				if !found {
					continue
				}
				if valid {
					g.data[y*g.nx+x] = v
					filled++
				}
				break
			}
		}
	}
	return filled, nil
}

// ringMax scans the cells at Chebyshev distance r from (cx,cy), skipping
// marked ones. found reports any unmarked cell in range; valid reports a
// non-missing one, with v their maximum.
func (g *Grid) ringMax(marked []bool, cx, cy, r int) (v float64, found, valid bool) {
	visit := func(x, y int) {
		if !g.InRange(x, y) || marked[y*g.nx+x] {
			return
		}
		found = true
		d := g.data[y*g.nx+x]
		if d == g.missing {
			return
		}
		if !valid || d > v {
			v, valid = d, true
		}
	}
	for x := cx - r; x <= cx+r; x++ {
		visit(x, cy-r)
		visit(x, cy+r)
	}
	for y := cy - r + 1; y <= cy+r-1; y++ {
		visit(cx-r, y)
		visit(cx+r, y)
	}
	return v, found, valid
}

func (g *Grid) localMean(cx, cy, sx, sy int) (float64, bool) {
	var sum float64
	var n int
	for y := cy - sy; y <= cy+sy; y++ {
		for x := cx - sx; x <= cx+sx; x++ {
			if v, ok := g.Get(x, y); ok {
				sum += v
				n++
			}
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// MultiplyGrid scales each valid sample by the weight at the same cell.
// Missing weights and weights equal to 1 leave the sample unchanged.
func (g *Grid) MultiplyGrid(w *Grid) error {
	if !g.SameDims(w) {
		return ErrDimMismatch
	}
	for i, v := range g.data {
		wv := w.data[i]
		if wv == w.missing || wv == 1 || v == g.missing {
			continue
		}
		g.data[i] = v * wv
	}
	return nil
}

// Scale multiplies every valid sample by s.
func (g *Grid) Scale(s float64) {
	for i, v := range g.data {
		if v != g.missing {
			g.data[i] = v * s
		}
	}
}

// ReplaceNonFinite turns NaN and Inf samples into missing and reports how
// many were replaced.
func (g *Grid) ReplaceNonFinite() int {
	n := 0
	for i, v := range g.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			g.data[i] = g.missing
			n++
		}
	}
	return n
}
