// Package grid holds the 2D sample container shared by every engine stage.
package grid

import (
	"errors"
	"fmt"
	"math"
)

// DefaultMissing is the sentinel used when a caller does not supply one.
const DefaultMissing = -99999.0

// ErrDimMismatch is returned when two grids that must align do not.
var ErrDimMismatch = errors.New("grid dimensions do not match")

// Grid is a row-major nx*ny array of samples with a single missing sentinel.
// Index i corresponds to (x, y) = (i%nx, i/nx).
type Grid struct {
	nx, ny  int
	missing float64
	data    []float64

	// Pixel spacing in kilometers, carried for unit conversion only.
	DxKm float64
	DyKm float64
}

// New creates a grid with every cell set to missing.
func New(nx, ny int, missing float64) (*Grid, error) {
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("invalid grid dimensions %dx%d", nx, ny)
	}
	g := &Grid{nx: nx, ny: ny, missing: missing, data: make([]float64, nx*ny)}
	g.Fill(missing)
	return g, nil
}

// FromSlice wraps a copy of data as an nx*ny grid.
func FromSlice(nx, ny int, missing float64, data []float64) (*Grid, error) {
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("invalid grid dimensions %dx%d", nx, ny)
	}
	if len(data) != nx*ny {
		return nil, fmt.Errorf("grid data has %d samples, want %d", len(data), nx*ny)
	}
	g := &Grid{nx: nx, ny: ny, missing: missing, data: make([]float64, len(data))}
	copy(g.data, data)
	return g, nil
}

// Dims returns (nx, ny).
func (g *Grid) Dims() (int, int) { return g.nx, g.ny }

// Len is nx*ny.
func (g *Grid) Len() int { return len(g.data) }

// Missing returns the missing sentinel.
func (g *Grid) Missing() float64 { return g.missing }

// SameDims reports whether o has the same dimensions as g.
func (g *Grid) SameDims(o *Grid) bool {
	return o != nil && g.nx == o.nx && g.ny == o.ny
}

// InRange reports whether (x, y) is inside the grid.
func (g *Grid) InRange(x, y int) bool {
	return x >= 0 && x < g.nx && y >= 0 && y < g.ny
}

// Get returns the sample at (x, y). It returns false when the point is out of
// range or missing.
func (g *Grid) Get(x, y int) (float64, bool) {
	if !g.InRange(x, y) {
		return 0, false
	}
	v := g.data[y*g.nx+x]
	if v == g.missing {
		return 0, false
	}
	return v, true
}

// Set stores v at (x, y). Out of range points are ignored.
func (g *Grid) Set(x, y int, v float64) {
	if g.InRange(x, y) {
		g.data[y*g.nx+x] = v
	}
}

// SetMissing marks (x, y) missing.
func (g *Grid) SetMissing(x, y int) { g.Set(x, y, g.missing) }

// IsMissing reports whether (x, y) holds the missing sentinel. Out of range
// points count as missing.
func (g *Grid) IsMissing(x, y int) bool {
	_, ok := g.Get(x, y)
	return !ok
}

// At returns the raw sample at linear index i. Unchecked.
func (g *Grid) At(i int) float64 { return g.data[i] }

// SetAt stores v at linear index i. Unchecked.
func (g *Grid) SetAt(i int, v float64) { g.data[i] = v }

// Add increments (x, y) by v, treating a missing cell as zero.
func (g *Grid) Add(x, y int, v float64) {
	if !g.InRange(x, y) {
		return
	}
	i := y*g.nx + x
	if g.data[i] == g.missing {
		g.data[i] = v
		return
	}
	g.data[i] += v
}

// Fill sets every cell to v.
func (g *Grid) Fill(v float64) {
	for i := range g.data {
		g.data[i] = v
	}
}

// Values returns the backing slice. Callers must not resize it.
func (g *Grid) Values() []float64 { return g.data }

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	c := *g
	c.data = make([]float64, len(g.data))
	copy(c.data, g.data)
	return &c
}

// CopyFrom overwrites g with the samples of o.
func (g *Grid) CopyFrom(o *Grid) error {
	if !g.SameDims(o) {
		return ErrDimMismatch
	}
	copy(g.data, o.data)
	g.missing = o.missing
	return nil
}

// Range returns the min and max of the non-missing samples. ok is false when
// every cell is missing.
func (g *Grid) Range() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range g.data {
		if v == g.missing {
			continue
		}
		ok = true
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}
