// Package fuzzy provides piecewise-linear mappings defined by (x, y) points.
package fuzzy

import (
	"errors"
	"fmt"
	"sort"
)

// BadValue is returned by Apply on an empty function.
const BadValue = -999.999

// Point is one (x, y) pair of a mapping.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Func is a piecewise-linear function. Inputs below the first point or
// above the last clamp to the end values.
type Func struct {
	points []Point
}

// New builds a Func from points. X values must be strictly increasing and,
// when monotone is set, Y values must be non-decreasing.
func New(points []Point, monotone bool) (*Func, error) {
	if len(points) == 0 {
		return nil, errors.New("fuzzy function needs at least one point")
	}
	for i := 1; i < len(points); i++ {
		if points[i].X <= points[i-1].X {
			return nil, fmt.Errorf("fuzzy x values must increase: %g after %g", points[i].X, points[i-1].X)
		}
		if monotone && points[i].Y < points[i-1].Y {
			return nil, fmt.Errorf("fuzzy y values must not decrease: %g after %g", points[i].Y, points[i-1].Y)
		}
	}
	p := make([]Point, len(points))
	copy(p, points)
	return &Func{points: p}, nil
}

// Apply evaluates the function at x.
func (f *Func) Apply(x float64) float64 {
	if f == nil || len(f.points) == 0 {
		return BadValue
	}
	p := f.points
	if x <= p[0].X {
		return p[0].Y
	}
	last := p[len(p)-1]
	if x >= last.X {
		return last.Y
	}
	i := sort.Search(len(p), func(i int) bool { return p[i].X >= x })
	lo, hi := p[i-1], p[i]
	return lo.Y + (x-lo.X)*(hi.Y-lo.Y)/(hi.X-lo.X)
}

// Points returns a copy of the defining points.
func (f *Func) Points() []Point {
	out := make([]Point, len(f.points))
	copy(out, f.points)
	return out
}
