// Package window implements an incremental moving-box accumulator. The box
// walks the grid in serpentine column order so each step swaps a single row
// or column in and out, which keeps box statistics at O(1) amortized cost
// per cell.
package window

import (
	"fmt"

	"github.com/couchcryptid/storm-phase-correct/internal/grid"
)

// State is the traversal state of an Accumulator.
type State int

const (
	Init State = iota
	MovingUp
	MovingDown
	MovingRight
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case MovingUp:
		return "up"
	case MovingDown:
		return "down"
	case MovingRight:
		return "right"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Move is a single step of the box center.
type Move int

const (
	MoveNone Move = iota
	MoveUp
	MoveDown
	MoveRight
)

// Next is the pure transition function of the traversal. Given the current
// state and center it returns the move to make and the resulting state. done
// is true once the last cell has been visited.
func Next(s State, x, y, nx, ny int) (m Move, next State, done bool) {
	switch s {
	case Init, MovingUp:
		if y+1 < ny {
			return MoveUp, MovingUp, false
		}
	case MovingDown:
		if y > 0 {
			return MoveDown, MovingDown, false
		}
	case MovingRight:
		if y >= ny-1 {
			return MoveDown, MovingDown, false
		}
		return MoveUp, MovingUp, false
	}
	if x+1 >= nx {
		return MoveNone, s, true
	}
	return MoveRight, MovingRight, false
}

// Algorithm accumulates samples as they enter and leave the box.
type Algorithm interface {
	// Increment adds the sample at (x, y).
	Increment(x, y int, g *grid.Grid)
	// Decrement removes the sample at (x, y).
	Decrement(x, y int, g *grid.Grid)
	// Result returns the box statistic centered at (x, y). ok is false when
	// fewer than minGood samples are in the box.
	Result(minGood int, g *grid.Grid, x, y int) (float64, bool)
	// Reset clears the accumulated state.
	Reset()
}

// Accumulator walks a fixed half-width box across an nx*ny grid.
type Accumulator struct {
	nx, ny int
	sx, sy int

	x, y                   int
	minx, maxx, miny, maxy int
	state                  State
}

// NewAccumulator creates an accumulator for an nx*ny grid with a box of
// (2sx+1)x(2sy+1) cells.
func NewAccumulator(nx, ny, sx, sy int) (*Accumulator, error) {
	if nx < 2 || ny < 2 {
		return nil, fmt.Errorf("window traversal needs at least 2x2 cells, got %dx%d", nx, ny)
	}
	if sx < 0 || sy < 0 {
		return nil, fmt.Errorf("negative window half width %d,%d", sx, sy)
	}
	a := &Accumulator{nx: nx, ny: ny, sx: sx, sy: sy}
	a.Reinit()
	return a, nil
}

// Reinit returns the accumulator to the lower-left cell.
func (a *Accumulator) Reinit() {
	a.x, a.y = 0, 0
	a.state = Init
	a.setBox()
}

// Center returns the current box center.
func (a *Accumulator) Center() (int, int) { return a.x, a.y }

// Box returns the current box bounds, inclusive.
func (a *Accumulator) Box() (minx, maxx, miny, maxy int) {
	return a.minx, a.maxx, a.miny, a.maxy
}

// State returns the traversal state.
func (a *Accumulator) State() State { return a.state }

// Increment advances one cell, updating alg with the samples that left and
// entered the box. The first call after Reinit fills the box at (0,0) and
// does not move. It returns false once every cell has been visited.
func (a *Accumulator) Increment(g *grid.Grid, alg Algorithm) bool {
	if a.state == Init {
		alg.Reset()
		for y := a.miny; y <= a.maxy; y++ {
			a.addRow(y, g, alg)
		}
		a.state = MovingUp
		return true
	}

	m, next, done := Next(a.state, a.x, a.y, a.nx, a.ny)
	if done {
		return false
	}
	switch m {
	case MoveUp:
		a.removeRow(a.miny, g, alg)
		a.y++
		a.setBox()
		a.addRow(a.maxy, g, alg)
	case MoveDown:
		a.removeRow(a.maxy, g, alg)
		a.y--
		a.setBox()
		a.addRow(a.miny, g, alg)
	case MoveRight:
		a.removeCol(a.minx, g, alg)
		a.x++
		a.setBox()
		a.addCol(a.maxx, g, alg)
	}
	a.state = next
	return true
}

func (a *Accumulator) setBox() {
	a.minx, a.maxx = a.x-a.sx, a.x+a.sx
	a.miny, a.maxy = a.y-a.sy, a.y+a.sy
}

func (a *Accumulator) addRow(y int, g *grid.Grid, alg Algorithm) {
	if y < 0 || y >= a.ny {
		return
	}
	for x := max(a.minx, 0); x <= min(a.maxx, a.nx-1); x++ {
		alg.Increment(x, y, g)
	}
}

func (a *Accumulator) removeRow(y int, g *grid.Grid, alg Algorithm) {
	if y < 0 || y >= a.ny {
		return
	}
	for x := max(a.minx, 0); x <= min(a.maxx, a.nx-1); x++ {
		alg.Decrement(x, y, g)
	}
}

func (a *Accumulator) addCol(x int, g *grid.Grid, alg Algorithm) {
	if x < 0 || x >= a.nx {
		return
	}
	for y := max(a.miny, 0); y <= min(a.maxy, a.ny-1); y++ {
		alg.Increment(x, y, g)
	}
}

func (a *Accumulator) removeCol(x int, g *grid.Grid, alg Algorithm) {
	if x < 0 || x >= a.nx {
		return
	}
	for y := max(a.miny, 0); y <= min(a.maxy, a.ny-1); y++ {
		alg.Decrement(x, y, g)
	}
}
