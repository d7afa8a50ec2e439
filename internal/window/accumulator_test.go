package window

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-phase-correct/internal/grid"
)

const miss = -999.0

// --- helpers ---

type countingAlg struct {
	inc, dec int
}

func (c *countingAlg) Increment(_, _ int, _ *grid.Grid) { c.inc++ }
func (c *countingAlg) Decrement(_, _ int, _ *grid.Grid) { c.dec++ }
func (c *countingAlg) Reset()                           { c.inc, c.dec = 0, 0 }
func (c *countingAlg) Result(_ int, _ *grid.Grid, _, _ int) (float64, bool) {
	return float64(c.inc - c.dec), true
}

func rampGrid(t *testing.T, nx, ny int) *grid.Grid {
	t.Helper()
	data := make([]float64, nx*ny)
	for i := range data {
		data[i] = float64((i*37)%11) - 3
	}
	g, err := grid.FromSlice(nx, ny, miss, data)
	require.NoError(t, err)
	return g
}

func bruteMean(g *grid.Grid, cx, cy, sx, sy int) (float64, bool) {
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

// --- traversal tests ---

func TestNewAccumulator_RejectsDegenerateGrids(t *testing.T) {
	_, err := NewAccumulator(1, 5, 1, 1)
	require.Error(t, err)
	_, err = NewAccumulator(5, 1, 1, 1)
	require.Error(t, err)
	_, err = NewAccumulator(5, 5, -1, 0)
	require.Error(t, err)
}

func TestAccumulator_VisitsEveryCellOnceWithSingleEdgeMoves(t *testing.T) {
	dims := [][4]int{{2, 2, 0, 0}, {2, 5, 1, 1}, {5, 2, 2, 0}, {7, 4, 1, 3}, {3, 9, 4, 4}}
	for _, d := range dims {
		nx, ny, sx, sy := d[0], d[1], d[2], d[3]
		t.Run(fmt.Sprintf("%dx%d_box%dx%d", nx, ny, sx, sy), func(t *testing.T) {
			g := rampGrid(t, nx, ny)
			acc, err := NewAccumulator(nx, ny, sx, sy)
			require.NoError(t, err)

			seen := make(map[[2]int]int)
			var prev [4]int
			first := true
			alg := &countingAlg{}
			for acc.Increment(g, alg) {
				x, y := acc.Center()
				seen[[2]int{x, y}]++

				minx, maxx, miny, maxy := acc.Box()
				cur := [4]int{minx, maxx, miny, maxy}
				if !first {
					dx := cur[0] - prev[0]
					dy := cur[2] - prev[2]
					assert.Equal(t, dx, cur[1]-prev[1], "box width must not change")
					assert.Equal(t, dy, cur[3]-prev[3], "box height must not change")
					assert.Equal(t, 1, abs(dx)+abs(dy), "exactly one axis moves by one at (%d,%d)", x, y)
				}
				prev = cur
				first = false
			}

			assert.Len(t, seen, nx*ny)
			for c, n := range seen {
				assert.Equal(t, 1, n, "cell %v visited %d times", c, n)
			}
		})
	}
}

func TestAccumulator_SerpentineOrder(t *testing.T) {
	g := rampGrid(t, 2, 3)
	acc, err := NewAccumulator(2, 3, 0, 0)
	require.NoError(t, err)

	var order [][2]int
	for acc.Increment(g, &countingAlg{}) {
		x, y := acc.Center()
		order = append(order, [2]int{x, y})
	}
	assert.Equal(t, [][2]int{{0, 0}, {0, 1}, {0, 2}, {1, 2}, {1, 1}, {1, 0}}, order)
}

func TestAccumulator_BoxCountMatchesClippedArea(t *testing.T) {
	nx, ny, sx, sy := 6, 5, 2, 1
	g := rampGrid(t, nx, ny)
	acc, err := NewAccumulator(nx, ny, sx, sy)
	require.NoError(t, err)

	alg := &countingAlg{}
	for acc.Increment(g, alg) {
		x, y := acc.Center()
		w := min(x+sx, nx-1) - max(x-sx, 0) + 1
		h := min(y+sy, ny-1) - max(y-sy, 0) + 1
		got, _ := alg.Result(0, g, x, y)
		assert.InDelta(t, float64(w*h), got, 0, "box population at (%d,%d)", x, y)
	}
}

func TestNext_Transitions(t *testing.T) {
	tests := []struct {
		name   string
		state  State
		x, y   int
		move   Move
		next   State
		isDone bool
	}{
		{"up inside column", MovingUp, 0, 0, MoveUp, MovingUp, false},
		{"top turns right", MovingUp, 0, 2, MoveRight, MovingRight, false},
		{"after right at top goes down", MovingRight, 1, 2, MoveDown, MovingDown, false},
		{"after right at bottom goes up", MovingRight, 2, 0, MoveUp, MovingUp, false},
		{"down inside column", MovingDown, 1, 1, MoveDown, MovingDown, false},
		{"bottom turns right", MovingDown, 1, 0, MoveRight, MovingRight, false},
		{"last column top is done", MovingUp, 3, 2, MoveNone, MovingUp, true},
		{"last column bottom is done", MovingDown, 3, 0, MoveNone, MovingDown, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, next, done := Next(tt.state, tt.x, tt.y, 4, 3)
			assert.Equal(t, tt.move, m)
			assert.Equal(t, tt.isDone, done)
			if !done {
				assert.Equal(t, tt.next, next)
			}
		})
	}
}

func TestAccumulator_ReinitRestarts(t *testing.T) {
	g := rampGrid(t, 3, 3)
	acc, err := NewAccumulator(3, 3, 1, 1)
	require.NoError(t, err)
	for acc.Increment(g, &countingAlg{}) {
	}
	acc.Reinit()
	assert.Equal(t, Init, acc.State())
	x, y := acc.Center()
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)
}

// --- smoothing tests ---

func TestSmooth_MatchesBruteForce(t *testing.T) {
	nx, ny, sx, sy := 9, 7, 2, 1
	g := rampGrid(t, nx, ny)
	g.SetMissing(3, 3)
	g.SetMissing(4, 3)
	orig := g.Clone()

	require.NoError(t, Smooth(g, sx, sy, SmoothOptions{}))

	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			want, wantOK := bruteMean(orig, x, y, sx, sy)
			got, gotOK := g.Get(x, y)
			require.Equal(t, wantOK, gotOK, "(%d,%d)", x, y)
			assert.InDelta(t, want, got, 1e-6, "(%d,%d)", x, y)
		}
	}
}

func TestSmooth_ZeroWidthIsNoop(t *testing.T) {
	g := rampGrid(t, 4, 4)
	orig := g.Clone()
	require.NoError(t, Smooth(g, 0, 0, SmoothOptions{}))
	assert.Equal(t, orig.Values(), g.Values())
}

func TestSmooth_MinGoodLeavesMissing(t *testing.T) {
	g, err := grid.New(4, 4, miss)
	require.NoError(t, err)
	g.Set(0, 0, 5)

	require.NoError(t, Smooth(g, 1, 1, SmoothOptions{MinGood: 2}))
	for _, v := range g.Values() {
		assert.InDelta(t, miss, v, 0)
	}
}

func TestSmooth_MaskLimitsOutput(t *testing.T) {
	nx, ny := 6, 5
	g := rampGrid(t, nx, ny)
	orig := g.Clone()
	mask := make([]bool, nx*ny)
	mask[2*nx+3] = true
	mask[0] = true

	require.NoError(t, Smooth(g, 1, 1, SmoothOptions{Mask: mask}))

	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			got, _ := g.Get(x, y)
			if !mask[y*nx+x] {
				want, _ := orig.Get(x, y)
				assert.InDelta(t, want, got, 0, "(%d,%d) outside the mask", x, y)
				continue
			}
			want, _ := bruteMean(orig, x, y, 1, 1)
			assert.InDelta(t, want, got, 1e-6, "(%d,%d)", x, y)
		}
	}

	err := Smooth(g, 1, 1, SmoothOptions{Mask: make([]bool, 3)})
	require.ErrorIs(t, err, grid.ErrDimMismatch)
}

func TestMean_ExcludeValue(t *testing.T) {
	g, err := grid.FromSlice(3, 1, miss, []float64{0, 4, 0})
	require.NoError(t, err)

	m := &Mean{Exclude: true, ExcludeValue: 0}
	for x := 0; x < 3; x++ {
		m.Increment(x, 0, g)
	}
	v, ok := m.Result(1, g, 1, 0)
	require.True(t, ok)
	assert.InDelta(t, 4.0, v, 1e-12, "zeros stay out of the mean")

	m.Decrement(1, 0, g)
	v, ok = m.Result(1, g, 0, 0)
	require.True(t, ok, "only excluded samples remain")
	assert.InDelta(t, 0.0, v, 0)
}

func TestMean_RejectCenterExclude(t *testing.T) {
	g, err := grid.FromSlice(3, 1, miss, []float64{2, 0, 4})
	require.NoError(t, err)

	m := &Mean{Exclude: true, ExcludeValue: 0, RejectCenterExclude: true}
	for x := 0; x < 3; x++ {
		m.Increment(x, 0, g)
	}
	v, ok := m.Result(1, g, 1, 0)
	require.True(t, ok)
	assert.InDelta(t, 0.0, v, 0, "center equal to excluded value keeps it")

	v, ok = m.Result(1, g, 0, 0)
	require.True(t, ok)
	assert.InDelta(t, 3.0, v, 1e-12)

	m.Reset()
	_, ok = m.Result(1, g, 0, 0)
	assert.False(t, ok)
}

func TestSmoothList_AppliesInOrder(t *testing.T) {
	g := rampGrid(t, 6, 6)
	want := g.Clone()
	require.NoError(t, Smooth(want, 1, 1, SmoothOptions{}))
	require.NoError(t, Smooth(want, 2, 2, SmoothOptions{}))

	require.NoError(t, SmoothList(g, []int{1, 2}, SmoothOptions{}))
	for i := range g.Values() {
		assert.False(t, math.IsNaN(g.At(i)))
		assert.InDelta(t, want.At(i), g.At(i), 1e-9)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
