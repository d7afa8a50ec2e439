package window

import (
	"math"

	"github.com/couchcryptid/storm-phase-correct/internal/grid"
)

// Mean is a running box mean. When Exclude is set, samples equal to
// ExcludeValue are tallied separately and kept out of the mean.
type Mean struct {
	Exclude             bool
	ExcludeValue        float64
	RejectCenterExclude bool

	sum        float64
	count      int
	numExclude int
}

// Reset clears the running sums.
func (m *Mean) Reset() {
	m.sum, m.count, m.numExclude = 0, 0, 0
}

func (m *Mean) Increment(x, y int, g *grid.Grid) {
	v, ok := g.Get(x, y)
	if !ok {
		return
	}
	if m.Exclude && v == m.ExcludeValue {
		m.numExclude++
		return
	}
	m.sum += v
	m.count++
}

func (m *Mean) Decrement(x, y int, g *grid.Grid) {
	v, ok := g.Get(x, y)
	if !ok {
		return
	}
	if m.Exclude && v == m.ExcludeValue {
		m.numExclude--
		return
	}
	m.sum -= v
	m.count--
}

// Result returns the box mean. The mean is truncated to 1e-6 so drift from
// the running sum does not leak into otherwise constant fields.
func (m *Mean) Result(minGood int, g *grid.Grid, x, y int) (float64, bool) {
	if m.Exclude && m.RejectCenterExclude {
		if v, ok := g.Get(x, y); ok && v == m.ExcludeValue {
			return m.ExcludeValue, true
		}
	}
	if m.count > 0 && m.count >= minGood {
		mean := m.sum / float64(m.count)
		return math.Round(mean*1e6) / 1e6, true
	}
	if m.Exclude && !m.RejectCenterExclude && m.numExclude > 0 {
		return m.ExcludeValue, true
	}
	return 0, false
}
