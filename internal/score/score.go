// Package score rates candidate displacements of a block by comparing
// smoothed verification samples with displaced forecast samples.
package score

import (
	"fmt"
	"math"

	"github.com/couchcryptid/storm-phase-correct/internal/grid"
)

// BadScore marks a candidate with nothing to score.
const BadScore = -9999.9

// Offset is a displacement in grid cells.
type Offset struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

// Distance is the Euclidean length of the offset.
func (o Offset) Distance() float64 {
	return math.Hypot(float64(o.DX), float64(o.DY))
}

// Add returns o shifted by d.
func (o Offset) Add(d Offset) Offset {
	return Offset{DX: o.DX + d.DX, DY: o.DY + d.DY}
}

func (o Offset) String() string { return fmt.Sprintf("(%d,%d)", o.DX, o.DY) }

// Record is the outcome of scoring one offset.
type Record struct {
	Offset   Offset  `json:"offset"`
	Distance float64 `json:"distance"`
	Value    float64 `json:"value"`
	Valid    bool    `json:"valid"`
}

// Bad returns an invalid record for off.
func Bad(off Offset) Record {
	return Record{Offset: off, Distance: off.Distance(), Value: BadScore}
}

// Polarity says which direction of score is better.
type Polarity int

const (
	LowerIsBetter Polarity = iota
	HigherIsBetter
)

// ParsePolarity accepts "lower" or "higher".
func ParsePolarity(s string) (Polarity, error) {
	switch s {
	case "", "lower":
		return LowerIsBetter, nil
	case "higher":
		return HigherIsBetter, nil
	default:
		return 0, fmt.Errorf("unknown score polarity %q", s)
	}
}

func (p Polarity) String() string {
	if p == HigherIsBetter {
		return "higher"
	}
	return "lower"
}

// Better reports whether a is strictly better than b.
func (p Polarity) Better(a, b float64) bool {
	if p == HigherIsBetter {
		return a > b
	}
	return a < b
}

// Within reports whether s is within a multiplicative tolerance of best.
// scaling is at least 1; 1 accepts only scores at least as good as best.
func (p Polarity) Within(s, best, scaling float64) bool {
	if p == HigherIsBetter {
		return s >= best/scaling
	}
	return s <= best*scaling
}

// FieldData is one scored data type: its smoothed grids and weighting.
type FieldData struct {
	Name     string
	Forecast *grid.Grid
	Verif    *grid.Grid

	// Samples below Thresh collapse to zero.
	Thresh float64
	// Verification value that counts toward the fractional area test.
	FractionalAreaDataThresh float64
	Alpha                    float64
	Variance                 float64
}

// Scorer rates offsets for blocks of a fixed size.
type Scorer struct {
	fields []FieldData
	nx, ny int
	halfD  float64
}

// NewScorer creates a scorer for blocks of nx*ny cells.
func NewScorer(fields []FieldData, nx, ny int) (*Scorer, error) {
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("invalid block size %dx%d", nx, ny)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields to score")
	}
	for _, f := range fields {
		if f.Forecast == nil || f.Verif == nil {
			return nil, fmt.Errorf("field %q is missing a grid", f.Name)
		}
		if !f.Forecast.SameDims(f.Verif) {
			return nil, fmt.Errorf("field %q: %w", f.Name, grid.ErrDimMismatch)
		}
		if f.Variance == 0 {
			return nil, fmt.Errorf("field %q: variance must be nonzero", f.Name)
		}
	}
	return &Scorer{
		fields: fields,
		nx:     nx,
		ny:     ny,
		halfD:  0.5 * math.Hypot(float64(nx), float64(ny)),
	}, nil
}

// Fields returns the scored data types.
func (s *Scorer) Fields() []FieldData { return s.fields }

// DistanceWeight is the penalty applied to a displacement: exp(r)/(1+r)
// with r the offset length relative to half the block diagonal.
func (s *Scorer) DistanceWeight(off Offset) float64 {
	r := off.Distance() / s.halfD
	return math.Exp(r) / (1 + r)
}

// Score rates off for the block whose lower-left cell is (x0, y0). The
// forecast sample compared with verification at (x, y) is the one at
// (x-dx, y-dy).
func (s *Scorer) Score(x0, y0 int, off Offset) Record {
	var sumScore, sumAlpha float64
	scored := false
	for i := range s.fields {
		diffsq, num, ok := s.fieldScore(&s.fields[i], x0, y0, off)
		if !ok || num == 0 {
			continue
		}
		f := &s.fields[i]
		sumAlpha += f.Alpha * float64(num)
		sumScore += f.Alpha * diffsq / (f.Variance * f.Variance)
		scored = true
	}
	if !scored || sumAlpha == 0 {
		return Bad(off)
	}
	v := s.DistanceWeight(off) * sumScore / sumAlpha
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Bad(off)
	}
	return Record{Offset: off, Distance: off.Distance(), Value: v, Valid: true}
}

// fieldScore returns the summed squared difference and sample count for one
// field. ok is false when the block has no valid verification sample.
func (s *Scorer) fieldScore(f *FieldData, x0, y0 int, off Offset) (diffsq float64, num int, ok bool) {
	for y := y0; y < y0+s.ny; y++ {
		for x := x0; x < x0+s.nx; x++ {
			d, valid := f.Verif.Get(x, y)
			if !valid {
				continue
			}
			ok = true
			if d < f.Thresh {
				d = 0
			}
			fv, fok := f.Forecast.Get(x-off.DX, y-off.DY)
			if !fok {
				continue
			}
			if fv < f.Thresh {
				fv = 0
			}
			diffsq += (fv - d) * (fv - d)
			num++
		}
	}
	return diffsq, num, ok
}

// FractionalArea reports whether every field has enough verification data
// in the block. Each field counts its in-range verification cells and those
// at or above FractionalAreaDataThresh; the ratio, truncated to whole
// percent, must reach minPcnt (a fraction). A block entirely outside the
// grid fails.
func (s *Scorer) FractionalArea(x0, y0 int, minPcnt float64) bool {
	need := int(minPcnt * 100)
	for i := range s.fields {
		f := &s.fields[i]
		var n, good int
		for y := y0; y < y0+s.ny; y++ {
			for x := x0; x < x0+s.nx; x++ {
				if !f.Verif.InRange(x, y) {
					continue
				}
				n++
				if v, ok := f.Verif.Get(x, y); ok && v >= f.FractionalAreaDataThresh {
					good++
				}
			}
		}
		if n == 0 {
			return false
		}
		if int(float64(good)/float64(n)*100) < need {
			return false
		}
	}
	return true
}
