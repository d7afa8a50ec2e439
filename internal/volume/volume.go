// Package volume searches one block of the grid for the displacement that
// best aligns forecast with verification.
package volume

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/storm-phase-correct/internal/motion"
	"github.com/couchcryptid/storm-phase-correct/internal/score"
)

// Scorer rates offsets for a block. *score.Scorer implements it.
type Scorer interface {
	Score(x0, y0 int, off score.Offset) score.Record
	FractionalArea(x0, y0 int, minPcnt float64) bool
}

// Params controls the block search.
type Params struct {
	SizeX, SizeY int

	ShiftResNpt       int
	MaxShift          int
	RefineShiftResNpt int
	RefineMaxShift    int

	// GoodScaling selects which initial candidates get refined.
	GoodScaling float64
	// GoodDistScaling is the tie tolerance for distance minimization.
	GoodDistScaling float64
	Polarity        score.Polarity

	FractionalAreaMinPcnt float64
}

// Validate rejects parameters no block search can run with.
func (p Params) Validate() error {
	switch {
	case p.SizeX <= 0 || p.SizeY <= 0:
		return fmt.Errorf("invalid volume size %dx%d", p.SizeX, p.SizeY)
	case p.ShiftResNpt <= 0:
		return errors.New("shift resolution must be positive")
	case p.MaxShift < 0:
		return errors.New("max shift must not be negative")
	case p.RefineMaxShift < 0:
		return errors.New("refine max shift must not be negative")
	case p.RefineMaxShift > 0 && p.RefineShiftResNpt <= 0:
		return errors.New("refine shift resolution must be positive")
	case p.GoodScaling < 1 || p.GoodDistScaling < 1:
		return fmt.Errorf("score scalings must be >= 1, got %g and %g", p.GoodScaling, p.GoodDistScaling)
	}
	return nil
}

// NumOffsets is the number of lattice points per axis of the initial search.
func (p Params) NumOffsets() int { return 2*p.MaxShift + 1 }

// IthOffset is the i-th lattice coordinate of the initial search.
func (p Params) IthOffset(i int) int { return (-p.MaxShift + i) * p.ShiftResNpt }

// Stats records how a block reached its result.
type Stats struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`

	Searched       bool         `json:"searched"`
	InitialOffset  score.Offset `json:"initial_offset"`
	InitialScore   float64      `json:"initial_score"`
	RefinedOffset  score.Offset `json:"refined_offset"`
	RefinedScore   float64      `json:"refined_score"`
	FinalOffset    score.Offset `json:"final_offset"`
	FinalScore     float64      `json:"final_score"`
	NumRefine      int          `json:"num_refine_tested"`
	NumCandidates  int          `json:"num_candidates"`
	NumScoreEvals  int          `json:"num_score_evals"`
	TieBreakChange bool         `json:"tie_break_changed"`
}

// Corrected reports whether the block produced a nonzero displacement.
func (s Stats) Corrected() bool {
	return s.FinalOffset != score.Offset{}
}

// Volume is one block of the tiling.
type Volume struct {
	x0, y0 int
	params Params
	logger *slog.Logger

	candidates []score.Record
	best       score.Record
	stats      Stats
}

// New creates the volume whose lower-left cell is (x0, y0).
func New(x0, y0 int, p Params, logger *slog.Logger) *Volume {
	return &Volume{x0: x0, y0: y0, params: p, logger: logger}
}

// Offset returns the chosen displacement.
func (v *Volume) Offset() score.Offset { return v.best.Offset }

// Best returns the chosen record. It is invalid when no search ran.
func (v *Volume) Best() score.Record { return v.best }

// Stats returns the search diagnostics.
func (v *Volume) Stats() Stats { return v.stats }

// Compute runs gate, search, refinement and tie-break. Blocks that fail the
// gate or have no valid candidate finish at offset (0,0).
func (v *Volume) Compute(s Scorer) {
	v.stats = Stats{X0: v.x0, Y0: v.y0}
	v.best = score.Bad(score.Offset{})
	v.candidates = v.candidates[:0]

	if !s.FractionalArea(v.x0, v.y0, v.params.FractionalAreaMinPcnt) {
		v.logger.Debug("fractional area test failed", "x0", v.x0, "y0", v.y0)
		return
	}
	v.stats.Searched = true

	if !v.search(s) {
		v.logger.Debug("no valid candidates", "x0", v.x0, "y0", v.y0)
		return
	}
	v.refine(s)
	v.minimizeDistance()

	v.stats.FinalOffset = v.best.Offset
	v.stats.FinalScore = v.best.Value
	v.logger.Debug("block offset chosen", "x0", v.x0, "y0", v.y0,
		"offset", v.best.Offset.String(), "score", v.best.Value)
}

// search scores the initial lattice and tracks the best valid candidate.
func (v *Volume) search(s Scorer) bool {
	n := v.params.NumOffsets()
	found := false
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			off := score.Offset{DX: v.params.IthOffset(i), DY: v.params.IthOffset(j)}
			r := s.Score(v.x0, v.y0, off)
			v.stats.NumScoreEvals++
			v.candidates = append(v.candidates, r)
			if !r.Valid {
				continue
			}
			if !found || v.params.Polarity.Better(r.Value, v.best.Value) {
				v.best = r
				found = true
			}
		}
	}
	if found {
		v.stats.InitialOffset = v.best.Offset
		v.stats.InitialScore = v.best.Value
	}
	for _, c := range v.candidates {
		if c.Valid {
			v.stats.NumCandidates++
		}
	}
	return found
}

// refine searches a finer lattice around every candidate close enough to
// the best, replacing a candidate when a strictly better score turns up.
func (v *Volume) refine(s Scorer) {
	p := v.params
	bestValue := v.best.Value
	lim := p.RefineMaxShift * p.RefineShiftResNpt
	for k := range v.candidates {
		c := v.candidates[k]
		if !c.Valid || !p.Polarity.Within(c.Value, bestValue, p.GoodScaling) {
			continue
		}
		v.stats.NumRefine++
		if lim == 0 {
			continue
		}
		origin := c.Offset
		for dy := -lim; dy <= lim; dy += p.RefineShiftResNpt {
			for dx := -lim; dx <= lim; dx += p.RefineShiftResNpt {
				if dx == 0 && dy == 0 {
					continue
				}
				r := s.Score(v.x0, v.y0, origin.Add(score.Offset{DX: dx, DY: dy}))
				v.stats.NumScoreEvals++
				if r.Valid && p.Polarity.Better(r.Value, c.Value) {
					c = r
				}
			}
		}
		v.candidates[k] = c
	}

	first := true
	for _, c := range v.candidates {
		if !c.Valid {
			continue
		}
		if first || p.Polarity.Better(c.Value, v.best.Value) {
			v.best = c
			first = false
		}
	}
	v.stats.RefinedOffset = v.best.Offset
	v.stats.RefinedScore = v.best.Value
}

// minimizeDistance prefers the smallest displacement among candidates whose
// score is within GoodDistScaling of the best.
func (v *Volume) minimizeDistance() {
	p := v.params
	bestValue := v.best.Value
	chosen := v.best
	for _, c := range v.candidates {
		if !c.Valid || !p.Polarity.Within(c.Value, bestValue, p.GoodDistScaling) {
			continue
		}
		if c.Distance < chosen.Distance {
			chosen = c
		}
	}
	if chosen.Offset != v.best.Offset {
		v.stats.TieBreakChange = true
	}
	v.best = chosen
}

// AddTo votes this block's displacement into f. Each block cell (x, y)
// votes at its source location (x-dx, y-dy).
func (v *Volume) AddTo(f *motion.Field) {
	off := v.best.Offset
	for y := v.y0; y < v.y0+v.params.SizeY; y++ {
		for x := v.x0; x < v.x0+v.params.SizeX; x++ {
			f.Vote(x-off.DX, y-off.DY, float64(off.DX), float64(off.DY))
		}
	}
}
