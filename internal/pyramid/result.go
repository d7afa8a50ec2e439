package pyramid

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/storm-phase-correct/internal/grid"
	"github.com/couchcryptid/storm-phase-correct/internal/motion"
	"github.com/couchcryptid/storm-phase-correct/internal/volume"
)

// Status is the terminal state of a run.
type Status string

const (
	// Corrected means motion was estimated and applied.
	Corrected Status = "corrected"
	// NoCorrection means inputs lacked coverage; motion is zero and the
	// forecasts pass through unchanged.
	NoCorrection Status = "no_correction"
)

// Result is the outcome of one run.
type Result struct {
	Status Status
	// Motion is the final full resolution field in grid cells.
	Motion *motion.Field
	// Initial is the smoothed low resolution field before convergence
	// filtering. Nil when no correction was attempted.
	Initial   *motion.Field
	Corrected map[string]*grid.Grid
	Blocks    []volume.Stats
	Summary   Summary
}

// NoCorrectionApplied reports whether the forecasts were left unchanged.
func (r *Result) NoCorrectionApplied() bool { return r.Status == NoCorrection }

// Summary condenses the per-block diagnostics.
type Summary struct {
	NumBlocks            int     `json:"num_blocks"`
	NumSearched          int     `json:"num_searched"`
	NumSkipped           int     `json:"num_skipped"`
	NumWithCorrection    int     `json:"num_with_correction"`
	NumWithoutCorrection int     `json:"num_without_correction"`
	NumTieBreakChanges   int     `json:"num_tie_break_changes"`
	NumRefineTested      int     `json:"num_refine_tested"`
	NumScoreEvals        int     `json:"num_score_evals"`
	MeanInitialScore     float64 `json:"mean_initial_score"`
	MeanFinalScore       float64 `json:"mean_final_score"`
	MeanDisplacementKm   float64 `json:"mean_displacement_km"`
	MaxDisplacementCells float64 `json:"max_displacement_cells"`
}

func summarize(blocks []volume.Stats, m *motion.Field, dxKm, dyKm float64) Summary {
	s := Summary{NumBlocks: len(blocks)}
	var initial, final []float64
	for _, b := range blocks {
		if !b.Searched {
			s.NumSkipped++
		} else {
			s.NumSearched++
		}
		if b.Corrected() {
			s.NumWithCorrection++
		} else {
			s.NumWithoutCorrection++
		}
		if b.TieBreakChange {
			s.NumTieBreakChanges++
		}
		s.NumRefineTested += b.NumRefine
		s.NumScoreEvals += b.NumScoreEvals
		if b.Searched && b.NumCandidates > 0 {
			initial = append(initial, b.InitialScore)
			final = append(final, b.FinalScore)
		}
	}
	if len(initial) > 0 {
		s.MeanInitialScore = stat.Mean(initial, nil)
		s.MeanFinalScore = stat.Mean(final, nil)
	}
	if m == nil {
		return s
	}
	s.MaxDisplacementCells = m.MaxMagnitude()

	nx, ny := m.Dims()
	var dist []float64
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			u, v, ok := m.Get(x, y)
			if !ok || (u == 0 && v == 0) {
				continue
			}
			dist = append(dist, math.Hypot(u*dxKm, v*dyKm))
		}
	}
	if len(dist) > 0 {
		s.MeanDisplacementKm = floats.Sum(dist) / float64(len(dist))
	}
	return s
}
