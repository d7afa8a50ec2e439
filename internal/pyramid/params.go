package pyramid

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/storm-phase-correct/internal/fuzzy"
	"github.com/couchcryptid/storm-phase-correct/internal/motion"
	"github.com/couchcryptid/storm-phase-correct/internal/score"
	"github.com/couchcryptid/storm-phase-correct/internal/volume"
)

// FieldParams configures one data type that contributes to the score.
type FieldParams struct {
	Name                     string  `json:"name"`
	Thresh                   float64 `json:"thresh"`
	FractionalAreaDataThresh float64 `json:"fractional_area_data_thresh"`
	Alpha                    float64 `json:"alpha"`
	Variance                 float64 `json:"variance"`
}

// Params is the full engine configuration.
type Params struct {
	Fields []FieldParams `json:"fields"`

	FcstInputSmooth  int `json:"fcst_input_smooth"`
	VerifInputSmooth int `json:"verif_input_smooth"`
	// LowResNgridpts is the pyramid reduction factor; 1 disables reduction.
	LowResNgridpts int    `json:"low_res_ngridpts"`
	VolSize        [2]int `json:"vol_size"`
	VolOverlap     [2]int `json:"vol_overlap"`

	ShiftResNpt       int `json:"shift_res_npt"`
	MaxShift          int `json:"max_shift"`
	RefineShiftResNpt int `json:"refine_shift_res_npt"`
	RefineMaxShift    int `json:"refine_max_shift"`

	LowResMotionSmooth       []int `json:"low_res_motion_smooth"`
	HighResMotionSmooth      []int `json:"high_res_motion_smooth"`
	FcstGapFillSmooth        int   `json:"fcst_gap_fill_smooth"`
	FcstOutputSmooth         []int `json:"fcst_output_smooth"`
	ExcludeZeroFromSmoothing bool  `json:"exclude_zero_from_smoothing"`
	HighResMaxExpandNpt      int   `json:"high_res_max_expand_npt"`
	// SmoothWhereCorrected restricts FcstOutputSmooth to moved cells.
	SmoothWhereCorrected bool `json:"smooth_where_corrected"`

	GoodScaling     float64 `json:"good_scaling"`
	GoodDistScaling float64 `json:"good_dist_scaling"`
	Polarity        string  `json:"polarity"`

	// Fractions in [0,1].
	FractionalAreaMinPcnt float64 `json:"fractional_area_min_pcnt"`
	GridAreaMinPcnt       float64 `json:"grid_area_min_pcnt"`

	ConvThresh     float64       `json:"conv_thresh"`
	NptToExpansion []fuzzy.Point `json:"npt_to_expansion"`
}

// DefaultParams returns a single-field configuration suited to hourly
// precipitation on a few-kilometer grid.
func DefaultParams() Params {
	return Params{
		Fields: []FieldParams{
			{Name: "precip", Thresh: 0.5, FractionalAreaDataThresh: 0.5, Alpha: 1, Variance: 1},
		},
		FcstInputSmooth:          2,
		VerifInputSmooth:         2,
		LowResNgridpts:           2,
		VolSize:                  [2]int{16, 16},
		VolOverlap:               [2]int{8, 8},
		ShiftResNpt:              2,
		MaxShift:                 4,
		RefineShiftResNpt:        1,
		RefineMaxShift:           1,
		LowResMotionSmooth:       []int{1},
		HighResMotionSmooth:      []int{2},
		FcstGapFillSmooth:        2,
		FcstOutputSmooth:         []int{1},
		ExcludeZeroFromSmoothing: true,
		HighResMaxExpandNpt:      1,
		GoodScaling:              1.1,
		GoodDistScaling:          1.05,
		Polarity:                 "lower",
		FractionalAreaMinPcnt:    0.1,
		GridAreaMinPcnt:          0.01,
		ConvThresh:               0.5,
		NptToExpansion: []fuzzy.Point{
			{X: 1, Y: 0},
			{X: 3, Y: 0.5},
			{X: 20, Y: 1},
		},
	}
}

// Validate checks the configuration. Any error here is fatal for a run.
func (p Params) Validate() error {
	if len(p.Fields) == 0 {
		return errors.New("at least one field is required")
	}
	seen := make(map[string]bool, len(p.Fields))
	for _, f := range p.Fields {
		if f.Name == "" {
			return errors.New("field name is required")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if f.Variance <= 0 {
			return fmt.Errorf("field %q: variance must be positive", f.Name)
		}
		if f.Alpha <= 0 {
			return fmt.Errorf("field %q: alpha must be positive", f.Name)
		}
	}
	if p.LowResNgridpts < 1 {
		return fmt.Errorf("low_res_ngridpts must be at least 1, got %d", p.LowResNgridpts)
	}
	for i := 0; i < 2; i++ {
		if p.VolOverlap[i] < 0 || p.VolOverlap[i] >= p.VolSize[i] {
			return fmt.Errorf("vol_overlap %v must be in [0, vol_size %v)", p.VolOverlap, p.VolSize)
		}
	}
	if p.FcstInputSmooth < 0 || p.VerifInputSmooth < 0 || p.FcstGapFillSmooth < 0 || p.HighResMaxExpandNpt < 0 {
		return errors.New("smoothing widths must not be negative")
	}
	for _, list := range [][]int{p.LowResMotionSmooth, p.HighResMotionSmooth, p.FcstOutputSmooth} {
		for _, w := range list {
			if w < 0 {
				return errors.New("smoothing widths must not be negative")
			}
		}
	}
	if p.FractionalAreaMinPcnt < 0 || p.FractionalAreaMinPcnt > 1 || p.GridAreaMinPcnt < 0 || p.GridAreaMinPcnt > 1 {
		return errors.New("area percentages must be fractions in [0,1]")
	}
	if _, err := score.ParsePolarity(p.Polarity); err != nil {
		return err
	}
	if _, err := p.Expansion(); err != nil {
		return fmt.Errorf("npt_to_expansion: %w", err)
	}
	vp, err := p.VolumeParams()
	if err != nil {
		return err
	}
	return vp.Validate()
}

// VolumeParams derives the block search parameters.
func (p Params) VolumeParams() (volume.Params, error) {
	pol, err := score.ParsePolarity(p.Polarity)
	if err != nil {
		return volume.Params{}, err
	}
	return volume.Params{
		SizeX:                 p.VolSize[0],
		SizeY:                 p.VolSize[1],
		ShiftResNpt:           p.ShiftResNpt,
		MaxShift:              p.MaxShift,
		RefineShiftResNpt:     p.RefineShiftResNpt,
		RefineMaxShift:        p.RefineMaxShift,
		GoodScaling:           p.GoodScaling,
		GoodDistScaling:       p.GoodDistScaling,
		Polarity:              pol,
		FractionalAreaMinPcnt: p.FractionalAreaMinPcnt,
	}, nil
}

// Expansion builds the run length to expansion mapping.
func (p Params) Expansion() (*fuzzy.Func, error) {
	return fuzzy.New(p.NptToExpansion, true)
}

// CorrectOptions derives how forecasts are shifted and smoothed.
func (p Params) CorrectOptions() motion.CorrectOptions {
	return motion.CorrectOptions{
		GapFill:              p.FcstGapFillSmooth,
		Smooth:               p.FcstOutputSmooth,
		SmoothWhereCorrected: p.SmoothWhereCorrected,
	}
}

// FieldNames lists the configured field names in order.
func (p Params) FieldNames() []string {
	names := make([]string, len(p.Fields))
	for i, f := range p.Fields {
		names[i] = f.Name
	}
	return names
}
