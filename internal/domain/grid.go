package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/storm-phase-correct/internal/grid"
)

// GridKind distinguishes the role a grid plays in a run.
type GridKind string

const (
	KindForecast     GridKind = "forecast"
	KindVerification GridKind = "verification"
	KindWeight       GridKind = "weight"
)

// WeightField is the field name weight grids are stored under.
const WeightField = "weight"

// ErrGridNotFound is returned by a GridSource when no grid matches the key.
var ErrGridNotFound = errors.New("grid not found")

// GridKey addresses one grid on the grid server.
type GridKey struct {
	GenTime     time.Time
	LeadSeconds int
	Field       string
	Kind        GridKind
}

func (k GridKey) String() string {
	return fmt.Sprintf("%s/%d/%s/%s", k.GenTime.UTC().Format(time.RFC3339), k.LeadSeconds, k.Field, k.Kind)
}

// GridSource fetches grids by key.
type GridSource interface {
	FetchGrid(ctx context.Context, key GridKey) (*grid.Grid, error)
}

// GridPayload is the wire form of a grid.
type GridPayload struct {
	Nx      int       `json:"nx"`
	Ny      int       `json:"ny"`
	DxKm    float64   `json:"dx_km"`
	DyKm    float64   `json:"dy_km"`
	Missing float64   `json:"missing"`
	Data    []float64 `json:"data"`
}

// ToGrid validates the payload and converts it to a grid. NaN and Inf
// samples become missing.
func (p GridPayload) ToGrid() (*grid.Grid, error) {
	if p.Nx <= 0 || p.Ny <= 0 {
		return nil, fmt.Errorf("invalid grid dimensions %dx%d", p.Nx, p.Ny)
	}
	if len(p.Data) != p.Nx*p.Ny {
		return nil, fmt.Errorf("grid has %d values, want %d", len(p.Data), p.Nx*p.Ny)
	}
	g, err := grid.FromSlice(p.Nx, p.Ny, p.Missing, p.Data)
	if err != nil {
		return nil, err
	}
	g.ReplaceNonFinite()
	g.DxKm, g.DyKm = p.DxKm, p.DyKm
	return g, nil
}

// PayloadFromGrid copies g into its wire form.
func PayloadFromGrid(g *grid.Grid) GridPayload {
	nx, ny := g.Dims()
	data := make([]float64, g.Len())
	copy(data, g.Values())
	return GridPayload{
		Nx:      nx,
		Ny:      ny,
		DxKm:    g.DxKm,
		DyKm:    g.DyKm,
		Missing: g.Missing(),
		Data:    data,
	}
}
