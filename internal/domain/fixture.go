package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/couchcryptid/storm-phase-correct/internal/grid"
)

// Fixture is a self-contained set of grids for one request together with
// the displacement the forecast was built with. Used for offline runs and
// test servers.
type Fixture struct {
	Request CorrectionRequest `json:"request"`
	ShiftU  float64           `json:"shift_u"`
	ShiftV  float64           `json:"shift_v"`
	Grids   []FixtureGrid     `json:"grids"`
}

// FixtureGrid is one grid of a fixture.
type FixtureGrid struct {
	Field string      `json:"field"`
	Kind  GridKind    `json:"kind"`
	Grid  GridPayload `json:"grid"`
}

// LoadFixture reads a fixture written by WriteFixture.
func LoadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return Fixture{}, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(path string, f Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Lookup returns the payload stored for field and kind.
func (f Fixture) Lookup(field string, kind GridKind) (GridPayload, bool) {
	for _, g := range f.Grids {
		if g.Field == field && g.Kind == kind {
			return g.Grid, true
		}
	}
	return GridPayload{}, false
}

// Source serves the fixture's grids under the fixture's request.
func (f Fixture) Source() GridSource { return fixtureSource{f: f} }

type fixtureSource struct {
	f Fixture
}

func (s fixtureSource) FetchGrid(_ context.Context, key GridKey) (*grid.Grid, error) {
	req := s.f.Request
	if !key.GenTime.Equal(req.GenTime) || key.LeadSeconds != req.LeadSeconds {
		return nil, fmt.Errorf("%s: %w", key, ErrGridNotFound)
	}
	p, ok := s.f.Lookup(key.Field, key.Kind)
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrGridNotFound)
	}
	return p.ToGrid()
}
