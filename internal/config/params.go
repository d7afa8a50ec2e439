package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/couchcryptid/storm-phase-correct/internal/pyramid"
)

const maxParamsFileSize = 1 << 20

// LoadEngineParams reads engine tuning from a JSON file. Keys missing from
// the file keep their pyramid.DefaultParams values, except that a fields
// list is taken as a whole. An empty path returns the defaults.
func LoadEngineParams(path string) (pyramid.Params, error) {
	params := pyramid.DefaultParams()
	if path == "" {
		return params, nil
	}

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return pyramid.Params{}, fmt.Errorf("ENGINE_PARAMS_FILE must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return pyramid.Params{}, fmt.Errorf("stat engine params: %w", err)
	}
	if info.Size() > maxParamsFileSize {
		return pyramid.Params{}, fmt.Errorf("engine params file too large: %d bytes (max %d)", info.Size(), maxParamsFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return pyramid.Params{}, fmt.Errorf("read engine params: %w", err)
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return pyramid.Params{}, fmt.Errorf("parse engine params: %w", err)
	}
	// A fields list replaces the default fields instead of merging into them.
	if _, ok := keys["fields"]; ok {
		params.Fields = nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		return pyramid.Params{}, fmt.Errorf("parse engine params: %w", err)
	}

	if err := params.Validate(); err != nil {
		return pyramid.Params{}, fmt.Errorf("invalid engine params: %w", err)
	}
	return params, nil
}
