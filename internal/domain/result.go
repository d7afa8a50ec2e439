package domain

import (
	"time"

	"github.com/couchcryptid/storm-phase-correct/internal/pyramid"
)

// CorrectionResult is the published outcome of one request.
type CorrectionResult struct {
	RunID       string    `json:"run_id"`
	RequestID   string    `json:"request_id,omitempty"`
	GenTime     time.Time `json:"gen_time"`
	LeadSeconds int       `json:"lead_seconds"`
	ValidTime   time.Time `json:"valid_time"`

	Status       pyramid.Status `json:"status"`
	NoCorrection bool           `json:"no_correction"`

	// Motion in grid cells.
	U GridPayload `json:"u"`
	V GridPayload `json:"v"`
	// Motion as speed in m/s; omitted for zero lead time.
	SpeedU *GridPayload `json:"speed_u_ms,omitempty"`
	SpeedV *GridPayload `json:"speed_v_ms,omitempty"`

	Corrected map[string]GridPayload `json:"corrected"`
	Summary   pyramid.Summary        `json:"summary"`

	DurationMs  int64     `json:"duration_ms"`
	ProcessedAt time.Time `json:"processed_at"`
}

// NewResult starts a result for req and stamps it with the current time.
func NewResult(runID string, req CorrectionRequest) CorrectionResult {
	return CorrectionResult{
		RunID:       runID,
		RequestID:   req.ID,
		GenTime:     req.GenTime,
		LeadSeconds: req.LeadSeconds,
		ValidTime:   req.ValidTime(),
		ProcessedAt: clock.Now().UTC(),
	}
}

// RunRecord is the condensed view of a result kept for the status endpoint.
type RunRecord struct {
	RunID       string          `json:"run_id"`
	RequestID   string          `json:"request_id,omitempty"`
	GenTime     time.Time       `json:"gen_time"`
	LeadSeconds int             `json:"lead_seconds"`
	Status      pyramid.Status  `json:"status"`
	Summary     pyramid.Summary `json:"summary"`
	DurationMs  int64           `json:"duration_ms"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// Record condenses r.
func (r CorrectionResult) Record() RunRecord {
	return RunRecord{
		RunID:       r.RunID,
		RequestID:   r.RequestID,
		GenTime:     r.GenTime,
		LeadSeconds: r.LeadSeconds,
		Status:      r.Status,
		Summary:     r.Summary,
		DurationMs:  r.DurationMs,
		ProcessedAt: r.ProcessedAt,
	}
}
