package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RawMessage represents an unprocessed message from the source topic.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// CorrectionRequest asks for one lead time of one forecast run to be
// corrected.
type CorrectionRequest struct {
	ID          string    `json:"id,omitempty"`
	GenTime     time.Time `json:"gen_time"`
	LeadSeconds int       `json:"lead_seconds"`
	UseWeight   bool      `json:"use_weight,omitempty"`
}

// ParseRequest decodes and validates a request message. A request without
// an id takes the message key.
func ParseRequest(raw RawMessage) (CorrectionRequest, error) {
	var req CorrectionRequest
	if err := json.Unmarshal(raw.Value, &req); err != nil {
		return CorrectionRequest{}, fmt.Errorf("unmarshal correction request: %w", err)
	}
	if req.ID == "" {
		req.ID = string(raw.Key)
	}
	if req.GenTime.IsZero() {
		return CorrectionRequest{}, errors.New("correction request: gen_time is required")
	}
	if req.LeadSeconds < 0 {
		return CorrectionRequest{}, fmt.Errorf("correction request: negative lead_seconds %d", req.LeadSeconds)
	}
	req.GenTime = req.GenTime.UTC()
	return req, nil
}

// ValidTime is the time the corrected forecast is valid for.
func (r CorrectionRequest) ValidTime() time.Time {
	return r.GenTime.Add(time.Duration(r.LeadSeconds) * time.Second)
}

// Key builds the grid key of one field and kind for this request.
func (r CorrectionRequest) Key(field string, kind GridKind) GridKey {
	return GridKey{GenTime: r.GenTime, LeadSeconds: r.LeadSeconds, Field: field, Kind: kind}
}
