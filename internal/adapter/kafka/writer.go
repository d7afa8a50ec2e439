package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/storm-phase-correct/internal/config"
	"github.com/couchcryptid/storm-phase-correct/internal/domain"
)

// Writer produces correction results to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		// Results carry full grids.
		BatchBytes: 64 << 20,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes results in a single WriteMessages call.
func (w *Writer) LoadBatch(ctx context.Context, results []domain.CorrectionResult) error {
	if len(results) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(results))
	for i := range results {
		msg, err := serializeToMessage(&results[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	w.logger.Debug("results written", "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a result into a Kafka message keyed by run
// time so every lead of one run lands on the same partition.
func serializeToMessage(res *domain.CorrectionResult) (kafkago.Message, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize correction result: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(res.GenTime.UTC().Format(time.RFC3339)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(res.RunID)},
			{Key: "status", Value: []byte(res.Status)},
			{Key: "lead_seconds", Value: []byte(strconv.Itoa(res.LeadSeconds))},
			{Key: "processed_at", Value: []byte(res.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
