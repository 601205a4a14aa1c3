package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"MacroPulse/internal/domain/models"
	domrepo "MacroPulse/internal/domain/repository"
	mid "MacroPulse/internal/middleware"
	pkgkafka "MacroPulse/pkg/kafka"
)

// FallbackIngest applies out-of-band updates to the fallback store. The store
// drops updates older than its current entry.
type FallbackIngest struct {
	store domrepo.FallbackStore
}

func NewFallbackIngest(store domrepo.FallbackStore) *FallbackIngest {
	return &FallbackIngest{store: store}
}

func (f *FallbackIngest) Apply(ctx context.Context, u *models.FallbackUpdate) error {
	err := f.store.Put(ctx, u.IndicatorID, models.FallbackEntry{
		Value:  u.Value,
		AsOf:   u.AsOf.UTC(),
		Origin: models.OriginIngest,
	})
	if err != nil {
		return fmt.Errorf("write fallback %s: %w", u.IndicatorID, err)
	}
	return nil
}

var _ mid.Sink = (*FallbackIngest)(nil)

// KafkaIngestHandler consumes fallback updates from Kafka.
type KafkaIngestHandler struct {
	topic   string
	pipe    *mid.IngestPipeline
	metrics domrepo.Metrics
}

func NewKafkaIngestHandler(topic string, pipe *mid.IngestPipeline, metrics domrepo.Metrics) *KafkaIngestHandler {
	return &KafkaIngestHandler{topic: topic, pipe: pipe, metrics: metrics}
}

func (h *KafkaIngestHandler) Topic() string { return h.topic }

// incoming message schema: {indicator_id, value, as_of}
func (h *KafkaIngestHandler) Handle(ctx context.Context, b []byte) error {
	var u models.FallbackUpdate
	if err := json.Unmarshal(b, &u); err != nil {
		h.metrics.RecordError("ingest_unmarshal")
		return fmt.Errorf("decode fallback update: %w", err)
	}
	return h.pipe.Process(ctx, &u)
}

var _ pkgkafka.MessageHandler = (*KafkaIngestHandler)(nil)
