// Package signals turns raw indicator observations into snapshots, classifies
// them and tallies the consensus verdict. Everything here is synchronous and
// free of I/O.
package signals

import (
	"fmt"

	"github.com/shopspring/decimal"

	"MacroPulse/internal/domain/models"
	"MacroPulse/internal/domain/service"
	"MacroPulse/internal/service/sources"
)

var (
	_ service.Normalizer          = (*Normalizer)(nil)
	_ service.Classifier          = (*Classifier)(nil)
	_ service.ConsensusAggregator = (*Aggregator)(nil)
)

// Normalizer validates raw observations and carries previous values forward.
type Normalizer struct{}

func NewNormalizer() *Normalizer { return &Normalizer{} }

// Normalize builds a live snapshot from obs. The previous value is the prior
// cycle's current value when that snapshot had one, otherwise the reading the
// source itself reported. Non-finite values are rejected as permanent errors.
func (n *Normalizer) Normalize(obs models.RawObservation, prior *models.IndicatorSnapshot, spec models.IndicatorSpec) (models.IndicatorSnapshot, error) {
	if obs.Err != nil {
		return models.IndicatorSnapshot{}, sources.NewPermanent(spec.Source, spec.ID, fmt.Errorf("normalize: %w", obs.Err))
	}
	if err := sources.CheckFinite(obs.Value); err != nil {
		return models.IndicatorSnapshot{}, sources.NewPermanent(spec.Source, spec.ID, err)
	}

	snap := models.IndicatorSnapshot{
		IndicatorID:  spec.ID,
		CurrentValue: models.Float(round(obs.Value, spec.Precision)),
		Status:       models.StatusLive,
		AsOf:         obs.FetchedAt,
	}
	switch {
	case prior != nil && prior.HasValue():
		snap.PreviousValue = models.Float(*prior.CurrentValue)
	case obs.Previous != nil && sources.CheckFinite(*obs.Previous) == nil:
		snap.PreviousValue = models.Float(round(*obs.Previous, spec.Precision))
	}
	return snap, nil
}

// Degraded builds a snapshot from a fallback entry.
func (n *Normalizer) Degraded(e models.FallbackEntry, prior *models.IndicatorSnapshot, spec models.IndicatorSpec, reason string) models.IndicatorSnapshot {
	snap := models.IndicatorSnapshot{
		IndicatorID:  spec.ID,
		CurrentValue: models.Float(round(e.Value, spec.Precision)),
		Status:       models.StatusDegraded,
		AsOf:         e.AsOf,
		Reason:       reason,
	}
	if prior != nil && prior.HasValue() {
		snap.PreviousValue = models.Float(*prior.CurrentValue)
	}
	return snap
}

func round(v float64, precision *int32) float64 {
	if precision == nil {
		return v
	}
	return decimal.NewFromFloat(v).Round(*precision).InexactFloat64()
}
