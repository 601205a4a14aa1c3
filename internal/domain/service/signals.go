package service

import (
	"time"

	"MacroPulse/internal/domain/models"
)

// Normalizer turns a raw observation into a validated snapshot, carrying the
// previous value forward from the prior cycle.
type Normalizer interface {
	Normalize(obs models.RawObservation, prior *models.IndicatorSnapshot, spec models.IndicatorSpec) (models.IndicatorSnapshot, error)
}

// Classifier maps a snapshot to a directional category.
type Classifier interface {
	Classify(snap models.IndicatorSnapshot, spec models.IndicatorSpec) models.ClassifiedSignal
}

// ConsensusAggregator tallies classified signals into one verdict.
type ConsensusAggregator interface {
	Aggregate(signals []models.ClassifiedSignal, asOf time.Time) models.ConsensusResult
}
