package repository

import (
	"context"
	"time"

	"MacroPulse/internal/domain/models"
)

// Source fetches the current reading of an indicator from one external provider.
// symbol is the provider-side identifier of the indicator (series id, ticker).
type Source interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (models.RawObservation, error)
}

// FallbackStore holds last-known-good or static values. Writes are atomic per
// indicator; readers never observe a partially written entry. Put keeps the
// current entry when it is newer than e, except that static entries are always
// replaced.
type FallbackStore interface {
	Get(ctx context.Context, indicatorID string) (models.FallbackEntry, bool, error)
	Put(ctx context.Context, indicatorID string, e models.FallbackEntry) error
}

// HistoryStore persists finished cycles and serves them back for warm starts
// and history queries.
type HistoryStore interface {
	SaveCycle(ctx context.Context, r *models.CycleReport) error
	LatestSnapshots(ctx context.Context) (map[string]models.IndicatorSnapshot, error)
	RecentConsensus(ctx context.Context, limit int) ([]models.ConsensusResult, error)
	Close() error
}

// ReportPublisher fans finished cycle reports out to downstream consumers.
type ReportPublisher interface {
	PublishReport(ctx context.Context, r *models.CycleReport) error
	Close() error
}

// Metrics records engine activity.
type Metrics interface {
	RecordAttempt(source, indicator, outcome string, d time.Duration)
	RecordSnapshot(indicator string, status models.SnapshotStatus)
	RecordConsensus(c models.ConsensusResult)
	RecordCycle(d time.Duration)
	RecordIngest(indicator, outcome string)
	RecordError(kind string)
}
