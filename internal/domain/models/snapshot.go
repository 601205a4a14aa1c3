package models

import "time"

// SnapshotStatus tags where a snapshot value came from.
type SnapshotStatus string

const (
	StatusLive        SnapshotStatus = "live"
	StatusDegraded    SnapshotStatus = "degraded"    // fallback value substituted
	StatusUnavailable SnapshotStatus = "unavailable" // no live and no fallback value
)

// Rank orders statuses from best to worst.
func (s SnapshotStatus) Rank() int {
	switch s {
	case StatusLive:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Reasons recorded on non-live snapshots.
const (
	ReasonExhausted = "exhausted"
	ReasonPermanent = "permanent"
	ReasonDeadline  = "deadline"
	ReasonInputs    = "inputs"
)

// IndicatorSnapshot is the per-cycle, per-indicator point-in-time view.
// A snapshot is never modified once a cycle returns it.
type IndicatorSnapshot struct {
	IndicatorID   string         `json:"indicator_id"`
	CurrentValue  *float64       `json:"current_value"`
	PreviousValue *float64       `json:"previous_value"`
	Status        SnapshotStatus `json:"status"`
	AsOf          time.Time      `json:"as_of"`
	Attempts      int            `json:"attempts"`
	Reason        string         `json:"reason,omitempty"`
}

// HasValue reports whether the snapshot carries a usable current value.
func (s IndicatorSnapshot) HasValue() bool {
	return s.Status != StatusUnavailable && s.CurrentValue != nil
}

// FallbackEntry is a last-known-good or static value for an indicator.
type FallbackEntry struct {
	Value  float64   `json:"value"`
	AsOf   time.Time `json:"as_of"`
	Origin string    `json:"origin"` // "live", "static", "ingest"
}

// Fallback entry origins.
const (
	OriginLive   = "live"
	OriginStatic = "static"
	OriginIngest = "ingest"
)

// FallbackUpdate is an out-of-band value pushed into the fallback store, e.g.
// from a Kafka topic fed by another system.
type FallbackUpdate struct {
	IndicatorID string    `json:"indicator_id"`
	Value       float64   `json:"value"`
	AsOf        time.Time `json:"as_of"`
}
