package models

import "time"

// Category is the directional reading of one indicator.
type Category string

const (
	RiskOn  Category = "risk_on"
	RiskOff Category = "risk_off"
	Neutral Category = "neutral"
)

// Verdict is the consensus outcome of a cycle.
type Verdict string

const (
	VerdictRiskOn        Verdict = "risk_on"
	VerdictRiskOff       Verdict = "risk_off"
	VerdictIndeterminate Verdict = "indeterminate"
)

// BasisKind names the comparison used to classify a signal.
type BasisKind string

const (
	BasisThreshold BasisKind = "threshold"
	BasisMomentum  BasisKind = "momentum"
	BasisNone      BasisKind = "none"
)

// Basis records the values a classification was derived from.
type Basis struct {
	Kind      BasisKind `json:"kind"`
	Current   float64   `json:"current"`
	Reference float64   `json:"reference"` // threshold or previous value
	Delta     float64   `json:"delta"`
}

// ClassifiedSignal is the category derived from one snapshot. Abstained signals
// are reported as Neutral but carry no vote.
type ClassifiedSignal struct {
	IndicatorID string         `json:"indicator_id"`
	Category    Category       `json:"category"`
	Abstained   bool           `json:"abstained"`
	Status      SnapshotStatus `json:"status"`
	Basis       Basis          `json:"basis"`
}

// ConsensusResult is the tally of one cycle's signals.
type ConsensusResult struct {
	RiskOnCount    int       `json:"risk_on_count"`
	RiskOffCount   int       `json:"risk_off_count"`
	NeutralCount   int       `json:"neutral_count"`
	AbstainedCount int       `json:"abstained_count"`
	Verdict        Verdict   `json:"verdict"`
	AsOf           time.Time `json:"as_of"`
}

// Voters returns the number of non-abstained signals.
func (c ConsensusResult) Voters() int {
	return c.RiskOnCount + c.RiskOffCount + c.NeutralCount
}

// CycleReport is everything one aggregation cycle produced. Signals and
// Snapshots follow the configured indicator order.
type CycleReport struct {
	ID         string              `json:"id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Consensus  ConsensusResult     `json:"consensus"`
	Signals    []ClassifiedSignal  `json:"signals"`
	Snapshots  []IndicatorSnapshot `json:"snapshots"`
}
