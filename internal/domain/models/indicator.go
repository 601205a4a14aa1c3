package models

import (
	"fmt"
	"time"
)

// Direction is the polarity of an indicator: which way a higher reading votes.
type Direction string

const (
	HigherIsRiskOn  Direction = "higher_is_risk_on"
	HigherIsRiskOff Direction = "higher_is_risk_off"
)

// DerivedSource marks an indicator computed from other indicators instead of fetched.
const DerivedSource = "derived"

// DerivedOp combines the two inputs of a derived indicator.
type DerivedOp string

const (
	OpDiff  DerivedOp = "diff"  // inputs[0] - inputs[1]
	OpRatio DerivedOp = "ratio" // inputs[0] / inputs[1]
)

// IndicatorSpec describes one tracked indicator. Specs are built once at startup
// and never modified afterwards.
type IndicatorSpec struct {
	ID          string
	Source      string
	Symbol      string // provider-specific series id / ticker; defaults to ID
	Direction   Direction
	Threshold   *float64 // nil => momentum (current vs previous)
	NeutralBand float64
	Precision   *int32
	Inputs      []string
	Op          DerivedOp
}

// ThresholdBased reports whether the indicator compares against a fixed level.
func (s IndicatorSpec) ThresholdBased() bool { return s.Threshold != nil }

// Derived reports whether the indicator is computed from other indicators.
func (s IndicatorSpec) Derived() bool { return s.Source == DerivedSource }

// SourceSymbol returns the identifier the source adapter should be asked for.
func (s IndicatorSpec) SourceSymbol() string {
	if s.Symbol != "" {
		return s.Symbol
	}
	return s.ID
}

// Validate checks invariants that cannot be expressed in struct tags.
func (s IndicatorSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("indicator id is required")
	}
	switch s.Direction {
	case HigherIsRiskOn, HigherIsRiskOff:
	default:
		return fmt.Errorf("indicator %s: unknown direction %q", s.ID, s.Direction)
	}
	if s.NeutralBand < 0 {
		return fmt.Errorf("indicator %s: neutral band must be >= 0", s.ID)
	}
	if s.Derived() {
		if len(s.Inputs) != 2 {
			return fmt.Errorf("indicator %s: derived indicators need exactly 2 inputs", s.ID)
		}
		if s.Op != OpDiff && s.Op != OpRatio {
			return fmt.Errorf("indicator %s: unknown op %q", s.ID, s.Op)
		}
	} else if s.Source == "" {
		return fmt.Errorf("indicator %s: source is required", s.ID)
	}
	return nil
}

// RawObservation is the outcome of a single fetch attempt.
type RawObservation struct {
	IndicatorID string
	Value       float64
	Previous    *float64 // prior reading reported by the source itself, if any
	Err         error
	FetchedAt   time.Time
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
