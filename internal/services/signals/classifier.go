package signals

import (
	"math"

	"MacroPulse/internal/domain/models"
)

// Classifier maps snapshots to directional categories.
type Classifier struct{}

func NewClassifier() *Classifier { return &Classifier{} }

// Classify compares the current value against the threshold, or against the
// previous value for momentum indicators. Snapshots without a value, and
// momentum indicators without history, abstain.
func (c *Classifier) Classify(snap models.IndicatorSnapshot, spec models.IndicatorSpec) models.ClassifiedSignal {
	out := models.ClassifiedSignal{
		IndicatorID: spec.ID,
		Category:    models.Neutral,
		Status:      snap.Status,
		Basis:       models.Basis{Kind: models.BasisNone},
	}
	if !snap.HasValue() {
		out.Abstained = true
		return out
	}
	cur := *snap.CurrentValue

	var ref float64
	if spec.ThresholdBased() {
		ref = *spec.Threshold
		out.Basis.Kind = models.BasisThreshold
	} else {
		if snap.PreviousValue == nil {
			out.Abstained = true
			out.Basis.Current = cur
			return out
		}
		ref = *snap.PreviousValue
		out.Basis.Kind = models.BasisMomentum
	}

	delta := cur - ref
	out.Basis.Current = cur
	out.Basis.Reference = ref
	out.Basis.Delta = delta

	switch {
	case math.Abs(delta) <= spec.NeutralBand:
		out.Category = models.Neutral
	case delta > 0:
		out.Category = higher(spec.Direction)
	default:
		out.Category = opposite(higher(spec.Direction))
	}
	return out
}

func higher(d models.Direction) models.Category {
	if d == models.HigherIsRiskOff {
		return models.RiskOff
	}
	return models.RiskOn
}

func opposite(c models.Category) models.Category {
	if c == models.RiskOn {
		return models.RiskOff
	}
	return models.RiskOn
}
