package signals

import (
	"MacroPulse/internal/domain/models"
	"MacroPulse/pkg/util"
)

// Derive computes a derived indicator from its two input snapshots. The result
// takes the worst status of its inputs and the older of their timestamps.
func (n *Normalizer) Derive(spec models.IndicatorSpec, a, b models.IndicatorSnapshot, prior *models.IndicatorSnapshot) models.IndicatorSnapshot {
	status := a.Status
	if b.Status.Rank() > status.Rank() {
		status = b.Status
	}
	asOf := a.AsOf
	if b.AsOf.Before(asOf) {
		asOf = b.AsOf
	}
	unavailable := models.IndicatorSnapshot{
		IndicatorID: spec.ID,
		Status:      models.StatusUnavailable,
		AsOf:        util.Newer(a.AsOf, b.AsOf),
		Reason:      models.ReasonInputs,
	}
	if !a.HasValue() || !b.HasValue() {
		return unavailable
	}

	obs := models.RawObservation{
		IndicatorID: spec.ID,
		Value:       combine(spec.Op, *a.CurrentValue, *b.CurrentValue),
		FetchedAt:   asOf,
	}
	if a.PreviousValue != nil && b.PreviousValue != nil {
		obs.Previous = models.Float(combine(spec.Op, *a.PreviousValue, *b.PreviousValue))
	}
	snap, err := n.Normalize(obs, prior, spec)
	if err != nil {
		// ratio with a zero denominator
		return unavailable
	}
	snap.Status = status
	if status != models.StatusLive {
		snap.Reason = models.ReasonInputs
	}
	return snap
}

func combine(op models.DerivedOp, x, y float64) float64 {
	if op == models.OpRatio {
		return x / y
	}
	return x - y
}
