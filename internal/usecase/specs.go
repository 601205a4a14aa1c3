package usecase

import (
	"fmt"

	"MacroPulse/internal/domain/models"
	"MacroPulse/pkg/config"
)

// BuildSpecs converts indicator config into immutable specs, preserving order.
func BuildSpecs(cfgs []config.IndicatorConfig) ([]models.IndicatorSpec, error) {
	out := make([]models.IndicatorSpec, 0, len(cfgs))
	for _, c := range cfgs {
		spec := models.IndicatorSpec{
			ID:          c.ID,
			Source:      c.Source,
			Symbol:      c.Symbol,
			Direction:   models.Direction(c.Direction),
			NeutralBand: c.NeutralBand,
			Op:          models.DerivedOp(c.Op),
		}
		if c.Threshold != nil {
			spec.Threshold = models.Float(*c.Threshold)
		}
		if c.Precision != nil {
			p := *c.Precision
			spec.Precision = &p
		}
		if len(c.Inputs) > 0 {
			spec.Inputs = append([]string(nil), c.Inputs...)
		}
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("build specs: %w", err)
		}
		out = append(out, spec)
	}
	return out, nil
}
