package signals

import (
	"time"

	"MacroPulse/internal/domain/models"
)

// Policy holds the verdict rules that are a matter of choice rather than arithmetic.
type Policy struct {
	TieBreak  models.Verdict // verdict when risk-on and risk-off counts are equal
	MinVoters int            // fewer non-abstained signals than this yields Indeterminate
}

// DefaultPolicy breaks ties toward RiskOff and needs a single voter.
func DefaultPolicy() Policy {
	return Policy{TieBreak: models.VerdictRiskOff, MinVoters: 1}
}

// Aggregator tallies classified signals into a consensus verdict.
type Aggregator struct {
	policy Policy
}

func NewAggregator(p Policy) *Aggregator {
	if p.TieBreak == "" {
		p.TieBreak = models.VerdictRiskOff
	}
	if p.MinVoters < 1 {
		p.MinVoters = 1
	}
	return &Aggregator{policy: p}
}

// Aggregate never waits for a complete set; abstained signals are counted
// separately and carry no vote.
func (a *Aggregator) Aggregate(signals []models.ClassifiedSignal, asOf time.Time) models.ConsensusResult {
	res := models.ConsensusResult{AsOf: asOf}
	for _, s := range signals {
		if s.Abstained {
			res.AbstainedCount++
			continue
		}
		switch s.Category {
		case models.RiskOn:
			res.RiskOnCount++
		case models.RiskOff:
			res.RiskOffCount++
		default:
			res.NeutralCount++
		}
	}

	switch {
	case res.Voters() < a.policy.MinVoters:
		res.Verdict = models.VerdictIndeterminate
	case res.RiskOnCount > res.RiskOffCount:
		res.Verdict = models.VerdictRiskOn
	case res.RiskOffCount > res.RiskOnCount:
		res.Verdict = models.VerdictRiskOff
	default:
		res.Verdict = a.policy.TieBreak
	}
	return res
}
