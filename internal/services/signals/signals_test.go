package signals

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MacroPulse/internal/domain/models"
	"MacroPulse/internal/service/sources"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func live(id string, cur float64, prev *float64) models.IndicatorSnapshot {
	return models.IndicatorSnapshot{
		IndicatorID:   id,
		CurrentValue:  models.Float(cur),
		PreviousValue: prev,
		Status:        models.StatusLive,
		AsOf:          now,
	}
}

func TestNormalizeRejectsNonFinite(t *testing.T) {
	n := NewNormalizer()
	spec := models.IndicatorSpec{ID: "vix", Source: "cboe", Direction: models.HigherIsRiskOff}

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := n.Normalize(models.RawObservation{Value: v, FetchedAt: now}, nil, spec)
		require.Error(t, err)
		assert.ErrorIs(t, err, sources.ErrInvalidValue)
		assert.Equal(t, sources.Permanent, sources.Classify(err))
	}

	_, err := n.Normalize(models.RawObservation{Err: errors.New("bad payload")}, nil, spec)
	assert.Equal(t, sources.Permanent, sources.Classify(err))
}

func TestNormalizePreviousValue(t *testing.T) {
	n := NewNormalizer()
	spec := models.IndicatorSpec{ID: "spread", Source: "fred", Direction: models.HigherIsRiskOn}

	// cold start: source-provided previous
	snap, err := n.Normalize(models.RawObservation{Value: 0.5, Previous: models.Float(0.3), FetchedAt: now}, nil, spec)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLive, snap.Status)
	assert.Equal(t, 0.3, *snap.PreviousValue)
	assert.Equal(t, now, snap.AsOf)

	// prior cycle wins over the source
	prior := live("spread", 0.4, nil)
	snap, err = n.Normalize(models.RawObservation{Value: 0.5, Previous: models.Float(0.3), FetchedAt: now}, &prior, spec)
	require.NoError(t, err)
	assert.Equal(t, 0.4, *snap.PreviousValue)

	// an unavailable prior has no value to carry
	gone := models.IndicatorSnapshot{IndicatorID: "spread", Status: models.StatusUnavailable}
	snap, err = n.Normalize(models.RawObservation{Value: 0.5, FetchedAt: now}, &gone, spec)
	require.NoError(t, err)
	assert.Nil(t, snap.PreviousValue)

	// the snapshot does not alias the prior's value
	*prior.CurrentValue = 99
	snap2, _ := n.Normalize(models.RawObservation{Value: 0.5, FetchedAt: now}, &prior, spec)
	*prior.CurrentValue = 1
	assert.Equal(t, 99.0, *snap2.PreviousValue)
}

func TestNormalizeRounds(t *testing.T) {
	n := NewNormalizer()
	p := int32(2)
	spec := models.IndicatorSpec{ID: "x", Source: "s", Direction: models.HigherIsRiskOn, Precision: &p}

	snap, err := n.Normalize(models.RawObservation{Value: 4.25678, Previous: models.Float(4.111), FetchedAt: now}, nil, spec)
	require.NoError(t, err)
	assert.Equal(t, 4.26, *snap.CurrentValue)
	assert.Equal(t, 4.11, *snap.PreviousValue)
}

func TestClassifyThreshold(t *testing.T) {
	c := NewClassifier()
	vix := models.IndicatorSpec{ID: "vix", Direction: models.HigherIsRiskOff, Threshold: models.Float(20)}

	assert.Equal(t, models.RiskOff, c.Classify(live("vix", 25, nil), vix).Category)
	assert.Equal(t, models.RiskOn, c.Classify(live("vix", 15, nil), vix).Category)

	eq := c.Classify(live("vix", 20, nil), vix)
	assert.Equal(t, models.Neutral, eq.Category)
	assert.False(t, eq.Abstained)

	vix.NeutralBand = 1
	assert.Equal(t, models.Neutral, c.Classify(live("vix", 20.8, nil), vix).Category)

	sig := c.Classify(live("vix", 25, nil), vix)
	assert.Equal(t, models.BasisThreshold, sig.Basis.Kind)
	assert.Equal(t, 20.0, sig.Basis.Reference)
	assert.Equal(t, 5.0, sig.Basis.Delta)
}

func TestClassifyMomentum(t *testing.T) {
	c := NewClassifier()
	spread := models.IndicatorSpec{ID: "spread", Direction: models.HigherIsRiskOn}

	assert.Equal(t, models.RiskOn, c.Classify(live("spread", 0.5, models.Float(0.3)), spread).Category)
	assert.Equal(t, models.RiskOff, c.Classify(live("spread", 0.2, models.Float(0.3)), spread).Category)
	assert.Equal(t, models.Neutral, c.Classify(live("spread", 0.3, models.Float(0.3)), spread).Category)

	noHistory := c.Classify(live("spread", 0.5, nil), spread)
	assert.Equal(t, models.Neutral, noHistory.Category)
	assert.True(t, noHistory.Abstained)
}

func TestClassifyUnavailableAbstains(t *testing.T) {
	c := NewClassifier()
	spec := models.IndicatorSpec{ID: "gold", Direction: models.HigherIsRiskOff, Threshold: models.Float(2000)}
	sig := c.Classify(models.IndicatorSnapshot{IndicatorID: "gold", Status: models.StatusUnavailable}, spec)
	assert.True(t, sig.Abstained)
	assert.Equal(t, models.Neutral, sig.Category)
	assert.Equal(t, models.StatusUnavailable, sig.Status)
}

func TestClassifyDegradedVotes(t *testing.T) {
	c := NewClassifier()
	spec := models.IndicatorSpec{ID: "gold", Direction: models.HigherIsRiskOff, Threshold: models.Float(2000)}
	snap := NewNormalizer().Degraded(models.FallbackEntry{Value: 1900, AsOf: now}, nil, spec, models.ReasonExhausted)

	sig := c.Classify(snap, spec)
	assert.False(t, sig.Abstained)
	assert.Equal(t, models.RiskOn, sig.Category)
	assert.Equal(t, models.StatusDegraded, sig.Status)
}

func signal(cat models.Category, abstained bool) models.ClassifiedSignal {
	return models.ClassifiedSignal{Category: cat, Abstained: abstained}
}

func TestAggregate(t *testing.T) {
	a := NewAggregator(DefaultPolicy())

	cases := []struct {
		name    string
		in      []models.ClassifiedSignal
		verdict models.Verdict
	}{
		{"majority on", []models.ClassifiedSignal{signal(models.RiskOn, false), signal(models.RiskOn, false), signal(models.RiskOff, false)}, models.VerdictRiskOn},
		{"majority off", []models.ClassifiedSignal{signal(models.RiskOff, false), signal(models.Neutral, false)}, models.VerdictRiskOff},
		{"tie two two", []models.ClassifiedSignal{signal(models.RiskOn, false), signal(models.RiskOn, false), signal(models.RiskOff, false), signal(models.RiskOff, false)}, models.VerdictRiskOff},
		{"all abstain", []models.ClassifiedSignal{signal(models.Neutral, true), signal(models.Neutral, true)}, models.VerdictIndeterminate},
		{"empty", nil, models.VerdictIndeterminate},
		{"one voter among abstainers", []models.ClassifiedSignal{signal(models.Neutral, true), signal(models.RiskOn, false)}, models.VerdictRiskOn},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := a.Aggregate(tc.in, now)
			assert.Equal(t, tc.verdict, res.Verdict)
			assert.Equal(t, now, res.AsOf)
		})
	}
}

func TestAggregateCountsAbstainedSeparately(t *testing.T) {
	res := NewAggregator(DefaultPolicy()).Aggregate([]models.ClassifiedSignal{
		signal(models.RiskOn, false),
		signal(models.Neutral, false),
		signal(models.Neutral, true),
	}, now)
	assert.Equal(t, 1, res.RiskOnCount)
	assert.Equal(t, 1, res.NeutralCount)
	assert.Equal(t, 1, res.AbstainedCount)
	assert.Equal(t, 2, res.Voters())
}

func TestAggregatePolicy(t *testing.T) {
	tie := []models.ClassifiedSignal{signal(models.RiskOn, false), signal(models.RiskOff, false)}

	a := NewAggregator(Policy{TieBreak: models.VerdictIndeterminate})
	assert.Equal(t, models.VerdictIndeterminate, a.Aggregate(tie, now).Verdict)

	a = NewAggregator(Policy{MinVoters: 3})
	assert.Equal(t, models.VerdictIndeterminate, a.Aggregate(tie, now).Verdict)
}

func TestThreeIndicatorScenario(t *testing.T) {
	n, c, a := NewNormalizer(), NewClassifier(), NewAggregator(DefaultPolicy())
	vix := models.IndicatorSpec{ID: "vix", Source: "s", Direction: models.HigherIsRiskOff, Threshold: models.Float(20)}
	spread := models.IndicatorSpec{ID: "spread", Source: "s", Direction: models.HigherIsRiskOn}
	gold := models.IndicatorSpec{ID: "gold", Source: "s", Direction: models.HigherIsRiskOff, Threshold: models.Float(2000)}

	vs, err := n.Normalize(models.RawObservation{Value: 25, FetchedAt: now}, nil, vix)
	require.NoError(t, err)
	ss, err := n.Normalize(models.RawObservation{Value: 0.5, Previous: models.Float(0.3), FetchedAt: now}, nil, spread)
	require.NoError(t, err)
	gs := n.Degraded(models.FallbackEntry{Value: 1900, AsOf: now.Add(-time.Hour)}, nil, gold, models.ReasonExhausted)

	sigs := []models.ClassifiedSignal{c.Classify(vs, vix), c.Classify(ss, spread), c.Classify(gs, gold)}
	assert.Equal(t, models.RiskOff, sigs[0].Category)
	assert.Equal(t, models.RiskOn, sigs[1].Category)
	assert.Equal(t, models.RiskOn, sigs[2].Category)

	res := a.Aggregate(sigs, now)
	assert.Equal(t, 2, res.RiskOnCount)
	assert.Equal(t, 1, res.RiskOffCount)
	assert.Equal(t, models.VerdictRiskOn, res.Verdict)
}

func TestDerive(t *testing.T) {
	n := NewNormalizer()
	curve := models.IndicatorSpec{ID: "curve", Source: models.DerivedSource, Direction: models.HigherIsRiskOn, Inputs: []string{"dgs10", "dgs2"}, Op: models.OpDiff}

	ten := live("dgs10", 4.5, models.Float(4.4))
	two := live("dgs2", 4.8, models.Float(4.9))
	snap := n.Derive(curve, ten, two, nil)
	assert.Equal(t, models.StatusLive, snap.Status)
	assert.InDelta(t, -0.3, *snap.CurrentValue, 1e-9)
	assert.InDelta(t, -0.5, *snap.PreviousValue, 1e-9)

	two.Status = models.StatusDegraded
	snap = n.Derive(curve, ten, two, nil)
	assert.Equal(t, models.StatusDegraded, snap.Status)
	assert.Equal(t, models.ReasonInputs, snap.Reason)

	gone := models.IndicatorSnapshot{IndicatorID: "dgs2", Status: models.StatusUnavailable, AsOf: now}
	snap = n.Derive(curve, ten, gone, nil)
	assert.Equal(t, models.StatusUnavailable, snap.Status)
	assert.Nil(t, snap.CurrentValue)
}

func TestDeriveRatioByZero(t *testing.T) {
	n := NewNormalizer()
	spec := models.IndicatorSpec{ID: "r", Source: models.DerivedSource, Direction: models.HigherIsRiskOn, Inputs: []string{"a", "b"}, Op: models.OpRatio}
	snap := n.Derive(spec, live("a", 1, nil), live("b", 0, nil), nil)
	assert.Equal(t, models.StatusUnavailable, snap.Status)

	snap = n.Derive(spec, live("a", 3, nil), live("b", 2, nil), nil)
	assert.Equal(t, 1.5, *snap.CurrentValue)
}
