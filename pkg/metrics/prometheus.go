// Package metrics records engine activity in Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"MacroPulse/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	snapshots       *prometheus.CounterVec
	indicatorStatus *prometheus.GaugeVec
	votes           *prometheus.GaugeVec
	verdict         *prometheus.GaugeVec
	cycleDuration   prometheus.Histogram
	ingest          *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "macropulse_fetch_attempts_total",
				Help: "Fetch attempts by source, indicator and outcome",
			},
			[]string{"source", "indicator", "outcome"},
		),
		attemptDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "macropulse_fetch_attempt_duration_seconds",
				Help:    "Duration of single fetch attempts",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"source"},
		),
		snapshots: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "macropulse_snapshots_total",
				Help: "Indicator snapshots by status",
			},
			[]string{"indicator", "status"},
		),
		indicatorStatus: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "macropulse_indicator_status",
				Help: "Latest snapshot status per indicator (0 live, 1 degraded, 2 unavailable)",
			},
			[]string{"indicator"},
		),
		votes: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "macropulse_consensus_votes",
				Help: "Signal counts of the latest cycle by category",
			},
			[]string{"category"},
		),
		verdict: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "macropulse_consensus_verdict",
				Help: "1 for the verdict of the latest cycle, 0 otherwise",
			},
			[]string{"verdict"},
		),
		cycleDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "macropulse_cycle_duration_seconds",
				Help:    "Wall time of aggregation cycles",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
		),
		ingest: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "macropulse_ingest_updates_total",
				Help: "Fallback updates received out of band by outcome",
			},
			[]string{"indicator", "outcome"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "macropulse_errors_total",
				Help: "Errors by kind",
			},
			[]string{"type"},
		),
	}
}

func (r *Recorder) RecordAttempt(source, indicator, outcome string, d time.Duration) {
	r.attempts.WithLabelValues(source, indicator, outcome).Inc()
	r.attemptDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (r *Recorder) RecordSnapshot(indicator string, status models.SnapshotStatus) {
	r.snapshots.WithLabelValues(indicator, string(status)).Inc()
	r.indicatorStatus.WithLabelValues(indicator).Set(float64(status.Rank()))
}

func (r *Recorder) RecordConsensus(c models.ConsensusResult) {
	r.votes.WithLabelValues(string(models.RiskOn)).Set(float64(c.RiskOnCount))
	r.votes.WithLabelValues(string(models.RiskOff)).Set(float64(c.RiskOffCount))
	r.votes.WithLabelValues(string(models.Neutral)).Set(float64(c.NeutralCount))
	r.votes.WithLabelValues("abstained").Set(float64(c.AbstainedCount))
	for _, v := range []models.Verdict{models.VerdictRiskOn, models.VerdictRiskOff, models.VerdictIndeterminate} {
		val := 0.0
		if v == c.Verdict {
			val = 1
		}
		r.verdict.WithLabelValues(string(v)).Set(val)
	}
}

func (r *Recorder) RecordCycle(d time.Duration) {
	r.cycleDuration.Observe(d.Seconds())
}

func (r *Recorder) RecordIngest(indicator, outcome string) {
	r.ingest.WithLabelValues(indicator, outcome).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
