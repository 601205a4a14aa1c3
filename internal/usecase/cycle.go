package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"MacroPulse/internal/domain/models"
	drepo "MacroPulse/internal/domain/repository"
	dsvc "MacroPulse/internal/domain/service"
	"MacroPulse/pkg/logger"
)

// persistTimeout bounds history and publish calls after a cycle.
const persistTimeout = 10 * time.Second

// CycleRunner runs fetch, classify and aggregate cycles. Calls to RunCycle are
// serialized; each cycle allocates fresh slices and never mutates an earlier
// report.
type CycleRunner struct {
	mu         sync.Mutex
	specs      []models.IndicatorSpec
	orch       *Orchestrator
	classifier dsvc.Classifier
	aggregator dsvc.ConsensusAggregator
	history    drepo.HistoryStore    // optional
	publisher  drepo.ReportPublisher // optional
	metrics    drepo.Metrics
	log        *logger.Logger
	now        func() time.Time

	prior  map[string]models.IndicatorSnapshot // last snapshot with a value, per indicator
	latest atomic.Pointer[models.CycleReport]
}

// CycleOption configures optional collaborators of a CycleRunner.
type CycleOption func(*CycleRunner)

// WithHistory persists every report to h.
func WithHistory(h drepo.HistoryStore) CycleOption {
	return func(r *CycleRunner) { r.history = h }
}

// WithPublisher publishes every report through p.
func WithPublisher(p drepo.ReportPublisher) CycleOption {
	return func(r *CycleRunner) { r.publisher = p }
}

// NewCycleRunner creates a runner over specs, which are copied.
func NewCycleRunner(
	specs []models.IndicatorSpec,
	orch *Orchestrator,
	classifier dsvc.Classifier,
	aggregator dsvc.ConsensusAggregator,
	metrics drepo.Metrics,
	log *logger.Logger,
	opts ...CycleOption,
) *CycleRunner {
	r := &CycleRunner{
		specs:      append([]models.IndicatorSpec(nil), specs...),
		orch:       orch,
		classifier: classifier,
		aggregator: aggregator,
		metrics:    metrics,
		log:        log,
		now:        time.Now,
		prior:      make(map[string]models.IndicatorSnapshot),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RunCycle fetches every indicator, classifies the snapshots and returns the
// consensus. Per-indicator failures are reported through snapshot status; an
// error is returned only when ctx ends before the cycle completes, in which
// case nothing is stored, persisted or carried into the next cycle.
func (r *CycleRunner) RunCycle(ctx context.Context) (*models.CycleReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run cycle: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	started := r.now().UTC()
	snaps := r.orch.FetchAll(ctx, r.specs, r.prior)
	if err := ctx.Err(); err != nil {
		r.log.Warn("cycle interrupted, discarding results", logger.Error(err))
		return nil, fmt.Errorf("run cycle: %w", err)
	}

	sigs := make([]models.ClassifiedSignal, len(r.specs))
	for i, spec := range r.specs {
		sigs[i] = r.classifier.Classify(snaps[i], spec)
		r.metrics.RecordSnapshot(spec.ID, snaps[i].Status)
	}
	consensus := r.aggregator.Aggregate(sigs, started)

	report := &models.CycleReport{
		ID:         uuid.NewString(),
		StartedAt:  started,
		FinishedAt: r.now().UTC(),
		Consensus:  consensus,
		Signals:    sigs,
		Snapshots:  snaps,
	}

	next := make(map[string]models.IndicatorSnapshot, len(r.prior))
	for id, s := range r.prior {
		next[id] = s
	}
	for _, s := range snaps {
		if s.HasValue() {
			next[s.IndicatorID] = s
		}
	}
	r.prior = next
	r.latest.Store(report)

	took := report.FinishedAt.Sub(started)
	r.metrics.RecordConsensus(consensus)
	r.metrics.RecordCycle(took)
	r.log.Info("cycle finished",
		logger.String("cycle_id", report.ID),
		logger.String("verdict", string(consensus.Verdict)),
		logger.Int("risk_on", consensus.RiskOnCount),
		logger.Int("risk_off", consensus.RiskOffCount),
		logger.Int("neutral", consensus.NeutralCount),
		logger.Int("abstained", consensus.AbstainedCount),
		logger.Duration("duration_ms", took),
	)

	r.persist(ctx, report)
	return report, nil
}

func (r *CycleRunner) persist(ctx context.Context, report *models.CycleReport) {
	if r.history == nil && r.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if r.history != nil {
		if err := r.history.SaveCycle(pctx, report); err != nil {
			r.metrics.RecordError("history_save")
			r.log.Error("save cycle failed", logger.String("cycle_id", report.ID), logger.Error(err))
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishReport(pctx, report); err != nil {
			r.metrics.RecordError("report_publish")
			r.log.Error("publish report failed", logger.String("cycle_id", report.ID), logger.Error(err))
		}
	}
}

// Latest returns the most recent report, or nil before the first cycle.
func (r *CycleRunner) Latest() *models.CycleReport {
	return r.latest.Load()
}

// Specs returns a copy of the configured indicator specs.
func (r *CycleRunner) Specs() []models.IndicatorSpec {
	return append([]models.IndicatorSpec(nil), r.specs...)
}

// WarmStart seeds previous values from the history store so momentum
// indicators can vote on the first cycle after a restart.
func (r *CycleRunner) WarmStart(ctx context.Context) (int, error) {
	if r.history == nil {
		return 0, nil
	}
	snaps, err := r.history.LatestSnapshots(ctx)
	if err != nil {
		return 0, fmt.Errorf("warm start: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, spec := range r.specs {
		s, ok := snaps[spec.ID]
		if !ok || !s.HasValue() {
			continue
		}
		if _, seen := r.prior[spec.ID]; seen {
			continue
		}
		r.prior[spec.ID] = s
		n++
	}
	return n, nil
}
