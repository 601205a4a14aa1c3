package usecase

import (
	"context"
	"sync"
	"time"

	"MacroPulse/internal/domain/models"
	drepo "MacroPulse/internal/domain/repository"
)

type funcSource struct {
	name string
	fn   func(ctx context.Context, symbol string) (models.RawObservation, error)
}

func (f funcSource) Name() string { return f.name }

func (f funcSource) Fetch(ctx context.Context, symbol string) (models.RawObservation, error) {
	return f.fn(ctx, symbol)
}

type lookup map[string]drepo.Source

func (l lookup) Get(name string) (drepo.Source, bool) {
	s, ok := l[name]
	return s, ok
}

type attemptRecord struct {
	source, indicator, outcome string
}

type fakeMetrics struct {
	mu        sync.Mutex
	attempts  []attemptRecord
	snapshots map[string]models.SnapshotStatus
	errors    map[string]int
	ingest    map[string]int
	cycles    int
	verdict   models.Verdict
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		snapshots: map[string]models.SnapshotStatus{},
		errors:    map[string]int{},
		ingest:    map[string]int{},
	}
}

func (m *fakeMetrics) RecordAttempt(source, indicator, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attemptRecord{source, indicator, outcome})
}

func (m *fakeMetrics) RecordSnapshot(indicator string, status models.SnapshotStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[indicator] = status
}

func (m *fakeMetrics) RecordConsensus(c models.ConsensusResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdict = c.Verdict
}

func (m *fakeMetrics) RecordCycle(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
}

func (m *fakeMetrics) RecordIngest(_, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingest[outcome]++
}

func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *fakeMetrics) outcomes(indicator string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, a := range m.attempts {
		if a.indicator == indicator {
			out = append(out, a.outcome)
		}
	}
	return out
}

func (m *fakeMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

type fakeHistory struct {
	mu     sync.Mutex
	saved  []*models.CycleReport
	err    error
	latest map[string]models.IndicatorSnapshot
	recent []models.ConsensusResult
}

func (h *fakeHistory) SaveCycle(_ context.Context, r *models.CycleReport) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saved = append(h.saved, r)
	return h.err
}

func (h *fakeHistory) LatestSnapshots(context.Context) (map[string]models.IndicatorSnapshot, error) {
	return h.latest, nil
}

func (h *fakeHistory) RecentConsensus(_ context.Context, limit int) ([]models.ConsensusResult, error) {
	if limit < len(h.recent) {
		return h.recent[:limit], nil
	}
	return h.recent, nil
}

func (h *fakeHistory) Close() error { return nil }

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *fakePublisher) PublishReport(_ context.Context, r *models.CycleReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, r.ID)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }
