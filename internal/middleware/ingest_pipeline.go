package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"MacroPulse/internal/domain/models"
	domrepo "MacroPulse/internal/domain/repository"
)

// ErrUnknownIndicator is returned for updates about indicators nobody tracks.
var ErrUnknownIndicator = errors.New("unknown indicator")

// Sink applies an accepted fallback update.
type Sink interface {
	Apply(ctx context.Context, u *models.FallbackUpdate) error
}

// IngestPipeline sits between the ingest consumer and the fallback store.
// It validates, throttles per indicator and buffers when the sink is unavailable.
type IngestPipeline struct {
	sink     Sink
	metrics  domrepo.Metrics
	maxRPS   int
	bufSize  int
	bufCh    chan *models.FallbackUpdate
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSeen map[string]time.Time // per-indicator last accepted time
	known    map[string]struct{}  // nil accepts any indicator
	now      func() time.Time
}

type PipelineOption func(*IngestPipeline)

// WithMaxRPS sets the max updates per second per indicator.
func WithMaxRPS(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer size used while the sink is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithKnownIndicators rejects updates for ids outside the list.
func WithKnownIndicators(ids []string) PipelineOption {
	return func(p *IngestPipeline) {
		p.known = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			p.known[id] = struct{}{}
		}
	}
}

// NewIngestPipeline creates a new pipeline.
func NewIngestPipeline(sink Sink, metrics domrepo.Metrics, opts ...PipelineOption) *IngestPipeline {
	p := &IngestPipeline{
		sink:     sink,
		metrics:  metrics,
		maxRPS:   5,
		bufSize:  256,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.FallbackUpdate, p.bufSize)
	return p
}

// Start launches background retries of buffered updates.
func (p *IngestPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case u := <-p.bufCh:
				if err := p.sink.Apply(ctx, u); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("ingest_flush")
					select {
					case <-time.After(backoff):
					case <-p.stopCh:
						return
					case <-ctx.Done():
						return
					}
					select {
					case p.bufCh <- u:
					default:
						p.metrics.RecordError("ingest_buffer_drop")
					}
					continue
				}
				backoff = 50 * time.Millisecond
				p.metrics.RecordIngest(u.IndicatorID, "flushed")
			}
		}
	}()
}

// Stop stops the background retries.
func (p *IngestPipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
}

// Buffered returns the number of updates waiting for retry.
func (p *IngestPipeline) Buffered() int { return len(p.bufCh) }

// Process validates, throttles and forwards an update. On a sink error the
// update is buffered for retry and nil is returned; an error is returned only
// when the buffer is full.
func (p *IngestPipeline) Process(ctx context.Context, u *models.FallbackUpdate) error {
	if err := p.validate(u); err != nil {
		p.metrics.RecordError("ingest_validate")
		return err
	}
	if !p.allow(u.IndicatorID, p.now()) {
		p.metrics.RecordIngest(u.IndicatorID, "throttled")
		return nil
	}

	if err := p.sink.Apply(ctx, u); err != nil {
		// a buffered update is owned by the retry loop; only a full buffer
		// hands the update back to the caller
		select {
		case p.bufCh <- u:
			p.metrics.RecordIngest(u.IndicatorID, "buffered")
			return nil
		default:
			p.metrics.RecordError("ingest_buffer_full")
			return fmt.Errorf("ingest sink: %w", err)
		}
	}
	p.metrics.RecordIngest(u.IndicatorID, "applied")
	return nil
}

func (p *IngestPipeline) validate(u *models.FallbackUpdate) error {
	if u == nil {
		return fmt.Errorf("update nil")
	}
	if u.IndicatorID == "" {
		return fmt.Errorf("indicator_id empty")
	}
	if p.known != nil {
		if _, ok := p.known[u.IndicatorID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownIndicator, u.IndicatorID)
		}
	}
	if math.IsNaN(u.Value) || math.IsInf(u.Value, 0) {
		return fmt.Errorf("value not finite")
	}
	if u.AsOf.IsZero() {
		return fmt.Errorf("as_of missing")
	}
	return nil
}

func (p *IngestPipeline) allow(id string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastSeen[id]
	if ok && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[id] = now
	return true
}
