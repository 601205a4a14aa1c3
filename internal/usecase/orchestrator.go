package usecase

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"MacroPulse/internal/domain/models"
	drepo "MacroPulse/internal/domain/repository"
	"MacroPulse/internal/service/sources"
	"MacroPulse/internal/services/signals"
	"MacroPulse/pkg/logger"
)

// fallbackLookupTimeout bounds fallback reads made after the cycle deadline.
const fallbackLookupTimeout = 2 * time.Second

// Attempt outcomes recorded per fetch attempt.
const (
	OutcomeOK        = "ok"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
	OutcomeTimeout   = "timeout"
)

// SourceLookup resolves a source adapter by name.
type SourceLookup interface {
	Get(name string) (drepo.Source, bool)
}

// FetchOptions bounds retries and concurrency of one cycle.
type FetchOptions struct {
	Workers        int
	Attempts       int
	AttemptTimeout time.Duration
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	Deadline       time.Duration
}

func (o *FetchOptions) setDefaults() {
	if o.Workers < 1 {
		o.Workers = 8
	}
	if o.Attempts < 1 {
		o.Attempts = 3
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 10 * time.Second
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax < o.BackoffMin {
		o.BackoffMax = o.BackoffMin
	}
	if o.Deadline <= 0 {
		o.Deadline = 30 * time.Second
	}
}

// Orchestrator fetches every indicator concurrently on a bounded pool, retries
// transient failures and substitutes fallback values when a fetch gives up.
type Orchestrator struct {
	sources  SourceLookup
	fallback drepo.FallbackStore
	norm     *signals.Normalizer
	metrics  drepo.Metrics
	log      *logger.Logger
	opts     FetchOptions
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(src SourceLookup, fb drepo.FallbackStore, norm *signals.Normalizer, metrics drepo.Metrics, log *logger.Logger, opts FetchOptions) *Orchestrator {
	opts.setDefaults()
	return &Orchestrator{
		sources:  src,
		fallback: fb,
		norm:     norm,
		metrics:  metrics,
		log:      log,
		opts:     opts,
		now:      time.Now,
	}
}

type fetchResult struct {
	idx  int
	snap models.IndicatorSnapshot
}

// FetchAll returns one snapshot per spec, in spec order. It returns by the
// cycle deadline even if adapters ignore their context; results arriving
// later are discarded.
func (o *Orchestrator) FetchAll(ctx context.Context, specs []models.IndicatorSpec, prior map[string]models.IndicatorSnapshot) []models.IndicatorSnapshot {
	cycleCtx, cancel := context.WithTimeout(ctx, o.opts.Deadline)
	defer cancel()

	out := make([]models.IndicatorSnapshot, len(specs))
	resolved := make([]bool, len(specs))
	attempts := make([]atomic.Int32, len(specs))

	var tasks []int
	for i, spec := range specs {
		if !spec.Derived() {
			tasks = append(tasks, i)
		}
	}

	// buffered for every task so late senders never block
	results := make(chan fetchResult, len(tasks))
	go func() {
		var g errgroup.Group
		g.SetLimit(o.opts.Workers)
		for _, i := range tasks {
			if cycleCtx.Err() != nil {
				return
			}
			i := i
			g.Go(func() error {
				if cycleCtx.Err() != nil {
					return nil
				}
				results <- fetchResult{idx: i, snap: o.fetchOne(cycleCtx, specs[i], priorOf(prior, specs[i].ID), &attempts[i])}
				return nil
			})
		}
		_ = g.Wait()
	}()

collect:
	for n := 0; n < len(tasks); n++ {
		select {
		case r := <-results:
			out[r.idx] = r.snap
			resolved[r.idx] = true
		case <-cycleCtx.Done():
			break collect
		}
	}
	// keep results that were already delivered when the deadline fired
drain:
	for {
		select {
		case r := <-results:
			if !resolved[r.idx] {
				out[r.idx] = r.snap
				resolved[r.idx] = true
			}
		default:
			break drain
		}
	}

	for _, i := range tasks {
		if resolved[i] {
			continue
		}
		spec := specs[i]
		o.log.Warn("fetch abandoned at cycle deadline",
			logger.String("indicator", spec.ID),
			logger.String("source", spec.Source),
			logger.Duration("deadline", o.opts.Deadline),
		)
		out[i] = o.resolveFailure(ctx, spec, priorOf(prior, spec.ID), int(attempts[i].Load()), models.ReasonDeadline)
	}

	byID := make(map[string]int, len(specs))
	for i, spec := range specs {
		byID[spec.ID] = i
	}
	for i, spec := range specs {
		if !spec.Derived() {
			continue
		}
		a, b := out[byID[spec.Inputs[0]]], out[byID[spec.Inputs[1]]]
		out[i] = o.norm.Derive(spec, a, b, priorOf(prior, spec.ID))
		if out[i].Status == models.StatusUnavailable {
			out[i].AsOf = o.now().UTC()
		}
	}
	return out
}

// fetchOne runs the retry loop of a single indicator.
func (o *Orchestrator) fetchOne(ctx context.Context, spec models.IndicatorSpec, prior *models.IndicatorSnapshot, counter *atomic.Int32) models.IndicatorSnapshot {
	src, ok := o.sources.Get(spec.Source)
	if !ok {
		o.log.Error("no source registered", logger.String("indicator", spec.ID), logger.String("source", spec.Source))
		return o.resolveFailure(ctx, spec, prior, 0, models.ReasonPermanent)
	}

	for attempt := 1; attempt <= o.opts.Attempts; attempt++ {
		counter.Store(int32(attempt))
		start := o.now()
		snap, err := o.attempt(ctx, src, spec, prior)
		took := o.now().Sub(start)
		outcome := outcomeOf(err)

		o.metrics.RecordAttempt(src.Name(), spec.ID, outcome, took)
		fields := []logger.Field{
			logger.String("source", src.Name()),
			logger.String("indicator", spec.ID),
			logger.Int("attempt", attempt),
			logger.String("outcome", outcome),
			logger.Duration("duration_ms", took),
		}
		if err == nil {
			o.log.Debug("fetch attempt", fields...)
			snap.Attempts = attempt
			o.remember(ctx, spec.ID, snap)
			return snap
		}
		o.log.Warn("fetch attempt", append(fields, logger.Error(err))...)

		switch {
		case ctx.Err() != nil:
			return o.resolveFailure(ctx, spec, prior, attempt, models.ReasonDeadline)
		case outcome == OutcomePermanent:
			return o.resolveFailure(ctx, spec, prior, attempt, models.ReasonPermanent)
		}
		if attempt < o.opts.Attempts && !sleepCtx(ctx, backoffWithJitter(o.opts.BackoffMin, o.opts.BackoffMax, attempt)) {
			return o.resolveFailure(ctx, spec, prior, attempt, models.ReasonDeadline)
		}
	}
	return o.resolveFailure(ctx, spec, prior, o.opts.Attempts, models.ReasonExhausted)
}

type attemptResult struct {
	obs models.RawObservation
	err error
}

// attempt calls the adapter in its own goroutine so a hung or panicking
// adapter costs at most one attempt timeout.
func (o *Orchestrator) attempt(ctx context.Context, src drepo.Source, spec models.IndicatorSpec, prior *models.IndicatorSnapshot) (models.IndicatorSnapshot, error) {
	actx, cancel := context.WithTimeout(ctx, o.opts.AttemptTimeout)
	defer cancel()

	ch := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- attemptResult{err: sources.NewPermanent(src.Name(), spec.ID, fmt.Errorf("%w: %v", sources.ErrAdapterPanic, r))}
			}
		}()
		obs, err := src.Fetch(actx, spec.SourceSymbol())
		ch <- attemptResult{obs: obs, err: err}
	}()

	var res attemptResult
	select {
	case res = <-ch:
	case <-actx.Done():
		return models.IndicatorSnapshot{}, sources.NewTransient(src.Name(), spec.ID, fmt.Errorf("attempt timed out: %w", actx.Err()))
	}
	if res.err != nil {
		return models.IndicatorSnapshot{}, res.err
	}
	res.obs.IndicatorID = spec.ID
	if res.obs.FetchedAt.IsZero() {
		res.obs.FetchedAt = o.now().UTC()
	}
	return o.norm.Normalize(res.obs, prior, spec)
}

// resolveFailure consults the fallback store for an indicator whose live fetch
// gave up.
func (o *Orchestrator) resolveFailure(ctx context.Context, spec models.IndicatorSpec, prior *models.IndicatorSnapshot, attempts int, reason string) models.IndicatorSnapshot {
	fctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), fallbackLookupTimeout)
		defer cancel()
	}

	e, ok, err := o.fallback.Get(fctx, spec.ID)
	if err != nil {
		o.metrics.RecordError("fallback_get")
		o.log.Error("fallback lookup failed", logger.String("indicator", spec.ID), logger.Error(err))
		ok = false
	}
	if ok {
		snap := o.norm.Degraded(e, prior, spec, reason)
		snap.Attempts = attempts
		return snap
	}
	return models.IndicatorSnapshot{
		IndicatorID: spec.ID,
		Status:      models.StatusUnavailable,
		AsOf:        o.now().UTC(),
		Attempts:    attempts,
		Reason:      reason,
	}
}

// remember stores a live value as last-known-good.
func (o *Orchestrator) remember(ctx context.Context, id string, snap models.IndicatorSnapshot) {
	err := o.fallback.Put(ctx, id, models.FallbackEntry{
		Value:  *snap.CurrentValue,
		AsOf:   snap.AsOf,
		Origin: models.OriginLive,
	})
	if err != nil {
		o.metrics.RecordError("fallback_put")
		o.log.Warn("last-known-good write failed", logger.String("indicator", id), logger.Error(err))
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case sources.IsTimeout(err):
		return OutcomeTimeout
	case sources.Classify(err) == sources.Permanent:
		return OutcomePermanent
	default:
		return OutcomeTransient
	}
}

func priorOf(prior map[string]models.IndicatorSnapshot, id string) *models.IndicatorSnapshot {
	p, ok := prior[id]
	if !ok {
		return nil
	}
	return &p
}

// sleepCtx waits for d; false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min * time.Duration(1<<uint(attempt-1))
	if exp > max || exp <= 0 {
		exp = max
	}
	// jitter up to 50%
	if half := int64(exp) / 2; half > 0 {
		exp -= time.Duration(rand.Int63n(half))
	}
	return exp
}
