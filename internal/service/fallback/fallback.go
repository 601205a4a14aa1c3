// Package fallback holds last-known-good indicator values consulted when a
// live fetch fails.
package fallback

import (
	"context"
	"fmt"
	"time"

	"MacroPulse/internal/domain/models"
	drepo "MacroPulse/internal/domain/repository"
)

// Option configures a store.
type Option func(*options)

type options struct {
	maxAge time.Duration
	now    func() time.Time
}

// WithMaxAge makes Get ignore entries older than d. Zero keeps entries forever.
func WithMaxAge(d time.Duration) Option {
	return func(o *options) { o.maxAge = d }
}

// WithClock overrides the time source used for age checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// fresh reports whether e is young enough to serve. Static entries never age.
func (o options) fresh(e models.FallbackEntry) bool {
	return o.maxAge <= 0 || e.Origin == models.OriginStatic || o.now().Sub(e.AsOf) <= o.maxAge
}

// ttl is the storage expiry for e; zero keeps it until replaced.
func (o options) ttl(e models.FallbackEntry) time.Duration {
	if e.Origin == models.OriginStatic {
		return 0
	}
	return o.maxAge
}

// supersedes reports whether next may replace cur. Observed values replace
// static seeds unconditionally; otherwise an older AsOf never wins.
func supersedes(cur, next models.FallbackEntry) bool {
	return cur.Origin == models.OriginStatic || !next.AsOf.Before(cur.AsOf)
}

// Seed writes static values for indicators that have no entry yet.
func Seed(ctx context.Context, store drepo.FallbackStore, seeds map[string]float64, asOf time.Time) error {
	for id, v := range seeds {
		_, ok, err := store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("seed %s: %w", id, err)
		}
		if ok {
			continue
		}
		if err := store.Put(ctx, id, models.FallbackEntry{Value: v, AsOf: asOf, Origin: models.OriginStatic}); err != nil {
			return fmt.Errorf("seed %s: %w", id, err)
		}
	}
	return nil
}
