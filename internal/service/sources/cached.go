package sources

import (
	"context"
	"encoding/json"
	"time"

	"MacroPulse/internal/domain/models"
	drepo "MacroPulse/internal/domain/repository"
	"MacroPulse/internal/service/cache"
)

type cachedObservation struct {
	Value     float64   `json:"value"`
	Previous  *float64  `json:"previous,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Cached serves provider responses from a BytesCache for ttl. Only successful
// fetches are cached. Cache failures fall through to the provider.
type Cached struct {
	next  drepo.Source
	cache cache.BytesCache
	ttl   time.Duration
}

// NewCached wraps next with a response cache.
func NewCached(next drepo.Source, c cache.BytesCache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: c, ttl: ttl}
}

func (c *Cached) Name() string { return c.next.Name() }

func (c *Cached) Fetch(ctx context.Context, symbol string) (models.RawObservation, error) {
	key := c.Name() + ":" + symbol
	if b, ok, err := c.cache.GetBytes(ctx, key); err == nil && ok {
		var co cachedObservation
		if json.Unmarshal(b, &co) == nil {
			return models.RawObservation{
				IndicatorID: symbol,
				Value:       co.Value,
				Previous:    co.Previous,
				FetchedAt:   co.FetchedAt,
			}, nil
		}
	}

	obs, err := c.next.Fetch(ctx, symbol)
	if err != nil {
		return obs, err
	}
	if b, err := json.Marshal(cachedObservation{Value: obs.Value, Previous: obs.Previous, FetchedAt: obs.FetchedAt}); err == nil {
		_ = c.cache.SetBytes(ctx, key, b, c.ttl)
	}
	return obs, nil
}
