package sources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MacroPulse/internal/domain/models"
)

// Static serves fixed values. Used for development and as a seed-only source.
type Static struct {
	name string
	mu   sync.RWMutex
	vals map[string]float64
	now  func() time.Time
}

// NewStatic returns a static source serving the given symbol values.
func NewStatic(name string, values map[string]float64) *Static {
	vals := make(map[string]float64, len(values))
	for k, v := range values {
		vals[k] = v
	}
	return &Static{name: name, vals: vals, now: time.Now}
}

func (s *Static) Name() string { return s.name }

// Set replaces the value served for symbol.
func (s *Static) Set(symbol string, v float64) {
	s.mu.Lock()
	s.vals[symbol] = v
	s.mu.Unlock()
}

func (s *Static) Fetch(_ context.Context, symbol string) (models.RawObservation, error) {
	s.mu.RLock()
	v, ok := s.vals[symbol]
	s.mu.RUnlock()
	if !ok {
		return models.RawObservation{}, NewPermanent(s.name, symbol, fmt.Errorf("%w: %s", ErrUnknownIndicator, symbol))
	}
	return models.RawObservation{IndicatorID: symbol, Value: v, FetchedAt: s.now().UTC()}, nil
}
