package fallback

import (
	"context"

	"MacroPulse/internal/domain/models"
	drepo "MacroPulse/internal/domain/repository"
)

// LayeredStore reads through an in-memory L1 to a shared L2 and writes through
// to both. L1 keeps serving when L2 is unreachable.
type LayeredStore struct {
	l1 *MemoryStore
	l2 drepo.FallbackStore
}

// NewLayeredStore creates a two-level store.
func NewLayeredStore(l1 *MemoryStore, l2 drepo.FallbackStore) *LayeredStore {
	return &LayeredStore{l1: l1, l2: l2}
}

func (s *LayeredStore) Get(ctx context.Context, id string) (models.FallbackEntry, bool, error) {
	if e, ok, _ := s.l1.Get(ctx, id); ok {
		return e, true, nil
	}
	e, ok, err := s.l2.Get(ctx, id)
	if err != nil || !ok {
		return e, ok, err
	}
	_ = s.l1.Put(ctx, id, e)
	return e, true, nil
}

func (s *LayeredStore) Put(ctx context.Context, id string, e models.FallbackEntry) error {
	_ = s.l1.Put(ctx, id, e)
	return s.l2.Put(ctx, id, e)
}
