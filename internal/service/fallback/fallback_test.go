package fallback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MacroPulse/internal/domain/models"
)

var t0 = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func TestMemoryStoreMaxAge(t *testing.T) {
	now := t0
	s := NewMemoryStore(WithMaxAge(time.Hour), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "gold", models.FallbackEntry{Value: 1900, AsOf: t0, Origin: models.OriginLive}))
	e, ok, err := s.Get(ctx, "gold")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1900.0, e.Value)

	now = t0.Add(2 * time.Hour)
	_, ok, err = s.Get(ctx, "gold")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, s.Snapshot(), 1)
}

func TestMemoryStoreKeepsStaticSeeds(t *testing.T) {
	now := t0
	s := NewMemoryStore(WithMaxAge(72*time.Hour), WithClock(func() time.Time { return now }))
	ctx := context.Background()
	require.NoError(t, Seed(ctx, s, map[string]float64{"gold": 1900}, t0))

	now = t0.Add(73 * time.Hour)
	e, ok, err := s.Get(ctx, "gold")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1900.0, e.Value)
	assert.Equal(t, models.OriginStatic, e.Origin)
}

func TestMemoryStoreKeepsNewerEntry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "gold", models.FallbackEntry{Value: 1900, AsOf: t0, Origin: models.OriginStatic}))
	// an observed value replaces a static seed even when it is older
	require.NoError(t, s.Put(ctx, "gold", models.FallbackEntry{Value: 1950, AsOf: t0.Add(-time.Minute), Origin: models.OriginLive}))
	e, _, _ := s.Get(ctx, "gold")
	assert.Equal(t, 1950.0, e.Value)

	require.NoError(t, s.Put(ctx, "gold", models.FallbackEntry{Value: 1990, AsOf: t0.Add(time.Hour), Origin: models.OriginIngest}))
	require.NoError(t, s.Put(ctx, "gold", models.FallbackEntry{Value: 1960, AsOf: t0, Origin: models.OriginLive}))
	e, _, _ = s.Get(ctx, "gold")
	assert.Equal(t, 1990.0, e.Value)
	assert.Equal(t, models.OriginIngest, e.Origin)

	require.NoError(t, s.Put(ctx, "gold", models.FallbackEntry{Value: 2000, AsOf: t0.Add(time.Hour), Origin: models.OriginLive}))
	e, _, _ = s.Get(ctx, "gold")
	assert.Equal(t, 2000.0, e.Value)
}

func TestMemoryStoreConcurrentWritesAreWhole(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				v := float64(w*1000 + i)
				_ = s.Put(ctx, "k", models.FallbackEntry{Value: v, AsOf: t0.Add(time.Duration(v) * time.Second)})
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if e, ok, _ := s.Get(ctx, "k"); ok {
					assert.Equal(t, t0.Add(time.Duration(e.Value)*time.Second), e.AsOf)
				}
			}
		}()
	}
	wg.Wait()
}

const goldJSON = `{"value":1900,"as_of":"2024-01-02T03:04:05Z","origin":"live"}`

func TestRedisStore(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, "lkg:")
	ctx := context.Background()

	mock.ExpectEval(putScript, []string{"lkg:gold"}, goldJSON, t0.UnixMilli(), models.OriginLive, int64(0)).SetVal(int64(1))
	require.NoError(t, s.Put(ctx, "gold", models.FallbackEntry{Value: 1900, AsOf: t0, Origin: models.OriginLive}))

	mock.ExpectHGet("lkg:gold", "entry").SetVal(goldJSON)
	e, ok, err := s.Get(ctx, "gold")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1900.0, e.Value)
	assert.True(t, e.AsOf.Equal(t0))

	mock.ExpectHGet("lkg:vix", "entry").RedisNil()
	_, ok, err = s.Get(ctx, "vix")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectHGet("lkg:spread", "entry").SetErr(errors.New("conn refused"))
	_, _, err = s.Get(ctx, "spread")
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreStaticEntriesDoNotExpire(t *testing.T) {
	db, mock := redismock.NewClientMock()
	now := t0
	s := NewRedisStore(db, "lkg:", WithMaxAge(time.Hour), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	static := `{"value":1900,"as_of":"2024-01-02T03:04:05Z","origin":"static"}`
	mock.ExpectEval(putScript, []string{"lkg:gold"}, static, t0.UnixMilli(), models.OriginStatic, int64(0)).SetVal(int64(1))
	require.NoError(t, s.Put(ctx, "gold", models.FallbackEntry{Value: 1900, AsOf: t0, Origin: models.OriginStatic}))

	mock.ExpectEval(putScript, []string{"lkg:vix"}, `{"value":20,"as_of":"2024-01-02T03:04:05Z","origin":"live"}`,
		t0.UnixMilli(), models.OriginLive, time.Hour.Milliseconds()).SetVal(int64(1))
	require.NoError(t, s.Put(ctx, "vix", models.FallbackEntry{Value: 20, AsOf: t0, Origin: models.OriginLive}))

	now = t0.Add(48 * time.Hour)
	mock.ExpectHGet("lkg:gold", "entry").SetVal(static)
	e, ok, err := s.Get(ctx, "gold")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1900.0, e.Value)

	mock.ExpectHGet("lkg:vix", "entry").SetVal(`{"value":20,"as_of":"2024-01-02T03:04:05Z","origin":"live"}`)
	_, ok, err = s.Get(ctx, "vix")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLayeredStoreReadsThrough(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l1 := NewMemoryStore()
	s := NewLayeredStore(l1, NewRedisStore(db, "lkg:"))
	ctx := context.Background()

	mock.ExpectHGet("lkg:gold", "entry").SetVal(goldJSON)
	e, ok, err := s.Get(ctx, "gold")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1900.0, e.Value)

	// served from L1, no further redis calls expected
	e, ok, err = s.Get(ctx, "gold")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1900.0, e.Value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLayeredStoreKeepsL1WhenL2Fails(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l1 := NewMemoryStore()
	s := NewLayeredStore(l1, NewRedisStore(db, "lkg:"))
	ctx := context.Background()

	mock.ExpectEval(putScript, []string{"lkg:gold"}, goldJSON, t0.UnixMilli(), models.OriginLive, int64(0)).SetErr(errors.New("down"))
	err := s.Put(ctx, "gold", models.FallbackEntry{Value: 1900, AsOf: t0, Origin: models.OriginLive})
	assert.Error(t, err)

	e, ok, _ := l1.Get(ctx, "gold")
	assert.True(t, ok)
	assert.Equal(t, 1900.0, e.Value)
}

func TestSeedDoesNotOverwrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "gold", models.FallbackEntry{Value: 2000, AsOf: t0, Origin: models.OriginLive}))

	require.NoError(t, Seed(ctx, s, map[string]float64{"gold": 1900, "vix": 20}, t0))

	gold, _, _ := s.Get(ctx, "gold")
	assert.Equal(t, 2000.0, gold.Value)
	vix, ok, _ := s.Get(ctx, "vix")
	require.True(t, ok)
	assert.Equal(t, models.OriginStatic, vix.Origin)
}
