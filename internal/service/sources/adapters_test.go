package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MacroPulse/internal/domain/models"
	"MacroPulse/internal/service/cache"
	"MacroPulse/pkg/config"
	xhttp "MacroPulse/pkg/http"
	"MacroPulse/pkg/logger"
)

func TestFREDFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fred/series/observations", r.URL.Path)
		assert.Equal(t, "DGS10", r.URL.Query().Get("series_id"))
		assert.Equal(t, "key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "desc", r.URL.Query().Get("sort_order"))
		_, _ = w.Write([]byte(`{"observations":[{"date":"2024-03-01","value":"4.25"},{"date":"2024-02-29","value":"4.20"}]}`))
	}))
	defer srv.Close()

	f, err := NewFRED("fred", "key", WithFREDBaseURL(srv.URL))
	require.NoError(t, err)

	obs, err := f.Fetch(context.Background(), "DGS10")
	require.NoError(t, err)
	assert.InDelta(t, 4.25, obs.Value, 1e-12)
	require.NotNil(t, obs.Previous)
	assert.InDelta(t, 4.20, *obs.Previous, 1e-12)
}

func TestFREDMissingObservationIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"observations":[{"date":"2024-03-01","value":"."},{"date":"2024-02-29","value":""}]}`))
	}))
	defer srv.Close()

	f, err := NewFRED("fred", "key", WithFREDBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), "DGS10")
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Equal(t, Permanent, Classify(err))
}

func TestFREDSkipsHolidayRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"observations":[` +
			`{"date":"2024-07-04","value":"."},` +
			`{"date":"2024-07-03","value":"4.36"},` +
			`{"date":"2024-07-02","value":"."},` +
			`{"date":"2024-07-01","value":"4.48"}]}`))
	}))
	defer srv.Close()

	f, err := NewFRED("fred", "key", WithFREDBaseURL(srv.URL))
	require.NoError(t, err)

	obs, err := f.Fetch(context.Background(), "DGS10")
	require.NoError(t, err)
	assert.InDelta(t, 4.36, obs.Value, 1e-12)
	require.NotNil(t, obs.Previous)
	assert.InDelta(t, 4.48, *obs.Previous, 1e-12)
}

func TestFREDStatusClassification(t *testing.T) {
	code := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	}))
	defer srv.Close()

	f, err := NewFRED("fred", "key", WithFREDBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "X")
	assert.Equal(t, Transient, Classify(err))

	code = http.StatusBadRequest
	_, err = f.Fetch(context.Background(), "X")
	assert.Equal(t, Permanent, Classify(err))
}

func TestNewFREDRequiresKey(t *testing.T) {
	_, err := NewFRED("fred", "")
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
}

func TestHTTPJSONFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chart/GC=F", r.URL.Path)
		assert.Equal(t, "ua", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":1912.4,"chartPreviousClose":"1900.1"}}]}}`))
	}))
	defer srv.Close()

	h, err := NewHTTPJSON("yahoo", HTTPJSONConfig{
		URL:          srv.URL + "/chart/{symbol}",
		Headers:      map[string]string{"User-Agent": "ua"},
		ValuePath:    "chart.result.0.meta.regularMarketPrice",
		PreviousPath: "chart.result.0.meta.chartPreviousClose",
	}, nil)
	require.NoError(t, err)

	obs, err := h.Fetch(context.Background(), "GC=F")
	require.NoError(t, err)
	assert.InDelta(t, 1912.4, obs.Value, 1e-9)
	require.NotNil(t, obs.Previous)
	assert.InDelta(t, 1900.1, *obs.Previous, 1e-9)
}

func TestHTTPJSONMissingPathIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	h, err := NewHTTPJSON("x", HTTPJSONConfig{URL: srv.URL, ValuePath: "data.close"}, xhttp.NewClient())
	require.NoError(t, err)
	_, err = h.Fetch(context.Background(), "VIX")
	assert.Equal(t, Permanent, Classify(err))
}

func TestStaticFetch(t *testing.T) {
	s := NewStatic("static", map[string]float64{"vix": 18})
	obs, err := s.Fetch(context.Background(), "vix")
	require.NoError(t, err)
	assert.Equal(t, 18.0, obs.Value)

	_, err = s.Fetch(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownIndicator)
	assert.Equal(t, Permanent, Classify(err))
}

func TestStreamServesLastTrade(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewStream("ws", StreamConfig{MaxAge: time.Minute}, logger.NewNop())
	s.now = func() time.Time { return now }

	_, err := s.Fetch(context.Background(), "BTC")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, Transient, Classify(err))

	s.handle([]byte(`{"type":"trade","data":[{"s":"BTC","p":42000.5,"t":` + itoa(now.Add(-10*time.Second).UnixMilli()) + `}]}`))
	s.handle([]byte(`{"type":"ping"}`))

	obs, err := s.Fetch(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 42000.5, obs.Value)

	now = now.Add(2 * time.Minute)
	_, err = s.Fetch(context.Background(), "BTC")
	assert.ErrorIs(t, err, ErrStaleData)
	assert.Equal(t, Transient, Classify(err))
}

type countingSource struct {
	calls atomic.Int32
	err   error
}

func (c *countingSource) Name() string { return "counting" }

func (c *countingSource) Fetch(_ context.Context, symbol string) (models.RawObservation, error) {
	c.calls.Add(1)
	if c.err != nil {
		return models.RawObservation{}, c.err
	}
	return models.RawObservation{IndicatorID: symbol, Value: 1, FetchedAt: time.Now()}, nil
}

func TestGuardOpensOnTransientFailures(t *testing.T) {
	src := &countingSource{err: NewTransient("counting", "x", errors.New("boom"))}
	g := NewGuard(src, GuardConfig{FailureThreshold: 2, OpenTimeout: time.Hour}, logger.NewNop())

	for i := 0; i < 2; i++ {
		_, err := g.Fetch(context.Background(), "x")
		require.Error(t, err)
	}
	assert.Equal(t, "open", g.State())

	_, err := g.Fetch(context.Background(), "x")
	assert.Equal(t, Transient, Classify(err))
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestGuardIgnoresPermanentFailures(t *testing.T) {
	src := &countingSource{err: NewPermanent("counting", "x", ErrUnknownIndicator)}
	g := NewGuard(src, GuardConfig{FailureThreshold: 1, OpenTimeout: time.Hour}, logger.NewNop())

	for i := 0; i < 3; i++ {
		_, err := g.Fetch(context.Background(), "x")
		assert.Equal(t, Permanent, Classify(err))
	}
	assert.Equal(t, "closed", g.State())
}

func TestGuardRateLimitHonorsContext(t *testing.T) {
	g := NewGuard(&countingSource{}, GuardConfig{RatePerSecond: 0.001, Burst: 1}, logger.NewNop())
	_, err := g.Fetch(context.Background(), "x")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Fetch(ctx, "x")
	assert.Equal(t, Transient, Classify(err))
}

func TestCachedServesRepeatFetches(t *testing.T) {
	src := &countingSource{}
	c := NewCached(src, cache.NewTTLCache(), time.Hour)

	for i := 0; i < 3; i++ {
		obs, err := c.Fetch(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, 1.0, obs.Value)
	}
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestBuildRegistry(t *testing.T) {
	reg, err := Build([]config.SourceConfig{
		{Name: "static", Type: "static", Values: map[string]float64{"a": 1}},
		{Name: "fred", Type: "fred", APIKey: "k", FailureThreshold: 3, CacheTTL: time.Hour},
		{Name: "ws", Type: "stream", URL: "wss://example"},
	}, cache.NewTTLCache(), logger.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []string{"fred", "static", "ws"}, reg.Names())
	assert.Equal(t, map[string]string{"fred": "closed"}, reg.BreakerStates())
	_, ok := reg.Get("fred")
	assert.True(t, ok)

	_, err = Build([]config.SourceConfig{{Name: "x", Type: "carrier-pigeon"}}, nil, logger.NewNop())
	assert.ErrorIs(t, err, ErrUnknownSourceType)
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
