package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	applogger "MacroPulse/pkg/logger"
)

type denyAfter struct {
	n    int
	seen map[string]int
}

func (d *denyAfter) Allow(key string) bool {
	d.seen[key]++
	return d.seen[key] <= d.n
}

func serve(e *echo.Echo, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	e := echo.New()
	e.Use(RateLimit(&denyAfter{n: 1, seen: map[string]int{}}, "/healthz"))
	e.GET("/api/consensus", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(e, "/api/consensus").Code)
	rec := serve(e, "/api/consensus")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(e, "/healthz").Code)
	}
}

func TestRecoverReturns500(t *testing.T) {
	e := echo.New()
	e.Use(Recover(applogger.NewNop()))
	e.GET("/boom", func(c echo.Context) error { panic("boom") })

	rec := serve(e, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal Server Error")
}

func TestLoggingAndMetricsHandleErrorsOnce(t *testing.T) {
	e := echo.New()
	e.Use(RequestLogging(applogger.NewNop()))
	e.Use(Metrics(prometheus.NewRegistry(), applogger.NewNop(), 0))
	e.GET("/missing", func(c echo.Context) error { return echo.ErrNotFound })

	rec := serve(e, "/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "4xx", statusClass(429))
	assert.Equal(t, "5xx", statusClass(503))
}
