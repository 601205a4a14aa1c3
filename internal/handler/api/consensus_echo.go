package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"MacroPulse/internal/domain/models"
	xhttp "MacroPulse/pkg/http"
	xlogger "MacroPulse/pkg/logger"
)

// CycleService runs cycles and exposes the latest report.
type CycleService interface {
	RunCycle(ctx context.Context) (*models.CycleReport, error)
	Latest() *models.CycleReport
}

// HistoryReader serves past consensus results.
type HistoryReader interface {
	RecentConsensus(ctx context.Context, limit int) ([]models.ConsensusResult, error)
}

// BreakerReporter reports circuit breaker state per source.
type BreakerReporter interface {
	BreakerStates() map[string]string
}

// ConsensusEchoHandler serves the latest consensus and its inputs.
type ConsensusEchoHandler struct {
	logger   *xlogger.Logger
	cycles   CycleService
	history  HistoryReader // nil when no history store is configured
	breakers BreakerReporter
}

var _ xhttp.Handler = (*ConsensusEchoHandler)(nil)

func NewConsensusEchoHandler(logger *xlogger.Logger, cycles CycleService, history HistoryReader, breakers BreakerReporter) *ConsensusEchoHandler {
	return &ConsensusEchoHandler{logger: logger, cycles: cycles, history: history, breakers: breakers}
}

func (h *ConsensusEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/consensus", h.Consensus)
	g.GET("/cycles/latest", h.LatestReport)
	g.POST("/cycles", h.RunCycle)
	g.GET("/signals", h.Signals)
	g.GET("/history", h.History)
	e.GET("/healthz", h.Health)
}

// ConsensusView is the consensus of one cycle with its identity.
type ConsensusView struct {
	CycleID string `json:"cycle_id"`
	models.ConsensusResult
}

// SignalView pairs a classified signal with the snapshot it came from.
type SignalView struct {
	Signal   models.ClassifiedSignal  `json:"signal"`
	Snapshot models.IndicatorSnapshot `json:"snapshot"`
}

// HealthView is the liveness payload.
type HealthView struct {
	Status    string            `json:"status"`
	LastCycle *time.Time        `json:"last_cycle,omitempty"`
	Breakers  map[string]string `json:"breakers,omitempty"`
}

func (h *ConsensusEchoHandler) Consensus(c echo.Context) error {
	r := h.cycles.Latest()
	if r == nil {
		return xhttp.AppErrorResponse(c, errNoCycle())
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, ConsensusView{CycleID: r.ID, ConsensusResult: r.Consensus})
}

func (h *ConsensusEchoHandler) LatestReport(c echo.Context) error {
	r := h.cycles.Latest()
	if r == nil {
		return xhttp.AppErrorResponse(c, errNoCycle())
	}
	return xhttp.SuccessResponse(c, r)
}

func (h *ConsensusEchoHandler) RunCycle(c echo.Context) error {
	// the cycle deadline bounds the run; a client going away must not cut it short
	r, err := h.cycles.RunCycle(context.WithoutCancel(c.Request().Context()))
	if err != nil {
		h.logger.Error("on-demand cycle failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("cycle aborted").WithError(err))
	}
	return xhttp.CreatedResponse(c, r)
}

func (h *ConsensusEchoHandler) Signals(c echo.Context) error {
	req := &models.SignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	r := h.cycles.Latest()
	if r == nil {
		return xhttp.AppErrorResponse(c, errNoCycle())
	}

	rows := make([]SignalView, 0, len(r.Signals))
	for i, sig := range r.Signals {
		snap := r.Snapshots[i]
		if req.Status != "" && string(snap.Status) != req.Status {
			continue
		}
		rows = append(rows, SignalView{Signal: sig, Snapshot: snap})
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *ConsensusEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.history == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("history store is not configured"))
	}

	rows, err := h.history.RecentConsensus(c.Request().Context(), req.Limit)
	if err != nil {
		h.logger.Error("history query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Health reports "degraded" while any source breaker is open or half-open.
func (h *ConsensusEchoHandler) Health(c echo.Context) error {
	v := HealthView{Status: "ok"}
	if r := h.cycles.Latest(); r != nil {
		t := r.FinishedAt
		v.LastCycle = &t
	}
	if h.breakers != nil {
		v.Breakers = h.breakers.BreakerStates()
		for _, s := range v.Breakers {
			if s == "open" || s == "half-open" {
				v.Status = "degraded"
			}
		}
	}
	return c.JSON(http.StatusOK, v)
}

func errNoCycle() *xhttp.AppError {
	return xhttp.NotFoundError("no cycle has completed yet")
}
