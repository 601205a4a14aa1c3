package sources

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"MacroPulse/internal/domain/models"
	drepo "MacroPulse/internal/domain/repository"
	"MacroPulse/pkg/logger"
)

// GuardConfig bounds the request rate to a provider and trips a circuit
// breaker after consecutive transient failures.
type GuardConfig struct {
	RatePerSecond    float64       // 0 disables rate limiting
	Burst            int           // defaults to 1
	FailureThreshold uint32        // consecutive failures before opening; 0 disables the breaker
	OpenTimeout      time.Duration // how long the breaker stays open
}

// Guard decorates a Source with a rate limiter and a circuit breaker. Only
// transient failures count against the breaker; an open breaker fails fast
// with a transient error.
type Guard struct {
	next    drepo.Source
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
}

// NewGuard wraps next.
func NewGuard(next drepo.Source, cfg GuardConfig, log *logger.Logger) *Guard {
	g := &Guard{next: next}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	if cfg.FailureThreshold > 0 {
		threshold := cfg.FailureThreshold
		g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        next.Name(),
			MaxRequests: 1,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || Classify(err) == Permanent
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("source breaker state changed",
					logger.String("source", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			},
		})
	}
	return g
}

func (g *Guard) Name() string { return g.next.Name() }

func (g *Guard) Fetch(ctx context.Context, symbol string) (models.RawObservation, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return models.RawObservation{}, NewTransient(g.Name(), symbol, err)
		}
	}
	if g.cb == nil {
		return g.next.Fetch(ctx, symbol)
	}
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Fetch(ctx, symbol)
	})
	if err != nil {
		if Classify(err) == Permanent {
			return models.RawObservation{}, err
		}
		return models.RawObservation{}, NewTransient(g.Name(), symbol, err)
	}
	return res.(models.RawObservation), nil
}

// State reports the breaker state, "disabled" when no breaker is configured.
func (g *Guard) State() string {
	if g.cb == nil {
		return "disabled"
	}
	return g.cb.State().String()
}
