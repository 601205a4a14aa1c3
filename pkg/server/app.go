package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/robfig/cron/v3"

	"MacroPulse/internal/domain/models"
	mid "MacroPulse/internal/middleware"
	"MacroPulse/internal/service/sources"
	"MacroPulse/internal/usecase"
	"MacroPulse/pkg/config"
	xhttp "MacroPulse/pkg/http"
	pkgkafka "MacroPulse/pkg/kafka"
	applogger "MacroPulse/pkg/logger"
)

// App encapsulates the application lifecycle.
type App struct {
	cfg      *config.Config
	log      *applogger.Logger
	runner   *usecase.CycleRunner
	registry *sources.Registry
	http     *xhttp.Server

	// optional, nil when Kafka is disabled
	consumer *pkgkafka.Consumer
	ingest   pkgkafka.MessageHandler
	pipeline *mid.IngestPipeline

	closers []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// Option configures optional App parts.
type Option func(*App)

// WithIngest consumes fallback updates through pipeline.
func WithIngest(consumer *pkgkafka.Consumer, h pkgkafka.MessageHandler, pipeline *mid.IngestPipeline) Option {
	return func(a *App) {
		a.consumer, a.ingest, a.pipeline = consumer, h, pipeline
	}
}

// WithCloser closes c on shutdown. Closers run in reverse order of registration.
func WithCloser(name string, c io.Closer) Option {
	return func(a *App) {
		if c != nil {
			a.closers = append(a.closers, namedCloser{name: name, c: c})
		}
	}
}

// New creates a new App.
func New(cfg *config.Config, log *applogger.Logger, runner *usecase.CycleRunner, registry *sources.Registry, http *xhttp.Server, opts ...Option) *App {
	a := &App{cfg: cfg, log: log, runner: runner, registry: registry, http: http}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run starts every component and blocks until ctx ends, then shuts down.
func (a *App) Run(ctx context.Context) error {
	a.registry.RunStreams(ctx)
	a.warmStart(ctx)

	if a.consumer != nil && a.ingest != nil {
		a.pipeline.Start(ctx)
		a.consumer.RegisterHandler(a.ingest)
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
	}

	if err := a.http.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{a.log})))
	if _, err := sched.AddFunc(a.cfg.Cycle.Schedule, func() { a.runCycle(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", a.cfg.Cycle.Schedule, err)
	}
	sched.Start()
	a.log.Info("scheduler started",
		applogger.String("schedule", a.cfg.Cycle.Schedule),
		applogger.Strings("sources", a.registry.Names()),
	)
	if a.cfg.Cycle.RunOnStart {
		go a.runCycle(ctx)
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown(sched)
}

// RunOnce runs a single cycle and releases resources.
func (a *App) RunOnce(ctx context.Context) (*models.CycleReport, error) {
	a.registry.RunStreams(ctx)
	a.warmStart(ctx)
	report, err := a.runner.RunCycle(ctx)
	a.closeAll()
	return report, err
}

func (a *App) warmStart(ctx context.Context) {
	if !a.cfg.Cycle.WarmStart {
		return
	}
	n, err := a.runner.WarmStart(ctx)
	if err != nil {
		a.log.Warn("warm start failed", applogger.Error(err))
		return
	}
	a.log.Info("warm start", applogger.Int("indicators", n))
}

func (a *App) runCycle(ctx context.Context) {
	if _, err := a.runner.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error("scheduled cycle failed", applogger.Error(err))
	}
}

func (a *App) shutdown(sched *cron.Cron) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.http.ShutdownTimeout())
	defer cancel()

	var errs []error
	select {
	case <-sched.Stop().Done():
	case <-ctx.Done():
		a.log.Warn("cycle still running at shutdown")
	}
	if err := a.http.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		a.pipeline.Stop()
	}
	a.closeAll()

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		nc := a.closers[i]
		if err := nc.c.Close(); err != nil {
			a.log.Warn("close failed", applogger.String("component", nc.name), applogger.Error(err))
		}
	}
	a.closers = nil
}

// cronLogger routes scheduler events to the app logger.
type cronLogger struct {
	l *applogger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(kvFields(keysAndValues), applogger.Error(err))...)
}

func kvFields(kv []interface{}) []applogger.Field {
	out := make([]applogger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, applogger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

var _ cron.Logger = cronLogger{}
