package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"MacroPulse/internal/domain/models"
	"MacroPulse/internal/domain/repository"
	"MacroPulse/internal/handler/api"
	mid "MacroPulse/internal/middleware"
	internalrepo "MacroPulse/internal/repository"
	"MacroPulse/internal/service/cache"
	"MacroPulse/internal/service/fallback"
	"MacroPulse/internal/service/ratelimit"
	"MacroPulse/internal/service/sources"
	"MacroPulse/internal/services/signals"
	"MacroPulse/internal/usecase"
	pkgch "MacroPulse/pkg/clickhouse"
	"MacroPulse/pkg/config"
	xhttp "MacroPulse/pkg/http"
	pkgkafka "MacroPulse/pkg/kafka"
	applogger "MacroPulse/pkg/logger"
	"MacroPulse/pkg/metrics"
	"MacroPulse/pkg/server"
)

const (
	startupTimeout  = 10 * time.Second
	responseCacheNS = "macropulse:resp:"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRedisClient creates a Redis client when a Redis-backed fallback store
// is configured; nil otherwise.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.Fallback.Backend == "memory" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}
	return rdb, nil
}

// ProvideFallbackStore builds the configured fallback backend and seeds static values.
func ProvideFallbackStore(cfg *config.Config, rdb *redis.Client) (repository.FallbackStore, error) {
	opts := []fallback.Option{fallback.WithMaxAge(cfg.Fallback.MaxAge)}
	var store repository.FallbackStore
	switch cfg.Fallback.Backend {
	case "redis":
		store = fallback.NewRedisStore(rdb, cfg.Fallback.KeyPrefix, opts...)
	case "layered":
		store = fallback.NewLayeredStore(fallback.NewMemoryStore(opts...), fallback.NewRedisStore(rdb, cfg.Fallback.KeyPrefix, opts...))
	default:
		store = fallback.NewMemoryStore(opts...)
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	if err := fallback.Seed(ctx, store, cfg.Fallback.Seeds, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("fallback seeds: %w", err)
	}
	return store, nil
}

// ProvideResponseCache shares source responses through Redis when available.
func ProvideResponseCache(rdb *redis.Client) cache.BytesCache {
	if rdb == nil {
		return cache.NewTTLCache()
	}
	return cache.NewRedisCache(rdb, responseCacheNS)
}

// ProvideSourceRegistry builds one adapter per configured source.
func ProvideSourceRegistry(cfg *config.Config, respCache cache.BytesCache, log *applogger.Logger) (*sources.Registry, error) {
	return sources.Build(cfg.Sources, respCache, log)
}

// ProvideSpecs converts indicator config into specs.
func ProvideSpecs(cfg *config.Config) ([]models.IndicatorSpec, error) {
	return usecase.BuildSpecs(cfg.Indicators)
}

// ProvideAggregator applies the configured consensus policy.
func ProvideAggregator(cfg *config.Config) *signals.Aggregator {
	return signals.NewAggregator(signals.Policy{
		TieBreak:  models.Verdict(cfg.Consensus.TieBreak),
		MinVoters: cfg.Consensus.MinVoters,
	})
}

// ProvideOrchestrator creates the fetch orchestrator.
func ProvideOrchestrator(
	cfg *config.Config,
	reg *sources.Registry,
	fb repository.FallbackStore,
	norm *signals.Normalizer,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.Orchestrator {
	return usecase.NewOrchestrator(reg, fb, norm, m, log, usecase.FetchOptions{
		Workers:        cfg.Cycle.Workers,
		Attempts:       cfg.Retry.Attempts,
		AttemptTimeout: cfg.Retry.AttemptTimeout,
		BackoffMin:     cfg.Retry.BackoffMin,
		BackoffMax:     cfg.Retry.BackoffMax,
		Deadline:       cfg.Cycle.Deadline,
	})
}

// ProvideHistoryStore connects to ClickHouse and prepares the schema; nil when disabled.
func ProvideHistoryStore(cfg *config.Config, log *applogger.Logger) (*internalrepo.CHHistoryStore, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.HistorySchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	log.Info("clickhouse ready", applogger.String("database", cfg.ClickHouse.Database))
	return internalrepo.NewCHHistoryStore(client.DB(), log), nil
}

// ProvideKafkaProducer creates a Kafka producer; nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideCycleRunner creates the cycle runner with optional history and publishing.
func ProvideCycleRunner(
	specs []models.IndicatorSpec,
	orch *usecase.Orchestrator,
	classifier *signals.Classifier,
	aggregator *signals.Aggregator,
	m repository.Metrics,
	log *applogger.Logger,
	history *internalrepo.CHHistoryStore,
	producer *pkgkafka.Producer,
	cfg *config.Config,
) *usecase.CycleRunner {
	var opts []usecase.CycleOption
	if history != nil {
		opts = append(opts, usecase.WithHistory(history))
	}
	if producer != nil {
		opts = append(opts, usecase.WithPublisher(internalrepo.NewKafkaReportPublisher(producer, cfg.Kafka.ReportTopic)))
	}
	return usecase.NewCycleRunner(specs, orch, classifier, aggregator, m, log, opts...)
}

// ProvideHTTPHandler creates the consensus API handler.
func ProvideHTTPHandler(log *applogger.Logger, runner *usecase.CycleRunner, history *internalrepo.CHHistoryStore, reg *sources.Registry) *api.ConsensusEchoHandler {
	var hr api.HistoryReader
	if history != nil {
		hr = history
	}
	return api.NewConsensusEchoHandler(log, runner, hr, reg)
}

// ProvideHTTPServer creates the Echo server.
func ProvideHTTPServer(cfg *config.Config, h *api.ConsensusEchoHandler, log *applogger.Logger) *xhttp.Server {
	return xhttp.NewServer(h, log,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithRateLimiter(ratelimit.New(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst)),
	)
}

// Ingest groups the optional Kafka ingest path for fallback updates.
type Ingest struct {
	Consumer *pkgkafka.Consumer
	Handler  *usecase.KafkaIngestHandler
	Pipeline *mid.IngestPipeline
}

// ProvideIngest builds the Kafka consumer feeding the fallback store; nil when
// Kafka is disabled.
func ProvideIngest(cfg *config.Config, fb repository.FallbackStore, specs []models.IndicatorSpec, m repository.Metrics, log *applogger.Logger) (*Ingest, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.IngestTopic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.HookFuncs{
		Err: func(context.Context, string, kafka.Message, error) {
			m.RecordError("ingest_consume")
		},
	})

	ids := make([]string, 0, len(specs))
	for _, s := range specs {
		if !s.Derived() {
			ids = append(ids, s.ID)
		}
	}
	pipe := mid.NewIngestPipeline(usecase.NewFallbackIngest(fb), m, mid.WithKnownIndicators(ids))
	return &Ingest{
		Consumer: consumer,
		Handler:  usecase.NewKafkaIngestHandler(cfg.Kafka.IngestTopic, pipe, m),
		Pipeline: pipe,
	}, nil
}

// ProvideApp assembles the application and registers resources to close on shutdown.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	runner *usecase.CycleRunner,
	reg *sources.Registry,
	srv *xhttp.Server,
	rdb *redis.Client,
	history *internalrepo.CHHistoryStore,
	producer *pkgkafka.Producer,
	ingest *Ingest,
) *server.App {
	var opts []server.Option
	if rdb != nil {
		opts = append(opts, server.WithCloser("redis", rdb))
	}
	if producer != nil {
		opts = append(opts, server.WithCloser("kafka producer", producer))
		if cfg.Log.Collector.Enabled {
			log.AddCollector(&applogger.CollectionConfig{
				TimeInterval:   cfg.Log.Collector.FlushInterval,
				CountThreshold: cfg.Log.Collector.MaxEntries,
				Topic:          cfg.Kafka.LogTopic,
				Publisher:      producer,
				CollectWarn:    true,
			})
			opts = append(opts, server.WithCloser("log collector", closerFunc(func() error {
				log.RemoveCollector()
				return nil
			})))
		}
	}
	if history != nil {
		opts = append(opts, server.WithCloser("clickhouse", history))
	}
	if ingest != nil {
		opts = append(opts, server.WithIngest(ingest.Consumer, ingest.Handler, ingest.Pipeline))
	}
	return server.New(cfg, log, runner, reg, srv, opts...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var _ io.Closer = closerFunc(nil)
