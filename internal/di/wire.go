//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"MacroPulse/internal/services/signals"
	"MacroPulse/pkg/config"
	"MacroPulse/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisClient,
		ProvideHistoryStore,
		ProvideKafkaProducer,

		// Sources and fallback
		ProvideFallbackStore,
		ProvideResponseCache,
		ProvideSourceRegistry,

		// Signal pipeline
		ProvideSpecs,
		signals.NewNormalizer,
		signals.NewClassifier,
		ProvideAggregator,
		ProvideOrchestrator,
		ProvideCycleRunner,

		// Transport
		ProvideHTTPHandler,
		ProvideHTTPServer,
		ProvideIngest,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
