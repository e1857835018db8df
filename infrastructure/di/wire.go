//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"ideaflow/infrastructure/config"

	"github.com/google/wire"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideClock,
	ProvidePolicyHolder,
	ProvidePolicyWatcher,
	ProvideAWSConfig,
	ProvideCollector,
	ProvideCloudWatchMetrics,
	ProvideMetrics,
	ProvideTracer,
	ProvideSessionStore,
	ProvideReadinessChecks,
	ProvideModels,
	ProvideClassifier,
	ProvideEmbedder,
	ProvideContentProducer,
	ProvideHub,
	ProvideNotifiers,
	ProvideOutbox,
	ProvidePipeline,
	ProvidePlanService,
	ProvideSessionManager,
	ProvideCommandBus,
	ProvideQueryBus,
	ProvideIngestLimiter,
	ProvideHTTPHandler,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
