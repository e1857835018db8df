package di

import (
	"context"
	"net/http"
	"time"

	"ideaflow/application/commands/bus"
	querybus "ideaflow/application/queries/bus"
	"ideaflow/application/services"
	domainconfig "ideaflow/domain/config"
	"ideaflow/infrastructure/config"
	"ideaflow/pkg/observability"

	"go.uber.org/zap"
)

// Container holds all application dependencies
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	Policy     *domainconfig.Holder
	Watcher    *config.PolicyWatcher
	Manager    *services.SessionManager
	Outbox     *services.NotificationOutbox
	CommandBus *bus.CommandBus
	QueryBus   *querybus.QueryBus
	Handler    http.Handler
	Collector  *observability.Collector
	CloudWatch *observability.CloudWatchMetrics
	Tracer     *observability.Tracer
}

// Start launches the background loops: notification delivery, policy hot
// reload and periodic CloudWatch publishing. They stop when ctx is done or
// the container cleanup runs.
func (c *Container) Start(ctx context.Context) {
	c.Outbox.Start(ctx)
	if c.Watcher != nil {
		c.Watcher.Start()
	}
	if c.CloudWatch != nil && !c.Config.IsLambda {
		go c.CloudWatch.Run(ctx, time.Minute)
	}
}

// FlushMetrics publishes buffered CloudWatch metrics. Lambda handlers call
// it at the end of each invocation.
func (c *Container) FlushMetrics(ctx context.Context) {
	if c.CloudWatch != nil {
		c.CloudWatch.Flush(ctx)
	}
}
