package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ideaflow/application/commands"
	"ideaflow/application/commands/bus"
	"ideaflow/application/ports"
	"ideaflow/application/queries"
	querybus "ideaflow/application/queries/bus"
	"ideaflow/application/services"
	domainconfig "ideaflow/domain/config"
	"ideaflow/domain/core/validators"
	domain "ideaflow/domain/services"
	"ideaflow/domain/services/planning"
	"ideaflow/infrastructure/ai"
	"ideaflow/infrastructure/ai/genai"
	"ideaflow/infrastructure/config"
	"ideaflow/infrastructure/messaging/eventbridge"
	"ideaflow/infrastructure/messaging/stream"
	"ideaflow/infrastructure/messaging/websocket"
	"ideaflow/infrastructure/persistence"
	"ideaflow/infrastructure/persistence/dynamodb"
	"ideaflow/infrastructure/persistence/memory"
	"ideaflow/infrastructure/persistence/schema"
	"ideaflow/infrastructure/persistence/sqlite"
	"ideaflow/interfaces/http/rest"
	"ideaflow/interfaces/http/rest/handlers"
	"ideaflow/pkg/observability"
	"ideaflow/pkg/ratelimit"
	"ideaflow/pkg/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	zapCfg.Level = level
	return zapCfg.Build()
}

// ProvideClock returns the wall clock
func ProvideClock() ports.Clock {
	return utils.SystemClock{}
}

// ProvidePolicyHolder loads the pipeline policy for the environment
func ProvidePolicyHolder(cfg *config.Config) (*domainconfig.Holder, error) {
	policy, err := config.LoadPolicy(cfg.Environment, cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	return domainconfig.NewHolder(policy), nil
}

// ProvidePolicyWatcher creates the hot reload watcher, nil when disabled
func ProvidePolicyWatcher(cfg *config.Config, holder *domainconfig.Holder, logger *zap.Logger) (*config.PolicyWatcher, func(), error) {
	if !cfg.HotReload {
		return nil, func() {}, nil
	}
	watcher, err := config.NewPolicyWatcher(cfg.PolicyFile, cfg.Environment, holder, logger)
	if err != nil {
		return nil, nil, err
	}
	return watcher, watcher.Stop, nil
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideCollector creates the Prometheus collector, nil when disabled
func ProvideCollector(cfg *config.Config) *observability.Collector {
	if !cfg.EnableMetrics {
		return nil
	}
	return observability.NewCollector(cfg.MetricsNamespace)
}

// ProvideCloudWatchMetrics creates the CloudWatch publisher, nil when disabled
func ProvideCloudWatchMetrics(cfg *config.Config, awsCfg aws.Config, logger *zap.Logger) *observability.CloudWatchMetrics {
	if !cfg.EnableCloudWatch {
		return nil
	}
	namespace := fmt.Sprintf("IdeaFlow/%s", cfg.Environment)
	return observability.NewCloudWatchMetrics(awscloudwatch.NewFromConfig(awsCfg), namespace, logger)
}

// ProvideMetrics fans pipeline metrics out to every enabled sink
func ProvideMetrics(collector *observability.Collector, cloudWatch *observability.CloudWatchMetrics) ports.PipelineMetrics {
	var sinks ports.MultiMetrics
	if collector != nil {
		sinks = append(sinks, collector)
	}
	if cloudWatch != nil {
		sinks = append(sinks, cloudWatch)
	}
	if len(sinks) == 0 {
		return ports.NopMetrics{}
	}
	return sinks
}

// ProvideTracer initialises tracing and flushes spans on cleanup
func ProvideTracer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*observability.Tracer, func(), error) {
	tracer, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.EnableTracing,
		ServiceName:    "ideaflow",
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(ctx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}
	return tracer, cleanup, nil
}

// ProvideSessionStore opens the configured backend behind the retry decorator
func ProvideSessionStore(cfg *config.Config, awsCfg aws.Config, clock ports.Clock, metrics ports.PipelineMetrics, logger *zap.Logger) (ports.SessionStore, func(), error) {
	codec := schema.NewSchemaEvolution(nil)
	cleanup := func() {}

	var store ports.SessionStore
	switch cfg.StoreBackend {
	case config.StoreDynamoDB:
		store = dynamodb.NewSessionStore(awsdynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable, codec, clock, logger)
	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.SQLitePath, codec, clock, logger)
		if err != nil {
			return nil, nil, err
		}
		store = db
		cleanup = func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close sqlite store", zap.Error(err))
			}
		}
	default:
		store = memory.NewStore(codec, clock, logger)
	}

	logger.Info("Session store ready", zap.String("backend", cfg.StoreBackend))
	return persistence.NewRetryingStore(store, persistence.DefaultRetryConfig(), metrics, logger), cleanup, nil
}

// ProvideReadinessChecks exposes store health on /ready
func ProvideReadinessChecks(store ports.SessionStore) map[string]handlers.Check {
	checks := map[string]handlers.Check{}
	inner := store
	if r, ok := store.(*persistence.RetryingStore); ok {
		inner = r.Unwrap()
	}
	if p, ok := inner.(interface{ Ping(context.Context) error }); ok {
		checks["store"] = p.Ping
	}
	return checks
}

// ProvideModels creates the generative model client, nil without an API key
func ProvideModels(ctx context.Context, cfg *config.Config, logger *zap.Logger) (genai.Models, error) {
	if cfg.GenAIAPIKey == "" {
		logger.Info("No model API key configured, using heuristic capabilities")
		return nil, nil
	}
	return genai.NewModels(ctx, cfg.GenAIAPIKey)
}

// ProvideClassifier returns the model classifier behind a breaker, or nil
// for the heuristic classifier
func ProvideClassifier(models genai.Models, cfg *config.Config, logger *zap.Logger) domain.Classifier {
	if models == nil {
		return nil
	}
	return ai.NewBreakingClassifier(genai.NewClassifier(models, cfg.GenAITextModel), domain.HeuristicClassifier{}, ai.DefaultBreakerConfig(), logger)
}

// ProvideEmbedder returns the model embedder behind a breaker, or nil for
// lexical similarity
func ProvideEmbedder(models genai.Models, cfg *config.Config, logger *zap.Logger) domain.Embedder {
	if models == nil {
		return nil
	}
	return ai.NewBreakingEmbedder(genai.NewEmbedder(models, cfg.GenAIEmbeddingModel), ai.DefaultBreakerConfig(), logger)
}

// ProvideContentProducer returns the model producer with template fallback,
// or the template producer alone
func ProvideContentProducer(models genai.Models, cfg *config.Config, logger *zap.Logger) planning.ContentProducer {
	if models == nil {
		return planning.NewTemplateProducer()
	}
	return ai.NewBreakingProducer(genai.NewProducer(models, cfg.GenAITextModel), planning.NewTemplateProducer(), ai.DefaultBreakerConfig(), logger)
}

// ProvideHub creates the live stream hub
func ProvideHub(logger *zap.Logger) (*stream.Hub, func()) {
	hub := stream.NewHub(logger)
	return hub, hub.Close
}

// ProvideNotifiers assembles the configured notification targets
func ProvideNotifiers(cfg *config.Config, awsCfg aws.Config, hub *stream.Hub, logger *zap.Logger) []ports.Notifier {
	notifiers := []ports.Notifier{hub}
	if cfg.EventBusName != "" {
		notifiers = append(notifiers, eventbridge.NewNotifier(awseventbridge.NewFromConfig(awsCfg), cfg.EventBusName, cfg.EventSource, logger))
	}
	if cfg.WebSocketEndpoint != "" {
		registry := websocket.NewRegistry(awsdynamodb.NewFromConfig(awsCfg), cfg.ConnectionsTable)
		notifiers = append(notifiers, websocket.NewNotifier(websocket.NewManagementClient(awsCfg, cfg.WebSocketEndpoint), registry, logger))
	}
	return notifiers
}

// ProvideOutbox creates the notification outbox
func ProvideOutbox(notifiers []ports.Notifier, metrics ports.PipelineMetrics, logger *zap.Logger) (*services.NotificationOutbox, func()) {
	outbox := services.NewNotificationOutbox(notifiers, services.DefaultOutboxConfig(), metrics, logger)
	cleanup := func() {
		outbox.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if pending := outbox.Flush(ctx); pending > 0 {
			logger.Warn("Notifications left undelivered", zap.Int("pending", pending))
		}
	}
	return outbox, cleanup
}

// ProvidePipeline creates the extraction pipeline
func ProvidePipeline(holder *domainconfig.Holder, classifier domain.Classifier, embedder domain.Embedder, clock ports.Clock, metrics ports.PipelineMetrics, logger *zap.Logger) *services.Pipeline {
	return services.NewPipeline(holder, classifier, embedder, clock, metrics, logger)
}

// ProvidePlanService creates the plan service
func ProvidePlanService(producer planning.ContentProducer, holder *domainconfig.Holder, clock ports.Clock, metrics ports.PipelineMetrics, logger *zap.Logger) *services.PlanService {
	return services.NewPlanService(producer, holder, clock, metrics, logger)
}

// ProvideSessionManager creates the session manager and stops its workers
// on cleanup
func ProvideSessionManager(
	cfg *config.Config,
	store ports.SessionStore,
	pipeline *services.Pipeline,
	planner *services.PlanService,
	outbox *services.NotificationOutbox,
	metrics ports.PipelineMetrics,
	logger *zap.Logger,
) (*services.SessionManager, func()) {
	manager := services.NewSessionManager(store, pipeline, planner, outbox, metrics, logger)
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(ctx); err != nil {
			logger.Warn("Session manager shutdown incomplete", zap.Error(err))
		}
	}
	return manager, cleanup
}

// ProvideCommandBus creates a command bus with registered handlers
func ProvideCommandBus(manager *services.SessionManager, holder *domainconfig.Holder, tracer *observability.Tracer, logger *zap.Logger) (*bus.CommandBus, error) {
	policy := holder.Current()
	commandBus := bus.NewCommandBus(
		bus.LoggingMiddleware(logger),
		bus.TracingMiddleware(tracer.Tracer()),
		bus.TimeoutMiddleware(30*time.Second),
	)
	sessionHandlers := commands.NewSessionHandlers(manager, validators.NewMessageValidator(policy.MaxContentLength, policy.MaxParticipants), logger)
	if err := sessionHandlers.Register(commandBus); err != nil {
		return nil, err
	}
	return commandBus, nil
}

// ProvideQueryBus creates a query bus with registered handlers
func ProvideQueryBus(manager *services.SessionManager, store ports.SessionStore, logger *zap.Logger) (*querybus.QueryBus, error) {
	queryBus := querybus.NewQueryBus(logger)
	if err := queries.NewSessionQueries(manager, store).Register(queryBus); err != nil {
		return nil, err
	}
	return queryBus, nil
}

// ProvideIngestLimiter creates the per-session ingestion limiter, nil when
// disabled
func ProvideIngestLimiter(cfg *config.Config, awsCfg aws.Config) ratelimit.Limiter {
	if cfg.IngestRateLimit == 0 {
		return nil
	}
	if cfg.RateLimitTable != "" {
		return ratelimit.NewDynamoDBLimiter(awsdynamodb.NewFromConfig(awsCfg), cfg.RateLimitTable, cfg.IngestRateLimit, time.Minute, "INGEST")
	}
	return ratelimit.NewSlidingWindowLimiter(cfg.IngestRateLimit, time.Minute)
}

// ProvideHTTPHandler builds the HTTP router
func ProvideHTTPHandler(
	cfg *config.Config,
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	collector *observability.Collector,
	hub *stream.Hub,
	limiter ratelimit.Limiter,
	checks map[string]handlers.Check,
	logger *zap.Logger,
) http.Handler {
	opts := rest.RouterOptions{
		EnableCORS:     cfg.EnableCORS,
		AllowedOrigins: cfg.AllowedOrigins,
		Debug:          cfg.IsDevelopment(),
		Collector:      collector,
		IngestLimiter:  limiter,
		Checks:         checks,
	}
	// API Gateway cannot hold WebSocket upgrades; Lambda clients use the
	// managed WebSocket API instead.
	if !cfg.IsLambda {
		opts.Hub = hub
	}
	return rest.NewRouter(commandBus, queryBus, opts, logger).Setup()
}
