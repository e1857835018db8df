package rest

import (
	"net/http"

	"ideaflow/application/commands/bus"
	querybus "ideaflow/application/queries/bus"
	"ideaflow/infrastructure/messaging/stream"
	"ideaflow/interfaces/http/rest/handlers"
	"ideaflow/interfaces/http/rest/middleware"
	pkgerrors "ideaflow/pkg/errors"
	"ideaflow/pkg/observability"
	"ideaflow/pkg/ratelimit"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterOptions carries the optional parts of the HTTP surface
type RouterOptions struct {
	EnableCORS     bool
	AllowedOrigins []string
	Debug          bool
	// Collector enables /metrics and request metrics when set
	Collector *observability.Collector
	// Hub enables the live event stream when set
	Hub *stream.Hub
	// IngestLimiter bounds message ingestion per session when set
	IngestLimiter ratelimit.Limiter
	Checks        map[string]handlers.Check
}

// Router creates and configures the HTTP router
type Router struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	opts       RouterOptions
	logger     *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	opts RouterOptions,
	logger *zap.Logger,
) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		commandBus: commandBus,
		queryBus:   queryBus,
		opts:       opts,
		logger:     logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	errorHandler := pkgerrors.NewErrorHandler(rt.logger, rt.opts.Debug)
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(errorHandler.Middleware)
	router.Use(middleware.Logger(rt.logger))
	if rt.opts.Collector != nil {
		router.Use(middleware.Metrics(rt.opts.Collector))
	}
	if rt.opts.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	health := handlers.NewHealthHandler(rt.opts.Checks, rt.logger)
	router.Get("/health", health.Health)
	router.Get("/ready", health.Ready)
	if rt.opts.Collector != nil {
		router.Handle("/metrics", promhttp.HandlerFor(rt.opts.Collector.Registry(), promhttp.HandlerOpts{}))
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errorHandler.Handle(w, r, pkgerrors.NewNotFoundError("route").WithStatus(http.StatusNotFound))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errorHandler.HandleStatus(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	var ingestLimits []func(http.Handler) http.Handler
	if rt.opts.IngestLimiter != nil {
		ingestLimits = append(ingestLimits, middleware.SessionRateLimit(rt.opts.IngestLimiter, errorHandler, rt.logger))
	}

	router.Route("/api/v1/sessions", func(r chi.Router) {
		var streamHandler http.HandlerFunc
		if rt.opts.Hub != nil {
			streamHandler = handlers.NewStreamHandler(rt.opts.Hub, rt.queryBus, rt.opts.AllowedOrigins, errorHandler, rt.logger).Stream
		}
		sessions := handlers.NewSessionHandler(rt.commandBus, rt.queryBus, errorHandler, rt.logger)
		sessions.Routes(r, streamHandler, ingestLimits...)
	})

	return router
}
