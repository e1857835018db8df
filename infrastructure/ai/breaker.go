// Package ai isolates the model-backed capabilities behind circuit breakers
// and falls back to the deterministic implementations while a model is down.
package ai

import (
	"context"
	"errors"
	"time"

	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
	domain "ideaflow/domain/services"
	"ideaflow/domain/services/planning"
	pkgerrors "ideaflow/pkg/errors"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig holds configuration for a capability circuit breaker
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the breaker settings used for model calls
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      2,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

func newBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Capability breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// Cancellation by the caller says nothing about the model's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

func isRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// BreakingEmbedder guards an embedder. Failures are returned to the caller,
// which scores by keyword overlap instead.
type BreakingEmbedder struct {
	next domain.Embedder
	cb   *gobreaker.CircuitBreaker
}

// NewBreakingEmbedder wraps next with a circuit breaker
func NewBreakingEmbedder(next domain.Embedder, cfg BreakerConfig, logger *zap.Logger) *BreakingEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakingEmbedder{next: next, cb: newBreaker("embedder", cfg, logger)}
}

// Embed implements domain.Embedder
func (b *BreakingEmbedder) Embed(ctx context.Context, text string) (valueobjects.Embedding, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Embed(ctx, text)
	})
	if err != nil {
		if isRejected(err) {
			return nil, pkgerrors.NewUnavailableError("embedder").WithCause(err)
		}
		return nil, err
	}
	return out.(valueobjects.Embedding), nil
}

// State reports the breaker state
func (b *BreakingEmbedder) State() gobreaker.State { return b.cb.State() }

// BreakingClassifier guards a classifier and answers with the fallback while
// the model fails or the breaker is open.
type BreakingClassifier struct {
	next     domain.Classifier
	fallback domain.Classifier
	cb       *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewBreakingClassifier wraps next; a nil fallback means the keyword heuristic
func NewBreakingClassifier(next, fallback domain.Classifier, cfg BreakerConfig, logger *zap.Logger) *BreakingClassifier {
	if fallback == nil {
		fallback = domain.HeuristicClassifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakingClassifier{next: next, fallback: fallback, cb: newBreaker("classifier", cfg, logger), logger: logger}
}

// Classify implements domain.Classifier
func (b *BreakingClassifier) Classify(ctx context.Context, content string) (domain.Classification, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Classify(ctx, content)
	})
	if err == nil {
		return out.(domain.Classification), nil
	}
	if ctx.Err() != nil {
		return domain.Classification{}, ctx.Err()
	}
	if !isRejected(err) {
		b.logger.Warn("Classifier failed, using heuristic", zap.Error(err))
	}
	return b.fallback.Classify(ctx, content)
}

// State reports the breaker state
func (b *BreakingClassifier) State() gobreaker.State { return b.cb.State() }

// BreakingProducer guards a plan content producer stage by stage and
// produces a failed stage with the fallback producer.
type BreakingProducer struct {
	next     planning.ContentProducer
	fallback planning.ContentProducer
	cb       *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewBreakingProducer wraps next; a nil fallback means the template producer
func NewBreakingProducer(next, fallback planning.ContentProducer, cfg BreakerConfig, logger *zap.Logger) *BreakingProducer {
	if fallback == nil {
		fallback = planning.NewTemplateProducer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakingProducer{next: next, fallback: fallback, cb: newBreaker("plan-producer", cfg, logger), logger: logger}
}

// State reports the breaker state
func (b *BreakingProducer) State() gobreaker.State { return b.cb.State() }

func stage[T any](ctx context.Context, b *BreakingProducer, section string, primary, fallback func() (T, error)) (T, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return primary()
	})
	if err == nil {
		return out.(T), nil
	}
	if ctx.Err() != nil {
		var zero T
		return zero, ctx.Err()
	}
	if !isRejected(err) {
		b.logger.Warn("Plan producer failed, using template", zap.String("section", section), zap.Error(err))
	}
	return fallback()
}

// ProblemStatement implements planning.ContentProducer
func (b *BreakingProducer) ProblemStatement(ctx context.Context, pc planning.PlanContext, params planning.GenerationParams) (entities.ProblemStatement, error) {
	return stage(ctx, b, entities.SectionProblem,
		func() (entities.ProblemStatement, error) { return b.next.ProblemStatement(ctx, pc, params) },
		func() (entities.ProblemStatement, error) { return b.fallback.ProblemStatement(ctx, pc, params) })
}

// Features implements planning.ContentProducer
func (b *BreakingProducer) Features(ctx context.Context, pc planning.PlanContext, problem entities.ProblemStatement, params planning.GenerationParams) ([]entities.Feature, error) {
	return stage(ctx, b, entities.SectionFeatures,
		func() ([]entities.Feature, error) { return b.next.Features(ctx, pc, problem, params) },
		func() ([]entities.Feature, error) { return b.fallback.Features(ctx, pc, problem, params) })
}

// Tasks implements planning.ContentProducer
func (b *BreakingProducer) Tasks(ctx context.Context, pc planning.PlanContext, features []entities.Feature, params planning.GenerationParams) ([]entities.Task, error) {
	return stage(ctx, b, entities.SectionTasks,
		func() ([]entities.Task, error) { return b.next.Tasks(ctx, pc, features, params) },
		func() ([]entities.Task, error) { return b.fallback.Tasks(ctx, pc, features, params) })
}

// TechStack implements planning.ContentProducer
func (b *BreakingProducer) TechStack(ctx context.Context, pc planning.PlanContext, problem entities.ProblemStatement, features []entities.Feature, params planning.GenerationParams) (entities.TechStackRecommendation, error) {
	return stage(ctx, b, entities.SectionTechStack,
		func() (entities.TechStackRecommendation, error) {
			return b.next.TechStack(ctx, pc, problem, features, params)
		},
		func() (entities.TechStackRecommendation, error) {
			return b.fallback.TechStack(ctx, pc, problem, features, params)
		})
}

// Risks implements planning.ContentProducer
func (b *BreakingProducer) Risks(ctx context.Context, pc planning.PlanContext, features []entities.Feature, timeline entities.Timeline, params planning.GenerationParams) (entities.RiskAnalysis, error) {
	return stage(ctx, b, entities.SectionRisks,
		func() (entities.RiskAnalysis, error) { return b.next.Risks(ctx, pc, features, timeline, params) },
		func() (entities.RiskAnalysis, error) { return b.fallback.Risks(ctx, pc, features, timeline, params) })
}
