package sagas

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SagaStep represents a single step in a saga
type SagaStep struct {
	Name       string
	Execute    func(ctx context.Context, data any) (any, error)
	Compensate func(ctx context.Context, data any) error
	MaxRetries int
	RetryDelay time.Duration
}

// SagaState represents the current state of a saga execution
type SagaState string

const (
	SagaStatePending      SagaState = "PENDING"
	SagaStateRunning      SagaState = "RUNNING"
	SagaStateCompleted    SagaState = "COMPLETED"
	SagaStateFailed       SagaState = "FAILED"
	SagaStateCompensating SagaState = "COMPENSATING"
	SagaStateCompensated  SagaState = "COMPENSATED"
)

// Saga orchestrates a series of steps with compensation logic. A saga runs
// once; build a new one per execution.
type Saga struct {
	id            string
	name          string
	steps         []SagaStep
	compensations []func(ctx context.Context) error
	onFailure     func(ctx context.Context, step string, err error)
	state         SagaState
	currentStep   int
	logger        *zap.Logger
	fields        []zap.Field
}

// NewSaga creates a new saga instance
func NewSaga(name string, logger *zap.Logger) *Saga {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saga{
		id:     uuid.NewString(),
		name:   name,
		state:  SagaStatePending,
		logger: logger,
	}
}

// AddStep adds a step to the saga
func (s *Saga) AddStep(step SagaStep) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// OnFailure registers a hook that runs after compensation when a step fails.
func (s *Saga) OnFailure(fn func(ctx context.Context, step string, err error)) *Saga {
	s.onFailure = fn
	return s
}

// WithFields adds log fields to every saga log line
func (s *Saga) WithFields(fields ...zap.Field) *Saga {
	s.fields = append(s.fields, fields...)
	return s
}

// Execute runs the saga
func (s *Saga) Execute(ctx context.Context, initialData any) (any, error) {
	s.state = SagaStateRunning
	s.logger.Debug("Starting saga execution", s.logFields(zap.Int("totalSteps", len(s.steps)))...)

	data := initialData
	for i, step := range s.steps {
		s.currentStep = i

		result, err := s.executeStepWithRetry(ctx, step, data)
		if err != nil {
			s.state = SagaStateFailed
			s.logger.Warn("Saga step failed", s.logFields(zap.String("step", step.Name), zap.Error(err))...)

			s.compensate(ctx)
			s.state = SagaStateCompensated
			if s.onFailure != nil {
				s.onFailure(ctx, step.Name, err)
			}
			return nil, fmt.Errorf("saga %s failed at step %s: %w", s.name, step.Name, err)
		}

		data = result
		if step.Compensate != nil {
			stepData := data
			compensate := step.Compensate
			s.compensations = append(s.compensations, func(ctx context.Context) error {
				return compensate(ctx, stepData)
			})
		}
	}

	s.state = SagaStateCompleted
	s.logger.Debug("Saga completed", s.logFields(zap.Int("completedSteps", len(s.steps)))...)
	return data, nil
}

// executeStepWithRetry executes a step with retry logic. Waits between
// attempts end early when ctx is done.
func (s *Saga) executeStepWithRetry(ctx context.Context, step SagaStep, data any) (any, error) {
	attempts := step.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	delay := step.RetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay * time.Duration(1<<(attempt-1))):
			}
		}

		result, err := step.Execute(ctx, data)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// compensate runs compensation logic in reverse order. A failing
// compensation is logged and the remaining ones still run.
func (s *Saga) compensate(ctx context.Context) {
	s.state = SagaStateCompensating
	for i := len(s.compensations) - 1; i >= 0; i-- {
		if err := s.compensations[i](ctx); err != nil {
			s.logger.Error("Compensation failed", s.logFields(zap.Int("step", i+1), zap.Error(err))...)
		}
	}
}

func (s *Saga) logFields(extra ...zap.Field) []zap.Field {
	fields := make([]zap.Field, 0, len(s.fields)+len(extra)+2)
	fields = append(fields, zap.String("sagaID", s.id), zap.String("saga", s.name))
	fields = append(fields, s.fields...)
	return append(fields, extra...)
}

// GetState returns the current state of the saga
func (s *Saga) GetState() SagaState {
	return s.state
}

// GetID returns the saga ID
func (s *Saga) GetID() string {
	return s.id
}

// GetCurrentStep returns the current step index
func (s *Saga) GetCurrentStep() int {
	return s.currentStep
}
