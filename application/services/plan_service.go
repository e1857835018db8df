package services

import (
	"context"
	"time"

	"ideaflow/application/ports"
	"ideaflow/application/sagas"
	"ideaflow/domain/config"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/services/planning"
	pkgerrors "ideaflow/pkg/errors"
	"ideaflow/pkg/utils"

	"go.uber.org/zap"
)

// PlanService turns a plan request into an attached plan or a recorded
// failure. Generation runs off the session worker on an immutable context.
type PlanService struct {
	producer planning.ContentProducer
	policy   *config.Holder
	clock    ports.Clock
	metrics  ports.PipelineMetrics
	logger   *zap.Logger
}

// NewPlanService creates a plan service. A nil producer means the
// deterministic template producer.
func NewPlanService(producer planning.ContentProducer, policy *config.Holder, clock ports.Clock, metrics ports.PipelineMetrics, logger *zap.Logger) *PlanService {
	if producer == nil {
		producer = planning.NewTemplateProducer()
	}
	if policy == nil {
		policy = config.NewHolder(nil)
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanService{producer: producer, policy: policy, clock: clock, metrics: metrics, logger: logger}
}

// Generate runs the plan generator under the current policy.
func (s *PlanService) Generate(ctx context.Context, pc planning.PlanContext) (*entities.ProjectPlan, error) {
	started := time.Now()
	generator := planning.NewGenerator(s.producer, s.policy.Current(), s.logger).WithClock(s.clock.Now)
	plan, err := generator.Generate(ctx, pc)

	outcome := "generated"
	switch {
	case err != nil && pkgerrors.IsClarification(err):
		outcome = "clarification"
	case err != nil:
		outcome = "failed"
	case plan.Incomplete:
		outcome = "partial"
	}
	s.metrics.PlanFinished(outcome, time.Since(started))
	return plan, err
}

// Deliver generates a plan and hands it to attach, retrying attachment on
// transient storage errors. When any step fails, fail receives the cause.
func (s *PlanService) Deliver(
	ctx context.Context,
	pc planning.PlanContext,
	attach func(context.Context, *entities.ProjectPlan) error,
	fail func(context.Context, error),
) error {
	cfg := s.policy.Current()
	saga := sagas.NewSaga("plan-delivery", s.logger).
		WithFields(zap.String("sessionID", pc.SessionID.String()), zap.String("ideaID", string(pc.Idea.ID))).
		AddStep(sagas.SagaStep{
			Name: "generate",
			Execute: func(ctx context.Context, _ any) (any, error) {
				return s.Generate(ctx, pc)
			},
		}).
		AddStep(sagas.SagaStep{
			Name: "attach",
			Execute: func(ctx context.Context, data any) (any, error) {
				plan := data.(*entities.ProjectPlan)
				return plan, attach(ctx, plan)
			},
			MaxRetries: cfg.StorageRetries,
			RetryDelay: cfg.StorageBaseBackoff,
		}).
		OnFailure(func(ctx context.Context, step string, err error) {
			if pkgerrors.IsType(err, pkgerrors.ErrorTypeCancelled) || ctx.Err() != nil {
				return
			}
			if pkgerrors.IsType(err, pkgerrors.ErrorTypeInvalidOutput) {
				s.logger.Error("Plan generation failed",
					zap.String("sessionID", pc.SessionID.String()),
					zap.String("step", step),
					zap.Error(err),
				)
			}
			fail(ctx, err)
		})

	_, err := saga.Execute(ctx, nil)
	return err
}
