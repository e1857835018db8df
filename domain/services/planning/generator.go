package planning

import (
	"context"
	"errors"
	"strings"
	"time"

	"ideaflow/domain/config"
	"ideaflow/domain/core/entities"
	pkgerrors "ideaflow/pkg/errors"

	"go.uber.org/zap"
)

// Generator turns a consensus into a validated ProjectPlan. Sections are
// produced in dependency order; each stage is validated and retried with
// adjusted parameters before the generation fails.
type Generator struct {
	producer ContentProducer
	cfg      *config.DomainConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewGenerator creates a plan generator
func NewGenerator(producer ContentProducer, cfg *config.DomainConfig, logger *zap.Logger) *Generator {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		producer: producer,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source used for GeneratedAt.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// errTimedOut marks a stage interrupted by the generation budget.
var errTimedOut = errors.New("plan generation budget exhausted")

// Generate builds the plan. A generation that runs out of time returns the
// sections finished so far with Incomplete set; cancellation of ctx by the
// caller returns a cancelled error.
func (g *Generator) Generate(ctx context.Context, pc PlanContext) (*entities.ProjectPlan, error) {
	if err := g.checkContext(pc); err != nil {
		return nil, err
	}

	budget, cancel := context.WithTimeout(ctx, g.cfg.PlanTimeout)
	defer cancel()

	plan := &entities.ProjectPlan{
		ID:              "plan-" + string(pc.Idea.ID),
		SessionID:       pc.SessionID,
		ConsensusIdeaID: pc.Idea.ID,
		Consensus:       pc.Consensus,
		Features:        []entities.Feature{},
		Tasks:           []entities.Task{},
		Contributors:    pc.Contributors(),
	}

	problem, err := runStage(budget, g, plan, entities.SectionProblem,
		func(p GenerationParams) (entities.ProblemStatement, error) {
			return g.producer.ProblemStatement(budget, pc, p)
		},
		func(v entities.ProblemStatement, _ GenerationParams) error { return ValidateProblem(v) })
	if err != nil {
		return g.finish(ctx, plan, entities.SectionProblem, err)
	}
	plan.Problem = &problem

	features, err := runStage(budget, g, plan, entities.SectionFeatures,
		func(p GenerationParams) ([]entities.Feature, error) {
			return g.producer.Features(budget, pc, problem, p)
		},
		func(v []entities.Feature, p GenerationParams) error { return ValidateFeatures(v, p.MaxFeatures) })
	if err != nil {
		return g.finish(ctx, plan, entities.SectionFeatures, err)
	}
	plan.Features = features

	tasks, err := runStage(budget, g, plan, entities.SectionTasks,
		func(p GenerationParams) ([]entities.Task, error) {
			return g.producer.Tasks(budget, pc, features, p)
		},
		func(v []entities.Task, _ GenerationParams) error { return ValidateTasks(features, v) })
	if err != nil {
		return g.finish(ctx, plan, entities.SectionTasks, err)
	}
	plan.Tasks = tasks

	timeline, err := BuildTimeline(tasks, g.cfg)
	if err == nil {
		err = ValidateTimeline(timeline)
	}
	if err != nil {
		return nil, pkgerrors.NewInvalidOutputError(entities.SectionTimeline, err)
	}

	roadmap, err := BuildRoadmap(features, tasks, timeline.TopologicalOrder)
	if err == nil {
		err = ValidateRoadmap(roadmap, features, tasks)
	}
	if err != nil {
		return nil, pkgerrors.NewInvalidOutputError(entities.SectionRoadmap, err)
	}
	plan.Roadmap = &roadmap
	plan.Timeline = &timeline

	stack, err := runStage(budget, g, plan, entities.SectionTechStack,
		func(p GenerationParams) (entities.TechStackRecommendation, error) {
			return g.producer.TechStack(budget, pc, problem, features, p)
		},
		func(v entities.TechStackRecommendation, _ GenerationParams) error { return ValidateTechStack(v) })
	if err != nil {
		return g.finish(ctx, plan, entities.SectionTechStack, err)
	}
	plan.TechStack = &stack

	risks, err := runStage(budget, g, plan, entities.SectionRisks,
		func(p GenerationParams) (entities.RiskAnalysis, error) {
			return g.producer.Risks(budget, pc, features, timeline, p)
		},
		func(v entities.RiskAnalysis, _ GenerationParams) error { return ValidateRisks(v) })
	if err != nil {
		return g.finish(ctx, plan, entities.SectionRisks, err)
	}
	plan.Risks = &risks

	if err := ValidatePlan(plan); err != nil {
		return nil, pkgerrors.NewInvalidOutputError("plan", err)
	}
	plan.GeneratedAt = g.now()

	g.logger.Info("Plan generated",
		zap.String("sessionID", pc.SessionID.String()),
		zap.String("ideaID", string(pc.Idea.ID)),
		zap.Int("features", len(plan.Features)),
		zap.Int("tasks", len(plan.Tasks)),
		zap.Float64("totalDurationDays", timeline.TotalDurationDays),
		zap.Int("attempts", plan.Attempts),
	)
	return plan, nil
}

func (g *Generator) checkContext(pc PlanContext) error {
	if strings.TrimSpace(pc.Idea.Content) == "" {
		return pkgerrors.NewClarificationError("the agreed idea has no content to plan from").
			WithCode("INSUFFICIENT_CONTEXT")
	}
	if pc.MessageCount < g.cfg.MinContextMessages {
		return pkgerrors.NewClarificationError("the discussion is too short to plan from").
			WithCode("INSUFFICIENT_CONTEXT").
			WithDetail("messages", pc.MessageCount).
			WithDetail("required", g.cfg.MinContextMessages)
	}
	return nil
}

// finish maps a failed stage to the generation result. A budget timeout keeps
// the finished sections and marks the rest missing.
func (g *Generator) finish(ctx context.Context, plan *entities.ProjectPlan, section string, err error) (*entities.ProjectPlan, error) {
	if ctx.Err() != nil {
		return nil, pkgerrors.NewCancelledError("plan generation").WithCause(ctx.Err())
	}
	if !errors.Is(err, errTimedOut) {
		return nil, err
	}

	missing := false
	for _, s := range entities.PlanSections {
		if s == section {
			missing = true
		}
		if missing {
			plan.MissingSections = append(plan.MissingSections, s)
		}
	}
	plan.Incomplete = true
	plan.GeneratedAt = g.now()

	g.logger.Warn("Plan generation timed out, returning partial plan",
		zap.String("sessionID", plan.SessionID.String()),
		zap.String("ideaID", string(plan.ConsensusIdeaID)),
		zap.Strings("missingSections", plan.MissingSections),
	)
	return plan, nil
}

// runStage produces and validates one section, retrying with adjusted
// parameters. Retries shrink the feature budget and force linear task
// dependencies, which is how a cyclic task graph gets regenerated.
func runStage[T any](
	ctx context.Context,
	g *Generator,
	plan *entities.ProjectPlan,
	section string,
	produce func(GenerationParams) (T, error),
	validate func(T, GenerationParams) error,
) (T, error) {
	var zero T
	params := GenerationParams{MaxFeatures: g.cfg.MaxFeaturesPerPlan}
	var lastErr error
	validationFailed := false

	for attempt := 0; attempt <= g.cfg.PlanStageRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, errTimedOut
		}
		params.Attempt = attempt
		plan.Attempts++

		out, err := produce(params)
		if err == nil {
			if err = validate(out, params); err == nil {
				return out, nil
			}
			validationFailed = true
		} else {
			validationFailed = false
		}
		if ctx.Err() != nil {
			return zero, errTimedOut
		}
		lastErr = err

		g.logger.Warn("Plan stage attempt failed",
			zap.String("section", section),
			zap.Int("attempt", attempt+1),
			zap.Bool("invalidOutput", validationFailed),
			zap.Error(err),
		)

		if params.MaxFeatures > 1 {
			params.MaxFeatures--
		}
		params.LinearDependencies = true
	}

	if !validationFailed && pkgerrors.IsAppError(lastErr) {
		return zero, lastErr
	}
	return zero, pkgerrors.NewInvalidOutputError(section, lastErr)
}
