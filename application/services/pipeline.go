package services

import (
	"context"
	"time"

	"ideaflow/application/ports"
	"ideaflow/domain/config"
	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
	domain "ideaflow/domain/services"
	pkgerrors "ideaflow/pkg/errors"
	"ideaflow/pkg/utils"

	"go.uber.org/zap"
)

// MessageOutcome summarizes what the pipeline did with one message.
type MessageOutcome struct {
	MessageID  valueobjects.MessageID     `json:"messageId"`
	Sequence   int64                      `json:"sequence"`
	Kind       domain.ExtractionKind      `json:"kind"`
	IdeaID     valueobjects.IdeaID        `json:"ideaId,omitempty"`
	ClusterID  valueobjects.ClusterID     `json:"clusterId,omitempty"`
	Similarity float64                    `json:"similarity,omitempty"`
	Fallback   bool                       `json:"fallback"`
	Late       bool                       `json:"late,omitempty"`
	Consensus  entities.ConsensusState    `json:"consensusState"`
	Deferred   bool                       `json:"deferred,omitempty"`
	Evaluation domain.ConsensusEvaluation `json:"-"`
}

// EngagementKind is the kind of explicit engagement signal.
type EngagementKind string

const (
	EngagementReaction EngagementKind = "reaction"
	EngagementSupport  EngagementKind = "support"
	EngagementRetract  EngagementKind = "retract"
)

// Pipeline runs the extraction, clustering, strength and consensus stages for
// one session. Callers must serialize access to the session; the pipeline
// itself holds no per-session state.
type Pipeline struct {
	policy     *config.Holder
	classifier domain.Classifier
	embedder   domain.Embedder
	clock      ports.Clock
	metrics    ports.PipelineMetrics
	logger     *zap.Logger
}

// NewPipeline creates a pipeline. A nil embedder means keyword overlap only;
// a nil classifier means the marker heuristic.
func NewPipeline(
	policy *config.Holder,
	classifier domain.Classifier,
	embedder domain.Embedder,
	clock ports.Clock,
	metrics ports.PipelineMetrics,
	logger *zap.Logger,
) *Pipeline {
	if policy == nil {
		policy = config.NewHolder(nil)
	}
	if classifier == nil {
		classifier = domain.HeuristicClassifier{}
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
	return &Pipeline{
		policy:     policy,
		classifier: classifier,
		embedder:   embedder,
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
	}
}

// Policy returns the policy in effect for the next job.
func (p *Pipeline) Policy() *config.DomainConfig {
	return p.policy.Current()
}

// Process appends msg to the session and runs every stage over it. Stage
// failures degrade to fallbacks; only log insertion errors are returned.
func (p *Pipeline) Process(ctx context.Context, session *aggregates.Session, msg *entities.Message) (MessageOutcome, error) {
	cfg := p.policy.Current()
	if err := session.AppendMessage(msg); err != nil {
		return MessageOutcome{}, err
	}
	now := p.clock.Now()

	extractor := domain.NewIdeaExtractor(p.classifier, domain.NewSimilarityScorer(p.embedder, p.logger), cfg, p.logger)
	ex := extractor.Extract(ctx, msg, session.Ideas(), session.IdeaEmbedding)

	outcome := MessageOutcome{
		MessageID:  msg.ID(),
		Sequence:   msg.Sequence(),
		Kind:       ex.Kind,
		Similarity: ex.Similarity,
		Fallback:   ex.Fallback,
	}

	switch ex.Kind {
	case domain.KindIdea:
		clusterID, fallback, err := p.placeIdea(session, cfg, ex, now)
		if err != nil {
			return outcome, err
		}
		outcome.IdeaID = ex.Idea.ID()
		outcome.ClusterID = clusterID
		outcome.Fallback = outcome.Fallback || fallback
	case domain.KindReference:
		if err := session.LinkReference(ex.ReferencedIdea, msg, ex.Reasoning, ex.AsReply, now); err != nil {
			return outcome, err
		}
		outcome.IdeaID = ex.ReferencedIdea
		if idea, ok := session.Idea(ex.ReferencedIdea); ok && idea.ClusterID() != "" {
			outcome.ClusterID = idea.ClusterID()
			p.rerank(session, cfg, idea.ClusterID(), now)
		}
	}

	eval := p.evaluate(session, cfg, "", now)
	outcome.Evaluation = eval
	outcome.Consensus = eval.Outcome.Tracker.State
	outcome.Deferred = eval.Deferred

	p.metrics.MessageProcessed(string(ex.Kind), outcome.Fallback)
	p.logger.Debug("Message processed",
		zap.String("sessionID", session.ID().String()),
		zap.String("messageID", string(msg.ID())),
		zap.String("kind", string(ex.Kind)),
		zap.String("ideaID", string(outcome.IdeaID)),
		zap.Bool("fallback", outcome.Fallback),
	)
	return outcome, nil
}

func (p *Pipeline) placeIdea(session *aggregates.Session, cfg *config.DomainConfig, ex domain.Extraction, now time.Time) (valueobjects.ClusterID, bool, error) {
	if err := session.AddIdea(ex.Idea, ex.Embedding, now); err != nil {
		return "", false, err
	}
	engine := domain.NewClusteringEngine(cfg, p.logger)
	decision := engine.AssignToCluster(ex.Idea, ex.Embedding, session.Clusters())
	cluster, err := session.ApplyClusterAssignment(ex.Idea.ID(), decision, engine, now)
	if err != nil {
		return "", false, err
	}
	p.rerank(session, cfg, cluster.ID(), now)
	return cluster.ID(), decision.Fallback, nil
}

func (p *Pipeline) rerank(session *aggregates.Session, cfg *config.DomainConfig, clusterID valueobjects.ClusterID, now time.Time) {
	evaluator := domain.NewStrengthEvaluator(cfg)
	session.ReplaceClusterStrengths(clusterID, evaluator.RankCluster(session.ClusterMembers(clusterID)), now)
}

// Engage applies an explicit engagement signal to an idea and re-evaluates
// consensus.
func (p *Pipeline) Engage(session *aggregates.Session, kind EngagementKind, ideaID valueobjects.IdeaID, participant valueobjects.ParticipantID) (domain.ConsensusEvaluation, error) {
	cfg := p.policy.Current()
	now := p.clock.Now()

	var err error
	switch kind {
	case EngagementReaction:
		err = session.RecordReaction(ideaID, now)
	case EngagementSupport:
		_, err = session.AddSupport(ideaID, participant, now)
	case EngagementRetract:
		_, err = session.RetractSupport(ideaID, participant, now)
	default:
		err = pkgerrors.NewValidationError("unknown engagement kind").WithDetail("kind", string(kind))
	}
	if err != nil {
		return domain.ConsensusEvaluation{}, err
	}

	if idea, ok := session.Idea(ideaID); ok && idea.ClusterID() != "" {
		p.rerank(session, cfg, idea.ClusterID(), now)
	}
	return p.evaluate(session, cfg, "", now), nil
}

// Reevaluate re-runs consensus detection without new input, optionally
// resolving a surfaced tie in favor of resolveTie.
func (p *Pipeline) Reevaluate(session *aggregates.Session, resolveTie valueobjects.IdeaID) domain.ConsensusEvaluation {
	return p.evaluate(session, p.policy.Current(), resolveTie, p.clock.Now())
}

func (p *Pipeline) evaluate(session *aggregates.Session, cfg *config.DomainConfig, resolveTie valueobjects.IdeaID, now time.Time) domain.ConsensusEvaluation {
	detector := domain.NewConsensusDetector(cfg)
	eval := detector.Evaluate(domain.ConsensusInput{
		Now:          now,
		Reference:    session.LatestActivity(),
		Participants: session.Participants(),
		Ideas:        session.Ideas(),
		StrengthOf: func(id valueobjects.IdeaID) float64 {
			st, _ := session.Strength(id)
			return st.TotalStrength
		},
		Tracker:    session.Consensus(),
		Mode:       session.Mode(),
		ResolveTie: resolveTie,
	})
	session.ApplyConsensus(eval.Outcome, now)

	if eval.Transitioned {
		p.metrics.ConsensusTransition(string(eval.Outcome.Tracker.State))
		p.logger.Info("Consensus state changed",
			zap.String("sessionID", session.ID().String()),
			zap.String("state", string(eval.Outcome.Tracker.State)),
			zap.String("ideaID", string(eval.Outcome.Tracker.Current.IdeaID)),
			zap.Float64("support", eval.Outcome.Tracker.Current.SupportPercentage),
		)
	}
	if eval.Deferred {
		p.logger.Warn("Consensus transition deferred by cooldown",
			zap.String("sessionID", session.ID().String()),
			zap.Time("reevaluateAt", eval.ReevaluateAt),
		)
	}
	if len(eval.Outcome.TieCandidates) > 0 {
		p.logger.Warn("Consensus tie needs resolution",
			zap.String("sessionID", session.ID().String()),
			zap.Int("candidates", len(eval.Outcome.TieCandidates)),
		)
	}
	return eval
}
