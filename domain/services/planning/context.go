package planning

import (
	"context"
	"sort"
	"strings"

	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
	pkgerrors "ideaflow/pkg/errors"
)

// RelatedIdea is another member of the consensus idea's cluster.
type RelatedIdea struct {
	Idea     entities.IdeaView     `json:"idea"`
	Strength entities.IdeaStrength `json:"strength"`
}

// PlanContext is the immutable input of plan generation. It is captured from
// the session at execution entry so generation can run off the session worker.
type PlanContext struct {
	SessionID    valueobjects.SessionID       `json:"sessionId"`
	SessionTitle string                       `json:"sessionTitle"`
	Consensus    entities.ConsensusStatus     `json:"consensus"`
	Idea         entities.IdeaView            `json:"idea"`
	ClusterLabel string                       `json:"clusterLabel"`
	Related      []RelatedIdea                `json:"related"`
	Discussion   []entities.MessageView       `json:"discussion"`
	Participants []valueobjects.ParticipantID `json:"participants"`
	MessageCount int                          `json:"messageCount"`
}

// Contributors returns everyone who authored, supported or referenced the
// consensus idea, sorted by id.
func (pc PlanContext) Contributors() []valueobjects.ParticipantID {
	set := map[valueobjects.ParticipantID]bool{pc.Idea.Author: true}
	for _, p := range pc.Idea.Supporters {
		set[p] = true
	}
	for _, p := range pc.Idea.Referencers {
		set[p] = true
	}
	out := make([]valueobjects.ParticipantID, 0, len(set))
	for p := range set {
		if p != "" {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BuildPlanContext captures the plan input for the current consensus idea of
// a session.
func BuildPlanContext(session *aggregates.Session) (PlanContext, error) {
	status := session.Consensus().Current
	idea, ok := session.Idea(status.IdeaID)
	if !ok {
		return PlanContext{}, pkgerrors.NewNotFoundError("consensus idea").
			WithDetail("ideaId", string(status.IdeaID))
	}

	pc := PlanContext{
		SessionID:    session.ID(),
		SessionTitle: session.Title(),
		Consensus:    status,
		Idea:         idea.View(),
		Participants: session.ParticipantIDs(),
		MessageCount: len(session.Messages()),
	}

	if cluster, ok := session.Cluster(idea.ClusterID()); ok {
		pc.ClusterLabel = cluster.Label()
		var related []RelatedIdea
		for _, member := range session.ClusterMembers(cluster.ID()) {
			if member.ID() == idea.ID() {
				continue
			}
			st, _ := session.Strength(member.ID())
			related = append(related, RelatedIdea{Idea: member.View(), Strength: st})
		}
		sort.SliceStable(related, func(i, j int) bool {
			return related[i].Strength.Rank < related[j].Strength.Rank
		})
		pc.Related = related
	}

	thread := map[valueobjects.MessageID]bool{idea.SourceMessageID(): true}
	for _, ref := range idea.References() {
		thread[ref] = true
	}
	for _, msg := range session.Messages() {
		if thread[msg.ID()] {
			pc.Discussion = append(pc.Discussion, msg.View())
		}
	}
	return pc, nil
}

// GenerationParams steer a producer attempt. Retries adjust them.
type GenerationParams struct {
	Attempt            int  `json:"attempt"`
	MaxFeatures        int  `json:"maxFeatures"`
	LinearDependencies bool `json:"linearDependencies"`
}

// ContentProducer produces the content of each plan section. Stages run in
// order and each receives everything produced before it.
type ContentProducer interface {
	ProblemStatement(ctx context.Context, pc PlanContext, params GenerationParams) (entities.ProblemStatement, error)
	Features(ctx context.Context, pc PlanContext, problem entities.ProblemStatement, params GenerationParams) ([]entities.Feature, error)
	Tasks(ctx context.Context, pc PlanContext, features []entities.Feature, params GenerationParams) ([]entities.Task, error)
	TechStack(ctx context.Context, pc PlanContext, problem entities.ProblemStatement, features []entities.Feature, params GenerationParams) (entities.TechStackRecommendation, error)
	Risks(ctx context.Context, pc PlanContext, features []entities.Feature, timeline entities.Timeline, params GenerationParams) (entities.RiskAnalysis, error)
}

// discussionText joins the captured discussion for keyword lookups.
func discussionText(pc PlanContext) string {
	var b strings.Builder
	b.WriteString(pc.Idea.Content)
	for _, r := range pc.Related {
		b.WriteString(" ")
		b.WriteString(r.Idea.Content)
	}
	for _, m := range pc.Discussion {
		b.WriteString(" ")
		b.WriteString(m.Content)
	}
	return strings.ToLower(b.String())
}
