package genai

import (
	"context"
	"fmt"
	"strings"

	"ideaflow/domain/core/entities"
	"ideaflow/domain/services/planning"
)

const plannerInstruction = `You turn an agreed idea from a team discussion into a project plan.
Answer with JSON only, matching the shape you are given exactly.
Stay within what the discussion supports and keep every text field short.`

// Producer generates plan sections with a text model. Structure is checked by
// the plan generator, which retries a stage with adjusted params when the
// output does not validate.
type Producer struct {
	model jsonModel
}

// NewProducer creates a model-backed plan content producer
func NewProducer(models Models, model string) *Producer {
	return &Producer{model: jsonModel{models: models, model: model, temperature: 0.4}}
}

func discussion(pc planning.PlanContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\nAgreed idea (%s): %s\n", pc.SessionTitle, pc.Idea.ID, pc.Idea.Content)
	if len(pc.Idea.Reasoning) > 0 {
		fmt.Fprintf(&b, "Reasoning: %s\n", strings.Join(pc.Idea.Reasoning, "; "))
	}
	if pc.ClusterLabel != "" {
		fmt.Fprintf(&b, "Topic: %s\n", pc.ClusterLabel)
	}
	for _, r := range pc.Related {
		fmt.Fprintf(&b, "Related idea: %s\n", r.Idea.Content)
	}
	for _, m := range pc.Discussion {
		fmt.Fprintf(&b, "%s: %s\n", m.Author, m.Content)
	}
	return b.String()
}

// ProblemStatement implements planning.ContentProducer
func (p *Producer) ProblemStatement(ctx context.Context, pc planning.PlanContext, _ planning.GenerationParams) (entities.ProblemStatement, error) {
	prompt := discussion(pc) + `
Write the problem statement as {"summary": string, "context": string, "goals": [string]} with at least one goal.`

	var out entities.ProblemStatement
	if err := p.model.generate(ctx, entities.SectionProblem, plannerInstruction, prompt, &out); err != nil {
		return entities.ProblemStatement{}, err
	}
	out.SourceIdeaID = pc.Idea.ID
	return out, nil
}

// Features implements planning.ContentProducer
func (p *Producer) Features(ctx context.Context, pc planning.PlanContext, problem entities.ProblemStatement, params planning.GenerationParams) ([]entities.Feature, error) {
	prompt := fmt.Sprintf(`%s
Problem: %s
List at most %d features as {"features": [{"id": "F1", "name": string, "description": string, "priority": "must-have"|"should-have"|"nice-to-have"}]}.
Ids are F1, F2 and so on. At least one feature must be must-have.`, discussion(pc), encodeJSON(problem), params.MaxFeatures)

	var out struct {
		Features []entities.Feature `json:"features"`
	}
	if err := p.model.generate(ctx, entities.SectionFeatures, plannerInstruction, prompt, &out); err != nil {
		return nil, err
	}
	for i := range out.Features {
		if len(out.Features[i].SourceIdeaIDs) == 0 {
			out.Features[i].SourceIdeaIDs = append(out.Features[i].SourceIdeaIDs, pc.Idea.ID)
		}
	}
	return out.Features, nil
}

// Tasks implements planning.ContentProducer
func (p *Producer) Tasks(ctx context.Context, pc planning.PlanContext, features []entities.Feature, params planning.GenerationParams) ([]entities.Task, error) {
	ordering := "Dependencies may only name tasks listed earlier and must not form a cycle."
	if params.LinearDependencies {
		ordering = "Each task depends only on the task listed immediately before it."
	}
	prompt := fmt.Sprintf(`%s
Features: %s
Break every feature into tasks as {"tasks": [{"id": "T1", "featureId": string, "title": string, "description": string, "effort": "small"|"medium"|"large", "dependencies": [string]}]}.
Every feature needs at least one task. %s`, discussion(pc), encodeJSON(features), ordering)

	var out struct {
		Tasks []entities.Task `json:"tasks"`
	}
	if err := p.model.generate(ctx, entities.SectionTasks, plannerInstruction, prompt, &out); err != nil {
		return nil, err
	}
	for i := range out.Tasks {
		if out.Tasks[i].Dependencies == nil {
			out.Tasks[i].Dependencies = []string{}
		}
	}
	return out.Tasks, nil
}

// TechStack implements planning.ContentProducer
func (p *Producer) TechStack(ctx context.Context, pc planning.PlanContext, problem entities.ProblemStatement, features []entities.Feature, _ planning.GenerationParams) (entities.TechStackRecommendation, error) {
	prompt := fmt.Sprintf(`%s
Problem: %s
Features: %s
Recommend technologies as {"frontend": [choice], "backend": [choice], "database": [choice], "infrastructure": [choice]}
where choice is {"name": string, "justification": string, "alternatives": [string]}.
Every category needs at least one choice and every choice at least one alternative.`, discussion(pc), encodeJSON(problem), encodeJSON(features))

	var out entities.TechStackRecommendation
	if err := p.model.generate(ctx, entities.SectionTechStack, plannerInstruction, prompt, &out); err != nil {
		return entities.TechStackRecommendation{}, err
	}
	return out, nil
}

// Risks implements planning.ContentProducer
func (p *Producer) Risks(ctx context.Context, pc planning.PlanContext, features []entities.Feature, timeline entities.Timeline, _ planning.GenerationParams) (entities.RiskAnalysis, error) {
	prompt := fmt.Sprintf(`%s
Features: %s
Estimated duration: %.1f days, critical path %s.
List risks as {"risks": [{"id": "R1", "category": "technical"|"project", "description": string, "severity": "low"|"medium"|"high", "mitigation": string}]}.
Include at least one technical and one project risk.`, discussion(pc), encodeJSON(features), timeline.TotalDurationDays, strings.Join(timeline.CriticalPath, " -> "))

	var out entities.RiskAnalysis
	if err := p.model.generate(ctx, entities.SectionRisks, plannerInstruction, prompt, &out); err != nil {
		return entities.RiskAnalysis{}, err
	}
	return out, nil
}
