package planning

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
)

// TemplateProducer derives every section from the captured discussion
// without any external model. Equal inputs always yield equal output.
type TemplateProducer struct{}

// NewTemplateProducer creates the deterministic producer
func NewTemplateProducer() *TemplateProducer {
	return &TemplateProducer{}
}

func (TemplateProducer) ProblemStatement(_ context.Context, pc PlanContext, _ GenerationParams) (entities.ProblemStatement, error) {
	goals := []string{"Deliver " + lowerFirst(valueobjects.Excerpt(pc.Idea.Content, 120))}
	for _, r := range pc.Idea.Reasoning {
		goals = append(goals, "Ensure the outcome holds: "+r)
	}

	background := fmt.Sprintf("Proposed by %s", pc.Idea.Author)
	if pc.SessionTitle != "" {
		background += fmt.Sprintf(" during %q", pc.SessionTitle)
	}
	background += fmt.Sprintf(" and backed by %d of %d active participants (%s consensus, %.0f%% support).",
		len(pc.Consensus.Supporters), pc.Consensus.ActiveParticipants, pc.Consensus.Type, pc.Consensus.SupportPercentage)
	if pc.ClusterLabel != "" {
		background += fmt.Sprintf(" Discussed under the theme %q.", pc.ClusterLabel)
	}

	return entities.ProblemStatement{
		Summary:      valueobjects.Excerpt(pc.Idea.Content, 240),
		Context:      background,
		Goals:        goals,
		SourceIdeaID: pc.Idea.ID,
	}, nil
}

func (TemplateProducer) Features(_ context.Context, pc PlanContext, _ entities.ProblemStatement, params GenerationParams) ([]entities.Feature, error) {
	features := []entities.Feature{{
		ID:            "F1",
		Name:          featureName(pc.Idea.Content),
		Description:   pc.Idea.Content,
		Priority:      entities.PriorityMustHave,
		SourceIdeaIDs: []valueobjects.IdeaID{pc.Idea.ID},
	}}
	for i, r := range pc.Related {
		if params.MaxFeatures > 0 && len(features) >= params.MaxFeatures {
			break
		}
		priority := entities.PriorityNiceToHave
		if i < 2 {
			priority = entities.PriorityShouldHave
		}
		features = append(features, entities.Feature{
			ID:            fmt.Sprintf("F%d", len(features)+1),
			Name:          featureName(r.Idea.Content),
			Description:   r.Idea.Content,
			Priority:      priority,
			SourceIdeaIDs: []valueobjects.IdeaID{r.Idea.ID},
		})
	}
	return features, nil
}

// Tasks emits design, implement and verify tasks per feature. Every later
// feature's implementation builds on the core feature's implementation;
// linear mode chains features end to end instead.
func (TemplateProducer) Tasks(_ context.Context, _ PlanContext, features []entities.Feature, params GenerationParams) ([]entities.Task, error) {
	var tasks []entities.Task
	previousLast := ""
	for n, f := range features {
		prefix := fmt.Sprintf("T%d", n+1)
		implementEffort := entities.EffortMedium
		if f.Priority == entities.PriorityMustHave {
			implementEffort = entities.EffortLarge
		}

		design := entities.Task{
			ID: prefix + ".1", FeatureID: f.ID, Title: "Design " + f.Name,
			Description:  "Agree on scope, interfaces and acceptance criteria.",
			Effort:       entities.EffortSmall,
			Dependencies: []string{},
		}
		implement := entities.Task{
			ID: prefix + ".2", FeatureID: f.ID, Title: "Implement " + f.Name,
			Description:  f.Description,
			Effort:       implementEffort,
			Dependencies: []string{design.ID},
		}
		verify := entities.Task{
			ID: prefix + ".3", FeatureID: f.ID, Title: "Test and release " + f.Name,
			Description:  "Cover acceptance criteria and ship behind a flag.",
			Effort:       entities.EffortSmall,
			Dependencies: []string{implement.ID},
		}

		switch {
		case params.LinearDependencies && previousLast != "":
			design.Dependencies = append(design.Dependencies, previousLast)
		case n > 0:
			implement.Dependencies = append(implement.Dependencies, "T1.2")
		}
		previousLast = verify.ID
		tasks = append(tasks, design, implement, verify)
	}
	return tasks, nil
}

type stackRule struct {
	keywords []string
	choice   entities.TechChoice
}

var (
	frontendRules = []stackRule{
		{[]string{"mobile", "ios", "android", "app store"}, entities.TechChoice{Name: "React Native", Justification: "The discussion targets mobile users; one codebase covers both platforms.", Alternatives: []string{"Flutter", "Native Swift and Kotlin"}}},
		{[]string{"dashboard", "chart", "report", "analytics"}, entities.TechChoice{Name: "React with a charting library", Justification: "Data-heavy views benefit from a component ecosystem with mature charting.", Alternatives: []string{"Svelte", "Vue"}}},
	}
	defaultFrontend = entities.TechChoice{Name: "React", Justification: "A widely known component model keeps onboarding fast.", Alternatives: []string{"Vue", "Svelte"}}

	backendRules = []stackRule{
		{[]string{"real-time", "realtime", "live", "chat", "notification", "stream"}, entities.TechChoice{Name: "Go service with WebSockets", Justification: "Live updates need long-lived connections with low per-connection overhead.", Alternatives: []string{"Node.js with Socket.IO", "Elixir Phoenix"}}},
		{[]string{"machine learning", "model", "ai ", "recommend"}, entities.TechChoice{Name: "Python service behind a Go API", Justification: "Model work lives in the Python ecosystem while the API stays lean.", Alternatives: []string{"Single Python service", "Managed inference endpoint"}}},
	}
	defaultBackend = entities.TechChoice{Name: "Go REST API", Justification: "A small statically typed service is simple to operate and test.", Alternatives: []string{"Node.js", "Kotlin with Spring"}}

	databaseRules = []stackRule{
		{[]string{"search", "filter", "full-text"}, entities.TechChoice{Name: "PostgreSQL with full-text search", Justification: "Search requirements fit inside the primary store until volume proves otherwise.", Alternatives: []string{"OpenSearch", "Meilisearch"}}},
		{[]string{"event", "history", "audit", "timeline"}, entities.TechChoice{Name: "DynamoDB", Justification: "Append-heavy access keyed by entity suits a key-value store.", Alternatives: []string{"PostgreSQL", "Cassandra"}}},
	}
	defaultDatabase = entities.TechChoice{Name: "PostgreSQL", Justification: "Relational data with transactional needs and broad tooling.", Alternatives: []string{"MySQL", "SQLite for prototypes"}}

	infraRules = []stackRule{
		{[]string{"serverless", "lambda", "spiky", "cost"}, entities.TechChoice{Name: "AWS Lambda behind API Gateway", Justification: "Pay-per-use fits uneven load and keeps idle cost near zero.", Alternatives: []string{"Cloud Run", "Fargate"}}},
	}
	defaultInfra = entities.TechChoice{Name: "Containers on a managed orchestrator", Justification: "Portable deployments with rolling updates and autoscaling.", Alternatives: []string{"AWS Lambda", "Single VM with systemd"}}
)

func pickStack(text string, rules []stackRule, fallback entities.TechChoice) []entities.TechChoice {
	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return []entities.TechChoice{rule.choice}
			}
		}
	}
	return []entities.TechChoice{fallback}
}

func (TemplateProducer) TechStack(_ context.Context, pc PlanContext, _ entities.ProblemStatement, _ []entities.Feature, _ GenerationParams) (entities.TechStackRecommendation, error) {
	text := discussionText(pc)
	return entities.TechStackRecommendation{
		Frontend:       pickStack(text, frontendRules, defaultFrontend),
		Backend:        pickStack(text, backendRules, defaultBackend),
		Database:       pickStack(text, databaseRules, defaultDatabase),
		Infrastructure: pickStack(text, infraRules, defaultInfra),
	}, nil
}

func (TemplateProducer) Risks(_ context.Context, pc PlanContext, features []entities.Feature, timeline entities.Timeline, _ GenerationParams) (entities.RiskAnalysis, error) {
	core := features[0].Name
	technical := entities.RiskSeverityFor(timeline.CriticalPathDays, 10, 20)
	risks := []entities.Risk{
		{
			ID:          "R1",
			Category:    entities.RiskTechnical,
			Description: fmt.Sprintf("%s sits on the critical path (%.1f days); delays there move the whole plan.", core, timeline.CriticalPathDays),
			Severity:    technical,
			Mitigation:  "Spike the riskiest integration first and review the design before implementation starts.",
		},
		{
			ID:          "R2",
			Category:    entities.RiskProject,
			Description: fmt.Sprintf("Scope spread across %d features may outgrow the %.1f day estimate.", len(features), timeline.TotalDurationDays),
			Severity:    entities.RiskSeverityFor(float64(len(features)), 3, 5),
			Mitigation:  "Hold non must-have features until the core phase ships and re-plan with real velocity.",
		},
	}
	if len(pc.Contributors()) < 2 {
		risks = append(risks, entities.Risk{
			ID:          "R3",
			Category:    entities.RiskProject,
			Description: "Few contributors backed the idea directly, so ownership may be thin.",
			Severity:    entities.SeverityMedium,
			Mitigation:  "Name an owner per phase before work begins.",
		})
	}
	return entities.RiskAnalysis{Risks: risks}, nil
}

// featureName shortens idea content into a feature title.
func featureName(content string) string {
	words := strings.Fields(content)
	if len(words) > 8 {
		words = words[:8]
	}
	name := strings.TrimRight(strings.Join(words, " "), ".,;:!?")
	if name == "" {
		return "Untitled feature"
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}
