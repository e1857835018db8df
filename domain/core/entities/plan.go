package entities

import (
	"time"

	"ideaflow/domain/core/valueobjects"
)

// Priority of a feature.
type Priority string

const (
	PriorityMustHave   Priority = "must-have"
	PriorityShouldHave Priority = "should-have"
	PriorityNiceToHave Priority = "nice-to-have"
)

// Effort level of a task.
type Effort string

const (
	EffortSmall  Effort = "small"
	EffortMedium Effort = "medium"
	EffortLarge  Effort = "large"
)

// RiskSeverity of a plan risk.
type RiskSeverity string

const (
	SeverityLow    RiskSeverity = "low"
	SeverityMedium RiskSeverity = "medium"
	SeverityHigh   RiskSeverity = "high"
)

// RiskCategory separates technical from project risks.
type RiskCategory string

const (
	RiskTechnical RiskCategory = "technical"
	RiskProject   RiskCategory = "project"
)

// Plan section names, used for incompleteness markers.
const (
	SectionProblem   = "problem"
	SectionFeatures  = "features"
	SectionTasks     = "tasks"
	SectionRoadmap   = "roadmap"
	SectionTimeline  = "timeline"
	SectionTechStack = "techStack"
	SectionRisks     = "risks"
)

// PlanSections lists sections in generation order.
var PlanSections = []string{
	SectionProblem, SectionFeatures, SectionTasks, SectionRoadmap,
	SectionTimeline, SectionTechStack, SectionRisks,
}

// ProblemStatement frames what the plan solves.
type ProblemStatement struct {
	Summary      string              `json:"summary" validate:"required"`
	Context      string              `json:"context"`
	Goals        []string            `json:"goals" validate:"min=1,dive,required"`
	SourceIdeaID valueobjects.IdeaID `json:"sourceIdeaId" validate:"required"`
}

// Feature is a unit of delivered capability.
type Feature struct {
	ID            string                `json:"id" validate:"required"`
	Name          string                `json:"name" validate:"required"`
	Description   string                `json:"description" validate:"required"`
	Priority      Priority              `json:"priority" validate:"oneof=must-have should-have nice-to-have"`
	SourceIdeaIDs []valueobjects.IdeaID `json:"sourceIdeaIds,omitempty"`
}

// Task is a schedulable piece of work for a feature.
type Task struct {
	ID           string   `json:"id" validate:"required"`
	FeatureID    string   `json:"featureId" validate:"required"`
	Title        string   `json:"title" validate:"required"`
	Description  string   `json:"description"`
	Effort       Effort   `json:"effort" validate:"oneof=small medium large"`
	Dependencies []string `json:"dependencies"`
}

// Phase is one ordered step of the roadmap.
type Phase struct {
	Name       string   `json:"name" validate:"required"`
	Order      int      `json:"order" validate:"min=1"`
	FeatureIDs []string `json:"featureIds"`
	TaskIDs    []string `json:"taskIds"`
	Milestones []string `json:"milestones" validate:"min=1,dive,required"`
}

// Roadmap partitions features and tasks into phases.
type Roadmap struct {
	Phases []Phase `json:"phases" validate:"min=1,dive"`
}

// Timeline holds durations derived from the task graph.
type Timeline struct {
	TaskDurations     map[string]float64 `json:"taskDurations"`
	TopologicalOrder  []string           `json:"topologicalOrder" validate:"min=1"`
	CriticalPath      []string           `json:"criticalPath" validate:"min=1"`
	CriticalPathDays  float64            `json:"criticalPathDays" validate:"gt=0"`
	TotalWorkDays     float64            `json:"totalWorkDays" validate:"gt=0"`
	TotalDurationDays float64            `json:"totalDurationDays" validate:"gtefield=CriticalPathDays"`
	Assumptions       []string           `json:"assumptions" validate:"min=1,dive,required"`
}

// TechChoice is one recommended technology.
type TechChoice struct {
	Name          string   `json:"name" validate:"required"`
	Justification string   `json:"justification" validate:"required"`
	Alternatives  []string `json:"alternatives" validate:"min=1,dive,required"`
}

// TechStackRecommendation covers all four stack categories.
type TechStackRecommendation struct {
	Frontend       []TechChoice `json:"frontend" validate:"min=1,dive"`
	Backend        []TechChoice `json:"backend" validate:"min=1,dive"`
	Database       []TechChoice `json:"database" validate:"min=1,dive"`
	Infrastructure []TechChoice `json:"infrastructure" validate:"min=1,dive"`
}

// Risk is one identified plan risk.
type Risk struct {
	ID          string       `json:"id" validate:"required"`
	Category    RiskCategory `json:"category" validate:"oneof=technical project"`
	Description string       `json:"description" validate:"required"`
	Severity    RiskSeverity `json:"severity" validate:"oneof=low medium high"`
	Mitigation  string       `json:"mitigation" validate:"required"`
}

// RiskAnalysis groups the plan's risks.
type RiskAnalysis struct {
	Risks []Risk `json:"risks" validate:"min=1,dive"`
}

// Count returns the number of risks of a category.
func (r RiskAnalysis) Count(category RiskCategory) int {
	n := 0
	for _, risk := range r.Risks {
		if risk.Category == category {
			n++
		}
	}
	return n
}

// ProjectPlan is the structured outcome of an execution-mode entry.
// It is immutable once validated.
type ProjectPlan struct {
	ID              string                       `json:"id"`
	SessionID       valueobjects.SessionID       `json:"sessionId"`
	ConsensusIdeaID valueobjects.IdeaID          `json:"consensusIdeaId"`
	Consensus       ConsensusStatus              `json:"consensus"`
	Problem         *ProblemStatement            `json:"problem,omitempty"`
	Features        []Feature                    `json:"features"`
	Tasks           []Task                       `json:"tasks"`
	Roadmap         *Roadmap                     `json:"roadmap,omitempty"`
	Timeline        *Timeline                    `json:"timeline,omitempty"`
	TechStack       *TechStackRecommendation     `json:"techStack,omitempty"`
	Risks           *RiskAnalysis                `json:"risks,omitempty"`
	Contributors    []valueobjects.ParticipantID `json:"contributors"`
	Incomplete      bool                         `json:"incomplete"`
	MissingSections []string                     `json:"missingSections,omitempty"`
	Attempts        int                          `json:"attempts"`
	GeneratedAt     time.Time                    `json:"generatedAt"`
}

// TasksForFeature returns the tasks that belong to featureID, in generation order.
func (p *ProjectPlan) TasksForFeature(featureID string) []Task {
	var out []Task
	for _, t := range p.Tasks {
		if t.FeatureID == featureID {
			out = append(out, t)
		}
	}
	return out
}

// RiskSeverityFor grades a measure against medium and high thresholds.
func RiskSeverityFor(value, medium, high float64) RiskSeverity {
	switch {
	case value >= high:
		return SeverityHigh
	case value >= medium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
