package planning

import (
	"errors"
	"fmt"

	"ideaflow/domain/core/entities"

	"github.com/go-playground/validator/v10"
)

var sectionValidator = validator.New()

// ValidateProblem checks the problem statement schema.
func ValidateProblem(p entities.ProblemStatement) error {
	return sectionValidator.Struct(p)
}

// ValidateFeatures checks the feature list schema, id uniqueness and that at
// least one feature is a must-have.
func ValidateFeatures(features []entities.Feature, maxFeatures int) error {
	if len(features) == 0 {
		return errors.New("at least one feature is required")
	}
	if maxFeatures > 0 && len(features) > maxFeatures {
		return fmt.Errorf("%d features exceed the limit of %d", len(features), maxFeatures)
	}
	seen := make(map[string]bool, len(features))
	mustHave := false
	for _, f := range features {
		if err := sectionValidator.Struct(f); err != nil {
			return fmt.Errorf("feature %q: %w", f.ID, err)
		}
		if seen[f.ID] {
			return fmt.Errorf("duplicate feature id %s", f.ID)
		}
		seen[f.ID] = true
		mustHave = mustHave || f.Priority == entities.PriorityMustHave
	}
	if !mustHave {
		return errors.New("no must-have feature")
	}
	return nil
}

// ValidateTasks checks that every feature has at least one task, every task
// belongs to a known feature and the dependency graph is acyclic.
func ValidateTasks(features []entities.Feature, tasks []entities.Task) error {
	covered := make(map[string]bool, len(features))
	for _, f := range features {
		covered[f.ID] = false
	}
	for _, t := range tasks {
		if err := sectionValidator.Struct(t); err != nil {
			return fmt.Errorf("task %q: %w", t.ID, err)
		}
		if _, ok := covered[t.FeatureID]; !ok {
			return fmt.Errorf("task %s belongs to unknown feature %s", t.ID, t.FeatureID)
		}
		covered[t.FeatureID] = true
	}
	for _, f := range features {
		if !covered[f.ID] {
			return fmt.Errorf("feature %s has no tasks", f.ID)
		}
	}
	_, err := TopologicalOrder(tasks)
	return err
}

// ValidateRoadmap checks that every feature and task sits in exactly one phase
// and no task precedes a dependency.
func ValidateRoadmap(r entities.Roadmap, features []entities.Feature, tasks []entities.Task) error {
	if err := sectionValidator.Struct(r); err != nil {
		return err
	}
	featurePhase := make(map[string]int)
	taskPhase := make(map[string]int)
	for _, p := range r.Phases {
		for _, id := range p.FeatureIDs {
			if _, dup := featurePhase[id]; dup {
				return fmt.Errorf("feature %s appears in more than one phase", id)
			}
			featurePhase[id] = p.Order
		}
		for _, id := range p.TaskIDs {
			if _, dup := taskPhase[id]; dup {
				return fmt.Errorf("task %s appears in more than one phase", id)
			}
			taskPhase[id] = p.Order
		}
	}
	for _, f := range features {
		if _, ok := featurePhase[f.ID]; !ok {
			return fmt.Errorf("feature %s is not scheduled", f.ID)
		}
	}
	for _, t := range tasks {
		phase, ok := taskPhase[t.ID]
		if !ok {
			return fmt.Errorf("task %s is not scheduled", t.ID)
		}
		for _, dep := range t.Dependencies {
			if taskPhase[dep] > phase {
				return fmt.Errorf("task %s is scheduled before its dependency %s", t.ID, dep)
			}
		}
	}
	return nil
}

// ValidateTimeline checks the timeline schema.
func ValidateTimeline(t entities.Timeline) error {
	return sectionValidator.Struct(t)
}

// ValidateTechStack checks that all four categories carry a justified choice.
func ValidateTechStack(ts entities.TechStackRecommendation) error {
	return sectionValidator.Struct(ts)
}

// ValidateRisks requires at least one technical and one project risk.
func ValidateRisks(r entities.RiskAnalysis) error {
	if err := sectionValidator.Struct(r); err != nil {
		return err
	}
	if r.Count(entities.RiskTechnical) == 0 {
		return errors.New("no technical risk identified")
	}
	if r.Count(entities.RiskProject) == 0 {
		return errors.New("no project risk identified")
	}
	return nil
}

// ValidatePlan checks a complete plan across all sections.
func ValidatePlan(p *entities.ProjectPlan) error {
	switch {
	case p.Problem == nil:
		return errors.New("missing problem statement")
	case p.Roadmap == nil:
		return errors.New("missing roadmap")
	case p.Timeline == nil:
		return errors.New("missing timeline")
	case p.TechStack == nil:
		return errors.New("missing tech stack")
	case p.Risks == nil:
		return errors.New("missing risk analysis")
	}
	checks := []error{
		ValidateProblem(*p.Problem),
		ValidateFeatures(p.Features, 0),
		ValidateTasks(p.Features, p.Tasks),
		ValidateRoadmap(*p.Roadmap, p.Features, p.Tasks),
		ValidateTimeline(*p.Timeline),
		ValidateTechStack(*p.TechStack),
		ValidateRisks(*p.Risks),
	}
	return errors.Join(checks...)
}
