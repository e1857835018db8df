package planning

import (
	"fmt"

	"ideaflow/domain/config"
	"ideaflow/domain/core/entities"
)

// BuildTimeline derives durations from the task graph. Each task takes the
// midpoint of its effort band. The total is the larger of the critical path
// and the parallelized total work, plus the configured buffer, so it never
// undercuts the critical path.
func BuildTimeline(tasks []entities.Task, cfg *config.DomainConfig) (entities.Timeline, error) {
	if len(tasks) == 0 {
		return entities.Timeline{}, fmt.Errorf("timeline needs at least one task")
	}
	order, err := TopologicalOrder(tasks)
	if err != nil {
		return entities.Timeline{}, err
	}

	duration := func(t entities.Task) float64 { return cfg.EffortDays(string(t.Effort)) }
	durations := make(map[string]float64, len(tasks))
	work := 0.0
	for _, t := range tasks {
		durations[t.ID] = duration(t)
		work += durations[t.ID]
	}
	path, critical := CriticalPath(tasks, order, duration)

	capacity := float64(cfg.TeamSize) * cfg.ParallelismFactor
	if capacity < 1 {
		capacity = 1
	}
	total := max(critical, work/capacity) * (1 + cfg.BufferRatio)

	return entities.Timeline{
		TaskDurations:     durations,
		TopologicalOrder:  order,
		CriticalPath:      path,
		CriticalPathDays:  critical,
		TotalWorkDays:     work,
		TotalDurationDays: total,
		Assumptions: []string{
			fmt.Sprintf("Effort midpoints: small %.1f, medium %.1f, large %.1f days", cfg.SmallEffortDays, cfg.MediumEffortDays, cfg.LargeEffortDays),
			fmt.Sprintf("Team of %d working at %.0f%% parallel efficiency", cfg.TeamSize, cfg.ParallelismFactor*100),
			fmt.Sprintf("%.0f%% buffer added for integration and review", cfg.BufferRatio*100),
		},
	}, nil
}

var phaseNames = map[entities.Priority]string{
	entities.PriorityMustHave:   "Core delivery",
	entities.PriorityShouldHave: "Expansion",
	entities.PriorityNiceToHave: "Refinement",
}

func priorityPhase(p entities.Priority) int {
	switch p {
	case entities.PriorityMustHave:
		return 1
	case entities.PriorityShouldHave:
		return 2
	default:
		return 3
	}
}

// BuildRoadmap places features into phases by priority. A feature another
// feature depends on is pulled into the earlier phase, so no task is ever
// scheduled in a phase before one of its dependencies. Tasks keep the
// topological order within a phase.
func BuildRoadmap(features []entities.Feature, tasks []entities.Task, order []string) (entities.Roadmap, error) {
	if len(features) == 0 {
		return entities.Roadmap{}, fmt.Errorf("roadmap needs at least one feature")
	}

	phase := make(map[string]int, len(features))
	for _, f := range features {
		phase[f.ID] = priorityPhase(f.Priority)
	}
	featureOf := make(map[string]string, len(tasks))
	for _, t := range tasks {
		featureOf[t.ID] = t.FeatureID
	}

	for changed := true; changed; {
		changed = false
		for _, t := range tasks {
			for _, dep := range t.Dependencies {
				depFeature, ok := featureOf[dep]
				if !ok {
					return entities.Roadmap{}, &DependencyError{TaskID: t.ID, DependencyID: dep}
				}
				if phase[depFeature] > phase[t.FeatureID] {
					phase[depFeature] = phase[t.FeatureID]
					changed = true
				}
			}
		}
	}

	var roadmap entities.Roadmap
	for level := 1; level <= 3; level++ {
		p := entities.Phase{FeatureIDs: []string{}, TaskIDs: []string{}}
		inPhase := make(map[string]bool)
		for _, f := range features {
			if phase[f.ID] != level {
				continue
			}
			inPhase[f.ID] = true
			p.FeatureIDs = append(p.FeatureIDs, f.ID)
			p.Milestones = append(p.Milestones, fmt.Sprintf("%s delivered", f.Name))
		}
		if len(p.FeatureIDs) == 0 {
			continue
		}
		for _, id := range order {
			if inPhase[featureOf[id]] {
				p.TaskIDs = append(p.TaskIDs, id)
			}
		}
		p.Order = len(roadmap.Phases) + 1
		p.Name = fmt.Sprintf("Phase %d: %s", p.Order, phaseNames[levelPriority(level)])
		roadmap.Phases = append(roadmap.Phases, p)
	}
	return roadmap, nil
}

func levelPriority(level int) entities.Priority {
	switch level {
	case 1:
		return entities.PriorityMustHave
	case 2:
		return entities.PriorityShouldHave
	default:
		return entities.PriorityNiceToHave
	}
}
