package planning

import (
	"fmt"
	"sort"
	"strings"

	"ideaflow/domain/core/entities"
)

// CycleError reports tasks that take part in a dependency cycle.
type CycleError struct {
	TaskIDs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("task dependencies form a cycle through %s", strings.Join(e.TaskIDs, ", "))
}

// DependencyError reports a dependency that does not resolve within the plan.
type DependencyError struct {
	TaskID       string
	DependencyID string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("task %s depends on unknown task %s", e.TaskID, e.DependencyID)
}

// TopologicalOrder orders tasks so that every task comes after all of its
// dependencies (Kahn's algorithm). Among tasks that are ready at the same
// time, generation order wins, so the result is deterministic.
func TopologicalOrder(tasks []entities.Task) ([]string, error) {
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if _, dup := index[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %s", t.ID)
		}
		index[t.ID] = i
	}

	inDegree := make([]int, len(tasks))
	dependents := make([][]int, len(tasks))
	for i, t := range tasks {
		seen := make(map[string]bool, len(t.Dependencies))
		for _, dep := range t.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			j, ok := index[dep]
			if !ok {
				return nil, &DependencyError{TaskID: t.ID, DependencyID: dep}
			}
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var ready []int
	for i := range tasks {
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]string, 0, len(tasks))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, tasks[next].ID)
		for _, d := range dependents[next] {
			inDegree[d]--
			if inDegree[d] == 0 {
				pos := sort.SearchInts(ready, d)
				ready = append(ready, 0)
				copy(ready[pos+1:], ready[pos:])
				ready[pos] = d
			}
		}
	}

	if len(order) < len(tasks) {
		var cyclic []string
		for i, t := range tasks {
			if inDegree[i] > 0 {
				cyclic = append(cyclic, t.ID)
			}
		}
		return nil, &CycleError{TaskIDs: cyclic}
	}
	return order, nil
}

// CriticalPath returns the maximum-duration chain through the dependency DAG,
// listed from the first task to the last, and its length in days. order must
// be a topological order of tasks.
func CriticalPath(tasks []entities.Task, order []string, duration func(entities.Task) float64) ([]string, float64) {
	byID := make(map[string]entities.Task, len(tasks))
	generation := make(map[string]int, len(tasks))
	for i, t := range tasks {
		byID[t.ID] = t
		generation[t.ID] = i
	}

	finish := make(map[string]float64, len(tasks))
	prev := make(map[string]string, len(tasks))
	var (
		end     string
		longest float64
	)
	for _, id := range order {
		t := byID[id]
		start := 0.0
		for _, dep := range t.Dependencies {
			if f := finish[dep]; f > start || (f == start && prev[id] != "" && generation[dep] < generation[prev[id]]) {
				start = f
				prev[id] = dep
			}
		}
		finish[id] = start + duration(t)
		if end == "" || finish[id] > longest || (finish[id] == longest && generation[id] < generation[end]) {
			end, longest = id, finish[id]
		}
	}

	var path []string
	for id := end; id != ""; id = prev[id] {
		path = append(path, id)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, longest
}
