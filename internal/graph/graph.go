// Package graph validates task dependency edges and derives task statuses
// from them. Only active BLOCKS and REQUIRES edges count; SUGGESTS edges are
// advisory and never gate anything.
package graph

import (
	"fmt"
	"sort"

	"magnus/internal/domain"
)

// CycleError reports a dependency cycle. Tasks holds the ids left unsorted by
// the topological pass, in deterministic order.
type CycleError struct {
	Tasks []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving %d task(s): %v", len(e.Tasks), e.Tasks)
}

// Validate runs Kahn's algorithm over the blocking edges of the given tasks.
// It returns a *CycleError when a cycle exists, nil otherwise. Edges that
// reference tasks outside the set are ignored.
func Validate(tasks []domain.Task, deps []domain.TaskDependency) error {
	inSet := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		inSet[t.ID] = true
	}

	indegree := make(map[string]int, len(tasks))
	adjacent := make(map[string][]string)
	for _, t := range tasks {
		indegree[t.ID] = 0
	}
	for _, d := range deps {
		if !d.Blocking() || !inSet[d.PrerequisiteID] || !inSet[d.DependentID] {
			continue
		}
		adjacent[d.PrerequisiteID] = append(adjacent[d.PrerequisiteID], d.DependentID)
		indegree[d.DependentID]++
	}

	queue := make([]string, 0, len(tasks))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adjacent[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited == len(tasks) {
		return nil
	}

	var cycle []string
	for id, deg := range indegree {
		if deg > 0 {
			cycle = append(cycle, id)
		}
	}
	sort.Strings(cycle)
	return &CycleError{Tasks: cycle}
}

// InitialStatus returns the status a task should start with: BLOCKED when any
// blocking prerequisite is not DONE, TODO otherwise. statusByID must cover
// every prerequisite referenced by a blocking edge.
func InitialStatus(taskID string, deps []domain.TaskDependency, statusByID map[string]domain.TaskStatus) domain.TaskStatus {
	for _, d := range deps {
		if !d.Blocking() || d.DependentID != taskID {
			continue
		}
		if statusByID[d.PrerequisiteID] != domain.TaskDone {
			return domain.TaskBlocked
		}
	}
	return domain.TaskTodo
}

// Unblocked returns the ids of direct dependents of doneTaskID that no longer
// have any unfinished blocking prerequisite. Propagation is single-layer: a
// freed dependent does not recursively free its own dependents, each task
// completion re-runs the check for its own dependents.
func Unblocked(doneTaskID string, deps []domain.TaskDependency, statusByID map[string]domain.TaskStatus) []string {
	var freed []string
	for _, d := range deps {
		if !d.Blocking() || d.PrerequisiteID != doneTaskID {
			continue
		}
		if statusByID[d.DependentID] != domain.TaskBlocked {
			continue
		}
		if remainingBlockers(d.DependentID, deps, statusByID) == 0 {
			freed = append(freed, d.DependentID)
		}
	}
	sort.Strings(freed)
	return dedupe(freed)
}

func remainingBlockers(taskID string, deps []domain.TaskDependency, statusByID map[string]domain.TaskStatus) int {
	n := 0
	for _, d := range deps {
		if !d.Blocking() || d.DependentID != taskID {
			continue
		}
		if statusByID[d.PrerequisiteID] != domain.TaskDone {
			n++
		}
	}
	return n
}

func dedupe(ids []string) []string {
	out := ids[:0]
	for i, id := range ids {
		if i == 0 || ids[i-1] != id {
			out = append(out, id)
		}
	}
	return out
}
