package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magnus/internal/domain"
)

func task(id string) domain.Task {
	return domain.Task{ID: id, Status: domain.TaskTodo}
}

func edge(pre, dep string, typ domain.DependencyType) domain.TaskDependency {
	return domain.TaskDependency{
		ID:             pre + "->" + dep,
		PrerequisiteID: pre,
		DependentID:    dep,
		Type:           typ,
		IsActive:       true,
	}
}

func TestValidateAcyclic(t *testing.T) {
	tasks := []domain.Task{task("a"), task("b"), task("c")}
	deps := []domain.TaskDependency{
		edge("a", "b", domain.DepRequires),
		edge("b", "c", domain.DepBlocks),
	}
	require.NoError(t, Validate(tasks, deps))
}

func TestValidateDetectsCycle(t *testing.T) {
	tasks := []domain.Task{task("a"), task("b"), task("c")}
	deps := []domain.TaskDependency{
		edge("a", "b", domain.DepRequires),
		edge("b", "c", domain.DepRequires),
		edge("c", "a", domain.DepRequires),
	}
	err := Validate(tasks, deps)
	require.Error(t, err)
	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycleErr.Tasks)
}

func TestValidateSelfLoop(t *testing.T) {
	tasks := []domain.Task{task("a")}
	deps := []domain.TaskDependency{edge("a", "a", domain.DepBlocks)}
	var cycleErr *CycleError
	require.True(t, errors.As(Validate(tasks, deps), &cycleErr))
	assert.Equal(t, []string{"a"}, cycleErr.Tasks)
}

func TestValidateIgnoresSuggestsAndInactive(t *testing.T) {
	tasks := []domain.Task{task("a"), task("b")}

	// a SUGGESTS cycle must not be rejected
	deps := []domain.TaskDependency{
		edge("a", "b", domain.DepSuggests),
		edge("b", "a", domain.DepSuggests),
	}
	assert.NoError(t, Validate(tasks, deps))

	inactive := edge("b", "a", domain.DepRequires)
	inactive.IsActive = false
	deps = []domain.TaskDependency{
		edge("a", "b", domain.DepRequires),
		inactive,
	}
	assert.NoError(t, Validate(tasks, deps))
}

func TestValidateIgnoresForeignEdges(t *testing.T) {
	tasks := []domain.Task{task("a")}
	deps := []domain.TaskDependency{edge("ghost", "a", domain.DepRequires)}
	assert.NoError(t, Validate(tasks, deps))
}

func TestInitialStatus(t *testing.T) {
	deps := []domain.TaskDependency{
		edge("shop", "cook", domain.DepRequires),
		edge("shop", "plan", domain.DepSuggests),
	}
	statuses := map[string]domain.TaskStatus{
		"shop": domain.TaskTodo,
		"cook": domain.TaskTodo,
		"plan": domain.TaskTodo,
	}

	assert.Equal(t, domain.TaskBlocked, InitialStatus("cook", deps, statuses))
	assert.Equal(t, domain.TaskTodo, InitialStatus("plan", deps, statuses), "SUGGESTS edge must not block")
	assert.Equal(t, domain.TaskTodo, InitialStatus("shop", deps, statuses))

	statuses["shop"] = domain.TaskDone
	assert.Equal(t, domain.TaskTodo, InitialStatus("cook", deps, statuses))
}

func TestUnblockedSingleLayer(t *testing.T) {
	// a -> b -> c: completing a frees b only, never c.
	deps := []domain.TaskDependency{
		edge("a", "b", domain.DepRequires),
		edge("b", "c", domain.DepRequires),
	}
	statuses := map[string]domain.TaskStatus{
		"a": domain.TaskDone,
		"b": domain.TaskBlocked,
		"c": domain.TaskBlocked,
	}
	assert.Equal(t, []string{"b"}, Unblocked("a", deps, statuses))
}

func TestUnblockedWaitsForAllPrerequisites(t *testing.T) {
	deps := []domain.TaskDependency{
		edge("shop", "cook", domain.DepRequires),
		edge("deliver", "cook", domain.DepBlocks),
	}
	statuses := map[string]domain.TaskStatus{
		"shop":    domain.TaskDone,
		"deliver": domain.TaskTodo,
		"cook":    domain.TaskBlocked,
	}
	assert.Empty(t, Unblocked("shop", deps, statuses))

	statuses["deliver"] = domain.TaskDone
	assert.Equal(t, []string{"cook"}, Unblocked("deliver", deps, statuses))
}

func TestUnblockedSkipsNonBlockedDependents(t *testing.T) {
	deps := []domain.TaskDependency{edge("a", "b", domain.DepRequires)}
	statuses := map[string]domain.TaskStatus{
		"a": domain.TaskDone,
		"b": domain.TaskCanceled,
	}
	assert.Empty(t, Unblocked("a", deps, statuses))
}
