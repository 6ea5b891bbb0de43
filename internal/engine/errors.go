package engine

import (
	"fmt"

	"magnus/internal/domain"
)

// InvalidTransitionError rejects a budget status change outside the allowed
// lifecycle graph.
type InvalidTransitionError struct {
	From domain.BudgetStatus
	To   domain.BudgetStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid budget transition %s -> %s", e.From, e.To)
}

// InvalidTaskTransitionError rejects a task status change outside the allowed
// moves.
type InvalidTaskTransitionError struct {
	From domain.TaskStatus
	To   domain.TaskStatus
}

func (e *InvalidTaskTransitionError) Error() string {
	return fmt.Sprintf("invalid task transition %s -> %s", e.From, e.To)
}

// VersionConflictError carries the conflict record created when an optimistic
// write loses the version race. It is data, not just an error: handlers
// return the record to the client for resolution.
type VersionConflictError struct {
	Conflict domain.ConflictResolution
	Expected int
	Actual   int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s %s: expected %d, have %d",
		e.Conflict.EntityType, e.Conflict.EntityID, e.Expected, e.Actual)
}
