package engine

import (
	"magnus/internal/domain"
)

// validateBudgetTransition enforces the budget lifecycle:
// DRAFT -> PENDING -> APPROVED -> RESERVA -> COMPLETED, with
// PENDING/APPROVED/RESERVA also allowed to exit to REJECTED or CANCELED.
func validateBudgetTransition(from, to domain.BudgetStatus) error {
	ok := false
	switch from {
	case domain.BudgetDraft:
		ok = to == domain.BudgetPending
	case domain.BudgetPending:
		ok = to == domain.BudgetApproved || to == domain.BudgetRejected || to == domain.BudgetCanceled
	case domain.BudgetApproved:
		ok = to == domain.BudgetReserva || to == domain.BudgetRejected || to == domain.BudgetCanceled
	case domain.BudgetReserva:
		ok = to == domain.BudgetCompleted || to == domain.BudgetRejected || to == domain.BudgetCanceled
	}
	if !ok {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// validateTaskTransition enforces task status moves. BLOCKED tasks cannot be
// started or completed by hand; they leave BLOCKED through dependency
// propagation or cancellation.
func validateTaskTransition(from, to domain.TaskStatus) error {
	ok := false
	switch from {
	case domain.TaskTodo:
		ok = to == domain.TaskInProgress || to == domain.TaskDone || to == domain.TaskCanceled
	case domain.TaskInProgress:
		ok = to == domain.TaskDone || to == domain.TaskTodo || to == domain.TaskCanceled
	case domain.TaskBlocked:
		ok = to == domain.TaskCanceled
	}
	if !ok {
		return &InvalidTaskTransitionError{From: from, To: to}
	}
	return nil
}
