package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"magnus/internal/domain"
	"magnus/internal/engine"
)

// ChangeBudgetStatusRequest is the body for PATCH /workflow/budget-status/{budget_id}.
type ChangeBudgetStatusRequest struct {
	Status domain.BudgetStatus `json:"status" enum:"PENDING,APPROVED,RESERVA,REJECTED,COMPLETED,CANCELED"`
	Notes  *string             `json:"notes,omitempty"`
}

// ApproveBudgetRequest is the optional body for POST /workflow/approve-budget/{budget_id}.
type ApproveBudgetRequest struct {
	Notes *string `json:"notes,omitempty"`
}

func registerWorkflow(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "trigger-tasks",
		Method:      http.MethodPost,
		Path:        "/workflow/trigger-tasks/{budget_id}",
		Summary:     "Generate preparation tasks for a reserved budget",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		BudgetID string `path:"budget_id"`
	}) (*struct {
		Body engine.GenerationResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.GenerateTasks(ctx, input.BudgetID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.GenerationResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-budget-status",
		Method:      http.MethodPatch,
		Path:        "/workflow/budget-status/{budget_id}",
		Summary:     "Move a budget along its lifecycle",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		BudgetID string                    `path:"budget_id"`
		Body     ChangeBudgetStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Budget `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.TransitionBudget(ctx, input.BudgetID, input.Body.Status, input.Body.Notes, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Budget `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-budget",
		Method:      http.MethodPost,
		Path:        "/workflow/approve-budget/{budget_id}",
		Summary:     "Approve a pending budget and reserve it",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		BudgetID string               `path:"budget_id"`
		Body     ApproveBudgetRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body domain.Budget `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.ApproveBudget(ctx, input.BudgetID, input.Body.Notes, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Budget `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workflow-status",
		Method:      http.MethodGet,
		Path:        "/workflow/budget-status/{budget_id}",
		Summary:     "Workflow state of a budget",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BudgetID string `path:"budget_id"`
	}) (*struct {
		Body engine.WorkflowStatus `json:"body"`
	}, error) {
		ws, err := e.GetWorkflowStatus(ctx, input.BudgetID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.WorkflowStatus `json:"body"`
		}{Body: ws}, nil
	})
}
