package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"magnus/internal/domain"
	"magnus/internal/engine"
)

// CreateTaskRequest is the body for POST /tasks.
type CreateTaskRequest struct {
	BudgetID         string              `json:"budget_id" minLength:"1"`
	Title            string              `json:"title" minLength:"1"`
	Description      string              `json:"description,omitempty"`
	Type             domain.TaskType     `json:"type,omitempty" enum:"SHOPPING,RESERVATION,DELIVERY,COOKING,PREPARATION,SETUP,CLEANUP,NEED" required:"false"`
	Priority         domain.TaskPriority `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH,URGENT" required:"false"`
	AssignedRole     domain.Role         `json:"assigned_role" enum:"ADMIN,SALES,LOGISTICS,COOK"`
	DueDate          string              `json:"due_date" format:"date-time"`
	EstimatedMinutes *int                `json:"estimated_minutes,omitempty" minimum:"0"`
	Location         string              `json:"location,omitempty"`
	ParentTaskID     string              `json:"parent_task_id,omitempty"`
}

// UpdateTaskRequest is the body for PATCH /tasks/{task_id}.
type UpdateTaskRequest struct {
	Version          int                  `json:"version" minimum:"1"`
	Title            *string              `json:"title,omitempty"`
	Description      *string              `json:"description,omitempty"`
	Priority         *domain.TaskPriority `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH,URGENT" required:"false"`
	AssignedRole     *domain.Role         `json:"assigned_role,omitempty" enum:"ADMIN,SALES,LOGISTICS,COOK" required:"false"`
	DueDate          *string              `json:"due_date,omitempty" format:"date-time"`
	EstimatedMinutes *int                 `json:"estimated_minutes,omitempty" minimum:"0"`
	Location         *string              `json:"location,omitempty"`
}

// ChangeTaskStatusRequest is the body for PATCH /tasks/{task_id}/status.
type ChangeTaskStatusRequest struct {
	Status domain.TaskStatus `json:"status" enum:"TODO,IN_PROGRESS,DONE,CANCELED"`
}

// TaskStatusResponse returns the changed task plus dependents freed by the
// change.
type TaskStatusResponse struct {
	Task      domain.Task   `json:"task"`
	Unblocked []domain.Task `json:"unblocked,omitempty"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-budget-tasks",
		Method:      http.MethodGet,
		Path:        "/budgets/{budget_id}/tasks",
		Summary:     "List tasks of a budget",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BudgetID string `path:"budget_id"`
		Status   string `query:"status" enum:"TODO,IN_PROGRESS,DONE,BLOCKED,CANCELED" required:"false"`
		Role     string `query:"role" enum:"ADMIN,SALES,LOGISTICS,COOK" required:"false"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		if _, err := e.Repo.GetBudget(ctx, input.BudgetID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTasks(ctx, input.BudgetID, domain.TaskStatus(input.Status), domain.Role(input.Role))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			BudgetID:         input.Body.BudgetID,
			Title:            input.Body.Title,
			Description:      input.Body.Description,
			Type:             input.Body.Type,
			Priority:         input.Body.Priority,
			AssignedRole:     input.Body.AssignedRole,
			DueDate:          input.Body.DueDate,
			EstimatedMinutes: input.Body.EstimatedMinutes,
			Location:         input.Body.Location,
			ParentTaskID:     input.Body.ParentTaskID,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task fields (version checked)",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, input.TaskID, input.Body.Version, engine.TaskPatch{
			Title:            input.Body.Title,
			Description:      input.Body.Description,
			Priority:         input.Body.Priority,
			AssignedRole:     input.Body.AssignedRole,
			DueDate:          input.Body.DueDate,
			EstimatedMinutes: input.Body.EstimatedMinutes,
			Location:         input.Body.Location,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Move a task along its lifecycle",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string                  `path:"task_id"`
		Body   ChangeTaskStatusRequest `json:"body"`
	}) (*struct {
		Body TaskStatusResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, freed, err := e.SetTaskStatus(ctx, input.TaskID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskStatusResponse `json:"body"`
		}{Body: TaskStatusResponse{Task: t, Unblocked: freed}}, nil
	})
}

// AddDependencyRequest is the body for POST /tasks/{task_id}/dependencies.
// The path task is the dependent; the body names its prerequisite.
type AddDependencyRequest struct {
	PrerequisiteID string                `json:"prerequisite_id" minLength:"1"`
	Type           domain.DependencyType `json:"type,omitempty" enum:"BLOCKS,REQUIRES,SUGGESTS" required:"false"`
	Notes          string                `json:"notes,omitempty"`
}

func registerDependencies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-dependency",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/dependencies",
		Summary:       "Add a dependency edge to a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   AddDependencyRequest `json:"body"`
	}) (*struct {
		Body domain.TaskDependency `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.AddDependency(ctx, engine.DependencyCreateOptions{
			PrerequisiteID: input.Body.PrerequisiteID,
			DependentID:    input.TaskID,
			Type:           input.Body.Type,
			Notes:          input.Body.Notes,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskDependency `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-budget-dependencies",
		Method:      http.MethodGet,
		Path:        "/budgets/{budget_id}/dependencies",
		Summary:     "List dependency edges of a budget",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BudgetID string `path:"budget_id"`
	}) (*struct {
		Body []domain.TaskDependency `json:"body"`
	}, error) {
		if _, err := e.Repo.GetBudget(ctx, input.BudgetID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListDependencies(ctx, input.BudgetID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TaskDependency `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-dependency",
		Method:      http.MethodDelete,
		Path:        "/dependencies/{dependency_id}",
		Summary:     "Deactivate a dependency edge",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DependencyID string `path:"dependency_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveDependency(ctx, input.DependencyID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
