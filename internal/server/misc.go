package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"magnus/internal/domain"
	"magnus/internal/engine"
)

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List notifications visible to the caller's role",
	}, func(ctx context.Context, input *struct {
		Role   string `query:"role" enum:"ADMIN,SALES,LOGISTICS,COOK" required:"false"`
		Unread bool   `query:"unread" required:"false"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		role := domain.Role(input.Role)
		if role == "" {
			role = roleFromContext(ctx)
		}
		items, err := e.Repo.ListNotifications(ctx, role, input.Unread)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{notification_id}/read",
		Summary:     "Mark a notification as read",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NotificationID string `path:"notification_id"`
	}) (*struct {
		Body domain.Notification `json:"body"`
	}, error) {
		now := time.Now().UTC().Format(time.RFC3339)
		if e.Now != nil {
			now = e.Now().UTC().Format(time.RFC3339)
		}
		if err := e.Repo.MarkNotificationRead(ctx, input.NotificationID, now); err != nil {
			return nil, handleError(err)
		}
		n, err := e.Repo.GetNotification(ctx, input.NotificationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Notification `json:"body"`
		}{Body: n}, nil
	})
}

// ResolveConflictRequest is the body for POST /conflicts/{conflict_id}/resolve.
type ResolveConflictRequest struct {
	Strategy      domain.ResolutionStrategy `json:"strategy" enum:"LAST_WRITE_WINS,MANUAL_MERGE,REJECT"`
	ResolvedValue string                    `json:"resolved_value,omitempty"`
}

func registerConflicts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-conflicts",
		Method:      http.MethodGet,
		Path:        "/conflicts",
		Summary:     "List conflict records",
	}, func(ctx context.Context, input *struct {
		EntityType string `query:"entity_type" enum:"BUDGET,TASK" required:"false"`
		EntityID   string `query:"entity_id" required:"false"`
		Status     string `query:"status" enum:"DETECTED,RESOLVED,ESCALATED" required:"false"`
	}) (*struct {
		Body []domain.ConflictResolution `json:"body"`
	}, error) {
		items, err := e.Repo.ListConflicts(ctx, input.EntityType, input.EntityID, domain.ConflictStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ConflictResolution `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-conflict",
		Method:      http.MethodPost,
		Path:        "/conflicts/{conflict_id}/resolve",
		Summary:     "Resolve a detected conflict",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ConflictID string                 `path:"conflict_id"`
		Body       ResolveConflictRequest `json:"body"`
	}) (*struct {
		Body domain.ConflictResolution `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ResolveConflict(ctx, engine.ResolveConflictOptions{
			ConflictID:    input.ConflictID,
			Strategy:      input.Body.Strategy,
			ResolvedValue: input.Body.ResolvedValue,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ConflictResolution `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-conflict",
		Method:      http.MethodPost,
		Path:        "/conflicts/{conflict_id}/escalate",
		Summary:     "Escalate a detected conflict for out-of-band handling",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ConflictID string `path:"conflict_id"`
	}) (*struct {
		Body domain.ConflictResolution `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.EscalateConflict(ctx, input.ConflictID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ConflictResolution `json:"body"`
		}{Body: c}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-logs",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "List audit log entries",
	}, func(ctx context.Context, input *struct {
		EntityType string `query:"entity_type" required:"false"`
		EntityID   string `query:"entity_id" required:"false"`
		Limit      int    `query:"limit" minimum:"0" maximum:"1000" required:"false"`
	}) (*struct {
		Body []domain.AuditLog `json:"body"`
	}, error) {
		limit := input.Limit
		if limit == 0 {
			limit = 100
		}
		items, err := e.Repo.ListAuditLogs(ctx, input.EntityType, input.EntityID, limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AuditLog `json:"body"`
		}{Body: items}, nil
	})
}

func registerTriggers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-triggers",
		Method:      http.MethodGet,
		Path:        "/triggers",
		Summary:     "List workflow triggers",
	}, func(ctx context.Context, input *struct {
		Active bool `query:"active" required:"false"`
	}) (*struct {
		Body []domain.WorkflowTrigger `json:"body"`
	}, error) {
		items, err := e.Repo.ListTriggers(ctx, input.Active)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkflowTrigger `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-trigger-active",
		Method:      http.MethodPatch,
		Path:        "/triggers/{trigger_id}",
		Summary:     "Enable or disable a workflow trigger",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TriggerID string `path:"trigger_id"`
		Body      struct {
			IsActive bool `json:"is_active"`
		} `json:"body"`
	}) (*struct{}, error) {
		now := time.Now().UTC().Format(time.RFC3339)
		if e.Now != nil {
			now = e.Now().UTC().Format(time.RFC3339)
		}
		if err := e.Repo.SetTriggerActive(ctx, input.TriggerID, input.Body.IsActive, now); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
