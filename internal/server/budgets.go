package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"magnus/internal/domain"
	"magnus/internal/engine"
)

// CreateBudgetRequest is the body for POST /budgets.
type CreateBudgetRequest struct {
	Name                string  `json:"name" minLength:"1"`
	ClientName          string  `json:"client_name" minLength:"1"`
	EventDate           string  `json:"event_date" format:"date-time"`
	EventLocation       string  `json:"event_location,omitempty"`
	GuestCount          int     `json:"guest_count,omitempty" minimum:"0"`
	Description         string  `json:"description,omitempty"`
	TotalAmount         float64 `json:"total_amount,omitempty" minimum:"0"`
	MealsAmount         float64 `json:"meals_amount,omitempty" minimum:"0"`
	ActivitiesAmount    float64 `json:"activities_amount,omitempty" minimum:"0"`
	TransportAmount     float64 `json:"transport_amount,omitempty" minimum:"0"`
	AccommodationAmount float64 `json:"accommodation_amount,omitempty" minimum:"0"`
	Notes               string  `json:"notes,omitempty"`
}

// UpdateBudgetRequest is the body for PATCH /budgets/{budget_id}. Version is
// the optimistic concurrency check.
type UpdateBudgetRequest struct {
	Version             int      `json:"version" minimum:"1"`
	Name                *string  `json:"name,omitempty"`
	ClientName          *string  `json:"client_name,omitempty"`
	EventDate           *string  `json:"event_date,omitempty" format:"date-time"`
	EventLocation       *string  `json:"event_location,omitempty"`
	GuestCount          *int     `json:"guest_count,omitempty" minimum:"0"`
	Description         *string  `json:"description,omitempty"`
	TotalAmount         *float64 `json:"total_amount,omitempty" minimum:"0"`
	MealsAmount         *float64 `json:"meals_amount,omitempty" minimum:"0"`
	ActivitiesAmount    *float64 `json:"activities_amount,omitempty" minimum:"0"`
	TransportAmount     *float64 `json:"transport_amount,omitempty" minimum:"0"`
	AccommodationAmount *float64 `json:"accommodation_amount,omitempty" minimum:"0"`
	Notes               *string  `json:"notes,omitempty"`
}

func registerBudgets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-budget",
		Method:        http.MethodPost,
		Path:          "/budgets",
		Summary:       "Create budget",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateBudgetRequest `json:"body"`
	}) (*struct {
		Body domain.Budget `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CreateBudget(ctx, engine.BudgetCreateOptions{
			Name:                input.Body.Name,
			ClientName:          input.Body.ClientName,
			EventDate:           input.Body.EventDate,
			EventLocation:       input.Body.EventLocation,
			GuestCount:          input.Body.GuestCount,
			Description:         input.Body.Description,
			TotalAmount:         input.Body.TotalAmount,
			MealsAmount:         input.Body.MealsAmount,
			ActivitiesAmount:    input.Body.ActivitiesAmount,
			TransportAmount:     input.Body.TransportAmount,
			AccommodationAmount: input.Body.AccommodationAmount,
			Notes:               input.Body.Notes,
			ActorID:             actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Budget `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-budgets",
		Method:      http.MethodGet,
		Path:        "/budgets",
		Summary:     "List budgets",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"DRAFT,PENDING,APPROVED,RESERVA,REJECTED,COMPLETED,CANCELED" required:"false"`
	}) (*struct {
		Body []domain.Budget `json:"body"`
	}, error) {
		items, err := e.Repo.ListBudgets(ctx, domain.BudgetStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Budget `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-budget",
		Method:      http.MethodGet,
		Path:        "/budgets/{budget_id}",
		Summary:     "Get budget",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BudgetID string `path:"budget_id"`
	}) (*struct {
		Body domain.Budget `json:"body"`
	}, error) {
		b, err := e.Repo.GetBudget(ctx, input.BudgetID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Budget `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-budget",
		Method:      http.MethodPatch,
		Path:        "/budgets/{budget_id}",
		Summary:     "Update budget fields (version checked)",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		BudgetID string              `path:"budget_id"`
		Body     UpdateBudgetRequest `json:"body"`
	}) (*struct {
		Body domain.Budget `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.UpdateBudget(ctx, input.BudgetID, input.Body.Version, engine.BudgetPatch{
			Name:                input.Body.Name,
			ClientName:          input.Body.ClientName,
			EventDate:           input.Body.EventDate,
			EventLocation:       input.Body.EventLocation,
			GuestCount:          input.Body.GuestCount,
			Description:         input.Body.Description,
			TotalAmount:         input.Body.TotalAmount,
			MealsAmount:         input.Body.MealsAmount,
			ActivitiesAmount:    input.Body.ActivitiesAmount,
			TransportAmount:     input.Body.TransportAmount,
			AccommodationAmount: input.Body.AccommodationAmount,
			Notes:               input.Body.Notes,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Budget `json:"body"`
		}{Body: b}, nil
	})
}
