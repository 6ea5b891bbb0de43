package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"magnus/internal/audit"
	"magnus/internal/config"
	"magnus/internal/domain"
	"magnus/internal/notify"
	"magnus/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Recorder
	Config *config.Config
	Notify *notify.Dispatcher
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Recorder{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// publish hands a notification to the dispatcher when notifications are
// enabled. Safe to call with no dispatcher attached.
func (e Engine) publish(n domain.Notification) {
	if e.Notify == nil {
		return
	}
	if e.Config != nil && !e.Config.Workflow.Notifications.Enabled {
		return
	}
	e.Notify.Publish(n)
}

func (e Engine) notifyStatusChange(n domain.Notification) {
	if e.Config != nil && !e.Config.Workflow.Notifications.OnStatusChange {
		return
	}
	e.publish(n)
}

func (e Engine) notifyConflict(n domain.Notification) {
	if e.Config != nil && !e.Config.Workflow.Notifications.OnConflict {
		return
	}
	e.publish(n)
}

// BudgetCreateOptions are parameters for creating a budget.
type BudgetCreateOptions struct {
	ID                  string
	Name                string
	ClientName          string
	EventDate           string
	EventLocation       string
	GuestCount          int
	Description         string
	TotalAmount         float64
	MealsAmount         float64
	ActivitiesAmount    float64
	TransportAmount     float64
	AccommodationAmount float64
	Notes               string
	ActorID             string
}

func (e Engine) CreateBudget(ctx context.Context, opts BudgetCreateOptions) (domain.Budget, error) {
	if opts.Name == "" {
		return domain.Budget{}, errors.New("name is required")
	}
	if opts.ClientName == "" {
		return domain.Budget{}, errors.New("client name is required")
	}
	if _, err := time.Parse(time.RFC3339, opts.EventDate); err != nil {
		return domain.Budget{}, fmt.Errorf("event date must be RFC3339: %w", err)
	}
	if opts.GuestCount < 0 {
		return domain.Budget{}, errors.New("guest count must be >= 0")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Budget{}, err
	}
	defer tx.Rollback()

	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.NewString()
	}
	b := domain.Budget{
		ID:                  id,
		Name:                opts.Name,
		ClientName:          opts.ClientName,
		EventDate:           opts.EventDate,
		EventLocation:       opts.EventLocation,
		GuestCount:          opts.GuestCount,
		Description:         opts.Description,
		TotalAmount:         opts.TotalAmount,
		MealsAmount:         opts.MealsAmount,
		ActivitiesAmount:    opts.ActivitiesAmount,
		TransportAmount:     opts.TransportAmount,
		AccommodationAmount: opts.AccommodationAmount,
		Status:              domain.BudgetDraft,
		Notes:               opts.Notes,
		Version:             1,
		ConflictStatus:      domain.ConflictNone,
		CreatedBy:           opts.ActorID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := e.Repo.InsertBudget(ctx, tx, b); err != nil {
		return domain.Budget{}, fmt.Errorf("insert budget: %w", err)
	}
	if err := e.Audit.Append(ctx, tx, audit.Entry{
		EntityType: "BUDGET", EntityID: b.ID, Action: domain.AuditCreate,
		NewValue: string(b.Status), ActorID: opts.ActorID,
	}); err != nil {
		return domain.Budget{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Budget{}, err
	}
	return b, nil
}

// BudgetPatch is a partial budget update. Nil fields are left untouched.
type BudgetPatch struct {
	Name                *string
	ClientName          *string
	EventDate           *string
	EventLocation       *string
	GuestCount          *int
	Description         *string
	TotalAmount         *float64
	MealsAmount         *float64
	ActivitiesAmount    *float64
	TransportAmount     *float64
	AccommodationAmount *float64
	Notes               *string
}

func (p BudgetPatch) fields() map[string]any {
	m := map[string]any{}
	if p.Name != nil {
		m["name"] = *p.Name
	}
	if p.ClientName != nil {
		m["client_name"] = *p.ClientName
	}
	if p.EventDate != nil {
		m["event_date"] = *p.EventDate
	}
	if p.EventLocation != nil {
		m["event_location"] = *p.EventLocation
	}
	if p.GuestCount != nil {
		m["guest_count"] = *p.GuestCount
	}
	if p.Description != nil {
		m["description"] = *p.Description
	}
	if p.TotalAmount != nil {
		m["total_amount"] = *p.TotalAmount
	}
	if p.MealsAmount != nil {
		m["meals_amount"] = *p.MealsAmount
	}
	if p.ActivitiesAmount != nil {
		m["activities_amount"] = *p.ActivitiesAmount
	}
	if p.TransportAmount != nil {
		m["transport_amount"] = *p.TransportAmount
	}
	if p.AccommodationAmount != nil {
		m["accommodation_amount"] = *p.AccommodationAmount
	}
	if p.Notes != nil {
		m["notes"] = *p.Notes
	}
	return m
}

// UpdateBudget applies a version-checked partial update. When the expected
// version no longer matches, a conflict record is written and a
// *VersionConflictError carrying it is returned; the budget is not changed.
func (e Engine) UpdateBudget(ctx context.Context, id string, expectedVersion int, patch BudgetPatch, actorID string) (domain.Budget, error) {
	if patch.EventDate != nil {
		if _, err := time.Parse(time.RFC3339, *patch.EventDate); err != nil {
			return domain.Budget{}, fmt.Errorf("event date must be RFC3339: %w", err)
		}
	}
	fields := patch.fields()
	if len(fields) == 0 {
		return e.Repo.GetBudget(ctx, id)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Budget{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBudgetTx(ctx, tx, id)
	if err != nil {
		return domain.Budget{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if b.Version != expectedVersion {
		conflict, err := e.recordConflict(ctx, tx, "BUDGET", b.ID, fields, b, actorID, now)
		if err != nil {
			return domain.Budget{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Budget{}, err
		}
		e.notifyConflict(domain.Notification{
			Title:             "Concurrent edit on budget " + b.Name,
			Message:           fmt.Sprintf("budget %s was modified by someone else; conflict %s awaits resolution", b.ID, conflict.ID),
			Type:              domain.NotifyWarning,
			IsGlobal:          true,
			RelatedEntityType: "CONFLICT",
			RelatedEntityID:   conflict.ID,
			Priority:          domain.PriorityHigh,
		})
		return domain.Budget{}, &VersionConflictError{Conflict: conflict, Expected: expectedVersion, Actual: b.Version}
	}

	if err := e.Repo.UpdateBudgetFields(ctx, tx, id, fields, actorID, now); err != nil {
		return domain.Budget{}, err
	}
	changes, _ := json.Marshal(fields)
	if err := e.Audit.Append(ctx, tx, audit.Entry{
		EntityType: "BUDGET", EntityID: id, Action: domain.AuditUpdate,
		NewValue: string(changes), ActorID: actorID,
	}); err != nil {
		return domain.Budget{}, err
	}
	updated, err := e.Repo.GetBudgetTx(ctx, tx, id)
	if err != nil {
		return domain.Budget{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Budget{}, err
	}
	return updated, nil
}

// TransitionBudget moves a budget along its lifecycle. Entering RESERVA kicks
// off task generation in its own transaction after the status commit; a
// generation failure leaves the budget in RESERVA and is surfaced to the
// caller.
func (e Engine) TransitionBudget(ctx context.Context, id string, to domain.BudgetStatus, notes *string, actorID string) (domain.Budget, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Budget{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBudgetTx(ctx, tx, id)
	if err != nil {
		return domain.Budget{}, err
	}
	if err := validateBudgetTransition(b.Status, to); err != nil {
		return domain.Budget{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.SetBudgetStatus(ctx, tx, id, to, notes, actorID, now); err != nil {
		return domain.Budget{}, err
	}
	action := domain.AuditStatusChange
	switch to {
	case domain.BudgetApproved:
		action = domain.AuditApprove
	case domain.BudgetRejected:
		action = domain.AuditReject
	}
	if err := e.Audit.Append(ctx, tx, audit.Entry{
		EntityType: "BUDGET", EntityID: id, Action: action,
		FieldName: "status", OldValue: string(b.Status), NewValue: string(to), ActorID: actorID,
	}); err != nil {
		return domain.Budget{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Budget{}, err
	}

	e.notifyStatusChange(domain.Notification{
		Title:             fmt.Sprintf("Budget %s is now %s", b.Name, to),
		Message:           fmt.Sprintf("budget %s moved from %s to %s", b.ID, b.Status, to),
		Type:              statusNotificationType(to),
		IsGlobal:          true,
		RelatedEntityType: "BUDGET",
		RelatedEntityID:   b.ID,
	})

	if to == domain.BudgetReserva && e.generationEnabled() {
		if _, err := e.GenerateTasks(ctx, id, actorID); err != nil {
			return domain.Budget{}, fmt.Errorf("task generation: %w", err)
		}
	}
	return e.Repo.GetBudget(ctx, id)
}

// ApproveBudget fast-tracks a pending budget into RESERVA, running the
// intermediate APPROVED transition on the way.
func (e Engine) ApproveBudget(ctx context.Context, id string, notes *string, actorID string) (domain.Budget, error) {
	b, err := e.Repo.GetBudget(ctx, id)
	if err != nil {
		return domain.Budget{}, err
	}
	switch b.Status {
	case domain.BudgetPending:
		if _, err := e.TransitionBudget(ctx, id, domain.BudgetApproved, notes, actorID); err != nil {
			return domain.Budget{}, err
		}
		return e.TransitionBudget(ctx, id, domain.BudgetReserva, nil, actorID)
	case domain.BudgetApproved:
		return e.TransitionBudget(ctx, id, domain.BudgetReserva, notes, actorID)
	default:
		return domain.Budget{}, &InvalidTransitionError{From: b.Status, To: domain.BudgetReserva}
	}
}

// WorkflowStatus is the generation state of one budget.
type WorkflowStatus struct {
	BudgetID              string              `json:"budget_id"`
	Status                domain.BudgetStatus `json:"status"`
	WorkflowTriggered     bool                `json:"workflow_triggered"`
	LastWorkflowExecution *string             `json:"last_workflow_execution,omitempty"`
	GeneratedTaskCount    int                 `json:"generated_task_count"`
}

func (e Engine) GetWorkflowStatus(ctx context.Context, budgetID string) (WorkflowStatus, error) {
	b, err := e.Repo.GetBudget(ctx, budgetID)
	if err != nil {
		return WorkflowStatus{}, err
	}
	tasks, err := e.Repo.ListTasks(ctx, budgetID, "", "")
	if err != nil {
		return WorkflowStatus{}, err
	}
	count := 0
	for _, t := range tasks {
		if t.AutoGenerated {
			count++
		}
	}
	return WorkflowStatus{
		BudgetID:              b.ID,
		Status:                b.Status,
		WorkflowTriggered:     b.WorkflowTriggered,
		LastWorkflowExecution: b.LastWorkflowExecution,
		GeneratedTaskCount:    count,
	}, nil
}

func (e Engine) generationEnabled() bool {
	return e.Config == nil || e.Config.Workflow.TaskGeneration.Enabled
}

func statusNotificationType(s domain.BudgetStatus) domain.NotificationType {
	switch s {
	case domain.BudgetRejected, domain.BudgetCanceled:
		return domain.NotifyWarning
	case domain.BudgetApproved, domain.BudgetReserva, domain.BudgetCompleted:
		return domain.NotifySuccess
	default:
		return domain.NotifyInfo
	}
}
