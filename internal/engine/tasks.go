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
	"magnus/internal/domain"
	"magnus/internal/graph"
	"magnus/internal/repo"
)

// TaskCreateOptions are parameters for creating a task by hand.
type TaskCreateOptions struct {
	ID               string
	BudgetID         string
	Title            string
	Description      string
	Type             domain.TaskType
	Priority         domain.TaskPriority
	AssignedRole     domain.Role
	DueDate          string
	EstimatedMinutes *int
	Location         string
	ParentTaskID     string
	ActorID          string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.BudgetID == "" {
		return domain.Task{}, errors.New("budget is required")
	}
	if _, err := time.Parse(time.RFC3339, opts.DueDate); err != nil {
		return domain.Task{}, fmt.Errorf("due date must be RFC3339: %w", err)
	}
	if opts.Type == "" {
		opts.Type = domain.TaskNeed
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetBudgetTx(ctx, tx, opts.BudgetID); err != nil {
		return domain.Task{}, err
	}
	if opts.ParentTaskID != "" {
		parent, err := e.Repo.GetTaskTx(ctx, tx, opts.ParentTaskID)
		if err != nil {
			return domain.Task{}, err
		}
		if parent.BudgetID != opts.BudgetID {
			return domain.Task{}, errors.New("parent task in different budget")
		}
	}
	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.NewString()
	}
	t := domain.Task{
		ID:               id,
		BudgetID:         opts.BudgetID,
		Title:            opts.Title,
		Description:      opts.Description,
		Type:             opts.Type,
		Priority:         opts.Priority,
		Status:           domain.TaskTodo,
		AssignedRole:     opts.AssignedRole,
		DueDate:          opts.DueDate,
		EstimatedMinutes: opts.EstimatedMinutes,
		Location:         opts.Location,
		ParentTaskID:     optionalString(opts.ParentTaskID),
		Version:          1,
		ConflictStatus:   domain.ConflictNone,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Audit.Append(ctx, tx, audit.Entry{
		EntityType: "TASK", EntityID: t.ID, Action: domain.AuditCreate,
		NewValue: string(t.Status), ActorID: opts.ActorID,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskPatch is a partial task update. Nil fields are left untouched.
type TaskPatch struct {
	Title            *string
	Description      *string
	Priority         *domain.TaskPriority
	AssignedRole     *domain.Role
	DueDate          *string
	EstimatedMinutes *int
	Location         *string
}

func (p TaskPatch) fields() map[string]any {
	m := map[string]any{}
	if p.Title != nil {
		m["title"] = *p.Title
	}
	if p.Description != nil {
		m["description"] = *p.Description
	}
	if p.Priority != nil {
		m["priority"] = string(*p.Priority)
	}
	if p.AssignedRole != nil {
		m["assigned_role"] = string(*p.AssignedRole)
	}
	if p.DueDate != nil {
		m["due_date"] = *p.DueDate
	}
	if p.EstimatedMinutes != nil {
		m["estimated_minutes"] = *p.EstimatedMinutes
	}
	if p.Location != nil {
		m["location"] = *p.Location
	}
	return m
}

// UpdateTask applies a version-checked partial update, mirroring
// Engine.UpdateBudget for tasks.
func (e Engine) UpdateTask(ctx context.Context, id string, expectedVersion int, patch TaskPatch, actorID string) (domain.Task, error) {
	if patch.DueDate != nil {
		if _, err := time.Parse(time.RFC3339, *patch.DueDate); err != nil {
			return domain.Task{}, fmt.Errorf("due date must be RFC3339: %w", err)
		}
	}
	fields := patch.fields()
	if len(fields) == 0 {
		return e.Repo.GetTask(ctx, id)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if t.Version != expectedVersion {
		conflict, err := e.recordConflict(ctx, tx, "TASK", t.ID, fields, t, actorID, now)
		if err != nil {
			return domain.Task{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Task{}, err
		}
		e.notifyConflict(domain.Notification{
			Title:             "Concurrent edit on task " + t.Title,
			Message:           fmt.Sprintf("task %s was modified by someone else; conflict %s awaits resolution", t.ID, conflict.ID),
			Type:              domain.NotifyWarning,
			TargetRole:        rolePtr(t.AssignedRole),
			RelatedEntityType: "CONFLICT",
			RelatedEntityID:   conflict.ID,
			Priority:          domain.PriorityHigh,
		})
		return domain.Task{}, &VersionConflictError{Conflict: conflict, Expected: expectedVersion, Actual: t.Version}
	}

	if err := e.Repo.UpdateTaskFields(ctx, tx, id, fields, now); err != nil {
		return domain.Task{}, err
	}
	changes, _ := json.Marshal(fields)
	if err := e.Audit.Append(ctx, tx, audit.Entry{
		EntityType: "TASK", EntityID: id, Action: domain.AuditUpdate,
		NewValue: string(changes), ActorID: actorID,
	}); err != nil {
		return domain.Task{}, err
	}
	updated, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return updated, nil
}

// SetTaskStatus moves a task through its lifecycle. Completing a task frees
// direct dependents whose blocking prerequisites are all DONE; propagation is
// one layer deep per completion.
func (e Engine) SetTaskStatus(ctx context.Context, id string, to domain.TaskStatus, actorID string) (domain.Task, []domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, nil, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, nil, err
	}
	if err := validateTaskTransition(t.Status, to); err != nil {
		return domain.Task{}, nil, err
	}
	if to == domain.TaskDone {
		if err := e.ensurePrerequisitesDone(ctx, tx, t.ID); err != nil {
			return domain.Task{}, nil, err
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	var completedAt *string
	if to == domain.TaskDone {
		completedAt = &now
	}
	if err := e.Repo.SetTaskStatus(ctx, tx, id, to, completedAt, now); err != nil {
		return domain.Task{}, nil, err
	}
	if err := e.Audit.Append(ctx, tx, audit.Entry{
		EntityType: "TASK", EntityID: id, Action: domain.AuditStatusChange,
		FieldName: "status", OldValue: string(t.Status), NewValue: string(to), ActorID: actorID,
	}); err != nil {
		return domain.Task{}, nil, err
	}

	var freed []domain.Task
	if to == domain.TaskDone {
		freed, err = e.propagateCompletion(ctx, tx, t, actorID, now)
		if err != nil {
			return domain.Task{}, nil, err
		}
	}
	updated, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, nil, err
	}

	for _, f := range freed {
		e.publish(domain.Notification{
			Title:             "Task unblocked: " + f.Title,
			Message:           fmt.Sprintf("task %s is ready to start, its prerequisites are done", f.ID),
			Type:              domain.NotifyInfo,
			TargetRole:        rolePtr(f.AssignedRole),
			RelatedEntityType: "TASK",
			RelatedEntityID:   f.ID,
		})
	}
	return updated, freed, nil
}

// ensurePrerequisitesDone guards the completion invariant: a task may only
// become DONE when every active blocking prerequisite already is.
func (e Engine) ensurePrerequisitesDone(ctx context.Context, tx *sql.Tx, taskID string) error {
	edges, err := e.Repo.ListPrerequisitesTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	for _, edge := range edges {
		if !edge.Blocking() {
			continue
		}
		pre, err := e.Repo.GetTaskTx(ctx, tx, edge.PrerequisiteID)
		if err != nil {
			return err
		}
		if pre.Status != domain.TaskDone {
			return fmt.Errorf("task %s requires %s (%s) to be done first", taskID, pre.Title, pre.Status)
		}
	}
	return nil
}

func (e Engine) propagateCompletion(ctx context.Context, tx *sql.Tx, done domain.Task, actorID, now string) ([]domain.Task, error) {
	deps, err := e.Repo.ListDependenciesTx(ctx, tx, done.BudgetID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.Repo.ListTasksTx(ctx, tx, done.BudgetID)
	if err != nil {
		return nil, err
	}
	statusByID := make(map[string]domain.TaskStatus, len(tasks))
	byID := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		statusByID[t.ID] = t.Status
	}
	statusByID[done.ID] = domain.TaskDone

	var freed []domain.Task
	for _, freedID := range graph.Unblocked(done.ID, deps, statusByID) {
		if err := e.Repo.SetTaskStatus(ctx, tx, freedID, domain.TaskTodo, nil, now); err != nil {
			return nil, err
		}
		if err := e.Audit.Append(ctx, tx, audit.Entry{
			EntityType: "TASK", EntityID: freedID, Action: domain.AuditStatusChange,
			FieldName: "status", OldValue: string(domain.TaskBlocked), NewValue: string(domain.TaskTodo), ActorID: actorID,
		}); err != nil {
			return nil, err
		}
		f := byID[freedID]
		f.Status = domain.TaskTodo
		freed = append(freed, f)
	}
	return freed, nil
}

// DependencyCreateOptions are parameters for adding a dependency edge.
type DependencyCreateOptions struct {
	PrerequisiteID string
	DependentID    string
	Type           domain.DependencyType
	Notes          string
	ActorID        string
}

// AddDependency inserts an edge and revalidates the whole budget graph; a
// cycle rolls everything back. A new blocking edge with an unfinished
// prerequisite pushes a TODO or IN_PROGRESS dependent into BLOCKED.
func (e Engine) AddDependency(ctx context.Context, opts DependencyCreateOptions) (domain.TaskDependency, error) {
	if opts.PrerequisiteID == opts.DependentID {
		return domain.TaskDependency{}, errors.New("task cannot depend on itself")
	}
	if opts.Type == "" {
		opts.Type = domain.DepRequires
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskDependency{}, err
	}
	defer tx.Rollback()

	pre, err := e.Repo.GetTaskTx(ctx, tx, opts.PrerequisiteID)
	if err != nil {
		return domain.TaskDependency{}, fmt.Errorf("prerequisite: %w", err)
	}
	dep, err := e.Repo.GetTaskTx(ctx, tx, opts.DependentID)
	if err != nil {
		return domain.TaskDependency{}, fmt.Errorf("dependent: %w", err)
	}
	if pre.BudgetID != dep.BudgetID {
		return domain.TaskDependency{}, errors.New("tasks belong to different budgets")
	}

	now := e.now().UTC().Format(time.RFC3339)
	d := domain.TaskDependency{
		ID:             uuid.NewString(),
		BudgetID:       pre.BudgetID,
		PrerequisiteID: opts.PrerequisiteID,
		DependentID:    opts.DependentID,
		Type:           opts.Type,
		Notes:          opts.Notes,
		IsActive:       true,
		CreatedAt:      now,
	}
	if err := e.Repo.InsertDependency(ctx, tx, d); err != nil {
		return domain.TaskDependency{}, fmt.Errorf("insert dependency: %w", err)
	}

	tasks, err := e.Repo.ListTasksTx(ctx, tx, pre.BudgetID)
	if err != nil {
		return domain.TaskDependency{}, err
	}
	deps, err := e.Repo.ListDependenciesTx(ctx, tx, pre.BudgetID)
	if err != nil {
		return domain.TaskDependency{}, err
	}
	if err := graph.Validate(tasks, deps); err != nil {
		return domain.TaskDependency{}, err
	}

	if d.Blocking() && pre.Status != domain.TaskDone &&
		(dep.Status == domain.TaskTodo || dep.Status == domain.TaskInProgress) {
		if err := e.Repo.SetTaskStatus(ctx, tx, dep.ID, domain.TaskBlocked, nil, now); err != nil {
			return domain.TaskDependency{}, err
		}
		if err := e.Audit.Append(ctx, tx, audit.Entry{
			EntityType: "TASK", EntityID: dep.ID, Action: domain.AuditStatusChange,
			FieldName: "status", OldValue: string(dep.Status), NewValue: string(domain.TaskBlocked), ActorID: opts.ActorID,
		}); err != nil {
			return domain.TaskDependency{}, err
		}
	}
	if err := e.Audit.Append(ctx, tx, audit.Entry{
		EntityType: "DEPENDENCY", EntityID: d.ID, Action: domain.AuditCreate,
		NewValue: fmt.Sprintf("%s -> %s (%s)", d.PrerequisiteID, d.DependentID, d.Type), ActorID: opts.ActorID,
	}); err != nil {
		return domain.TaskDependency{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskDependency{}, err
	}
	return d, nil
}

// RemoveDependency deactivates an edge. A BLOCKED dependent with no remaining
// unfinished blocking prerequisite drops back to TODO.
func (e Engine) RemoveDependency(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDependency(ctx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeactivateDependency(ctx, tx, id); err != nil {
		return err
	}
	now := e.now().UTC().Format(time.RFC3339)

	dep, err := e.Repo.GetTaskTx(ctx, tx, d.DependentID)
	if err != nil && err != repo.ErrNotFound {
		return err
	}
	if err == nil && dep.Status == domain.TaskBlocked {
		remaining, err := e.Repo.ListPrerequisitesTx(ctx, tx, dep.ID)
		if err != nil {
			return err
		}
		blocked := false
		for _, edge := range remaining {
			if !edge.Blocking() {
				continue
			}
			pre, err := e.Repo.GetTaskTx(ctx, tx, edge.PrerequisiteID)
			if err != nil {
				return err
			}
			if pre.Status != domain.TaskDone {
				blocked = true
				break
			}
		}
		if !blocked {
			if err := e.Repo.SetTaskStatus(ctx, tx, dep.ID, domain.TaskTodo, nil, now); err != nil {
				return err
			}
			if err := e.Audit.Append(ctx, tx, audit.Entry{
				EntityType: "TASK", EntityID: dep.ID, Action: domain.AuditStatusChange,
				FieldName: "status", OldValue: string(domain.TaskBlocked), NewValue: string(domain.TaskTodo), ActorID: actorID,
			}); err != nil {
				return err
			}
		}
	}
	if err := e.Audit.Append(ctx, tx, audit.Entry{
		EntityType: "DEPENDENCY", EntityID: id, Action: domain.AuditDelete, ActorID: actorID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func rolePtr(r domain.Role) *domain.Role {
	if r == "" {
		return nil
	}
	return &r
}
