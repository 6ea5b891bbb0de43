package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"magnus/internal/audit"
	"magnus/internal/config"
	"magnus/internal/domain"
	"magnus/internal/graph"
)

// GenerationResult is the outcome of one generation run. AlreadyTriggered is
// set when the run was an idempotent no-op and Tasks holds the previously
// generated tasks.
type GenerationResult struct {
	Tasks            []domain.Task           `json:"tasks"`
	Dependencies     []domain.TaskDependency `json:"dependencies"`
	AlreadyTriggered bool                    `json:"already_triggered"`
}

// generatedEdges wires dependencies between generated tasks by type.
// Blocking edges encode the physical order of event preparation; SUGGESTS
// edges are planning hints only.
var generatedEdges = []struct {
	Pre, Dep domain.TaskType
	Type     domain.DependencyType
}{
	{domain.TaskShopping, domain.TaskCooking, domain.DepRequires},
	{domain.TaskDelivery, domain.TaskSetup, domain.DepRequires},
	{domain.TaskCooking, domain.TaskSetup, domain.DepRequires},
	{domain.TaskSetup, domain.TaskCleanup, domain.DepRequires},
	{domain.TaskPreparation, domain.TaskSetup, domain.DepSuggests},
	{domain.TaskReservation, domain.TaskDelivery, domain.DepSuggests},
}

// GenerateTasks creates the preparation tasks for a budget that entered
// RESERVA. The run is atomic: tasks, dependency edges, trigger counters and
// the workflow_triggered latch commit together. A second call finds the latch
// set and returns the existing tasks and edges without touching anything.
func (e Engine) GenerateTasks(ctx context.Context, budgetID, actorID string) (GenerationResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return GenerationResult{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBudgetTx(ctx, tx, budgetID)
	if err != nil {
		return GenerationResult{}, err
	}
	if b.Status != domain.BudgetReserva {
		return GenerationResult{}, fmt.Errorf("budget %s is %s, task generation requires %s", b.ID, b.Status, domain.BudgetReserva)
	}
	if b.WorkflowTriggered {
		existing, err := e.Repo.ListAutoGeneratedTasksTx(ctx, tx, budgetID)
		if err != nil {
			return GenerationResult{}, err
		}
		all, err := e.Repo.ListDependenciesTx(ctx, tx, budgetID)
		if err != nil {
			return GenerationResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return GenerationResult{}, err
		}
		ids := make(map[string]bool, len(existing))
		for _, t := range existing {
			ids[t.ID] = true
		}
		var edges []domain.TaskDependency
		for _, d := range all {
			if d.IsActive && ids[d.PrerequisiteID] && ids[d.DependentID] {
				edges = append(edges, d)
			}
		}
		return GenerationResult{Tasks: existing, Dependencies: edges, AlreadyTriggered: true}, nil
	}

	eventDate, err := time.Parse(time.RFC3339, b.EventDate)
	if err != nil {
		return GenerationResult{}, fmt.Errorf("budget %s has invalid event date: %w", b.ID, err)
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)

	triggers, err := e.Repo.ActiveTriggersTx(ctx, tx, "BUDGET", "RESERVA")
	if err != nil {
		return GenerationResult{}, err
	}

	var generated []domain.Task
	byType := map[domain.TaskType]*domain.Task{}
	for _, trig := range triggers {
		if !triggerApplies(trig, b) {
			continue
		}
		due := dueDateFor(trig.OffsetKind, eventDate, e.Config)
		priority := trig.Priority
		if priority == "" {
			priority = domain.PriorityMedium
		}
		// past due dates are clamped to now and escalated
		if due.Before(now) {
			due = now
			if priority != domain.PriorityUrgent {
				priority = domain.PriorityHigh
			}
		}
		title := taskTitle(trig.TaskType)
		description := taskDescription(trig.TaskType, b)
		if trig.TriggerName == transportTriggerName {
			title = "Transport coordination"
			description = fmt.Sprintf("Arrange guest and material transport to %s", b.EventLocation)
		}
		t := domain.Task{
			ID:             uuid.NewString(),
			BudgetID:       b.ID,
			Title:          fmt.Sprintf("%s - %s", title, b.Name),
			Description:    description,
			Type:           trig.TaskType,
			Priority:       priority,
			Status:         domain.TaskTodo,
			AssignedRole:   trig.AssignedRole,
			DueDate:        due.Format(time.RFC3339),
			Location:       b.EventLocation,
			AutoGenerated:  true,
			Version:        1,
			ConflictStatus: domain.ConflictNone,
			CreatedAt:      nowStr,
			UpdatedAt:      nowStr,
		}
		generated = append(generated, t)
		// edges wire to the first task of each type, in execution order
		if _, taken := byType[t.Type]; !taken {
			byType[t.Type] = &generated[len(generated)-1]
		}
		if err := e.Repo.MarkTriggerExecuted(ctx, tx, trig.ID, nowStr); err != nil {
			return GenerationResult{}, err
		}
	}

	var edges []domain.TaskDependency
	for _, spec := range generatedEdges {
		pre, okPre := byType[spec.Pre]
		dep, okDep := byType[spec.Dep]
		if !okPre || !okDep {
			continue
		}
		edges = append(edges, domain.TaskDependency{
			ID:             uuid.NewString(),
			BudgetID:       b.ID,
			PrerequisiteID: pre.ID,
			DependentID:    dep.ID,
			Type:           spec.Type,
			IsActive:       true,
			CreatedAt:      nowStr,
		})
	}
	if err := graph.Validate(generated, edges); err != nil {
		return GenerationResult{}, err
	}

	statusByID := make(map[string]domain.TaskStatus, len(generated))
	for _, t := range generated {
		statusByID[t.ID] = t.Status
	}
	for i := range generated {
		generated[i].Status = graph.InitialStatus(generated[i].ID, edges, statusByID)
	}

	for _, t := range generated {
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return GenerationResult{}, fmt.Errorf("insert generated task: %w", err)
		}
		if err := e.Audit.Append(ctx, tx, audit.Entry{
			EntityType: "TASK", EntityID: t.ID, Action: domain.AuditCreate,
			FieldName: "auto_generated", NewValue: string(t.Type), ActorID: actorID,
		}); err != nil {
			return GenerationResult{}, err
		}
	}
	for _, edge := range edges {
		if err := e.Repo.InsertDependency(ctx, tx, edge); err != nil {
			return GenerationResult{}, fmt.Errorf("insert generated dependency: %w", err)
		}
	}
	if err := e.Repo.SetWorkflowTriggered(ctx, tx, b.ID, true, &nowStr); err != nil {
		return GenerationResult{}, err
	}
	if err := e.Audit.Append(ctx, tx, audit.Entry{
		EntityType: "BUDGET", EntityID: b.ID, Action: domain.AuditUpdate,
		FieldName: "workflow_triggered", OldValue: "false", NewValue: "true", ActorID: actorID,
	}); err != nil {
		return GenerationResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return GenerationResult{}, err
	}

	if e.Config == nil || e.Config.Workflow.Notifications.OnTaskGenerated {
		e.notifyGeneratedTasks(b, generated)
	}
	return GenerationResult{Tasks: generated, Dependencies: edges}, nil
}

// notifyGeneratedTasks publishes one notification per assigned role instead of
// one per task.
func (e Engine) notifyGeneratedTasks(b domain.Budget, tasks []domain.Task) {
	counts := map[domain.Role]int{}
	for _, t := range tasks {
		counts[t.AssignedRole]++
	}
	for role, n := range counts {
		e.publish(domain.Notification{
			Title:             fmt.Sprintf("%d new task(s) for %s", n, b.Name),
			Message:           fmt.Sprintf("budget %s entered %s, %d task(s) were generated for your role", b.ID, domain.BudgetReserva, n),
			Type:              domain.NotifySuccess,
			TargetRole:        rolePtr(role),
			RelatedEntityType: "BUDGET",
			RelatedEntityID:   b.ID,
		})
	}
}

// triggerApplies gates triggers on the budget composition: no meals budget
// means no shopping or cooking, and so on.
func triggerApplies(t domain.WorkflowTrigger, b domain.Budget) bool {
	if t.TriggerName == transportTriggerName {
		return b.TransportAmount > 0
	}
	switch t.TaskType {
	case domain.TaskShopping, domain.TaskCooking:
		return b.MealsAmount > 0
	case domain.TaskPreparation:
		return b.ActivitiesAmount > 0
	case domain.TaskReservation:
		return b.AccommodationAmount > 0
	default:
		return true
	}
}

func dueDateFor(offsetKind string, eventDate time.Time, cfg *config.Config) time.Time {
	shoppingDays, preparationDays, deliveryDays, cookingHours := 3, 2, 1, 6
	if cfg != nil {
		s := cfg.Workflow.Scheduling
		shoppingDays, preparationDays, deliveryDays, cookingHours = s.ShoppingDaysBefore, s.PreparationDaysBefore, s.DeliveryDaysBefore, s.CookingHoursBefore
	}
	switch offsetKind {
	case "shopping_days":
		return eventDate.AddDate(0, 0, -shoppingDays)
	case "preparation_days":
		return eventDate.AddDate(0, 0, -preparationDays)
	case "delivery_days":
		return eventDate.AddDate(0, 0, -deliveryDays)
	case "cooking_hours":
		return eventDate.Add(-time.Duration(cookingHours) * time.Hour)
	default:
		return eventDate
	}
}

func taskTitle(t domain.TaskType) string {
	switch t {
	case domain.TaskShopping:
		return "Shopping"
	case domain.TaskReservation:
		return "Accommodation reservation"
	case domain.TaskDelivery:
		return "Delivery"
	case domain.TaskCooking:
		return "Cooking"
	case domain.TaskPreparation:
		return "Activity preparation"
	case domain.TaskSetup:
		return "Event setup"
	case domain.TaskCleanup:
		return "Event cleanup"
	default:
		return string(t)
	}
}

func taskDescription(t domain.TaskType, b domain.Budget) string {
	switch t {
	case domain.TaskShopping:
		return fmt.Sprintf("Buy ingredients and supplies for %s (%d guests)", b.Name, b.GuestCount)
	case domain.TaskReservation:
		return fmt.Sprintf("Reserve accommodation for %s", b.ClientName)
	case domain.TaskDelivery:
		return fmt.Sprintf("Deliver material to %s", b.EventLocation)
	case domain.TaskCooking:
		return fmt.Sprintf("Prepare meals for %d guests", b.GuestCount)
	case domain.TaskPreparation:
		return fmt.Sprintf("Prepare activities for %s", b.Name)
	case domain.TaskSetup:
		return fmt.Sprintf("Set up the venue at %s", b.EventLocation)
	case domain.TaskCleanup:
		return "Clean up and collect material after the event"
	default:
		return ""
	}
}
