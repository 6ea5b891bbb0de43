package engine_test

import (
	"strings"
	"testing"
	"time"

	"magnus/internal/domain"
	"magnus/internal/engine"
)

// reservedBudget creates a fully loaded budget and walks it into RESERVA with
// automatic generation turned off, so tests drive GenerateTasks themselves.
func reservedBudget(t *testing.T, env testEnv, opts engine.BudgetCreateOptions) domain.Budget {
	t.Helper()
	env.Engine.Config.Workflow.TaskGeneration.Enabled = false
	b := createBudget(t, env, opts)
	for _, s := range []domain.BudgetStatus{domain.BudgetPending, domain.BudgetApproved, domain.BudgetReserva} {
		var err error
		b, err = env.Engine.TransitionBudget(env.Ctx, b.ID, s, nil, "tester")
		if err != nil {
			t.Fatalf("to %s: %v", s, err)
		}
	}
	return b
}

func tasksByType(tasks []domain.Task) map[domain.TaskType]domain.Task {
	m := make(map[domain.TaskType]domain.Task, len(tasks))
	for _, task := range tasks {
		m[task.Type] = task
	}
	return m
}

func TestGenerateCreatesFullTaskSet(t *testing.T) {
	env := newTestEnv(t)
	b := reservedBudget(t, env, engine.BudgetCreateOptions{
		EventLocation:       "Lakeside pavilion",
		GuestCount:          80,
		MealsAmount:         2500,
		ActivitiesAmount:    600,
		AccommodationAmount: 1200,
	})

	res, err := env.Engine.GenerateTasks(env.Ctx, b.ID, "tester")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.AlreadyTriggered {
		t.Fatalf("first run must not report already triggered")
	}
	if len(res.Tasks) != 7 {
		t.Fatalf("expected 7 tasks, got %d", len(res.Tasks))
	}
	byType := tasksByType(res.Tasks)
	for _, want := range []domain.TaskType{
		domain.TaskShopping, domain.TaskReservation, domain.TaskPreparation,
		domain.TaskCooking, domain.TaskDelivery, domain.TaskSetup, domain.TaskCleanup,
	} {
		task, ok := byType[want]
		if !ok {
			t.Fatalf("missing %s task", want)
		}
		if !task.AutoGenerated {
			t.Fatalf("%s task not marked auto generated", want)
		}
		if task.Location != "Lakeside pavilion" {
			t.Fatalf("%s task location = %q", want, task.Location)
		}
	}
	if len(res.Dependencies) != 6 {
		t.Fatalf("expected 6 edges, got %d", len(res.Dependencies))
	}

	// tasks behind blocking prerequisites start BLOCKED, the rest TODO
	wantStatus := map[domain.TaskType]domain.TaskStatus{
		domain.TaskShopping:    domain.TaskTodo,
		domain.TaskReservation: domain.TaskTodo,
		domain.TaskPreparation: domain.TaskTodo,
		domain.TaskDelivery:    domain.TaskTodo,
		domain.TaskCooking:     domain.TaskBlocked,
		domain.TaskSetup:       domain.TaskBlocked,
		domain.TaskCleanup:     domain.TaskBlocked,
	}
	for typ, want := range wantStatus {
		if got := byType[typ].Status; got != want {
			t.Fatalf("%s status = %s, want %s", typ, got, want)
		}
	}

	b, err = env.Engine.Repo.GetBudget(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !b.WorkflowTriggered || b.LastWorkflowExecution == nil {
		t.Fatalf("expected latch set")
	}
}

func TestGenerateDueDatesFollowOffsets(t *testing.T) {
	env := newTestEnv(t)
	eventDate := env.Engine.Now().Add(10 * 24 * time.Hour)
	b := reservedBudget(t, env, engine.BudgetCreateOptions{
		EventDate:   eventDate.Format(time.RFC3339),
		MealsAmount: 1000,
	})
	res, err := env.Engine.GenerateTasks(env.Ctx, b.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	byType := tasksByType(res.Tasks)
	wantDue := map[domain.TaskType]time.Time{
		domain.TaskShopping: eventDate.AddDate(0, 0, -3),
		domain.TaskCooking:  eventDate.Add(-6 * time.Hour),
		domain.TaskDelivery: eventDate.AddDate(0, 0, -1),
		domain.TaskSetup:    eventDate,
		domain.TaskCleanup:  eventDate,
	}
	for typ, want := range wantDue {
		if got := byType[typ].DueDate; got != want.Format(time.RFC3339) {
			t.Fatalf("%s due = %s, want %s", typ, got, want.Format(time.RFC3339))
		}
	}
}

func TestGenerateSkipsInapplicableTriggers(t *testing.T) {
	env := newTestEnv(t)
	// no meals, no activities, no accommodation
	b := reservedBudget(t, env, engine.BudgetCreateOptions{})
	res, err := env.Engine.GenerateTasks(env.Ctx, b.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	byType := tasksByType(res.Tasks)
	for _, skipped := range []domain.TaskType{
		domain.TaskShopping, domain.TaskCooking, domain.TaskPreparation, domain.TaskReservation,
	} {
		if _, ok := byType[skipped]; ok {
			t.Fatalf("did not expect %s task", skipped)
		}
	}
	if len(res.Tasks) != 3 {
		t.Fatalf("expected delivery/setup/cleanup only, got %d tasks", len(res.Tasks))
	}
	if len(res.Dependencies) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(res.Dependencies))
	}
}

func TestGenerateTransportTask(t *testing.T) {
	env := newTestEnv(t)
	eventDate := env.Engine.Now().Add(10 * 24 * time.Hour)
	b := reservedBudget(t, env, engine.BudgetCreateOptions{
		EventDate:       eventDate.Format(time.RFC3339),
		EventLocation:   "Old mill",
		TransportAmount: 900,
	})
	res, err := env.Engine.GenerateTasks(env.Ctx, b.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	// delivery, transport, setup, cleanup
	if len(res.Tasks) != 4 {
		t.Fatalf("expected 4 tasks, got %d", len(res.Tasks))
	}
	var transport domain.Task
	for _, task := range res.Tasks {
		if strings.HasPrefix(task.Title, "Transport coordination") {
			transport = task
		}
	}
	if transport.ID == "" {
		t.Fatalf("missing transport task")
	}
	if transport.Type != domain.TaskDelivery {
		t.Fatalf("transport task type = %s, want %s", transport.Type, domain.TaskDelivery)
	}
	if want := eventDate.AddDate(0, 0, -1).Format(time.RFC3339); transport.DueDate != want {
		t.Fatalf("transport due = %s, want %s", transport.DueDate, want)
	}
	// ordering edges stay on the primary delivery task
	if len(res.Dependencies) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(res.Dependencies))
	}
	for _, edge := range res.Dependencies {
		if edge.PrerequisiteID == transport.ID || edge.DependentID == transport.ID {
			t.Fatalf("transport task must not carry ordering edges")
		}
	}
}

func TestGenerateSkipsTransportWithoutBudget(t *testing.T) {
	env := newTestEnv(t)
	b := reservedBudget(t, env, engine.BudgetCreateOptions{MealsAmount: 700})
	res, err := env.Engine.GenerateTasks(env.Ctx, b.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range res.Tasks {
		if strings.HasPrefix(task.Title, "Transport coordination") {
			t.Fatalf("transport task generated without a transport budget")
		}
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	b := reservedBudget(t, env, engine.BudgetCreateOptions{MealsAmount: 500})
	first, err := env.Engine.GenerateTasks(env.Ctx, b.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.GenerateTasks(env.Ctx, b.ID, "tester")
	if err != nil {
		t.Fatalf("second run must not error: %v", err)
	}
	if !second.AlreadyTriggered {
		t.Fatalf("expected already-triggered result")
	}
	if len(second.Tasks) != len(first.Tasks) {
		t.Fatalf("expected same tasks back, got %d vs %d", len(second.Tasks), len(first.Tasks))
	}
	if len(second.Dependencies) != len(first.Dependencies) {
		t.Fatalf("expected same edges back, got %d vs %d", len(second.Dependencies), len(first.Dependencies))
	}
	all, err := env.Engine.Repo.ListTasks(env.Ctx, b.ID, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(first.Tasks) {
		t.Fatalf("duplicate tasks created: %d in db", len(all))
	}
}

func TestGenerateRequiresReserva(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{})
	if _, err := env.Engine.GenerateTasks(env.Ctx, b.ID, "tester"); err == nil {
		t.Fatalf("expected generation rejection for DRAFT budget")
	}
}

func TestGenerateClampsPastDueDates(t *testing.T) {
	env := newTestEnv(t)
	// event in 12 hours: day-based offsets all land in the past
	b := reservedBudget(t, env, engine.BudgetCreateOptions{
		EventDate:           env.Engine.Now().Add(12 * time.Hour).Format(time.RFC3339),
		MealsAmount:         800,
		AccommodationAmount: 300,
	})
	res, err := env.Engine.GenerateTasks(env.Ctx, b.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	now := env.Engine.Now().UTC().Format(time.RFC3339)
	byType := tasksByType(res.Tasks)

	reservation := byType[domain.TaskReservation]
	if reservation.DueDate != now {
		t.Fatalf("expected clamped due date %s, got %s", now, reservation.DueDate)
	}
	if reservation.Priority != domain.PriorityHigh {
		t.Fatalf("expected escalation to HIGH, got %s", reservation.Priority)
	}
	// URGENT tasks keep their priority when clamped
	if cooking := byType[domain.TaskCooking]; cooking.Priority != domain.PriorityUrgent {
		t.Fatalf("expected cooking to stay URGENT, got %s", cooking.Priority)
	}
}

func TestGenerateRunsOnReservaEntry(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{MealsAmount: 1500})
	b, _ = env.Engine.TransitionBudget(env.Ctx, b.ID, domain.BudgetPending, nil, "tester")
	b, _ = env.Engine.TransitionBudget(env.Ctx, b.ID, domain.BudgetApproved, nil, "tester")
	b, err := env.Engine.TransitionBudget(env.Ctx, b.ID, domain.BudgetReserva, nil, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if !b.WorkflowTriggered {
		t.Fatalf("expected generation on RESERVA entry")
	}
	ws, err := env.Engine.GetWorkflowStatus(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ws.GeneratedTaskCount == 0 {
		t.Fatalf("expected generated task count in workflow status")
	}
}
