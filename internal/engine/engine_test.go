package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"magnus/internal/config"
	"magnus/internal/db"
	"magnus/internal/domain"
	"magnus/internal/engine"
	"magnus/internal/graph"
	"magnus/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.SeedDefaultTriggers(ctx); err != nil {
		t.Fatalf("seed triggers: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func createBudget(t *testing.T, env testEnv, opts engine.BudgetCreateOptions) domain.Budget {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "Spring gala"
	}
	if opts.ClientName == "" {
		opts.ClientName = "Acme"
	}
	if opts.EventDate == "" {
		opts.EventDate = env.Engine.Now().Add(10 * 24 * time.Hour).Format(time.RFC3339)
	}
	if opts.ActorID == "" {
		opts.ActorID = "tester"
	}
	b, err := env.Engine.CreateBudget(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create budget: %v", err)
	}
	return b
}

func createTask(t *testing.T, env testEnv, budgetID, title string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		BudgetID:     budgetID,
		Title:        title,
		AssignedRole: domain.RoleLogistics,
		DueDate:      env.Engine.Now().Add(48 * time.Hour).Format(time.RFC3339),
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	return task
}

func TestCreateBudgetDefaults(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{})
	if b.Status != domain.BudgetDraft {
		t.Fatalf("expected DRAFT, got %s", b.Status)
	}
	if b.Version != 1 {
		t.Fatalf("expected version 1, got %d", b.Version)
	}
	if b.WorkflowTriggered {
		t.Fatalf("new budget should not be triggered")
	}
}

func TestCreateBudgetValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateBudget(env.Ctx, engine.BudgetCreateOptions{ClientName: "Acme", EventDate: "2026-06-01T00:00:00Z", ActorID: "tester"}); err == nil {
		t.Fatalf("expected missing name error")
	}
	if _, err := env.Engine.CreateBudget(env.Ctx, engine.BudgetCreateOptions{Name: "x", ClientName: "Acme", EventDate: "next tuesday", ActorID: "tester"}); err == nil {
		t.Fatalf("expected bad date error")
	}
}

func TestBudgetLifecycle(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{})

	// DRAFT can only go to PENDING
	if _, err := env.Engine.TransitionBudget(env.Ctx, b.ID, domain.BudgetApproved, nil, "tester"); err == nil {
		t.Fatalf("expected DRAFT -> APPROVED rejection")
	}
	var invalid *engine.InvalidTransitionError
	_, err := env.Engine.TransitionBudget(env.Ctx, b.ID, domain.BudgetCompleted, nil, "tester")
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	b, err = env.Engine.TransitionBudget(env.Ctx, b.ID, domain.BudgetPending, nil, "tester")
	if err != nil || b.Status != domain.BudgetPending {
		t.Fatalf("to PENDING: %v", err)
	}
	b, err = env.Engine.TransitionBudget(env.Ctx, b.ID, domain.BudgetApproved, nil, "tester")
	if err != nil || b.Status != domain.BudgetApproved {
		t.Fatalf("to APPROVED: %v", err)
	}
	if b.ApprovedAt == nil {
		t.Fatalf("expected approved_at set")
	}
	b, err = env.Engine.TransitionBudget(env.Ctx, b.ID, domain.BudgetReserva, nil, "tester")
	if err != nil || b.Status != domain.BudgetReserva {
		t.Fatalf("to RESERVA: %v", err)
	}
	if b.ReservedAt == nil {
		t.Fatalf("expected reserved_at set")
	}
	b, err = env.Engine.TransitionBudget(env.Ctx, b.ID, domain.BudgetCompleted, nil, "tester")
	if err != nil || b.Status != domain.BudgetCompleted {
		t.Fatalf("to COMPLETED: %v", err)
	}
	// terminal
	if _, err := env.Engine.TransitionBudget(env.Ctx, b.ID, domain.BudgetPending, nil, "tester"); err == nil {
		t.Fatalf("expected COMPLETED to be terminal")
	}
}

func TestBudgetRejection(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{})
	if _, err := env.Engine.TransitionBudget(env.Ctx, b.ID, domain.BudgetRejected, nil, "tester"); err == nil {
		t.Fatalf("DRAFT cannot be rejected")
	}
	b, _ = env.Engine.TransitionBudget(env.Ctx, b.ID, domain.BudgetPending, nil, "tester")
	b, err := env.Engine.TransitionBudget(env.Ctx, b.ID, domain.BudgetRejected, nil, "tester")
	if err != nil || b.Status != domain.BudgetRejected {
		t.Fatalf("to REJECTED: %v", err)
	}
}

func TestApproveBudgetChainsToReserva(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{})
	if _, err := env.Engine.ApproveBudget(env.Ctx, b.ID, nil, "tester"); err == nil {
		t.Fatalf("DRAFT budget should not be approvable")
	}
	b, _ = env.Engine.TransitionBudget(env.Ctx, b.ID, domain.BudgetPending, nil, "tester")
	b, err := env.Engine.ApproveBudget(env.Ctx, b.ID, nil, "tester")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if b.Status != domain.BudgetReserva {
		t.Fatalf("expected RESERVA after approve, got %s", b.Status)
	}
	if !b.WorkflowTriggered {
		t.Fatalf("expected task generation on RESERVA entry")
	}
}

func TestUpdateBudgetBumpsVersion(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{})
	total := 9000.0
	b, err := env.Engine.UpdateBudget(env.Ctx, b.ID, 1, engine.BudgetPatch{TotalAmount: &total}, "tester")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if b.Version != 2 {
		t.Fatalf("expected version 2, got %d", b.Version)
	}
	if b.TotalAmount != 9000.0 {
		t.Fatalf("expected total applied, got %f", b.TotalAmount)
	}
}

func TestUpdateBudgetVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{})
	total := 5000.0
	if _, err := env.Engine.UpdateBudget(env.Ctx, b.ID, 1, engine.BudgetPatch{TotalAmount: &total}, "alice"); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// second writer still holds version 1
	stale := 7777.0
	_, err := env.Engine.UpdateBudget(env.Ctx, b.ID, 1, engine.BudgetPatch{TotalAmount: &stale}, "bob")
	var conflict *engine.VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected VersionConflictError, got %v", err)
	}
	if conflict.Expected != 1 || conflict.Actual != 2 {
		t.Fatalf("unexpected versions: expected=%d actual=%d", conflict.Expected, conflict.Actual)
	}
	if conflict.Conflict.Status != domain.ConflictDetected {
		t.Fatalf("expected DETECTED record, got %s", conflict.Conflict.Status)
	}
	if conflict.Conflict.ConflictingUser != "bob" {
		t.Fatalf("expected conflicting user bob, got %s", conflict.Conflict.ConflictingUser)
	}

	// losing write must not be applied
	b, err = env.Engine.Repo.GetBudget(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.TotalAmount != 5000.0 {
		t.Fatalf("stale write leaked: %f", b.TotalAmount)
	}
	if b.ConflictStatus != domain.ConflictDetected {
		t.Fatalf("expected budget flagged DETECTED, got %s", b.ConflictStatus)
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{})
	task := createTask(t, env, b.ID, "Order tents")

	task, _, err := env.Engine.SetTaskStatus(env.Ctx, task.ID, domain.TaskInProgress, "tester")
	if err != nil || task.Status != domain.TaskInProgress {
		t.Fatalf("to IN_PROGRESS: %v", err)
	}
	task, _, err = env.Engine.SetTaskStatus(env.Ctx, task.ID, domain.TaskDone, "tester")
	if err != nil || task.Status != domain.TaskDone {
		t.Fatalf("to DONE: %v", err)
	}
	if task.CompletedAt == nil {
		t.Fatalf("expected completed_at set")
	}
	var invalid *engine.InvalidTaskTransitionError
	_, _, err = env.Engine.SetTaskStatus(env.Ctx, task.ID, domain.TaskTodo, "tester")
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTaskTransitionError, got %v", err)
	}
}

func TestDependencyBlocksAndUnblocks(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{})
	pre := createTask(t, env, b.ID, "Confirm menu")
	dep := createTask(t, env, b.ID, "Print menus")

	if _, err := env.Engine.AddDependency(env.Ctx, engine.DependencyCreateOptions{
		PrerequisiteID: pre.ID,
		DependentID:    dep.ID,
		Type:           domain.DepRequires,
		ActorID:        "tester",
	}); err != nil {
		t.Fatalf("add dependency: %v", err)
	}

	dep, err := env.Engine.Repo.GetTask(env.Ctx, dep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if dep.Status != domain.TaskBlocked {
		t.Fatalf("expected dependent BLOCKED, got %s", dep.Status)
	}
	// blocked tasks cannot be started
	if _, _, err := env.Engine.SetTaskStatus(env.Ctx, dep.ID, domain.TaskInProgress, "tester"); err == nil {
		t.Fatalf("expected blocked task to refuse IN_PROGRESS")
	}

	if _, _, err := env.Engine.SetTaskStatus(env.Ctx, pre.ID, domain.TaskInProgress, "tester"); err != nil {
		t.Fatal(err)
	}
	_, freed, err := env.Engine.SetTaskStatus(env.Ctx, pre.ID, domain.TaskDone, "tester")
	if err != nil {
		t.Fatalf("complete prerequisite: %v", err)
	}
	if len(freed) != 1 || freed[0].ID != dep.ID {
		t.Fatalf("expected dependent freed, got %v", freed)
	}
	if freed[0].Status != domain.TaskTodo {
		t.Fatalf("freed task should be TODO, got %s", freed[0].Status)
	}
}

func TestDependencyDemotesStartedDependent(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{})
	pre := createTask(t, env, b.ID, "Order tableware")
	dep := createTask(t, env, b.ID, "Lay tables")

	// the dependent is already being worked on when the edge arrives
	if _, _, err := env.Engine.SetTaskStatus(env.Ctx, dep.ID, domain.TaskInProgress, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddDependency(env.Ctx, engine.DependencyCreateOptions{
		PrerequisiteID: pre.ID,
		DependentID:    dep.ID,
		Type:           domain.DepRequires,
		ActorID:        "tester",
	}); err != nil {
		t.Fatalf("add dependency: %v", err)
	}

	dep, err := env.Engine.Repo.GetTask(env.Ctx, dep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if dep.Status != domain.TaskBlocked {
		t.Fatalf("expected started dependent demoted to BLOCKED, got %s", dep.Status)
	}
	if _, _, err := env.Engine.SetTaskStatus(env.Ctx, dep.ID, domain.TaskDone, "tester"); err == nil {
		t.Fatalf("completed dependent while its prerequisite was still open")
	}

	_, _, _ = env.Engine.SetTaskStatus(env.Ctx, pre.ID, domain.TaskInProgress, "tester")
	if _, _, err := env.Engine.SetTaskStatus(env.Ctx, pre.ID, domain.TaskDone, "tester"); err != nil {
		t.Fatal(err)
	}
	dep, err = env.Engine.Repo.GetTask(env.Ctx, dep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if dep.Status != domain.TaskTodo {
		t.Fatalf("expected dependent freed, got %s", dep.Status)
	}
	if _, _, err := env.Engine.SetTaskStatus(env.Ctx, dep.ID, domain.TaskDone, "tester"); err != nil {
		t.Fatalf("complete after prerequisite done: %v", err)
	}
}

func TestDependencyWaitsForAllPrerequisites(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{})
	pre1 := createTask(t, env, b.ID, "Book band")
	pre2 := createTask(t, env, b.ID, "Book venue")
	dep := createTask(t, env, b.ID, "Send invitations")

	for _, pre := range []domain.Task{pre1, pre2} {
		if _, err := env.Engine.AddDependency(env.Ctx, engine.DependencyCreateOptions{
			PrerequisiteID: pre.ID, DependentID: dep.ID, ActorID: "tester",
		}); err != nil {
			t.Fatal(err)
		}
	}
	_, _, _ = env.Engine.SetTaskStatus(env.Ctx, pre1.ID, domain.TaskInProgress, "tester")
	_, freed, err := env.Engine.SetTaskStatus(env.Ctx, pre1.ID, domain.TaskDone, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(freed) != 0 {
		t.Fatalf("dependent freed too early: %v", freed)
	}
	_, _, _ = env.Engine.SetTaskStatus(env.Ctx, pre2.ID, domain.TaskInProgress, "tester")
	_, freed, err = env.Engine.SetTaskStatus(env.Ctx, pre2.ID, domain.TaskDone, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(freed) != 1 || freed[0].ID != dep.ID {
		t.Fatalf("expected dependent freed after last prerequisite, got %v", freed)
	}
}

func TestDependencyCycleRejected(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{})
	a := createTask(t, env, b.ID, "a")
	c := createTask(t, env, b.ID, "c")

	if _, err := env.Engine.AddDependency(env.Ctx, engine.DependencyCreateOptions{
		PrerequisiteID: a.ID, DependentID: c.ID, ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.AddDependency(env.Ctx, engine.DependencyCreateOptions{
		PrerequisiteID: c.ID, DependentID: a.ID, ActorID: "tester",
	})
	var cyc *graph.CycleError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	// the rejected edge must not persist
	deps, err := env.Engine.Repo.ListDependencies(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 {
		t.Fatalf("expected single edge, got %d", len(deps))
	}
}

func TestSelfDependencyRejected(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{})
	a := createTask(t, env, b.ID, "a")
	if _, err := env.Engine.AddDependency(env.Ctx, engine.DependencyCreateOptions{
		PrerequisiteID: a.ID, DependentID: a.ID, ActorID: "tester",
	}); err == nil {
		t.Fatalf("expected self dependency rejection")
	}
}

func TestRemoveDependencyFreesBlockedTask(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{})
	pre := createTask(t, env, b.ID, "pre")
	dep := createTask(t, env, b.ID, "dep")
	edge, err := env.Engine.AddDependency(env.Ctx, engine.DependencyCreateOptions{
		PrerequisiteID: pre.ID, DependentID: dep.ID, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.RemoveDependency(env.Ctx, edge.ID, "tester"); err != nil {
		t.Fatalf("remove dependency: %v", err)
	}
	dep, err = env.Engine.Repo.GetTask(env.Ctx, dep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if dep.Status != domain.TaskTodo {
		t.Fatalf("expected dependent back to TODO, got %s", dep.Status)
	}
}

func TestAuditTrailOnTransitions(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{})
	_, _ = env.Engine.TransitionBudget(env.Ctx, b.ID, domain.BudgetPending, nil, "tester")
	entries, err := env.Engine.Repo.ListAuditLogs(env.Ctx, "BUDGET", b.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected create + status change entries, got %d", len(entries))
	}
	if entries[0].Action != domain.AuditStatusChange {
		t.Fatalf("expected latest entry STATUS_CHANGE, got %s", entries[0].Action)
	}
}
