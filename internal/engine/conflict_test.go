package engine_test

import (
	"errors"
	"testing"

	"magnus/internal/domain"
	"magnus/internal/engine"
)

// detectConflict provokes a version conflict on a fresh budget and returns the
// losing writer's record. The winner set total_amount=5000, the loser tried
// total_amount=7777 against the stale version.
func detectConflict(t *testing.T, env testEnv) (domain.Budget, domain.ConflictResolution) {
	t.Helper()
	b := createBudget(t, env, engine.BudgetCreateOptions{})
	winner := 5000.0
	if _, err := env.Engine.UpdateBudget(env.Ctx, b.ID, 1, engine.BudgetPatch{TotalAmount: &winner}, "alice"); err != nil {
		t.Fatalf("winning write: %v", err)
	}
	loser := 7777.0
	_, err := env.Engine.UpdateBudget(env.Ctx, b.ID, 1, engine.BudgetPatch{TotalAmount: &loser}, "bob")
	var conflict *engine.VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected VersionConflictError, got %v", err)
	}
	return b, conflict.Conflict
}

func TestResolveLastWriteWins(t *testing.T) {
	env := newTestEnv(t)
	b, c := detectConflict(t, env)

	resolved, err := env.Engine.ResolveConflict(env.Ctx, engine.ResolveConflictOptions{
		ConflictID: c.ID,
		Strategy:   domain.ResolveLastWriteWins,
		ActorID:    "carol",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.ConflictResolved {
		t.Fatalf("expected RESOLVED, got %s", resolved.Status)
	}
	if resolved.Strategy != domain.ResolveLastWriteWins {
		t.Fatalf("expected strategy recorded, got %s", resolved.Strategy)
	}
	if resolved.ResolvedBy == nil || *resolved.ResolvedBy != "carol" {
		t.Fatalf("expected resolver recorded")
	}

	// the losing change set was replayed
	b, err = env.Engine.Repo.GetBudget(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.TotalAmount != 7777.0 {
		t.Fatalf("expected replayed write, got %f", b.TotalAmount)
	}
	if b.ConflictStatus != domain.ConflictNone {
		t.Fatalf("expected conflict flag cleared, got %s", b.ConflictStatus)
	}
}

func TestResolveManualMerge(t *testing.T) {
	env := newTestEnv(t)
	b, c := detectConflict(t, env)

	// merging without a value is an error
	if _, err := env.Engine.ResolveConflict(env.Ctx, engine.ResolveConflictOptions{
		ConflictID: c.ID,
		Strategy:   domain.ResolveManualMerge,
		ActorID:    "carol",
	}); err == nil {
		t.Fatalf("expected missing resolved value error")
	}

	resolved, err := env.Engine.ResolveConflict(env.Ctx, engine.ResolveConflictOptions{
		ConflictID:    c.ID,
		Strategy:      domain.ResolveManualMerge,
		ResolvedValue: `{"total_amount": 6000, "notes": "split the difference"}`,
		ActorID:       "carol",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.ConflictResolved {
		t.Fatalf("expected RESOLVED, got %s", resolved.Status)
	}

	b, err = env.Engine.Repo.GetBudget(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.TotalAmount != 6000.0 {
		t.Fatalf("expected merged value, got %f", b.TotalAmount)
	}
	if b.Notes != "split the difference" {
		t.Fatalf("expected merged notes, got %q", b.Notes)
	}
}

func TestResolveManualMergeRejectsUnknownFields(t *testing.T) {
	env := newTestEnv(t)
	_, c := detectConflict(t, env)
	if _, err := env.Engine.ResolveConflict(env.Ctx, engine.ResolveConflictOptions{
		ConflictID:    c.ID,
		Strategy:      domain.ResolveManualMerge,
		ResolvedValue: `{"version": 99}`,
		ActorID:       "carol",
	}); err == nil {
		t.Fatalf("expected non-mergeable field rejection")
	}
}

func TestResolveReject(t *testing.T) {
	env := newTestEnv(t)
	b, c := detectConflict(t, env)

	resolved, err := env.Engine.ResolveConflict(env.Ctx, engine.ResolveConflictOptions{
		ConflictID: c.ID,
		Strategy:   domain.ResolveReject,
		ActorID:    "carol",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.ConflictResolved {
		t.Fatalf("expected RESOLVED, got %s", resolved.Status)
	}
	// entity keeps the winning write
	b, err = env.Engine.Repo.GetBudget(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.TotalAmount != 5000.0 {
		t.Fatalf("expected winning value kept, got %f", b.TotalAmount)
	}
	if b.ConflictStatus != domain.ConflictNone {
		t.Fatalf("expected conflict flag cleared, got %s", b.ConflictStatus)
	}
}

func TestResolveTwiceRejected(t *testing.T) {
	env := newTestEnv(t)
	_, c := detectConflict(t, env)
	if _, err := env.Engine.ResolveConflict(env.Ctx, engine.ResolveConflictOptions{
		ConflictID: c.ID, Strategy: domain.ResolveReject, ActorID: "carol",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ResolveConflict(env.Ctx, engine.ResolveConflictOptions{
		ConflictID: c.ID, Strategy: domain.ResolveReject, ActorID: "carol",
	}); err == nil {
		t.Fatalf("expected second resolution to fail")
	}
}

func TestEscalateConflict(t *testing.T) {
	env := newTestEnv(t)
	b, c := detectConflict(t, env)

	escalated, err := env.Engine.EscalateConflict(env.Ctx, c.ID, "carol")
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if escalated.Status != domain.ConflictEscalated {
		t.Fatalf("expected ESCALATED, got %s", escalated.Status)
	}
	b, err = env.Engine.Repo.GetBudget(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.ConflictStatus != domain.ConflictEscalated {
		t.Fatalf("expected entity flag ESCALATED, got %s", b.ConflictStatus)
	}

	// escalating twice is rejected
	if _, err := env.Engine.EscalateConflict(env.Ctx, c.ID, "carol"); err == nil {
		t.Fatalf("expected second escalation to fail")
	}

	// an escalated conflict can still be resolved, clearing the flag
	resolved, err := env.Engine.ResolveConflict(env.Ctx, engine.ResolveConflictOptions{
		ConflictID: c.ID, Strategy: domain.ResolveReject, ActorID: "carol",
	})
	if err != nil {
		t.Fatalf("resolve escalated: %v", err)
	}
	if resolved.Status != domain.ConflictResolved {
		t.Fatalf("expected RESOLVED, got %s", resolved.Status)
	}
	b, err = env.Engine.Repo.GetBudget(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.ConflictStatus != domain.ConflictNone {
		t.Fatalf("expected flag cleared, got %s", b.ConflictStatus)
	}
}

func TestConflictFlagClearsOnlyWhenAllResolved(t *testing.T) {
	env := newTestEnv(t)
	b := createBudget(t, env, engine.BudgetCreateOptions{})
	winner := 5000.0
	if _, err := env.Engine.UpdateBudget(env.Ctx, b.ID, 1, engine.BudgetPatch{TotalAmount: &winner}, "alice"); err != nil {
		t.Fatal(err)
	}
	var first, second *engine.VersionConflictError
	v1, v2 := 1.0, 2.0
	_, err := env.Engine.UpdateBudget(env.Ctx, b.ID, 1, engine.BudgetPatch{TotalAmount: &v1}, "bob")
	if !errors.As(err, &first) {
		t.Fatalf("expected first conflict, got %v", err)
	}
	_, err = env.Engine.UpdateBudget(env.Ctx, b.ID, 1, engine.BudgetPatch{TotalAmount: &v2}, "dave")
	if !errors.As(err, &second) {
		t.Fatalf("expected second conflict, got %v", err)
	}

	if _, err := env.Engine.ResolveConflict(env.Ctx, engine.ResolveConflictOptions{
		ConflictID: first.Conflict.ID, Strategy: domain.ResolveReject, ActorID: "carol",
	}); err != nil {
		t.Fatal(err)
	}
	b, err = env.Engine.Repo.GetBudget(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.ConflictStatus != domain.ConflictDetected {
		t.Fatalf("flag cleared with an open conflict remaining")
	}

	if _, err := env.Engine.ResolveConflict(env.Ctx, engine.ResolveConflictOptions{
		ConflictID: second.Conflict.ID, Strategy: domain.ResolveReject, ActorID: "carol",
	}); err != nil {
		t.Fatal(err)
	}
	b, err = env.Engine.Repo.GetBudget(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.ConflictStatus != domain.ConflictNone {
		t.Fatalf("expected flag cleared, got %s", b.ConflictStatus)
	}
}
