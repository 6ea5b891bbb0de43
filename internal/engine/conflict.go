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
)

// recordConflict stores a DETECTED conflict inside the caller's transaction.
// LocalValue holds the rejected change set, RemoteValue a snapshot of the
// entity that won the race.
func (e Engine) recordConflict(ctx context.Context, tx *sql.Tx, entityType, entityID string, attempted map[string]any, current any, actorID, now string) (domain.ConflictResolution, error) {
	local, err := json.Marshal(attempted)
	if err != nil {
		return domain.ConflictResolution{}, err
	}
	remote, err := json.Marshal(current)
	if err != nil {
		return domain.ConflictResolution{}, err
	}
	c := domain.ConflictResolution{
		ID:              uuid.NewString(),
		EntityType:      entityType,
		EntityID:        entityID,
		LocalValue:      string(local),
		RemoteValue:     string(remote),
		Status:          domain.ConflictDetected,
		ConflictingUser: actorID,
		DetectedAt:      now,
		CreatedAt:       now,
	}
	if err := e.Repo.InsertConflict(ctx, tx, c); err != nil {
		return domain.ConflictResolution{}, fmt.Errorf("insert conflict: %w", err)
	}
	if err := e.setEntityConflictStatus(ctx, tx, entityType, entityID, domain.ConflictDetected); err != nil {
		return domain.ConflictResolution{}, err
	}
	if err := e.Audit.Append(ctx, tx, audit.Entry{
		EntityType: entityType, EntityID: entityID, Action: domain.AuditUpdate,
		FieldName: "conflict_status", NewValue: string(domain.ConflictDetected), ActorID: actorID,
	}); err != nil {
		return domain.ConflictResolution{}, err
	}
	return c, nil
}

func (e Engine) setEntityConflictStatus(ctx context.Context, tx *sql.Tx, entityType, entityID string, cs domain.ConflictStatus) error {
	switch entityType {
	case "BUDGET":
		return e.Repo.SetBudgetConflictStatus(ctx, tx, entityID, cs)
	case "TASK":
		return e.Repo.SetTaskConflictStatus(ctx, tx, entityID, cs)
	default:
		return fmt.Errorf("unknown conflict entity type %s", entityType)
	}
}

// ResolveConflictOptions are parameters for settling a detected conflict.
type ResolveConflictOptions struct {
	ConflictID    string
	Strategy      domain.ResolutionStrategy
	ResolvedValue string
	ActorID       string
}

// ResolveConflict settles a detected conflict. LAST_WRITE_WINS replays the
// losing change set, MANUAL_MERGE applies the provided value set, REJECT keeps
// the entity as it is. All strategies mark the record RESOLVED and clear the
// entity flag once no detected conflicts remain.
func (e Engine) ResolveConflict(ctx context.Context, opts ResolveConflictOptions) (domain.ConflictResolution, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ConflictResolution{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetConflictTx(ctx, tx, opts.ConflictID)
	if err != nil {
		return domain.ConflictResolution{}, err
	}
	if c.Status != domain.ConflictDetected && c.Status != domain.ConflictEscalated {
		return domain.ConflictResolution{}, fmt.Errorf("conflict %s is %s and cannot be resolved", c.ID, c.Status)
	}

	now := e.now().UTC().Format(time.RFC3339)
	var resolvedValue string
	switch opts.Strategy {
	case domain.ResolveLastWriteWins:
		if err := e.applyChangeSet(ctx, tx, c.EntityType, c.EntityID, c.LocalValue, opts.ActorID, now); err != nil {
			return domain.ConflictResolution{}, err
		}
		resolvedValue = c.LocalValue
	case domain.ResolveManualMerge:
		if opts.ResolvedValue == "" {
			return domain.ConflictResolution{}, errors.New("manual merge requires a resolved value")
		}
		if err := e.applyChangeSet(ctx, tx, c.EntityType, c.EntityID, opts.ResolvedValue, opts.ActorID, now); err != nil {
			return domain.ConflictResolution{}, err
		}
		resolvedValue = opts.ResolvedValue
	case domain.ResolveReject:
		resolvedValue = c.RemoteValue
	default:
		return domain.ConflictResolution{}, fmt.Errorf("unknown resolution strategy %s", opts.Strategy)
	}

	if err := e.Repo.ResolveConflict(ctx, tx, c.ID, opts.Strategy, resolvedValue, opts.ActorID, now, domain.ConflictResolved); err != nil {
		return domain.ConflictResolution{}, err
	}
	open, err := e.Repo.CountOpenConflictsTx(ctx, tx, c.EntityType, c.EntityID)
	if err != nil {
		return domain.ConflictResolution{}, err
	}
	if open == 0 {
		if err := e.setEntityConflictStatus(ctx, tx, c.EntityType, c.EntityID, domain.ConflictNone); err != nil {
			return domain.ConflictResolution{}, err
		}
	}
	if err := e.Audit.Append(ctx, tx, audit.Entry{
		EntityType: c.EntityType, EntityID: c.EntityID, Action: domain.AuditUpdate,
		FieldName: "conflict_status", OldValue: string(c.Status), NewValue: string(domain.ConflictResolved), ActorID: opts.ActorID,
	}); err != nil {
		return domain.ConflictResolution{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ConflictResolution{}, err
	}
	return e.Repo.GetConflict(ctx, opts.ConflictID)
}

// EscalateConflict hands a detected conflict off for out-of-band handling. The
// record stays open: escalated conflicts can still be resolved and keep the
// entity's conflict flag raised until they are.
func (e Engine) EscalateConflict(ctx context.Context, conflictID, actorID string) (domain.ConflictResolution, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ConflictResolution{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetConflictTx(ctx, tx, conflictID)
	if err != nil {
		return domain.ConflictResolution{}, err
	}
	if c.Status != domain.ConflictDetected {
		return domain.ConflictResolution{}, fmt.Errorf("conflict %s is %s, only %s can be escalated", c.ID, c.Status, domain.ConflictDetected)
	}
	if err := e.Repo.SetConflictStatus(ctx, tx, c.ID, domain.ConflictEscalated); err != nil {
		return domain.ConflictResolution{}, err
	}
	if err := e.setEntityConflictStatus(ctx, tx, c.EntityType, c.EntityID, domain.ConflictEscalated); err != nil {
		return domain.ConflictResolution{}, err
	}
	if err := e.Audit.Append(ctx, tx, audit.Entry{
		EntityType: c.EntityType, EntityID: c.EntityID, Action: domain.AuditUpdate,
		FieldName: "conflict_status", OldValue: string(domain.ConflictDetected), NewValue: string(domain.ConflictEscalated), ActorID: actorID,
	}); err != nil {
		return domain.ConflictResolution{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ConflictResolution{}, err
	}
	e.notifyConflict(domain.Notification{
		Title:             "Conflict escalated",
		Message:           fmt.Sprintf("Conflict on %s %s was escalated by %s", c.EntityType, c.EntityID, actorID),
		Type:              domain.NotifyWarning,
		IsGlobal:          true,
		RelatedEntityType: c.EntityType,
		RelatedEntityID:   c.EntityID,
		Priority:          domain.PriorityHigh,
	})
	return e.Repo.GetConflict(ctx, conflictID)
}

// applyChangeSet writes a JSON object of column values onto the entity. Keys
// outside the mutable column whitelist are rejected.
func (e Engine) applyChangeSet(ctx context.Context, tx *sql.Tx, entityType, entityID, raw, actorID, now string) error {
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return fmt.Errorf("invalid change set: %w", err)
	}
	allowed := mutableColumns(entityType)
	for k := range fields {
		if !allowed[k] {
			return fmt.Errorf("field %s is not mergeable on %s", k, entityType)
		}
	}
	switch entityType {
	case "BUDGET":
		return e.Repo.UpdateBudgetFields(ctx, tx, entityID, fields, actorID, now)
	case "TASK":
		return e.Repo.UpdateTaskFields(ctx, tx, entityID, fields, now)
	default:
		return fmt.Errorf("unknown conflict entity type %s", entityType)
	}
}

func mutableColumns(entityType string) map[string]bool {
	switch entityType {
	case "BUDGET":
		return map[string]bool{
			"name": true, "client_name": true, "event_date": true, "event_location": true,
			"guest_count": true, "description": true, "total_amount": true, "meals_amount": true,
			"activities_amount": true, "transport_amount": true, "accommodation_amount": true, "notes": true,
		}
	case "TASK":
		return map[string]bool{
			"title": true, "description": true, "priority": true, "assigned_role": true,
			"due_date": true, "estimated_minutes": true, "location": true,
		}
	default:
		return nil
	}
}
