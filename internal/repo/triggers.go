package repo

import (
	"context"
	"database/sql"

	"magnus/internal/domain"
)

const triggerCols = `id,trigger_name,entity_type,action_type,task_type,assigned_role,offset_kind,priority,
is_active,execution_order,execution_count,last_executed,created_at,updated_at`

func scanTrigger(scan func(dest ...any) error) (domain.WorkflowTrigger, error) {
	var t domain.WorkflowTrigger
	err := scan(&t.ID, &t.TriggerName, &t.EntityType, &t.ActionType, &t.TaskType, &t.AssignedRole, &t.OffsetKind, &t.Priority,
		&t.IsActive, &t.ExecutionOrder, &t.ExecutionCount, &t.LastExecuted, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) InsertTrigger(ctx context.Context, tx *sql.Tx, t domain.WorkflowTrigger) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflow_triggers(id,trigger_name,entity_type,action_type,task_type,assigned_role,offset_kind,priority,
is_active,execution_order,execution_count,last_executed,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.TriggerName, t.EntityType, t.ActionType, string(t.TaskType), string(t.AssignedRole), t.OffsetKind, string(t.Priority),
		t.IsActive, t.ExecutionOrder, t.ExecutionCount, t.LastExecuted, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) ListTriggers(ctx context.Context, activeOnly bool) ([]domain.WorkflowTrigger, error) {
	query := `SELECT ` + triggerCols + ` FROM workflow_triggers`
	if activeOnly {
		query += ` WHERE is_active=1`
	}
	query += ` ORDER BY execution_order ASC, trigger_name ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTriggers(rows)
}

// ActiveTriggersTx returns active triggers in execution order, inside the
// generation transaction so execution counters update consistently.
func (r Repo) ActiveTriggersTx(ctx context.Context, tx *sql.Tx, entityType, actionType string) ([]domain.WorkflowTrigger, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+triggerCols+` FROM workflow_triggers
WHERE is_active=1 AND entity_type=? AND action_type=? ORDER BY execution_order ASC, trigger_name ASC`, entityType, actionType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTriggers(rows)
}

func (r Repo) MarkTriggerExecuted(ctx context.Context, tx *sql.Tx, id, executedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE workflow_triggers SET execution_count=execution_count+1, last_executed=?, updated_at=? WHERE id=?`,
		executedAt, executedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetTriggerActive(ctx context.Context, id string, active bool, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE workflow_triggers SET is_active=?, updated_at=? WHERE id=?`, active, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountTriggers(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_triggers`).Scan(&n)
	return n, err
}

func collectTriggers(rows *sql.Rows) ([]domain.WorkflowTrigger, error) {
	var res []domain.WorkflowTrigger
	for rows.Next() {
		t, err := scanTrigger(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
