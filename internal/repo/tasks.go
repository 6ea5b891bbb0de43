package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"magnus/internal/domain"
)

const taskCols = `id,budget_id,title,COALESCE(description,''),type,priority,status,assigned_role,due_date,
estimated_minutes,COALESCE(location,''),auto_generated,parent_task_id,version,conflict_status,completed_at,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	err := scan(&t.ID, &t.BudgetID, &t.Title, &t.Description, &t.Type, &t.Priority, &t.Status, &t.AssignedRole,
		&t.DueDate, &t.EstimatedMinutes, &t.Location, &t.AutoGenerated, &t.ParentTaskID,
		&t.Version, &t.ConflictStatus, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,budget_id,title,description,type,priority,status,assigned_role,due_date,
estimated_minutes,location,auto_generated,parent_task_id,version,conflict_status,completed_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.BudgetID, t.Title, nullable(t.Description), string(t.Type), string(t.Priority), string(t.Status), string(t.AssignedRole),
		t.DueDate, t.EstimatedMinutes, nullable(t.Location), t.AutoGenerated, t.ParentTaskID,
		t.Version, string(t.ConflictStatus), t.CompletedAt, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) ListTasks(ctx context.Context, budgetID string, status domain.TaskStatus, role domain.Role) ([]domain.Task, error) {
	clauses := []string{"budget_id=?"}
	args := []any{budgetID}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(status))
	}
	if role != "" {
		clauses = append(clauses, "assigned_role=?")
		args = append(args, string(role))
	}
	query := `SELECT ` + taskCols + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY due_date ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r Repo) ListTasksTx(ctx context.Context, tx *sql.Tx, budgetID string) ([]domain.Task, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE budget_id=? ORDER BY due_date ASC, id ASC`, budgetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r Repo) ListAutoGeneratedTasksTx(ctx context.Context, tx *sql.Tx, budgetID string) ([]domain.Task, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE budget_id=? AND auto_generated=1 ORDER BY due_date ASC, id ASC`, budgetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTaskFields(ctx context.Context, tx *sql.Tx, id string, fields map[string]any, now string) error {
	if len(fields) == 0 {
		return nil
	}
	var (
		sets []string
		args []any
	)
	for _, col := range sortedKeys(fields) {
		sets = append(sets, col+"=?")
		args = append(args, fields[col])
	}
	sets = append(sets, "version=version+1", "updated_at=?")
	args = append(args, now, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(sets, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetTaskStatus(ctx context.Context, tx *sql.Tx, id string, status domain.TaskStatus, completedAt *string, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, completed_at=?, version=version+1, updated_at=? WHERE id=?`,
		string(status), completedAt, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetTaskConflictStatus(ctx context.Context, tx *sql.Tx, id string, cs domain.ConflictStatus) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET conflict_status=? WHERE id=?`, string(cs), id)
	return err
}
