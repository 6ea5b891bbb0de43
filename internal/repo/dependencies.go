package repo

import (
	"context"
	"database/sql"

	"magnus/internal/domain"
)

const depCols = `id,budget_id,prerequisite_id,dependent_id,dep_type,COALESCE(notes,''),is_active,created_at`

func scanDependency(scan func(dest ...any) error) (domain.TaskDependency, error) {
	var d domain.TaskDependency
	err := scan(&d.ID, &d.BudgetID, &d.PrerequisiteID, &d.DependentID, &d.Type, &d.Notes, &d.IsActive, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) InsertDependency(ctx context.Context, tx *sql.Tx, d domain.TaskDependency) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_dependencies(id,budget_id,prerequisite_id,dependent_id,dep_type,notes,is_active,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, d.BudgetID, d.PrerequisiteID, d.DependentID, string(d.Type), nullable(d.Notes), d.IsActive, d.CreatedAt)
	return err
}

func (r Repo) GetDependency(ctx context.Context, id string) (domain.TaskDependency, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+depCols+` FROM task_dependencies WHERE id=?`, id)
	return scanDependency(row.Scan)
}

func (r Repo) ListDependencies(ctx context.Context, budgetID string) ([]domain.TaskDependency, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+depCols+` FROM task_dependencies WHERE budget_id=? ORDER BY created_at ASC, id ASC`, budgetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDependencies(rows)
}

func (r Repo) ListDependenciesTx(ctx context.Context, tx *sql.Tx, budgetID string) ([]domain.TaskDependency, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+depCols+` FROM task_dependencies WHERE budget_id=? ORDER BY created_at ASC, id ASC`, budgetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDependencies(rows)
}

// ListDependentsTx returns active edges whose prerequisite is the given task.
func (r Repo) ListDependentsTx(ctx context.Context, tx *sql.Tx, prerequisiteID string) ([]domain.TaskDependency, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+depCols+` FROM task_dependencies WHERE prerequisite_id=? AND is_active=1`, prerequisiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDependencies(rows)
}

// ListPrerequisitesTx returns active edges whose dependent is the given task.
func (r Repo) ListPrerequisitesTx(ctx context.Context, tx *sql.Tx, dependentID string) ([]domain.TaskDependency, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+depCols+` FROM task_dependencies WHERE dependent_id=? AND is_active=1`, dependentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDependencies(rows)
}

func (r Repo) DeactivateDependency(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `UPDATE task_dependencies SET is_active=0 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func collectDependencies(rows *sql.Rows) ([]domain.TaskDependency, error) {
	var res []domain.TaskDependency
	for rows.Next() {
		d, err := scanDependency(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
