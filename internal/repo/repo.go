package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"magnus/internal/config"
	"magnus/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const budgetCols = `id,name,client_name,event_date,COALESCE(event_location,''),guest_count,COALESCE(description,''),
total_amount,meals_amount,activities_amount,transport_amount,accommodation_amount,status,COALESCE(notes,''),
workflow_triggered,last_workflow_execution,approved_at,reserved_at,version,conflict_status,
created_by,COALESCE(last_modified_by,''),created_at,updated_at`

func scanBudget(scan func(dest ...any) error) (domain.Budget, error) {
	var b domain.Budget
	err := scan(&b.ID, &b.Name, &b.ClientName, &b.EventDate, &b.EventLocation, &b.GuestCount, &b.Description,
		&b.TotalAmount, &b.MealsAmount, &b.ActivitiesAmount, &b.TransportAmount, &b.AccommodationAmount,
		&b.Status, &b.Notes, &b.WorkflowTriggered, &b.LastWorkflowExecution, &b.ApprovedAt, &b.ReservedAt,
		&b.Version, &b.ConflictStatus, &b.CreatedBy, &b.LastModifiedBy, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

func (r Repo) InsertBudget(ctx context.Context, tx *sql.Tx, b domain.Budget) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO budgets(id,name,client_name,event_date,event_location,guest_count,description,
total_amount,meals_amount,activities_amount,transport_amount,accommodation_amount,status,notes,
workflow_triggered,last_workflow_execution,approved_at,reserved_at,version,conflict_status,
created_by,last_modified_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.Name, b.ClientName, b.EventDate, nullable(b.EventLocation), b.GuestCount, nullable(b.Description),
		b.TotalAmount, b.MealsAmount, b.ActivitiesAmount, b.TransportAmount, b.AccommodationAmount, string(b.Status), nullable(b.Notes),
		b.WorkflowTriggered, b.LastWorkflowExecution, b.ApprovedAt, b.ReservedAt, b.Version, string(b.ConflictStatus),
		b.CreatedBy, nullable(b.LastModifiedBy), b.CreatedAt, b.UpdatedAt)
	return err
}

func (r Repo) GetBudget(ctx context.Context, id string) (domain.Budget, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+budgetCols+` FROM budgets WHERE id=?`, id)
	return scanBudget(row.Scan)
}

func (r Repo) GetBudgetTx(ctx context.Context, tx *sql.Tx, id string) (domain.Budget, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+budgetCols+` FROM budgets WHERE id=?`, id)
	return scanBudget(row.Scan)
}

func (r Repo) ListBudgets(ctx context.Context, status domain.BudgetStatus) ([]domain.Budget, error) {
	query := `SELECT ` + budgetCols + ` FROM budgets`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Budget
	for rows.Next() {
		b, err := scanBudget(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// UpdateBudgetFields applies a partial update. Caller has already checked the
// expected version; version is bumped here so readers inside the same tx see
// the new value.
func (r Repo) UpdateBudgetFields(ctx context.Context, tx *sql.Tx, id string, fields map[string]any, actorID, now string) error {
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
	sets = append(sets, "version=version+1", "last_modified_by=?", "updated_at=?")
	args = append(args, actorID, now, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE budgets SET %s WHERE id=?`, strings.Join(sets, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetBudgetStatus(ctx context.Context, tx *sql.Tx, id string, status domain.BudgetStatus, notes *string, actorID, now string) error {
	sets := []string{"status=?", "version=version+1", "last_modified_by=?", "updated_at=?"}
	args := []any{string(status), actorID, now}
	if notes != nil {
		sets = append(sets, "notes=?")
		args = append(args, nullable(*notes))
	}
	switch status {
	case domain.BudgetApproved:
		sets = append(sets, "approved_at=?")
		args = append(args, now)
	case domain.BudgetReserva:
		sets = append(sets, "reserved_at=?")
		args = append(args, now)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE budgets SET %s WHERE id=?`, strings.Join(sets, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetWorkflowTriggered(ctx context.Context, tx *sql.Tx, id string, triggered bool, executedAt *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE budgets SET workflow_triggered=?, last_workflow_execution=? WHERE id=?`,
		triggered, executedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetBudgetConflictStatus(ctx context.Context, tx *sql.Tx, id string, cs domain.ConflictStatus) error {
	_, err := tx.ExecContext(ctx, `UPDATE budgets SET conflict_status=? WHERE id=?`, string(cs), id)
	return err
}

func (r Repo) UpsertSystemConfig(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `INSERT INTO system_config(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

func (r Repo) GetSystemConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM system_config WHERE id=1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
