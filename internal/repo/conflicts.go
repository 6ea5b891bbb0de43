package repo

import (
	"context"
	"database/sql"
	"strings"

	"magnus/internal/domain"
)

const conflictCols = `id,entity_type,entity_id,COALESCE(field_name,''),COALESCE(local_value,''),COALESCE(remote_value,''),
COALESCE(resolved_value,''),COALESCE(strategy,''),status,conflicting_user,resolved_by,detected_at,resolved_at,created_at`

func scanConflict(scan func(dest ...any) error) (domain.ConflictResolution, error) {
	var c domain.ConflictResolution
	err := scan(&c.ID, &c.EntityType, &c.EntityID, &c.FieldName, &c.LocalValue, &c.RemoteValue,
		&c.ResolvedValue, &c.Strategy, &c.Status, &c.ConflictingUser, &c.ResolvedBy, &c.DetectedAt, &c.ResolvedAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertConflict(ctx context.Context, tx *sql.Tx, c domain.ConflictResolution) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO conflict_resolutions(id,entity_type,entity_id,field_name,local_value,remote_value,
resolved_value,strategy,status,conflicting_user,resolved_by,detected_at,resolved_at,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.EntityType, c.EntityID, nullable(c.FieldName), nullable(c.LocalValue), nullable(c.RemoteValue),
		nullable(c.ResolvedValue), nullable(string(c.Strategy)), string(c.Status), c.ConflictingUser, c.ResolvedBy, c.DetectedAt, c.ResolvedAt, c.CreatedAt)
	return err
}

func (r Repo) GetConflict(ctx context.Context, id string) (domain.ConflictResolution, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+conflictCols+` FROM conflict_resolutions WHERE id=?`, id)
	return scanConflict(row.Scan)
}

func (r Repo) GetConflictTx(ctx context.Context, tx *sql.Tx, id string) (domain.ConflictResolution, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+conflictCols+` FROM conflict_resolutions WHERE id=?`, id)
	return scanConflict(row.Scan)
}

func (r Repo) ListConflicts(ctx context.Context, entityType, entityID string, status domain.ConflictStatus) ([]domain.ConflictResolution, error) {
	var (
		clauses []string
		args    []any
	)
	if entityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, entityType)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(status))
	}
	query := `SELECT ` + conflictCols + ` FROM conflict_resolutions`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY detected_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ConflictResolution
	for rows.Next() {
		c, err := scanConflict(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) ResolveConflict(ctx context.Context, tx *sql.Tx, id string, strategy domain.ResolutionStrategy, resolvedValue, resolvedBy, resolvedAt string, status domain.ConflictStatus) error {
	res, err := tx.ExecContext(ctx, `UPDATE conflict_resolutions SET strategy=?, resolved_value=?, resolved_by=?, resolved_at=?, status=? WHERE id=?`,
		string(strategy), nullable(resolvedValue), resolvedBy, resolvedAt, string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetConflictStatus(ctx context.Context, tx *sql.Tx, id string, status domain.ConflictStatus) error {
	res, err := tx.ExecContext(ctx, `UPDATE conflict_resolutions SET status=? WHERE id=?`, string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountOpenConflictsTx reports remaining unresolved conflicts for an entity so
// the entity's conflict_status flag can be cleared when it reaches zero.
func (r Repo) CountOpenConflictsTx(ctx context.Context, tx *sql.Tx, entityType, entityID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflict_resolutions WHERE entity_type=? AND entity_id=? AND status IN ('DETECTED','ESCALATED')`,
		entityType, entityID).Scan(&n)
	return n, err
}
