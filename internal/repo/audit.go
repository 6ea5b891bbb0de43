package repo

import (
	"context"
	"strings"

	"magnus/internal/domain"
)

const auditCols = `id,entity_type,entity_id,action,COALESCE(field_name,''),COALESCE(old_value,''),COALESCE(new_value,''),actor_id,ts`

// ListAuditLogs returns audit entries newest first, filtered by entity.
func (r Repo) ListAuditLogs(ctx context.Context, entityType, entityID string, limit int) ([]domain.AuditLog, error) {
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
	query := `SELECT ` + auditCols + ` FROM audit_logs`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		if err := rows.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.Action, &a.FieldName, &a.OldValue, &a.NewValue, &a.ActorID, &a.TS); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListAuditLogsAfter returns audit entries with id greater than the cursor, in
// ascending order. Used by the webhook dispatcher.
func (r Repo) ListAuditLogsAfter(ctx context.Context, afterID int64, limit int) ([]domain.AuditLog, error) {
	query := `SELECT ` + auditCols + ` FROM audit_logs WHERE id>? ORDER BY id ASC`
	args := []any{afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		if err := rows.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.Action, &a.FieldName, &a.OldValue, &a.NewValue, &a.ActorID, &a.TS); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
