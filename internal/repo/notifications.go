package repo

import (
	"context"
	"database/sql"
	"strings"

	"magnus/internal/domain"
)

const notificationCols = `id,title,message,type,target_role,is_global,COALESCE(related_entity_type,''),COALESCE(related_entity_id,''),
is_read,read_at,priority,created_at`

func scanNotification(scan func(dest ...any) error) (domain.Notification, error) {
	var n domain.Notification
	err := scan(&n.ID, &n.Title, &n.Message, &n.Type, &n.TargetRole, &n.IsGlobal, &n.RelatedEntityType, &n.RelatedEntityID,
		&n.IsRead, &n.ReadAt, &n.Priority, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	return n, err
}

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id,title,message,type,target_role,is_global,related_entity_type,related_entity_id,
is_read,read_at,priority,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.Title, n.Message, string(n.Type), n.TargetRole, n.IsGlobal, nullable(n.RelatedEntityType), nullable(n.RelatedEntityID),
		n.IsRead, n.ReadAt, string(n.Priority), n.CreatedAt)
	return err
}

// ListNotifications filters by role visibility: role-scoped rows for the given
// role plus global rows. An empty role returns everything.
func (r Repo) ListNotifications(ctx context.Context, role domain.Role, unreadOnly bool) ([]domain.Notification, error) {
	var (
		clauses []string
		args    []any
	)
	if role != "" {
		clauses = append(clauses, "(target_role=? OR is_global=1)")
		args = append(args, string(role))
	}
	if unreadOnly {
		clauses = append(clauses, "is_read=0")
	}
	query := `SELECT ` + notificationCols + ` FROM notifications`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id=?`, id)
	return scanNotification(row.Scan)
}

func (r Repo) MarkNotificationRead(ctx context.Context, id, readAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1, read_at=? WHERE id=?`, readAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
