package audit

import (
	"context"
	"database/sql"
	"time"

	"magnus/internal/domain"
)

// Recorder appends audit entries inside the caller's transaction so that the
// trail commits or rolls back with the change it describes.
type Recorder struct {
	DB  *sql.DB
	Now func() time.Time
}

type Entry struct {
	EntityType string
	EntityID   string
	Action     domain.AuditAction
	FieldName  string
	OldValue   string
	NewValue   string
	ActorID    string
}

func (r Recorder) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	if r.Now == nil {
		r.Now = time.Now
	}
	ts := r.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_logs(entity_type,entity_id,action,field_name,old_value,new_value,actor_id,ts) VALUES (?,?,?,?,?,?,?,?)`,
		e.EntityType, e.EntityID, string(e.Action), nullable(e.FieldName), nullable(e.OldValue), nullable(e.NewValue), e.ActorID, ts)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
