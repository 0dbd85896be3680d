package audit

import (
	"context"
	"database/sql"
	_ "embed"

	"iris-platform/pkg/utils"
)

//go:embed schema.sql
var schema string

// Migrate creates the audit_events table if it does not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	return utils.ExecScript(ctx, db, schema)
}

// PostgresRepo appends events to audit_events. The table has no UPDATE or
// DELETE path in this codebase.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, workspace_id, type, actor_user_id, subject_user_id, organization_id,
  ip_address, message, metadata, created_at
) VALUES (
  $1, NULLIF($2,''), $3, NULLIF($4,''), NULLIF($5,''), NULLIF($6,''),
  NULLIF($7,''), $8, NULLIF($9,'')::jsonb, $10
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.WorkspaceID,
		string(e.Type),
		e.ActorUserID,
		e.SubjectUserID,
		e.OrganizationID,
		e.IPAddress,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
