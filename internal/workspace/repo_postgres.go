package workspace

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"iris-platform/pkg/utils"
)

//go:embed schema.sql
var schema string

// Migrate creates the workspace tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	return utils.ExecScript(ctx, db, schema)
}

const slugConstraint = "workspaces_slug_key"

// PostgresRepo implements Repository with raw SQL over database/sql (pgx
// stdlib driver). Every write is a single INSERT ... ON CONFLICT or UPDATE.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const workspaceColumns = `id, sofia_org_id, name, slug, COALESCE(logo_url,''), COALESCE(brand_color,''), COALESCE(description,''), is_active, settings, created_at, updated_at`

const memberColumns = `workspace_id, user_id, sofia_role, iris_role, role_overridden, is_active, joined_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row scanner, extra ...any) (Workspace, error) {
	var w Workspace
	var settings []byte
	dest := append([]any{
		&w.ID,
		&w.OrganizationID,
		&w.Name,
		&w.Slug,
		&w.LogoURL,
		&w.BrandColor,
		&w.Description,
		&w.IsActive,
		&settings,
		&w.CreatedAt,
		&w.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Workspace{}, err
	}
	w.Settings = map[string]any{}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &w.Settings); err != nil {
			return Workspace{}, fmt.Errorf("decode settings for workspace %s: %w", w.ID, err)
		}
	}
	return w, nil
}

func scanMember(row scanner) (Membership, error) {
	var m Membership
	var role string
	if err := row.Scan(
		&m.WorkspaceID,
		&m.UserID,
		&m.SofiaRole,
		&role,
		&m.RoleOverridden,
		&m.IsActive,
		&m.JoinedAt,
		&m.UpdatedAt,
	); err != nil {
		return Membership{}, err
	}
	m.IrisRole = Role(role)
	return m, nil
}

func (r *PostgresRepo) UpsertWorkspaceMembership(ctx context.Context, in UpsertInput) (Workspace, Membership, error) {
	var ws Workspace
	var mem Membership
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		ws, err = upsertWorkspace(ctx, tx, in)
		if err != nil {
			if utils.IsUniqueViolation(err, slugConstraint) {
				return fmt.Errorf("%w: %q", ErrSlugTaken, in.Slug)
			}
			return fmt.Errorf("upsert workspace: %w", err)
		}
		mem, err = upsertMember(ctx, tx, ws.ID, in)
		if err != nil {
			return fmt.Errorf("upsert membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return Workspace{}, Membership{}, err
	}
	return ws, mem, nil
}

func upsertWorkspace(ctx context.Context, tx *sql.Tx, in UpsertInput) (Workspace, error) {
	// Slug is not updated on conflict. Empty descriptive fields from the
	// source keep the stored value. updated_at moves only on a real change.
	const q = `
INSERT INTO workspaces AS w (
  id, sofia_org_id, name, slug, logo_url, brand_color, description, is_active, settings, created_at, updated_at
) VALUES (
  $1, $2, $3, $4, NULLIF($5,''), NULLIF($6,''), NULLIF($7,''), TRUE, '{}'::jsonb, $8, $8
)
ON CONFLICT (sofia_org_id) DO UPDATE SET
  name        = EXCLUDED.name,
  logo_url    = COALESCE(EXCLUDED.logo_url, w.logo_url),
  brand_color = COALESCE(EXCLUDED.brand_color, w.brand_color),
  description = COALESCE(EXCLUDED.description, w.description),
  is_active   = TRUE,
  updated_at  = CASE
    WHEN (w.name, w.logo_url, w.brand_color, w.description, w.is_active) IS DISTINCT FROM
         (EXCLUDED.name, COALESCE(EXCLUDED.logo_url, w.logo_url), COALESCE(EXCLUDED.brand_color, w.brand_color),
          COALESCE(EXCLUDED.description, w.description), TRUE)
    THEN EXCLUDED.updated_at
    ELSE w.updated_at
  END
RETURNING ` + workspaceColumns

	return scanWorkspace(tx.QueryRowContext(ctx, q,
		in.NewWorkspaceID,
		in.OrganizationID,
		in.Name,
		in.Slug,
		in.LogoURL,
		in.BrandColor,
		in.Description,
		in.Now,
	))
}

func upsertMember(ctx context.Context, tx *sql.Tx, workspaceID string, in UpsertInput) (Membership, error) {
	// $6 is true under the sticky policy: an overridden role is kept while the
	// membership stays active. A rejoin starts from the mapped role.
	const q = `
INSERT INTO workspace_members AS m (
  workspace_id, user_id, sofia_role, iris_role, role_overridden, is_active, joined_at, updated_at
) VALUES (
  $1, $2, $3, $4, FALSE, TRUE, $5, $5
)
ON CONFLICT (workspace_id, user_id) DO UPDATE SET
  sofia_role      = EXCLUDED.sofia_role,
  iris_role       = CASE WHEN $6::boolean AND m.role_overridden AND m.is_active THEN m.iris_role ELSE EXCLUDED.iris_role END,
  role_overridden = $6::boolean AND m.role_overridden AND m.is_active,
  is_active       = TRUE,
  updated_at      = CASE
    WHEN m.sofia_role IS DISTINCT FROM EXCLUDED.sofia_role
      OR NOT m.is_active
      OR (m.role_overridden AND NOT $6::boolean)
      OR (NOT m.role_overridden AND m.iris_role IS DISTINCT FROM EXCLUDED.iris_role)
    THEN EXCLUDED.updated_at
    ELSE m.updated_at
  END
RETURNING ` + memberColumns

	return scanMember(tx.QueryRowContext(ctx, q,
		workspaceID,
		in.UserID,
		in.SofiaRole,
		string(in.MappedRole),
		in.Now,
		in.Policy == PolicySticky,
	))
}

func (r *PostgresRepo) DeactivateMembershipsExcept(ctx context.Context, userID string, keepOrgIDs []string, now time.Time) (int64, error) {
	var b strings.Builder
	b.WriteString(`
UPDATE workspace_members AS m
SET is_active = FALSE, role_overridden = FALSE, updated_at = $2
FROM workspaces w
WHERE m.workspace_id = w.id
  AND m.user_id = $1
  AND m.is_active`)
	args := []any{userID, now}
	if len(keepOrgIDs) > 0 {
		b.WriteString("\n  AND w.sofia_org_id NOT IN (")
		for i, id := range keepOrgIDs {
			if i > 0 {
				b.WriteString(", ")
			}
			args = append(args, id)
			b.WriteString("$" + strconv.Itoa(len(args)))
		}
		b.WriteString(")")
	}

	res, err := r.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) ListActiveForUser(ctx context.Context, userID string) ([]WorkspaceRole, error) {
	const q = `
SELECT w.id, w.sofia_org_id, w.name, w.slug, COALESCE(w.logo_url,''), COALESCE(w.brand_color,''), COALESCE(w.description,''),
       w.is_active, w.settings, w.created_at, w.updated_at, m.iris_role, m.sofia_role
FROM workspace_members m
JOIN workspaces w ON w.id = m.workspace_id
WHERE m.user_id = $1 AND m.is_active AND w.is_active
ORDER BY w.name, w.id
`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []WorkspaceRole{}
	for rows.Next() {
		var role, sofiaRole string
		w, err := scanWorkspace(rows, &role, &sofiaRole)
		if err != nil {
			return nil, err
		}
		out = append(out, WorkspaceRole{Workspace: w, Role: Role(role), SofiaRole: sofiaRole})
	}
	return out, rows.Err()
}

func (r *PostgresRepo) GetActiveBySlug(ctx context.Context, slug string) (Workspace, error) {
	q := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE slug = $1 AND is_active`
	w, err := scanWorkspace(r.db.QueryRowContext(ctx, q, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return Workspace{}, ErrNotFound
	}
	return w, err
}

func (r *PostgresRepo) GetActiveMembership(ctx context.Context, workspaceID, userID string) (Membership, error) {
	const q = `
SELECT m.workspace_id, m.user_id, m.sofia_role, m.iris_role, m.role_overridden, m.is_active, m.joined_at, m.updated_at
FROM workspace_members m
JOIN workspaces w ON w.id = m.workspace_id
WHERE m.workspace_id = $1 AND m.user_id = $2 AND m.is_active AND w.is_active
`
	m, err := scanMember(r.db.QueryRowContext(ctx, q, workspaceID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Membership{}, ErrNotFound
	}
	return m, err
}

func (r *PostgresRepo) ListActiveMembers(ctx context.Context, workspaceID string) ([]Membership, error) {
	q := `SELECT ` + memberColumns + `
FROM workspace_members
WHERE workspace_id = $1 AND is_active
ORDER BY joined_at, user_id`
	rows, err := r.db.QueryContext(ctx, q, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Membership{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) SetRole(ctx context.Context, workspaceID, userID string, role Role, now time.Time) (Role, error) {
	const q = `
WITH prev AS (
  SELECT iris_role
  FROM workspace_members
  WHERE workspace_id = $1 AND user_id = $2 AND is_active
  FOR UPDATE
)
UPDATE workspace_members AS m
SET iris_role = $3, role_overridden = TRUE, updated_at = $4
FROM prev
WHERE m.workspace_id = $1 AND m.user_id = $2 AND m.is_active
RETURNING prev.iris_role
`
	var previous string
	err := r.db.QueryRowContext(ctx, q, workspaceID, userID, string(role), now).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Role(previous), nil
}

func (r *PostgresRepo) SetWorkspaceActive(ctx context.Context, workspaceID string, active bool, now time.Time) error {
	const q = `
UPDATE workspaces
SET is_active = $2,
    updated_at = CASE WHEN is_active = $2 THEN updated_at ELSE $3 END
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, workspaceID, active, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
