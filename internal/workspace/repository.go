package workspace

import (
	"context"
	"time"
)

// UpsertInput is one reconciled membership.
type UpsertInput struct {
	// NewWorkspaceID is used only when the organization has no workspace yet.
	NewWorkspaceID string

	OrganizationID string
	Name           string
	Slug           string
	LogoURL        string
	BrandColor     string
	Description    string

	UserID     string
	SofiaRole  string
	MappedRole Role
	Policy     RolePolicy
	Now        time.Time
}

// Repository is the workspace store. Upserts must be atomic at the store
// level (no read-then-write) since concurrent logins for one user race on
// the same rows.
type Repository interface {
	// UpsertWorkspaceMembership upserts the workspace keyed by organization
	// and the membership keyed by (workspace, user) in one transaction.
	// Returns ErrSlugTaken when a new workspace's slug collides.
	UpsertWorkspaceMembership(ctx context.Context, in UpsertInput) (Workspace, Membership, error)

	// DeactivateMembershipsExcept marks the user's active memberships inactive
	// unless their workspace's organization is in keepOrgIDs.
	DeactivateMembershipsExcept(ctx context.Context, userID string, keepOrgIDs []string, now time.Time) (int64, error)

	// ListActiveForUser returns active memberships in active workspaces.
	ListActiveForUser(ctx context.Context, userID string) ([]WorkspaceRole, error)
	GetActiveBySlug(ctx context.Context, slug string) (Workspace, error)
	// GetActiveMembership requires both the membership and its workspace to be active.
	GetActiveMembership(ctx context.Context, workspaceID, userID string) (Membership, error)
	ListActiveMembers(ctx context.Context, workspaceID string) ([]Membership, error)

	// SetRole overrides the local role of an active membership and returns
	// the previous role. ErrNotFound when there is no active membership.
	SetRole(ctx context.Context, workspaceID, userID string, role Role, now time.Time) (Role, error)

	// SetWorkspaceActive is the operator switch for a whole workspace. Sync
	// never deactivates workspaces, though it reactivates them.
	SetWorkspaceActive(ctx context.Context, workspaceID string, active bool, now time.Time) error
}
