package workspace

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("workspace: not found")
	ErrInvalidArgument = errors.New("workspace: invalid argument")
	// ErrSlugTaken means another organization's workspace already owns the slug.
	ErrSlugTaken = errors.New("workspace: slug taken")
)

// Workspace is the local projection of an identity authority organization.
// Exactly one exists per OrganizationID.
type Workspace struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"sofia_org_id" db:"sofia_org_id"`
	Name           string `json:"name" db:"name"`
	// Slug routes URLs. It is fixed once the workspace exists.
	Slug        string `json:"slug" db:"slug"`
	LogoURL     string `json:"logo_url,omitempty" db:"logo_url"`
	BrandColor  string `json:"brand_color,omitempty" db:"brand_color"`
	Description string `json:"description,omitempty" db:"description"`
	IsActive    bool   `json:"is_active" db:"is_active"`

	// Settings is local-only; sync never writes it.
	Settings map[string]any `json:"settings" db:"settings"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Membership is the local projection of an organization membership, unique
// per (WorkspaceID, UserID).
type Membership struct {
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	UserID      string `json:"user_id" db:"user_id"`
	// SofiaRole is the identity authority role, verbatim.
	SofiaRole string `json:"sofia_role" db:"sofia_role"`
	IrisRole  Role   `json:"iris_role" db:"iris_role"`
	// RoleOverridden is set by SetRole and cleared by an authority-policy sync.
	RoleOverridden bool `json:"role_overridden" db:"role_overridden"`
	IsActive       bool `json:"is_active" db:"is_active"`

	JoinedAt  time.Time `json:"joined_at" db:"joined_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// WorkspaceRole is a workspace together with the user's role in it.
type WorkspaceRole struct {
	Workspace Workspace `json:"workspace"`
	Role      Role      `json:"role"`
	SofiaRole string    `json:"sofia_role"`
}
