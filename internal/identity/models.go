package identity

import (
	"strings"
	"time"
)

// PermissionLevel is the platform-wide permission tier, ordered from most to
// least privileged.
type PermissionLevel string

const (
	PermissionSuperAdmin PermissionLevel = "super_admin"
	PermissionAdmin      PermissionLevel = "admin"
	PermissionManager    PermissionLevel = "manager"
	PermissionUser       PermissionLevel = "user"
	PermissionViewer     PermissionLevel = "viewer"
	PermissionGuest      PermissionLevel = "guest"
)

var permissionRank = map[PermissionLevel]int{
	PermissionSuperAdmin: 6,
	PermissionAdmin:      5,
	PermissionManager:    4,
	PermissionUser:       3,
	PermissionViewer:     2,
	PermissionGuest:      1,
}

func (p PermissionLevel) Valid() bool {
	_, ok := permissionRank[p]
	return ok
}

// AtLeast reports whether p grants at least the privileges of min.
// Unknown levels never satisfy a check.
func (p PermissionLevel) AtLeast(min PermissionLevel) bool {
	r, ok := permissionRank[p]
	if !ok {
		return false
	}
	return r >= permissionRank[min]
}

type AccountStatus string

const (
	StatusActive              AccountStatus = "active"
	StatusInactive            AccountStatus = "inactive"
	StatusSuspended           AccountStatus = "suspended"
	StatusPendingVerification AccountStatus = "pending_verification"
	StatusDeleted             AccountStatus = "deleted"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusPendingVerification, StatusDeleted:
		return true
	default:
		return false
	}
}

// Identity is the canonical user record as known to the identity authority.
// The identity authority owns it; this service only reads it and writes back
// login timestamps.
type Identity struct {
	ID              string `json:"id"`
	FirstName       string `json:"first_name,omitempty"`
	PaternalSurname string `json:"paternal_surname,omitempty"`
	MaternalSurname string `json:"maternal_surname,omitempty"`
	DisplayName     string `json:"display_name,omitempty"`
	Username        string `json:"username"`
	Email           string `json:"email"`

	// PasswordHash is opaque. It never leaves the process.
	PasswordHash string `json:"-"`

	CompanyRole     string          `json:"company_role,omitempty"`
	PermissionLevel PermissionLevel `json:"permission_level"`
	Status          AccountStatus   `json:"status"`
	IsVerified      bool            `json:"is_verified"`

	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	LastActivityAt      *time.Time `json:"last_activity_at,omitempty"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`

	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Name is the display name if set, otherwise first name plus paternal surname.
func (i Identity) Name() string {
	if n := strings.TrimSpace(i.DisplayName); n != "" {
		return n
	}
	return strings.TrimSpace(strings.TrimSpace(i.FirstName) + " " + strings.TrimSpace(i.PaternalSurname))
}

// Role is the company role, defaulting to "user".
func (i Identity) Role() string {
	if r := strings.TrimSpace(i.CompanyRole); r != "" {
		return r
	}
	return "user"
}

// LockedAt reports whether a lockout is in effect at now.
func (i Identity) LockedAt(now time.Time) bool {
	return i.LockedUntil != nil && now.Before(*i.LockedUntil)
}

// Organization is the identity authority's organization record.
type Organization struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	LogoURL     string `json:"logo_url,omitempty"`
	BrandColor  string `json:"brand_color,omitempty"`
	Description string `json:"description,omitempty"`
}

const MembershipStatusRemoved = "removed"

// Membership links a user to an organization. Role is free-form and kept
// verbatim. Organization is nil when the parent organization did not resolve.
type Membership struct {
	UserID         string        `json:"user_id"`
	OrganizationID string        `json:"organization_id"`
	Role           string        `json:"role"`
	Status         string        `json:"status"`
	Organization   *Organization `json:"organization,omitempty"`
}

// Removed reports the soft-delete signal.
func (m Membership) Removed() bool {
	return strings.EqualFold(strings.TrimSpace(m.Status), MembershipStatusRemoved)
}

// Resolved reports whether the parent organization is present.
func (m Membership) Resolved() bool {
	return m.Organization != nil && m.Organization.ID != ""
}
