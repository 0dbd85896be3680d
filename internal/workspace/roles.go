package workspace

import (
	"fmt"
	"strings"
)

// Role is the workspace-local role. It is derived from the identity
// authority's role by MapRole, or set directly by SetRole.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleLeader  Role = "leader"
	RoleMember  Role = "member"
)

var roleRank = map[Role]int{
	RoleOwner:   5,
	RoleAdmin:   4,
	RoleManager: 3,
	RoleLeader:  2,
	RoleMember:  1,
}

func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r is min or above. Unknown roles never qualify.
func (r Role) AtLeast(min Role) bool {
	rank, ok := roleRank[r]
	if !ok {
		return false
	}
	return rank >= roleRank[min]
}

// ParseRole accepts a local role name, case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, s)
	}
	return r, nil
}

// MapRole maps an identity authority role to a local role. It is total:
// owner and admin carry over, everything else (including empty and
// future values) becomes member.
func MapRole(sourceRole string) Role {
	switch strings.ToLower(strings.TrimSpace(sourceRole)) {
	case "owner":
		return RoleOwner
	case "admin":
		return RoleAdmin
	default:
		return RoleMember
	}
}

// RolePolicy decides what a sync does to a role set through SetRole.
type RolePolicy string

const (
	// PolicyAuthority: every sync rewrites the local role from the source role.
	PolicyAuthority RolePolicy = "authority"
	// PolicySticky: a role set through SetRole survives later syncs.
	PolicySticky RolePolicy = "sticky"
)

func ParseRolePolicy(s string) (RolePolicy, error) {
	switch RolePolicy(strings.TrimSpace(s)) {
	case "", PolicyAuthority:
		return PolicyAuthority, nil
	case PolicySticky:
		return PolicySticky, nil
	default:
		return "", fmt.Errorf("unknown role policy %q", s)
	}
}
