package rbac

import "iris-platform/internal/identity"

// IsSuperAdmin reports the platform-wide bypass. It comes from the identity
// authority's permission level, never from a workspace role.
func IsSuperAdmin(permissionLevel string) bool {
	return identity.PermissionLevel(permissionLevel) == identity.PermissionSuperAdmin
}
