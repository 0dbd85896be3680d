package rbac

import (
	"context"
	"errors"
	"net/http"

	"iris-platform/internal/auth"
	"iris-platform/internal/identity"
	"iris-platform/internal/workspace"
	"iris-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	paramWorkspaceID = "workspace_id"
	ctxWorkspaceRole = "workspace_role"
)

// MembershipLookup is the read path authorization depends on.
type MembershipLookup interface {
	GetUserRole(ctx context.Context, workspaceID, userID string) (workspace.Membership, error)
}

// RequireWorkspaceRole allows access if the caller's active membership in the
// :workspace_id workspace is at least min.
// Rules:
// - super_admin bypasses the membership check and acts as owner
// - non-members get 404 so workspace ids cannot be probed
// - must run after auth.RequireAccessToken
func RequireWorkspaceRole(lookup MembershipLookup, min workspace.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := auth.PrincipalFrom(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		wid := c.Param(paramWorkspaceID)
		if wid == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "workspace_id required"})
			return
		}

		if IsSuperAdmin(p.PermissionLevel) {
			c.Set(ctxWorkspaceRole, workspace.RoleOwner)
			c.Next()
			return
		}

		m, err := lookup.GetUserRole(c.Request.Context(), wid, p.UserID)
		if errors.Is(err, workspace.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "workspace not found"})
			return
		}
		if err != nil {
			logger.FromGin(c).Error("membership lookup failed", "workspace_id", wid, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !m.IrisRole.AtLeast(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		c.Set(ctxWorkspaceRole, m.IrisRole)
		c.Next()
	}
}

// RequirePermissionLevel allows access if the caller's platform permission
// level is at least min.
func RequirePermissionLevel(min identity.PermissionLevel) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := auth.PrincipalFrom(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		if !identity.PermissionLevel(p.PermissionLevel).AtLeast(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// WorkspaceRole returns the role resolved by RequireWorkspaceRole.
func WorkspaceRole(c *gin.Context) (workspace.Role, bool) {
	v, ok := c.Get(ctxWorkspaceRole)
	if !ok {
		return "", false
	}
	r, ok := v.(workspace.Role)
	return r, ok
}
