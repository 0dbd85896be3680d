package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"iris-platform/internal/audit"
	"iris-platform/internal/auth"
	"iris-platform/internal/identity"
	"iris-platform/internal/rbac"
	"iris-platform/internal/session"
	"iris-platform/internal/workspace"
	"iris-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Sessions   *session.Service
	Workspaces *workspace.Service
}

// --- Auth ---

type loginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

func (r loginRequest) login() string {
	for _, v := range []string{r.Identifier, r.Email, r.Username} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Login authenticates against the identity authority, synchronizes the
// caller's workspaces and returns a token pair.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.login() == "" || req.Password == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "identifier and password required"})
		return
	}

	res, err := h.Sessions.Login(c.Request.Context(), req.login(), req.Password)
	if err != nil {
		abortSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refreshToken required"})
		return
	}
	res, err := h.Sessions.Refresh(c.Request.Context(), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		abortSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Logout revokes the presented access token and, optionally, a refresh token
// passed in the body.
func (h Handlers) Logout(c *gin.Context) {
	p, err := auth.PrincipalFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req refreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	if err := h.Sessions.Logout(c.Request.Context(), p, strings.TrimSpace(req.RefreshToken)); err != nil {
		logger.FromGin(c).Error("logout failed", "user_id", p.UserID, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "logout unavailable"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Me returns the caller as carried by the access token plus their stored
// workspaces.
func (h Handlers) Me(c *gin.Context) {
	p, err := auth.PrincipalFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	ws, err := h.Sessions.Workspaces(c.Request.Context(), p.UserID)
	if err != nil {
		abortWorkspaceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":              p.UserID,
			"email":           p.Email,
			"name":            p.Name,
			"role":            p.Role,
			"permissionLevel": p.PermissionLevel,
		},
		"workspaces": ws,
	})
}

// --- Workspaces ---

func (h Handlers) ListWorkspaces(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	ws, err := h.Workspaces.ListForUser(c.Request.Context(), uid)
	if err != nil {
		abortWorkspaceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspaces": ws})
}

// GetWorkspaceBySlug resolves a slug. Callers who are not members get the
// same 404 as an unknown slug.
func (h Handlers) GetWorkspaceBySlug(c *gin.Context) {
	p, err := auth.PrincipalFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	ws, err := h.Workspaces.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		abortWorkspaceError(c, err)
		return
	}

	role := workspace.RoleOwner
	if !rbac.IsSuperAdmin(p.PermissionLevel) {
		m, err := h.Workspaces.GetUserRole(c.Request.Context(), ws.ID, p.UserID)
		if err != nil {
			abortWorkspaceError(c, err)
			return
		}
		role = m.IrisRole
	}
	c.JSON(http.StatusOK, gin.H{"workspace": ws, "role": role})
}

func (h Handlers) ListMembers(c *gin.Context) {
	members, err := h.Workspaces.ListMembers(c.Request.Context(), c.Param("workspace_id"))
	if err != nil {
		abortWorkspaceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

type setRoleRequest struct {
	Role string `json:"role"`
}

// SetMemberRole overrides a member's local role.
// RBAC: admin or above in the workspace, or super_admin.
func (h Handlers) SetMemberRole(c *gin.Context) {
	var req setRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	role, err := workspace.ParseRole(req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}

	// Only owners hand out ownership.
	if caller, _ := rbac.WorkspaceRole(c); role == workspace.RoleOwner && caller != workspace.RoleOwner {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	wid, uid := c.Param("workspace_id"), c.Param("user_id")
	updated, err := h.Workspaces.SetRole(c.Request.Context(), wid, uid, role)
	if err != nil {
		abortWorkspaceError(c, err)
		return
	}
	if !updated {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "membership not found"})
		return
	}
	m, err := h.Workspaces.GetUserRole(c.Request.Context(), wid, uid)
	if err != nil {
		abortWorkspaceError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// --- Context ---

// ClientContext records the caller's IP on the request context for audit events.
func ClientContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// ActorContext records the authenticated caller as the audit actor.
// Must run after auth.RequireAccessToken.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid, err := auth.UserID(c.Request.Context()); err == nil {
			c.Request = c.Request.WithContext(audit.WithActor(c.Request.Context(), uid))
		}
		c.Next()
	}
}

// --- Errors ---

func abortSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, session.ErrUnauthenticated):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	case errors.Is(err, session.ErrAccountInactive):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account not active"})
	case errors.Is(err, session.ErrAccountLocked):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account locked"})
	case errors.Is(err, identity.ErrUnavailable):
		logger.FromGin(c).Warn("identity authority unavailable", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "identity authority unavailable"})
	default:
		logger.FromGin(c).Error("session request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func abortWorkspaceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, workspace.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "workspace not found"})
	case errors.Is(err, workspace.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid argument"})
	default:
		logger.FromGin(c).Error("workspace request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
