package httpapi

import (
	"iris-platform/internal/auth"
	"iris-platform/internal/rbac"
	"iris-platform/internal/workspace"

	"github.com/gin-gonic/gin"
)

// RouteDeps are the collaborators of the /v1 API.
type RouteDeps struct {
	Handlers     Handlers
	Tokens       *auth.Manager
	Denylist     auth.Denylist
	LoginLimiter *RateLimiter
}

// Register wires the /v1 routes. Keep this free of business logic.
func Register(r gin.IRouter, d RouteDeps) {
	h := d.Handlers
	v1 := r.Group("/v1")
	v1.Use(ClientContext())

	authGroup := v1.Group("/auth")
	{
		login := []gin.HandlerFunc{h.Login}
		if d.LoginLimiter != nil {
			login = append([]gin.HandlerFunc{d.LoginLimiter.Middleware()}, login...)
		}
		authGroup.POST("/login", login...)
		authGroup.POST("/refresh", h.Refresh)
	}

	protected := v1.Group("")
	protected.Use(auth.RequireAccessToken(d.Tokens, d.Denylist), ActorContext())
	{
		protected.POST("/auth/logout", h.Logout)
		protected.GET("/me", h.Me)

		ws := protected.Group("/workspaces")
		ws.GET("", h.ListWorkspaces)
		ws.GET("/by-slug/:slug", h.GetWorkspaceBySlug)
		ws.GET("/:workspace_id/members",
			rbac.RequireWorkspaceRole(h.Workspaces, workspace.RoleMember), h.ListMembers)
		ws.PUT("/:workspace_id/members/:user_id/role",
			rbac.RequireWorkspaceRole(h.Workspaces, workspace.RoleAdmin), h.SetMemberRole)
	}
}
