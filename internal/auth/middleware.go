package auth

import (
	"net/http"
	"strings"
	"time"

	"iris-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAccessToken verifies an access token and injects the principal into
// the request context. denylist may be nil. Every failure, including a
// denylist lookup error, is the same 401.
// It does not perform RBAC checks; those belong to internal/rbac.
func RequireAccessToken(m *Manager, denylist Denylist) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := BearerToken(c.GetHeader(authorizationHeader))
		if !ok {
			unauthenticated(c)
			return
		}

		claims, err := m.VerifyType(tok, TokenTypeAccess, time.Now())
		if err != nil {
			unauthenticated(c)
			return
		}

		hash := Hash(tok)
		if denylist != nil {
			revoked, err := denylist.IsRevoked(c.Request.Context(), hash)
			if err != nil {
				logger.FromGin(c).Warn("denylist lookup failed", "err", err)
			}
			if err != nil || revoked {
				unauthenticated(c)
				return
			}
		}

		p := Principal{
			UserID:          claims.Subject,
			Email:           claims.Email,
			Name:            claims.Name,
			Role:            claims.Role,
			PermissionLevel: claims.PermissionLevel,
			TokenHash:       hash,
			ExpiresAt:       claims.ExpiresAt.Time,
		}
		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))

		// Also store on gin context for handler convenience.
		c.Set("user_id", p.UserID)
		c.Set("permission_level", p.PermissionLevel)

		c.Next()
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	raw := strings.TrimSpace(header)
	if !strings.HasPrefix(raw, bearerPrefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	return tok, tok != ""
}

func unauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
}
