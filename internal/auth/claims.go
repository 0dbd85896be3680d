package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

func (t TokenType) Valid() bool {
	return t == TokenTypeAccess || t == TokenTypeRefresh
}

// Claims are the only supported session token claims shape for this service.
// Subject, IssuedAt and ExpiresAt come from the embedded registered claims
// ("sub", "iat", "exp"). Tokens carry no workspace: workspace scope is
// resolved per request from the workspace store.
type Claims struct {
	jwt.RegisteredClaims

	Email           string    `json:"email"`
	Name            string    `json:"name"`
	Role            string    `json:"role"`
	PermissionLevel string    `json:"permissionLevel"`
	Type            TokenType `json:"type,omitempty"`
}
