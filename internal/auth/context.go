package auth

import (
	"context"
	"errors"
	"time"
)

type ctxKey int

const ctxPrincipal ctxKey = iota

// Principal is the authenticated caller as carried by a verified access token.
type Principal struct {
	UserID          string
	Email           string
	Name            string
	Role            string
	PermissionLevel string
	// TokenHash and ExpiresAt identify the presented access token (for logout).
	TokenHash string
	ExpiresAt time.Time
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipal, p)
}

func PrincipalFrom(ctx context.Context) (Principal, error) {
	if p, ok := ctx.Value(ctxPrincipal).(Principal); ok && p.UserID != "" {
		return p, nil
	}
	return Principal{}, errors.New("principal not in context")
}

func UserID(ctx context.Context) (string, error) {
	p, err := PrincipalFrom(ctx)
	if err != nil {
		return "", errors.New("user_id not in context")
	}
	return p.UserID, nil
}
