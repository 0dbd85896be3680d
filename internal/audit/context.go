package audit

import "context"

// clientIPKey is an unexported context key for passing client IP through internal layers.
//
// HTTP handlers (Gin) resolve the real client IP and attach it to the request
// context using WithClientIP; Append picks it up when an event has none.
type clientIPKey struct{}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ClientIPFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(clientIPKey{}).(string); ok {
		return s
	}
	return ""
}

type actorKey struct{}

// WithActor records the authenticated user performing the request.
func WithActor(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, userID)
}

func ActorFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(actorKey{}).(string); ok {
		return s
	}
	return ""
}
