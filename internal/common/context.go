package common

import "context"

type ctxKey string

const (
	userIDKey    ctxKey = "auth/user-id"
	sessionIDKey ctxKey = "cart/session-id"
)

// WithUserID stores the authenticated user identifier on the provided context.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID extracts the authenticated user identifier from the context if present.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// WithSessionID stores the anonymous cart session identifier.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionID extracts the cart session identifier from the context if present.
func SessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}

const rolesKey ctxKey = "auth/roles"

// WithRoles stores the authenticated user's roles.
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, rolesKey, roles)
}

// HasRole reports whether the authenticated user carries role.
func HasRole(ctx context.Context, role string) bool {
	roles, _ := ctx.Value(rolesKey).([]string)
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
