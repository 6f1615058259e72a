package auth

import "context"

// userKey is a private type for the user context key.
type userKey struct{}

// SetUser stores the resolved user in the context.
func SetUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext retrieves the resolved user.
// Returns nil if the request was not authenticated.
func UserFromContext(ctx context.Context) *User {
	if v, ok := ctx.Value(userKey{}).(*User); ok {
		return v
	}
	return nil
}
