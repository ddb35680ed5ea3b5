package auth

import "context"

const (
	RoleCustomer = "customer"
	RolePartner  = "partner"
	RoleAdmin    = "admin"
)

type contextKey struct{}

type AuthContext struct {
	UserID string
	Role   string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.UserID
}

func HasRole(ctx context.Context, role string) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Role == role
}

func IsAdmin(ctx context.Context) bool {
	return HasRole(ctx, RoleAdmin)
}
