package shared

import "context"

// Principal is the authenticated caller as described by its access token.
// Role and Kind are frozen at token issuance.
type Principal struct {
	ID   string
	Role Role
	Kind UserKind
}

type principalContextKey struct{}

// ContextWithPrincipal stores the caller in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the caller from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
