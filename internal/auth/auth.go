package auth

import "context"

type contextKey string

const claimsKey contextKey = "claims"

// ContextWithClaims attaches verified token claims to ctx.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the claims stored by ContextWithClaims.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// ScopeFromContext returns the tenant and subject an inbox request acts for.
// Both must be present; a token without a tenant cannot read notifications.
func ScopeFromContext(ctx context.Context) (tenantID, subjectID string, ok bool) {
	claims, found := ClaimsFromContext(ctx)
	if !found || claims == nil || claims.TenantID == "" || claims.UserID == "" {
		return "", "", false
	}
	return claims.TenantID, claims.UserID, true
}
