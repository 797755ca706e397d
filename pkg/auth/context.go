package auth

import "context"

// ReviewerFromContext returns the reviewer identity of the authenticated
// request, or "" when the request carries no claims.
func ReviewerFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.Reviewer()
}
