package users

import (
	"context"
	"strings"
)

// IdentityProvisioner creates and removes sign-in credentials on behalf of an admin.
type IdentityProvisioner interface {
	CreateIdentity(ctx context.Context, email, password string) (string, error)
	DeleteIdentity(ctx context.Context, identityID string) error
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func matchesSearch(fullName *string, email, term string) bool {
	if term == "" {
		return true
	}
	if fullName != nil && strings.Contains(strings.ToLower(*fullName), term) {
		return true
	}
	return strings.Contains(strings.ToLower(email), term)
}
