package auth

import (
	"context"
	"slices"
	"strings"
)

// Roles understood by the storefront. Staff and admin may act on any order.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is a caller whose Firebase ID token has been verified.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	Name          string
	// Roles are lower-cased and deduplicated.
	Roles []string
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && slices.ContainsFunc(i.Roles, func(r string) bool { return strings.EqualFold(r, role) })
}

// IsStaff reports whether the identity may manage any order.
func (i *Identity) IsStaff() bool {
	return i.HasRole(RoleStaff) || i.HasRole(RoleAdmin)
}

type identityKey struct{}

// WithIdentity returns ctx carrying identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity attached by the authenticator.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}
