package auth

import (
	"context"
	"slices"
)

const localSubject = "local"

// Principal is the verified identity behind a request.
type Principal struct {
	Issuer   string
	Subject  string
	Username string
	Audience any
	Roles    []string
	Claims   map[string]any
}

func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

func (p Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin)
}

// IsUser reports whether p may use the peer endpoints. Administrators
// always may.
func (p Principal) IsUser() bool {
	return p.HasRole(RoleUser) || p.IsAdmin()
}

// LocalPrincipal is used for every request when authentication is disabled.
func LocalPrincipal() Principal {
	return Principal{
		Subject:  localSubject,
		Username: localSubject,
		Roles:    []string{RoleUser, RoleAdmin},
	}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
