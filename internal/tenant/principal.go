// Package tenant resolves the organization an operation acts for and binds
// data access to it.
package tenant

import (
	"context"
	"errors"

	"manageros/internal/store"
)

var (
	// ErrUnauthenticated means no principal is on the context.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNoOrganization means the principal has not joined an organization yet.
	ErrNoOrganization = errors.New("no organization")
)

// Principal is the authenticated actor of a request.
type Principal struct {
	UserID         string
	PersonID       string
	OrganizationID string
}

type contextKey int

const principalContextKey contextKey = iota

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, &p)
}

// PrincipalFromContext returns nil for unauthenticated contexts.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey).(*Principal)
	return p
}

// ResolveOrganization returns the organization id of the acting principal.
func ResolveOrganization(ctx context.Context) (string, error) {
	p := PrincipalFromContext(ctx)
	if p == nil {
		return "", ErrUnauthenticated
	}
	if p.OrganizationID == "" {
		return "", ErrNoOrganization
	}
	return p.OrganizationID, nil
}

// Scope resolves the organization and binds a repository to it.
func Scope(ctx context.Context, opener store.Opener) (store.TenantData, error) {
	orgID, err := ResolveOrganization(ctx)
	if err != nil {
		return nil, err
	}
	return opener.Tenant(orgID), nil
}
