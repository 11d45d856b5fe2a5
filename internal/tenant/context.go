// Package tenant builds the immutable per-request context and is the single
// source of truth for tenant resolution. No downstream component recomputes
// or overrides the tenant decided here.
package tenant

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/R3E-Network/entity_gateway/internal/errors"
)

// HeaderTenantID is the header a caller may use to assert its tenant.
const HeaderTenantID = "x-tenant-id"

// Actor is the authenticated identity attached to a request. A request
// without verified claims carries a zero Actor: no id, no roles.
type Actor struct {
	ID      string
	Roles   []string
	Service string
}

// HasRole reports whether the actor holds the given role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Claims is the verified token payload consumed by the builder. Producing it
// (signature checks, expiry) is the auth middleware's concern.
type Claims struct {
	UserID   string
	TenantID string
	Roles    []string
	Service  string
}

// RequestCtx is the per-request value threaded through the whole call chain.
// It is created once per request and never mutated or persisted.
type RequestCtx struct {
	RequestID string
	TenantID  string
	Actor     Actor
	Headers   http.Header
}

// Build resolves the effective tenant from the x-tenant-id header and the
// claim tenant and assembles the request context.
//
// Both present and differing is a conflict: the caller holds credentials for
// one tenant while asserting another. Neither present is rejected unless the
// route is tenant-exempt.
func Build(headers http.Header, claims *Claims, exempt bool) (*RequestCtx, error) {
	headerTenant := headers.Get(HeaderTenantID)

	var claimTenant string
	actor := Actor{}
	if claims != nil {
		claimTenant = claims.TenantID
		actor = Actor{
			ID:      claims.UserID,
			Roles:   append([]string(nil), claims.Roles...),
			Service: claims.Service,
		}
	}

	var effective string
	switch {
	case headerTenant != "" && claimTenant != "" && headerTenant != claimTenant:
		return nil, errors.TenantConflict(headerTenant, claimTenant)
	case headerTenant != "":
		effective = headerTenant
	case claimTenant != "":
		effective = claimTenant
	default:
		if !exempt {
			return nil, errors.TenantRequired()
		}
	}

	return &RequestCtx{
		RequestID: uuid.NewString(),
		TenantID:  effective,
		Actor:     actor,
		Headers:   headers,
	}, nil
}
