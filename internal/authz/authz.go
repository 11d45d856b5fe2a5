// Package authz evaluates the declarative role table attached to each
// entity config. The check is data-driven so the full authorization surface
// is auditable from configuration alone.
package authz

import (
	"github.com/R3E-Network/entity_gateway/internal/errors"
	"github.com/R3E-Network/entity_gateway/internal/registry"
	"github.com/R3E-Network/entity_gateway/internal/tenant"
)

// Authorize allows the action when the entity declares no role requirement
// for it, otherwise requires the actor to hold at least one of the required
// roles. It must run after tenant resolution and before any storage call.
func Authorize(cfg registry.EntityConfig, action registry.Action, rctx *tenant.RequestCtx) error {
	required := cfg.AllowedRoles[action]
	if len(required) == 0 {
		return nil
	}
	for _, role := range required {
		if rctx.Actor.HasRole(role) {
			return nil
		}
	}
	return errors.Forbidden(cfg.Collection, string(action))
}
