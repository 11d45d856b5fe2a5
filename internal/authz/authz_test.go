package authz

import (
	"testing"

	"github.com/R3E-Network/entity_gateway/internal/errors"
	"github.com/R3E-Network/entity_gateway/internal/registry"
	"github.com/R3E-Network/entity_gateway/internal/tenant"
)

func TestAuthorizeNoRequirement(t *testing.T) {
	cfg := registry.EntityConfig{Collection: "conversations"}
	rctx := &tenant.RequestCtx{TenantID: "t1"}

	if err := Authorize(cfg, registry.ActionCreate, rctx); err != nil {
		t.Fatalf("expected unrestricted action to pass, got %v", err)
	}
}

func TestAuthorizeRoleHeld(t *testing.T) {
	cfg := registry.EntityConfig{
		Collection:   "users",
		AllowedRoles: map[registry.Action][]string{registry.ActionDelete: {"admin", "operator"}},
	}
	rctx := &tenant.RequestCtx{
		TenantID: "t1",
		Actor:    tenant.Actor{ID: "u1", Roles: []string{"operator"}},
	}

	if err := Authorize(cfg, registry.ActionDelete, rctx); err != nil {
		t.Fatalf("expected role match to pass, got %v", err)
	}
}

func TestAuthorizeRoleMissing(t *testing.T) {
	cfg := registry.EntityConfig{
		Collection:   "users",
		AllowedRoles: map[registry.Action][]string{registry.ActionDelete: {"admin"}},
	}
	rctx := &tenant.RequestCtx{
		TenantID: "t1",
		Actor:    tenant.Actor{ID: "u1", Roles: []string{"viewer"}},
	}

	err := Authorize(cfg, registry.ActionDelete, rctx)
	if err == nil {
		t.Fatal("expected forbidden error")
	}
	if !errors.Is(err, errors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAuthorizeAnonymousAgainstRestrictedAction(t *testing.T) {
	cfg := registry.EntityConfig{
		Collection:   "users",
		AllowedRoles: map[registry.Action][]string{registry.ActionDelete: {"admin"}},
	}
	rctx := &tenant.RequestCtx{TenantID: "t1"}

	if err := Authorize(cfg, registry.ActionDelete, rctx); err == nil {
		t.Fatal("expected anonymous actor to be rejected")
	}
	// Other actions on the same entity stay open.
	if err := Authorize(cfg, registry.ActionList, rctx); err != nil {
		t.Fatalf("expected unrestricted list to pass, got %v", err)
	}
}
