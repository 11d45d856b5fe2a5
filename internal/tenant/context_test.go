package tenant

import (
	"net/http"
	"testing"

	"github.com/R3E-Network/entity_gateway/internal/errors"
)

func TestBuildHeaderOnly(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderTenantID, "tenant-a")

	rctx, err := Build(h, nil, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rctx.TenantID != "tenant-a" {
		t.Fatalf("expected tenant-a, got %s", rctx.TenantID)
	}
	if rctx.RequestID == "" {
		t.Fatal("expected a request id")
	}
	if rctx.Actor.ID != "" || len(rctx.Actor.Roles) != 0 {
		t.Fatalf("expected zero actor, got %+v", rctx.Actor)
	}
}

func TestBuildClaimOnly(t *testing.T) {
	claims := &Claims{UserID: "u1", TenantID: "tenant-b", Roles: []string{"admin"}}

	rctx, err := Build(http.Header{}, claims, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rctx.TenantID != "tenant-b" {
		t.Fatalf("expected tenant-b, got %s", rctx.TenantID)
	}
	if rctx.Actor.ID != "u1" || !rctx.Actor.HasRole("admin") {
		t.Fatalf("unexpected actor: %+v", rctx.Actor)
	}
}

func TestBuildAgreement(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderTenantID, "tenant-a")

	rctx, err := Build(h, &Claims{UserID: "u1", TenantID: "tenant-a"}, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rctx.TenantID != "tenant-a" {
		t.Fatalf("expected tenant-a, got %s", rctx.TenantID)
	}
}

func TestBuildConflict(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderTenantID, "tenant-a")

	_, err := Build(h, &Claims{UserID: "u1", TenantID: "tenant-b"}, false)
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if !errors.Is(err, errors.CodeTenantConflict) {
		t.Fatalf("expected tenant conflict, got %v", err)
	}
}

func TestBuildMissingTenant(t *testing.T) {
	_, err := Build(http.Header{}, nil, false)
	if err == nil {
		t.Fatal("expected error for missing tenant")
	}
	if !errors.Is(err, errors.CodeTenantRequired) {
		t.Fatalf("expected tenant required, got %v", err)
	}
}

func TestBuildExemptRoute(t *testing.T) {
	rctx, err := Build(http.Header{}, nil, true)
	if err != nil {
		t.Fatalf("build exempt: %v", err)
	}
	if rctx.TenantID != "" {
		t.Fatalf("expected empty tenant, got %s", rctx.TenantID)
	}
}

func TestActorRolesCopied(t *testing.T) {
	roles := []string{"viewer"}
	rctx, err := Build(http.Header{}, &Claims{UserID: "u1", TenantID: "t1", Roles: roles}, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	roles[0] = "admin"
	if rctx.Actor.HasRole("admin") {
		t.Fatal("actor roles must be a copy of the claim slice")
	}
}
