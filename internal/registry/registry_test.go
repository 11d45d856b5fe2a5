package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/R3E-Network/entity_gateway/internal/errors"
)

func TestResolveUnknownEntity(t *testing.T) {
	reg := Builtin()
	_, err := reg.Resolve("widgets")
	if err == nil {
		t.Fatal("expected error for unknown entity")
	}
	if !errors.Is(err, errors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolveBuiltin(t *testing.T) {
	reg := Builtin()
	for _, name := range []string{"users", "conversations", "messages"} {
		cfg, err := reg.Resolve(name)
		if err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
		if cfg.Collection != name {
			t.Fatalf("expected collection %s, got %s", name, cfg.Collection)
		}
		if !cfg.TenantScoped() {
			t.Fatalf("expected %s to be tenant scoped", name)
		}
	}
}

func TestNewRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name    string
		configs []EntityConfig
	}{
		{"empty collection", []EntityConfig{{PrimaryKeys: []string{"id"}}}},
		{"no primary keys", []EntityConfig{{Collection: "a"}}},
		{"duplicate", []EntityConfig{
			{Collection: "a", PrimaryKeys: []string{"id"}},
			{Collection: "a", PrimaryKeys: []string{"id"}},
		}},
		{"unknown action", []EntityConfig{{
			Collection:   "a",
			PrimaryKeys:  []string{"id"},
			AllowedRoles: map[Action][]string{"purge": {"admin"}},
		}}},
		{"unknown field type", []EntityConfig{{
			Collection:   "a",
			PrimaryKeys:  []string{"id"},
			CreateSchema: Schema{"x": {Type: "uuid"}},
		}}},
	}
	for _, tc := range cases {
		if _, err := New(tc.configs); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestValidateCreate(t *testing.T) {
	reg := Builtin()
	cfg, _ := reg.Resolve("messages")

	valid := []byte(`{"userId":"u1","conversationId":"c1","role":"assistant","content":"hi"}`)
	if err := cfg.ValidateCreate(valid); err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}

	missing := []byte(`{"userId":"u1"}`)
	if err := cfg.ValidateCreate(missing); err == nil {
		t.Fatal("expected error for missing required fields")
	}

	wrongType := []byte(`{"userId":"u1","conversationId":"c1","role":"assistant","content":42}`)
	if err := cfg.ValidateCreate(wrongType); err == nil {
		t.Fatal("expected error for wrong field type")
	}

	unknown := []byte(`{"userId":"u1","conversationId":"c1","role":"assistant","content":"hi","bogus":true}`)
	if err := cfg.ValidateCreate(unknown); err == nil {
		t.Fatal("expected error for unknown field")
	}

	// The tenant field and primary key are implicitly accepted.
	implicit := []byte(`{"id":"m1","tenantId":"t1","userId":"u1","conversationId":"c1","role":"assistant","content":"hi"}`)
	if err := cfg.ValidateCreate(implicit); err != nil {
		t.Fatalf("expected implicit fields accepted, got %v", err)
	}

	vector := []byte(`{"userId":"u1","conversationId":"c1","role":"assistant","content":"hi","embedding":[0.1,0.2]}`)
	if err := cfg.ValidateCreate(vector); err != nil {
		t.Fatalf("expected numeric embedding accepted, got %v", err)
	}
	badVector := []byte(`{"userId":"u1","conversationId":"c1","role":"assistant","content":"hi","embedding":["a"]}`)
	if err := cfg.ValidateCreate(badVector); err == nil {
		t.Fatal("expected error for non-numeric embedding")
	}
}

func TestValidateUpdate(t *testing.T) {
	reg := Builtin()
	cfg, _ := reg.Resolve("conversations")

	if err := cfg.ValidateUpdate([]byte(`{"title":"New title"}`)); err != nil {
		t.Fatalf("expected valid update, got %v", err)
	}
	if err := cfg.ValidateUpdate([]byte(`{}`)); err == nil {
		t.Fatal("expected error for empty update")
	}
	if err := cfg.ValidateUpdate([]byte(`[]`)); err == nil {
		t.Fatal("expected error for non-object update")
	}
	if err := cfg.ValidateUpdate([]byte(`{"userId":"other"}`)); err == nil {
		t.Fatal("expected error for field not in update schema")
	}
}

func TestValidateFilter(t *testing.T) {
	reg := Builtin()
	cfg, _ := reg.Resolve("users")

	if err := cfg.ValidateFilter(map[string]string{"email": "a@b.c"}); err != nil {
		t.Fatalf("expected valid filter, got %v", err)
	}
	if err := cfg.ValidateFilter(map[string]string{"password": "x"}); err == nil {
		t.Fatal("expected error for undeclared filter field")
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entities.yaml")
	content := `
entities:
  - collection: widgets
    primary_keys: [id]
    tenant_field: tenantId
    create_schema:
      name: { type: string, required: true }
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write entities file: %v", err)
	}

	reg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	cfg, err := reg.Resolve("widgets")
	if err != nil {
		t.Fatalf("resolve widgets: %v", err)
	}
	if spec, ok := cfg.CreateSchema["name"]; !ok || spec.Type != FieldString || !spec.Required {
		t.Fatalf("unexpected create schema: %+v", cfg.CreateSchema)
	}

	if _, err := LoadFromPath(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
