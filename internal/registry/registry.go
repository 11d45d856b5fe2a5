// Package registry holds the declarative per-entity configuration that
// drives dispatch, authorization and validation. The registry is built once
// at startup and is read-only afterwards.
package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/entity_gateway/internal/errors"
)

// Action identifies one gateway operation on an entity.
type Action string

const (
	ActionList   Action = "list"
	ActionGet    Action = "get"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionSearch Action = "search"
)

var knownActions = map[Action]bool{
	ActionList:   true,
	ActionGet:    true,
	ActionCreate: true,
	ActionUpdate: true,
	ActionDelete: true,
	ActionSearch: true,
}

// FieldType is the declared type of a schema field.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
	FieldObject FieldType = "object"
	FieldArray  FieldType = "array"
	FieldVector FieldType = "vector"
)

var knownFieldTypes = map[FieldType]bool{
	FieldString: true,
	FieldNumber: true,
	FieldBool:   true,
	FieldObject: true,
	FieldArray:  true,
	FieldVector: true,
}

// FieldSpec describes one accepted field of a create/update/filter payload.
type FieldSpec struct {
	Type     FieldType `yaml:"type" json:"type"`
	Required bool      `yaml:"required" json:"required"`
}

// Schema maps field names to their specs.
type Schema map[string]FieldSpec

// VectorSpec marks an entity as carrying an embedding usable for similarity
// search.
type VectorSpec struct {
	Field      string `yaml:"field" json:"field"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
}

// EntityConfig describes one logical collection.
type EntityConfig struct {
	Collection   string              `yaml:"collection" json:"collection"`
	PrimaryKeys  []string            `yaml:"primary_keys" json:"primary_keys"`
	TenantField  string              `yaml:"tenant_field" json:"tenant_field"`
	AllowedRoles map[Action][]string `yaml:"allowed_roles" json:"allowed_roles"`
	CreateSchema Schema              `yaml:"create_schema" json:"create_schema"`
	UpdateSchema Schema              `yaml:"update_schema" json:"update_schema"`
	FilterSchema Schema              `yaml:"filter_schema" json:"filter_schema"`
	Vector       *VectorSpec         `yaml:"vector" json:"vector,omitempty"`
}

// TenantScoped reports whether records of this entity belong to a tenant.
func (c EntityConfig) TenantScoped() bool {
	return c.TenantField != ""
}

// Registry is the immutable name → EntityConfig map.
type Registry struct {
	entities map[string]EntityConfig
}

// New builds a registry from the given configs, validating each one.
func New(configs []EntityConfig) (*Registry, error) {
	entities := make(map[string]EntityConfig, len(configs))
	for _, cfg := range configs {
		if cfg.Collection == "" {
			return nil, fmt.Errorf("entity config with empty collection name")
		}
		if _, dup := entities[cfg.Collection]; dup {
			return nil, fmt.Errorf("duplicate entity config %q", cfg.Collection)
		}
		if len(cfg.PrimaryKeys) == 0 {
			return nil, fmt.Errorf("entity %q: primary_keys must not be empty", cfg.Collection)
		}
		for action := range cfg.AllowedRoles {
			if !knownActions[action] {
				return nil, fmt.Errorf("entity %q: unknown action %q in allowed_roles", cfg.Collection, action)
			}
		}
		for _, schema := range []Schema{cfg.CreateSchema, cfg.UpdateSchema, cfg.FilterSchema} {
			for field, spec := range schema {
				if !knownFieldTypes[spec.Type] {
					return nil, fmt.Errorf("entity %q: field %q has unknown type %q", cfg.Collection, field, spec.Type)
				}
			}
		}
		if cfg.Vector != nil && cfg.Vector.Field == "" {
			return nil, fmt.Errorf("entity %q: vector spec requires a field name", cfg.Collection)
		}
		entities[cfg.Collection] = cfg
	}
	return &Registry{entities: entities}, nil
}

// LoadFromPath reads entity configs from a yaml file.
func LoadFromPath(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entity config: %w", err)
	}
	var file struct {
		Entities []EntityConfig `yaml:"entities"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse entity config: %w", err)
	}
	return New(file.Entities)
}

// Resolve returns the config for name. Unknown names fail with a validation
// error so that callers short-circuit before any storage access.
func (r *Registry) Resolve(name string) (EntityConfig, error) {
	cfg, ok := r.entities[name]
	if !ok {
		return EntityConfig{}, errors.Validationf("unknown entity %q", name)
	}
	return cfg, nil
}

// Names returns the registered collection names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	return names
}

// Builtin returns the entity set used by local development and tests.
func Builtin() *Registry {
	reg, err := New([]EntityConfig{
		{
			Collection:  "users",
			PrimaryKeys: []string{"id"},
			TenantField: "tenantId",
			AllowedRoles: map[Action][]string{
				ActionDelete: {"admin"},
			},
			CreateSchema: Schema{
				"email": {Type: FieldString, Required: true},
				"name":  {Type: FieldString},
			},
			UpdateSchema: Schema{
				"email": {Type: FieldString},
				"name":  {Type: FieldString},
			},
			FilterSchema: Schema{
				"email": {Type: FieldString},
				"name":  {Type: FieldString},
			},
		},
		{
			Collection:  "conversations",
			PrimaryKeys: []string{"id"},
			TenantField: "tenantId",
			CreateSchema: Schema{
				"userId": {Type: FieldString, Required: true},
				"title":  {Type: FieldString},
			},
			UpdateSchema: Schema{
				"title": {Type: FieldString},
			},
			FilterSchema: Schema{
				"userId": {Type: FieldString},
				"title":  {Type: FieldString},
			},
		},
		{
			Collection:  "messages",
			PrimaryKeys: []string{"id"},
			TenantField: "tenantId",
			CreateSchema: Schema{
				"userId":         {Type: FieldString, Required: true},
				"conversationId": {Type: FieldString, Required: true},
				"role":           {Type: FieldString, Required: true},
				"content":        {Type: FieldString, Required: true},
				"embedding":      {Type: FieldVector},
			},
			UpdateSchema: Schema{
				"content":   {Type: FieldString},
				"embedding": {Type: FieldVector},
			},
			FilterSchema: Schema{
				"userId":         {Type: FieldString},
				"conversationId": {Type: FieldString},
				"role":           {Type: FieldString},
			},
			Vector: &VectorSpec{Field: "embedding", Dimensions: 1536},
		},
	})
	if err != nil {
		panic(err)
	}
	return reg
}
