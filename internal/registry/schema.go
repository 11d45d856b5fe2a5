package registry

import (
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/entity_gateway/internal/errors"
)

// ValidateCreate checks a create payload against the entity's create schema:
// required fields must be present, declared types must match, and unknown
// top-level fields are rejected. The tenant field and primary key fields are
// implicitly accepted (the tenant value is server-assigned downstream).
func (c EntityConfig) ValidateCreate(body []byte) error {
	return c.validatePayload(c.CreateSchema, body, true)
}

// ValidateUpdate checks a partial update payload: at least one field, known
// fields only, declared types must match. Required flags are not enforced on
// updates.
func (c EntityConfig) ValidateUpdate(body []byte) error {
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return errors.Validation("update payload must be a JSON object")
	}
	if len(parsed.Map()) == 0 {
		return errors.Validation("update payload must not be empty")
	}
	return c.validatePayload(c.UpdateSchema, body, false)
}

// ValidateFilter checks that every filter key is declared in the entity's
// filter schema.
func (c EntityConfig) ValidateFilter(filter map[string]string) error {
	violations := map[string]interface{}{}
	for key := range filter {
		if _, ok := c.FilterSchema[key]; !ok {
			violations[key] = "filter field not accepted for this entity"
		}
	}
	if len(violations) > 0 {
		return errors.Validation("invalid query filter").WithDetails("fields", violations)
	}
	return nil
}

func (c EntityConfig) validatePayload(schema Schema, body []byte, enforceRequired bool) error {
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return errors.Validation("payload must be a JSON object")
	}

	violations := map[string]interface{}{}

	parsed.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		spec, ok := schema[name]
		if !ok {
			if c.isImplicitField(name) {
				return true
			}
			violations[name] = "unknown field"
			return true
		}
		if value.Type == gjson.Null {
			return true
		}
		if !matchesType(spec.Type, value) {
			violations[name] = "expected " + string(spec.Type)
		}
		return true
	})

	if enforceRequired {
		for name, spec := range schema {
			if spec.Required && !parsed.Get(name).Exists() {
				violations[name] = "required field missing"
			}
		}
	}

	if len(violations) > 0 {
		return errors.Validation("schema validation failed").WithDetails("fields", violations)
	}
	return nil
}

// isImplicitField reports fields every payload may carry regardless of
// schema: the primary keys and the tenant field.
func (c EntityConfig) isImplicitField(name string) bool {
	if name == c.TenantField && c.TenantField != "" {
		return true
	}
	for _, pk := range c.PrimaryKeys {
		if name == pk {
			return true
		}
	}
	return false
}

func matchesType(ft FieldType, value gjson.Result) bool {
	switch ft {
	case FieldString:
		return value.Type == gjson.String
	case FieldNumber:
		return value.Type == gjson.Number
	case FieldBool:
		return value.Type == gjson.True || value.Type == gjson.False
	case FieldObject:
		return value.IsObject()
	case FieldArray:
		return value.IsArray()
	case FieldVector:
		if !value.IsArray() {
			return false
		}
		ok := true
		value.ForEach(func(_, elem gjson.Result) bool {
			if elem.Type != gjson.Number {
				ok = false
				return false
			}
			return true
		})
		return ok
	default:
		return false
	}
}
