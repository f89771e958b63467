package graph

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// correctionHintMaxLen bounds the validator-error hint appended on a fill
// retry.
const correctionHintMaxLen = 200

// buildPlainSchema constructs the reduced, plain-fields-only JSON schema
// every LM backend must use for fill.
func buildPlainSchema(spec *NodeSpec) map[string]interface{} {
	props := map[string]interface{}{}
	var required []string
	for _, f := range spec.PlainFields() {
		props[f.Name] = schemaForType(f.Type)
		required = append(required, f.Name)
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// schemaForType maps a Go field type to a JSON Schema fragment. Nested
// structs recurse into their own object schema rather than flattening, so
// a backend's prompt shows the LM the real shape it must fill.
func schemaForType(t reflect.Type) map[string]interface{} {
	switch t.Kind() {
	case reflect.Ptr:
		return schemaForType(t.Elem())
	case reflect.String:
		return map[string]interface{}{"type": "string"}
	case reflect.Bool:
		return map[string]interface{}{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]interface{}{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]interface{}{"type": "number"}
	case reflect.Slice, reflect.Array:
		return map[string]interface{}{"type": "array", "items": schemaForType(t.Elem())}
	case reflect.Struct:
		props := map[string]interface{}{}
		var required []string
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !isExported(f.Name) {
				continue
			}
			props[f.Name] = schemaForType(f.Type)
			required = append(required, f.Name)
		}
		return map[string]interface{}{"type": "object", "properties": props, "required": required}
	default:
		return map[string]interface{}{"type": "string"}
	}
}

// extractTyped avoids a subtle bug a naive validate-then-reserialize
// pipeline invites: decoding into a generic map flattens nested typed
// fields back to primitives. Instead it validates input against a shadow
// struct built from target's real plain-field types via reflect.StructOf
// — so a nested struct field decodes as that struct, not a
// map[string]interface{} — then copies each field onto the destination
// instance attribute-by-attribute, never re-serializing through a generic
// map in between.
func extractTyped(target reflect.Type, spec *NodeSpec, input map[string]interface{}) (any, error) {
	plain := spec.PlainFields()

	shadowFields := make([]reflect.StructField, len(plain))
	for i, f := range plain {
		shadowFields[i] = reflect.StructField{
			Name: f.Name,
			Type: f.Type,
			Tag:  reflect.StructTag(fmt.Sprintf(`json:%q`, f.Name)),
		}
	}
	shadowType := reflect.StructOf(shadowFields)

	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode fill response: %w", err)
	}

	shadow := reflect.New(shadowType)
	if err := json.Unmarshal(raw, shadow.Interface()); err != nil {
		return nil, fmt.Errorf("validate fill response against %s: %w", target, err)
	}
	shadowVal := shadow.Elem()

	dest := reflect.New(target).Elem()
	for i, f := range plain {
		dest.Field(f.Index).Set(shadowVal.Field(i))
	}
	return dest.Interface(), nil
}
