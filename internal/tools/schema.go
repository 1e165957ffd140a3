package tools

import (
	"encoding/json"
	"reflect"
	"strings"
)

var rawMessageType = reflect.TypeOf(json.RawMessage(nil))

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

type field struct {
	name     string
	required bool
	kind     reflect.Kind
}

// schemaFor builds a JSON schema object for the argument struct T. Field names
// come from the json tag, descriptions from the desc tag; fields without
// omitempty are required.
func schemaFor(t reflect.Type) (json.RawMessage, []field) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	props := map[string]any{}
	required := []string{}
	var fields []field

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, omitempty := jsonName(f)
		if name == "-" {
			continue
		}
		prop := typeSchema(f.Type)
		if desc := f.Tag.Get("desc"); desc != "" {
			prop["description"] = desc
		}
		props[name] = prop
		if !omitempty {
			required = append(required, name)
		}
		kind := f.Type.Kind()
		if kind == reflect.Pointer {
			kind = f.Type.Elem().Kind()
		}
		fields = append(fields, field{name: name, required: !omitempty, kind: kind})
	}

	raw, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	})
	return raw, fields
}

func jsonName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name, false
	}
	parts := strings.Split(tag, ",")
	name := parts[0]
	if name == "" {
		name = f.Name
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			return name, true
		}
	}
	return name, false
}

func typeSchema(t reflect.Type) map[string]any {
	if t == rawMessageType {
		return map[string]any{"type": "object"}
	}
	switch t.Kind() {
	case reflect.Pointer:
		return typeSchema(t.Elem())
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": typeSchema(t.Elem())}
	default:
		return map[string]any{"type": "object"}
	}
}
