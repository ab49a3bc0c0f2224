package condition

import (
	"reflect"
	"strconv"
	"strings"
)

// Flatten maps every nested value of payload to its dotted path. Objects and
// arrays are kept at their own path too, so "items" and "items.0.sku" both resolve.
// Typed maps with string keys and typed slices are walked like their JSON
// counterparts and stored as map[string]any and []any.
func Flatten(payload map[string]any) map[string]any {
	out := make(map[string]any)

	for key, value := range payload {
		flattenInto(out, key, value)
	}

	return out
}

func flattenInto(out map[string]any, path string, value any) {
	value = generic(value)
	out[path] = value

	switch v := value.(type) {
	case map[string]any:
		for key, nested := range v {
			flattenInto(out, path+"."+key, nested)
		}
	case []any:
		for i, nested := range v {
			flattenInto(out, path+"."+strconv.Itoa(i), nested)
		}
	}
}

// generic converts typed maps and slices to map[string]any and []any.
// []byte and maps with non-string keys are left as they are.
func generic(value any) any {
	switch value.(type) {
	case nil, map[string]any, []any, []byte:
		return value
	}

	rv := reflect.ValueOf(value)

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return value
		}

		out := make(map[string]any, rv.Len())

		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}

		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			out[i] = rv.Index(i).Interface()
		}

		return out
	default:
		return value
	}
}

// FieldInSchema reports whether a dotted field path is declared by a JSON
// schema through its "properties" (objects) and "items" (arrays).
func FieldInSchema(field string, schema map[string]any) bool {
	if schema == nil {
		return false
	}

	current := schema

	for _, segment := range strings.Split(field, ".") {
		if items, ok := current["items"].(map[string]any); ok {
			if _, err := strconv.Atoi(segment); err == nil {
				current = items

				continue
			}
		}

		properties, ok := current["properties"].(map[string]any)
		if !ok {
			return false
		}

		next, ok := properties[segment].(map[string]any)
		if !ok {
			return false
		}

		current = next
	}

	return true
}
