package transport

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// EncodeConfig JSON-encodes v into a string. A map or slice that was already
// visited is dropped: omitted from objects and written as null in arrays. This
// keeps cyclic or shared graphs encodable.
func EncodeConfig(v any) (string, error) {
	seen := make(map[uintptr]bool)
	clean, _ := sanitize(reflect.ValueOf(v), seen)
	data, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(data), nil
}

// sanitize returns a cycle-free copy of v. ok is false when v is a repeated reference.
func sanitize(v reflect.Value, seen map[uintptr]bool) (out any, ok bool) {
	if !v.IsValid() {
		return nil, true
	}
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil, true
		}
		return sanitize(v.Elem(), seen)
	case reflect.Pointer:
		if v.IsNil() {
			return nil, true
		}
		p := v.Pointer()
		if seen[p] {
			return nil, false
		}
		seen[p] = true
		return sanitize(v.Elem(), seen)
	case reflect.Map:
		if v.IsNil() {
			return nil, true
		}
		p := v.Pointer()
		if seen[p] {
			return nil, false
		}
		seen[p] = true
		obj := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			val, keep := sanitize(iter.Value(), seen)
			if !keep {
				continue
			}
			obj[mapKey(iter.Key())] = val
		}
		return obj, true
	case reflect.Slice:
		if v.IsNil() {
			return nil, true
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Interface(), true
		}
		if v.Len() > 0 {
			p := v.Pointer()
			if seen[p] {
				return nil, false
			}
			seen[p] = true
		}
		return sanitizeList(v, seen), true
	case reflect.Array:
		return sanitizeList(v, seen), true
	default:
		return v.Interface(), true
	}
}

func sanitizeList(v reflect.Value, seen map[uintptr]bool) []any {
	list := make([]any, v.Len())
	for i := range v.Len() {
		val, keep := sanitize(v.Index(i), seen)
		if keep {
			list[i] = val
		}
	}
	return list
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}
