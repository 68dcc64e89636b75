package transform

import (
	"encoding/json"
	"reflect"
)

// Equivalent reports whether a and b hold the same value once nil and the
// empty string are both treated as absent. Lists and objects compare
// structurally. Numbers compare by value whatever their Go type, so 5 and
// 5.0 are equivalent while 5 and "5" are not.
func Equivalent(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	switch {
	case isList(av) && isList(bv):
		if av.Len() != bv.Len() {
			return false
		}
		for i := 0; i < av.Len(); i++ {
			if !Equivalent(av.Index(i).Interface(), bv.Index(i).Interface()) {
				return false
			}
		}
		return true
	case isObject(av) && isObject(bv):
		keys := make(map[string]bool)
		for _, k := range av.MapKeys() {
			keys[k.String()] = true
		}
		for _, k := range bv.MapKeys() {
			keys[k.String()] = true
		}
		for k := range keys {
			if !Equivalent(mapValue(av, k), mapValue(bv, k)) {
				return false
			}
		}
		return true
	case isList(av) || isList(bv) || isObject(av) || isObject(bv):
		return false
	}

	an, aok := number(a)
	bn, bok := number(b)
	if aok || bok {
		return aok && bok && an == bn
	}
	return reflect.DeepEqual(a, b)
}

func normalize(v any) any {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
	}
	return v
}

func isList(v reflect.Value) bool {
	return v.Kind() == reflect.Slice || v.Kind() == reflect.Array
}

func isObject(v reflect.Value) bool {
	return v.Kind() == reflect.Map && v.Type().Key().Kind() == reflect.String
}

func mapValue(m reflect.Value, key string) any {
	v := m.MapIndex(reflect.ValueOf(key).Convert(m.Type().Key()))
	if !v.IsValid() {
		return nil
	}
	return v.Interface()
}

// number reports v as a float64 when it is any Go or JSON numeric type.
func number(v any) (float64, bool) {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}
