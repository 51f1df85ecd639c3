package schema

import (
	"strconv"
)

// CoerceScalars converts string values of scalar properties to the declared
// scalar type, and numbers or booleans to strings where a string is declared,
// so that query-string style input passes validation. Values that cannot be
// converted are left alone for the validator to report. The document is
// modified in place.
func CoerceScalars(props *Properties, document map[string]interface{}) {
	for _, key := range props.Keys() {
		value, ok := document[key]
		if !ok || value == nil {
			continue
		}
		p, _ := props.Get(key)
		document[key] = coerceValue(p, value)
	}
}

func coerceValue(p *Property, value interface{}) interface{} {
	switch p.Kind() {
	case KindObject:
		if m, ok := value.(map[string]interface{}); ok {
			CoerceScalars(p.Properties, m)
		}
		return value
	case KindArray:
		if list, ok := value.([]interface{}); ok && p.Items != nil {
			for i := range list {
				list[i] = coerceValue(p.Items, list[i])
			}
		}
		return value
	case KindScalar:
		return coerceScalar(p.Type, value)
	case KindID, KindEntityRef, KindUserRef, KindHash, KindEval, KindSlug, KindDateTime:
		return value
	default:
		Unreachable(p.Kind())
	}
	return value
}

func coerceScalar(typ string, value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		switch typ {
		case "number":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		case "integer":
			if i, err := strconv.ParseInt(v, 10, 64); err == nil {
				return float64(i)
			}
		case "boolean":
			switch v {
			case "true":
				return true
			case "false":
				return false
			}
		}
	case float64:
		if typ == "string" {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	case bool:
		if typ == "string" {
			return strconv.FormatBool(v)
		}
	}
	return value
}
