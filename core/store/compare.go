package store

import (
	"reflect"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// type ranks, values of different rank order by rank. The order is the one
// of postgres jsonb, times are stored as strings there.
const (
	rankNull = iota
	rankString
	rankTime
	rankNumber
	rankBool
	rankArray
	rankObject
)

func rank(v interface{}) int {
	switch v.(type) {
	case nil:
		return rankNull
	case float64, float32, int, int32, int64:
		return rankNumber
	case string:
		return rankString
	case map[string]interface{}, Record:
		return rankObject
	case []interface{}:
		return rankArray
	case bool:
		return rankBool
	case time.Time:
		return rankTime
	}
	return rankObject
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// normalizeTimes turns a string into a time if the other value is a time, as
// cursors carry times as strings.
func normalizeTimes(a, b interface{}) (interface{}, interface{}) {
	if _, ok := a.(time.Time); ok {
		if s, ok := b.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return a, t
			}
		}
	}
	if _, ok := b.(time.Time); ok {
		if s, ok := a.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t, b
			}
		}
	}
	return a, b
}

// Compare compares two stored values and returns -1, 0 or 1. Values of
// different types order by type: null, strings, times, numbers, booleans,
// arrays, objects.
func Compare(a, b interface{}) int {
	a, b = normalizeTimes(a, b)
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankNull:
		return 0
	case rankNumber:
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case rankTime:
		return a.(time.Time).Compare(b.(time.Time))
	}
	if reflect.DeepEqual(a, b) {
		return 0
	}
	// objects and arrays order by their JSON text, map keys are sorted when encoding
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return strings.Compare(string(ja), string(jb))
}

// comparePosition compares record with a cursor position under sort
func comparePosition(record Record, position map[string]interface{}, sort Sort) int {
	for _, key := range sort {
		c := Compare(record[key.Field], position[key.Field])
		if key.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func matches(record Record, filter Filter) bool {
	for _, c := range filter.Conditions {
		if !matchCondition(record, c) {
			return false
		}
	}
	for _, f := range filter.And {
		if !matches(record, f) {
			return false
		}
	}
	if len(filter.Or) > 0 {
		found := false
		for _, f := range filter.Or {
			if matches(record, f) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.Search) > 0 && !containsText(map[string]interface{}(record), strings.ToLower(filter.Search)) {
		return false
	}
	return true
}

func equalValues(stored, value interface{}) bool {
	if list, ok := stored.([]interface{}); ok {
		if _, isList := value.([]interface{}); !isList {
			for _, element := range list {
				if equalValues(element, value) {
					return true
				}
			}
			return false
		}
	}
	return Compare(stored, value) == 0
}

func matchCondition(record Record, c Condition) bool {
	stored, ok := record[c.Field]
	switch c.Comparator {
	case Equal:
		if c.Value == nil {
			return !ok || stored == nil
		}
		return ok && equalValues(stored, c.Value)
	case NotEqual:
		if c.Value == nil {
			return ok && stored != nil
		}
		return !ok || !equalValues(stored, c.Value)
	}
	if !ok || stored == nil || c.Value == nil {
		return false
	}
	a, b := normalizeTimes(stored, c.Value)
	if rank(a) != rank(b) {
		return false
	}
	cmp := Compare(a, b)
	switch c.Comparator {
	case Less:
		return cmp < 0
	case LessOrEqual:
		return cmp <= 0
	case Greater:
		return cmp > 0
	case GreaterOrEqual:
		return cmp >= 0
	}
	return false
}

func containsText(value interface{}, text string) bool {
	switch v := value.(type) {
	case string:
		return strings.Contains(strings.ToLower(v), text)
	case map[string]interface{}:
		for key, child := range v {
			if key == "id" {
				continue
			}
			if containsText(child, text) {
				return true
			}
		}
	case []interface{}:
		for _, child := range v {
			if containsText(child, text) {
				return true
			}
		}
	}
	return false
}
