package backend

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/schemabase/core/access"
	"github.com/relabs-tech/schemabase/core/schema"
	"github.com/relabs-tech/schemabase/core/store"
)

// defaultSort is newest first
var defaultSort = store.Sort{{Field: schema.FieldID, Descending: true}}

// parseSort parses the sort order of a list request: "field:asc,other:desc".
// Keys without a direction sort descending. Because identities are time
// ordered, sorting by creation time sorts by identity.
//
// The caller must be allowed to get every sort key, otherwise the key could
// neither go into cursors nor stay hidden. With ownOnly all listed records
// belong to the caller.
func (c *Controller) parseSort(caller access.Caller, ownOnly bool, query url.Values) (store.Sort, error) {
	s := query.Get("sort")
	if len(s) == 0 {
		s = query.Get("orderBy")
	}
	if len(s) == 0 {
		s = query.Get("orderby")
	}
	if len(strings.TrimSpace(s)) == 0 {
		return defaultSort, nil
	}
	owner := c.config.OwnerField()
	var owned store.Record
	if ownOnly && len(owner) > 0 {
		owned = store.Record{owner: caller.ID}
	}
	var order store.Sort
	seen := map[string]bool{}
	for _, key := range strings.Split(s, ",") {
		field, direction, _ := strings.Cut(strings.TrimSpace(key), ":")
		field = strings.TrimSpace(field)
		if len(field) == 0 {
			continue
		}
		if field == schema.FieldCreatedAt {
			field = schema.FieldID
		}
		if _, ok := c.config.Property(field); !ok {
			return nil, BadRequest("cannot sort by %s", field)
		}
		if !access.HasValidPermission(caller, owned, owner, c.config.PropertyPermissions(field).Get) {
			return nil, BadRequest("cannot sort by %s", field)
		}
		direction = strings.ToLower(strings.TrimSpace(direction))
		if direction != "" && direction != "asc" && direction != "desc" {
			return nil, BadRequest("invalid sort direction %s for %s", direction, field)
		}
		if seen[field] {
			continue
		}
		seen[field] = true
		order = append(order, store.SortKey{Field: field, Descending: direction != "asc"})
	}
	if len(order) == 0 {
		return defaultSort, nil
	}
	return order, nil
}

var conditionalFilter = regexp.MustCompile(`(?is)^(and|or)\[(.*)\]$`)

// parseFilter parses the "filter" and "search" parameters of a list request
func (c *Controller) parseFilter(query url.Values) (store.Filter, error) {
	filter := store.Filter{}
	if s := strings.TrimSpace(query.Get("filter")); len(s) > 0 {
		var err error
		if strings.HasPrefix(s, "{") {
			var structured map[string]interface{}
			if err = json.Unmarshal([]byte(s), &structured); err != nil {
				return filter, BadRequest("filter is not a valid JSON object")
			}
			filter, err = c.parseStructuredFilter(structured)
		} else {
			filter, err = c.parseStringFilter(s)
		}
		if err != nil {
			return filter, err
		}
	}
	filter.Search = strings.TrimSpace(query.Get("search"))
	return filter, nil
}

// parseStringFilter parses the filter mini-language. A filter is a ";"
// separated list of "field:value" conditions which all must match, or
// "and[...]" and "or[...]" around a ";" separated list of filters.
//
// Example: or[color:red;and[color:green;ripe:true]]
func (c *Controller) parseStringFilter(s string) (store.Filter, error) {
	filter := store.Filter{}
	s = strings.TrimSpace(s)
	if match := conditionalFilter.FindStringSubmatch(s); match != nil {
		var filters []store.Filter
		for _, part := range splitTopLevel(strings.TrimSpace(match[2])) {
			f, err := c.parseStringFilter(part)
			if err != nil {
				return filter, err
			}
			filters = append(filters, f)
		}
		if strings.ToLower(match[1]) == "and" {
			filter.And = filters
		} else {
			filter.Or = filters
		}
		return filter, nil
	}
	for _, keyValue := range strings.Split(s, ";") {
		if len(strings.TrimSpace(keyValue)) == 0 {
			continue
		}
		field, raw, ok := strings.Cut(keyValue, ":")
		field = strings.TrimSpace(field)
		if !ok || len(field) == 0 {
			return filter, BadRequest("invalid filter condition %s", keyValue)
		}
		value, err := c.filterValue(field, raw)
		if err != nil {
			return filter, err
		}
		filter.Conditions = append(filter.Conditions, store.Condition{Field: field, Comparator: store.Equal, Value: value})
	}
	return filter, nil
}

// splitTopLevel splits s at semicolons outside of brackets
func splitTopLevel(s string) []string {
	var (
		parts []string
		level int
		start int
	)
	for i, r := range s {
		switch r {
		case '[':
			level++
		case ']':
			level--
		case ';':
			if level == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// parseStructuredFilter parses a JSON filter:
//
//	{"and": [filter, ...], "or": [filter, ...], "field": {"value": v, "comparator": ">="}}
//
// The comparator defaults to "=".
func (c *Controller) parseStructuredFilter(m map[string]interface{}) (store.Filter, error) {
	filter := store.Filter{}
	fields := make([]string, 0, len(m))
	for field := range m {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		raw := m[field]
		if field == "and" || field == "or" {
			list, ok := raw.([]interface{})
			if !ok {
				return filter, BadRequest("filter %s must be a list", field)
			}
			var filters []store.Filter
			for _, element := range list {
				sub, ok := element.(map[string]interface{})
				if !ok {
					return filter, BadRequest("filter %s must be a list of objects", field)
				}
				f, err := c.parseStructuredFilter(sub)
				if err != nil {
					return filter, err
				}
				filters = append(filters, f)
			}
			if field == "and" {
				filter.And = append(filter.And, filters...)
			} else {
				filter.Or = append(filter.Or, filters...)
			}
			continue
		}
		comparator := store.Equal
		value := raw
		if query, ok := raw.(map[string]interface{}); ok {
			value = query["value"]
			if s, ok := query["comparator"].(string); ok && len(s) > 0 {
				comparator = store.Comparator(s)
			}
		}
		if !comparator.Valid() {
			return filter, BadRequest("invalid comparator %s for %s", comparator, field)
		}
		coerced, err := c.filterValue(field, value)
		if err != nil {
			return filter, err
		}
		filter.Conditions = append(filter.Conditions, store.Condition{Field: field, Comparator: comparator, Value: coerced})
	}
	return filter, nil
}

// filterValue converts a filter value to the type of field. Values of
// undeclared fields are used as they are.
func (c *Controller) filterValue(field string, raw interface{}) (interface{}, error) {
	p, ok := c.config.Property(field)
	if !ok || raw == nil {
		return raw, nil
	}
	s, isString := raw.(string)
	if isString {
		s = strings.TrimSpace(s)
	}
	switch p.Kind() {
	case schema.KindScalar:
		if !isString {
			return raw, nil
		}
		switch p.Type {
		case "boolean":
			b, err := strconv.ParseBool(s)
			if err != nil {
				return nil, BadRequest("%s is not a valid boolean", field)
			}
			return b, nil
		case "number", "integer":
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, BadRequest("%s is not a valid number", field)
			}
			return f, nil
		}
		return s, nil
	case schema.KindID, schema.KindEntityRef, schema.KindUserRef:
		return coerceID(field, raw)
	case schema.KindDateTime:
		t, ok := parseDateTime(raw)
		if !ok {
			return nil, BadRequest("%s is not a valid date-time", field)
		}
		return t, nil
	case schema.KindObject, schema.KindArray, schema.KindHash, schema.KindEval, schema.KindSlug:
		if isString {
			return s, nil
		}
		return raw, nil
	default:
		schema.Unreachable(p.Kind())
	}
	return raw, nil
}
