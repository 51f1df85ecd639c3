package backend

import (
	"context"
	"strings"

	"github.com/relabs-tech/schemabase/core/access"
	"github.com/relabs-tech/schemabase/core/schema"
	"github.com/relabs-tech/schemabase/core/store"
)

// Populate is the set of reference fields to populate. Every entry holds the
// populate set for the referenced record, which is empty unless nested
// population was requested.
type Populate map[string]Populate

// ParsePopulate parses a ";" separated list of reference fields. A dotted
// entry like "author.company" also populates the references of the referenced
// record. Entries are cut off after depth levels if depth is positive.
func ParsePopulate(s string, depth int) Populate {
	populate := Populate{}
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if len(entry) == 0 {
			continue
		}
		segments := strings.Split(entry, ".")
		if depth > 0 && len(segments) > depth {
			segments = segments[:depth]
		}
		node := populate
		for _, segment := range segments {
			next, ok := node[segment]
			if !ok {
				next = Populate{}
				node[segment] = next
			}
			node = next
		}
	}
	return populate
}

// project builds the response for record as seen by caller. Fields the caller
// may not get are omitted. Depth is the nesting level of the record within
// the response, joins are not resolved beyond the backend's maximum
// projection depth.
func (c *Controller) project(ctx context.Context, req *Request, caller access.Caller, record store.Record, populate Populate, depth int) (*Item, error) {
	item := &Item{}
	owner := c.config.OwnerField()
	props := &c.config.Schema.Properties
	for _, key := range props.Keys() {
		p, _ := props.Get(key)
		if !access.HasValidPermission(caller, record, owner, c.config.PropertyPermissions(key).Get) {
			continue
		}
		value := record[key]
		switch p.Kind() {
		case schema.KindEntityRef, schema.KindUserRef:
			id, _ := value.(string)
			if len(id) == 0 {
				continue
			}
			nested, ok := populate[key]
			if !ok {
				item.Set(key, stub(id))
				continue
			}
			target, err := c.b.referenceTarget(p)
			if err != nil {
				return nil, ServerError(err)
			}
			referenced, err := target.dao.FindOneByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if referenced == nil {
				item.Set(key, stub(id))
				continue
			}
			projected, err := target.project(ctx, req, caller, referenced, nested, depth+1)
			if err != nil {
				return nil, err
			}
			item.Set(key, projected)
		case schema.KindScalar, schema.KindObject, schema.KindArray, schema.KindID, schema.KindHash, schema.KindEval, schema.KindSlug, schema.KindDateTime:
			if value == nil {
				value = p.Default
			}
			if value == nil {
				continue
			}
			item.Set(key, value)
		default:
			schema.Unreachable(p.Kind())
		}
	}

	if depth >= c.b.maxProjectionDepth {
		return item, nil
	}
	for _, name := range c.config.Joins.Keys() {
		join, _ := c.config.Joins.Get(name)
		if !access.HasValidPermission(caller, record, owner, c.config.JoinPermissions(join).Get) {
			continue
		}
		target, records, err := c.resolveJoin(ctx, req, name, join, record)
		if err != nil {
			return nil, ServerError(err)
		}
		switch join.Type {
		case schema.JoinFindOne:
			if len(records) == 0 {
				continue
			}
			projected, err := target.project(ctx, req, caller, records[0], nil, depth+1)
			if err != nil {
				return nil, err
			}
			item.Set(name, projected)
		case schema.JoinFindMany:
			list := make([]*Item, 0, len(records))
			for _, r := range records {
				projected, err := target.project(ctx, req, caller, r, nil, depth+1)
				if err != nil {
					return nil, err
				}
				list = append(list, projected)
			}
			item.Set(name, list)
		}
	}
	return item, nil
}
