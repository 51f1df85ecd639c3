package backend

import (
	"context"
	"sort"

	"github.com/relabs-tech/schemabase/core/schema"
	"github.com/relabs-tech/schemabase/core/store"
)

// joinFilter builds the store filter of a join for record. It returns false
// if a placeholder of the query cannot be resolved.
func (c *Controller) joinFilter(ctx context.Context, req *Request, name string, join *schema.JoinProperty, record store.Record) (store.Filter, bool, error) {
	keys := make([]string, 0, len(join.Query))
	for key := range join.Query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	filter := store.Filter{}
	s := c.scope(req, record)
	for _, key := range keys {
		value := join.Query[key]
		if t, ok := c.config.JoinTemplate(name, key); ok {
			resolved, ok, err := t.Evaluate(ctx, s)
			if err != nil || !ok {
				return filter, false, err
			}
			value = resolved
		}
		filter.Conditions = append(filter.Conditions, store.Condition{Field: key, Comparator: store.Equal, Value: value})
	}
	return filter, true, nil
}

// resolveJoin returns the records a join yields for record, together with
// the controller of the joined entity. For findOne joins the list has at most
// one element. Unresolvable placeholders yield no records.
func (c *Controller) resolveJoin(ctx context.Context, req *Request, name string, join *schema.JoinProperty, record store.Record) (*Controller, []store.Record, error) {
	target, err := c.b.Controller(join.Entity)
	if err != nil {
		return nil, nil, err
	}
	filter, ok, err := c.joinFilter(ctx, req, name, join, record)
	if err != nil || !ok {
		return target, nil, err
	}
	switch join.Type {
	case schema.JoinFindOne:
		one, err := target.dao.FindOne(ctx, filter)
		if err != nil || one == nil {
			return target, nil, err
		}
		return target, []store.Record{one}, nil
	case schema.JoinFindMany:
		rs, err := target.dao.FindAndReturnCursor(ctx, filter, store.FindOptions{})
		if err != nil {
			return target, nil, err
		}
		return target, rs.Items, nil
	}
	return target, nil, nil
}
