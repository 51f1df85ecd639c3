package backend

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/schemabase/core/access"
	"github.com/relabs-tech/schemabase/core/schema"
	"github.com/relabs-tech/schemabase/core/store"
)

// page sizes of list requests
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// ListKeys selects the optional parts of a list result
type ListKeys struct {
	// PageInfo requests hasPreviousPage and hasNextPage
	PageInfo bool
	// TotalCount requests the number of all matching records, which is an extra query.
	// The count is taken before the per-record get permission, so with mixed
	// rules like ["own", "user"] it may include records the caller does not see.
	TotalCount bool
}

// PageInfo describes the position of a page
type PageInfo struct {
	StartCursor     string `json:"startCursor,omitempty"`
	EndCursor       string `json:"endCursor,omitempty"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
	HasNextPage     bool   `json:"hasNextPage"`
}

// ListResult is one page of a list request
type ListResult struct {
	Items      []*Item  `json:"items"`
	PageInfo   PageInfo `json:"pageInfo"`
	TotalCount *int     `json:"totalCount,omitempty"`
}

// List returns one page of the records matching the request's filter.
//
// Query parameters:
//
//	sort      "field:asc,other:desc", default is newest first. orderBy is an alias.
//	filter    filter mini-language or JSON filter, see parseStringFilter and parseStructuredFilter
//	search    full text search
//	first     page size, default 50, at most 100
//	last      number of records to skip
//	after     cursor, only records after it
//	before    cursor, only records before it
//	populate  ";" separated references to populate
//
// Records the caller may not get are dropped from the page.
func (c *Controller) List(ctx context.Context, req *Request, keys ListKeys) (*ListResult, error) {
	caller, err := c.b.caller(ctx, req)
	if err != nil {
		return nil, ServerError(err)
	}
	query := req.Query
	filter, err := c.parseFilter(query)
	if err != nil {
		return nil, err
	}

	rule := c.config.Permissions.Get
	owner := c.config.OwnerField()
	ownOnly := false
	if rule.IsOnly(access.PermissionOwn) {
		// everybody may list, but only sees what they own
		if !caller.Admin {
			ownOnly = true
			if !caller.IsAuthenticated() || len(owner) == 0 {
				return &ListResult{Items: []*Item{}}, nil
			}
			filter.And = append(filter.And, store.Where(owner, caller.ID))
		}
	} else if !access.HasValidPermission(caller, nil, owner, rule) {
		return nil, Unauthorized()
	}

	order, err := c.parseSort(caller, ownOnly, query)
	if err != nil {
		return nil, err
	}
	limit := DefaultPageSize
	if first, err := strconv.Atoi(strings.TrimSpace(query.Get("first"))); err == nil && first > 0 {
		limit = first
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	fetch := limit
	if keys.PageInfo {
		// one more to learn whether there is a next page
		fetch++
	}
	skip := 0
	if last, err := strconv.Atoi(strings.TrimSpace(query.Get("last"))); err == nil && last > 0 {
		skip = last
	}
	after := c.position(store.DecodeCursor(strings.TrimSpace(query.Get("after"))))
	before := c.position(store.DecodeCursor(strings.TrimSpace(query.Get("before"))))

	rs, err := c.dao.FindAndReturnCursor(ctx, filter, store.FindOptions{
		Sort:   order,
		Limit:  fetch,
		Skip:   skip,
		After:  after,
		Before: before,
	})
	if err != nil {
		return nil, err
	}
	records := rs.Items
	hasNextPage := false
	if keys.PageInfo && len(records) == fetch {
		records = records[:limit]
		hasNextPage = true
	}

	visible := make([]store.Record, 0, len(records))
	for _, record := range records {
		if access.HasValidPermission(caller, record, owner, rule) {
			visible = append(visible, record)
		}
	}

	populate := c.populate(req)
	items := make([]*Item, len(visible))
	g, gctx := errgroup.WithContext(ctx)
	for i, record := range visible {
		g.Go(func() error {
			item, err := c.project(gctx, req, caller, record, populate, 0)
			items[i] = item
			return err
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}

	result := &ListResult{Items: items}
	if n := len(items); n > 0 {
		result.PageInfo.StartCursor = cursor(order, visible[0], items[0])
		result.PageInfo.EndCursor = cursor(order, visible[n-1], items[n-1])
	}
	if keys.PageInfo {
		result.PageInfo.HasPreviousPage = skip > 0 || after != nil
		result.PageInfo.HasNextPage = hasNextPage
	}
	if keys.TotalCount {
		count, err := rs.Count(ctx)
		if err != nil {
			return nil, err
		}
		result.TotalCount = &count
	}
	return result, nil
}

// cursor returns the position of record in order. Only sort keys that are
// part of the caller's projection go into the cursor.
func cursor(order store.Sort, record store.Record, item *Item) string {
	position := map[string]interface{}{}
	for _, key := range order.WithTiebreaker() {
		if _, ok := item.Get(key.Field); ok {
			position[key.Field] = record[key.Field]
		}
	}
	return store.EncodeCursor(position)
}

// position converts the values of a decoded cursor back to the stored types
func (c *Controller) position(decoded map[string]interface{}) map[string]interface{} {
	for field, value := range decoded {
		if p, ok := c.config.Property(field); ok && p.Kind() == schema.KindDateTime {
			if t, ok := parseDateTime(value); ok {
				decoded[field] = t
			}
		}
	}
	return decoded
}
