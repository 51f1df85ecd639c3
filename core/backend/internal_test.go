package backend

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/schemabase/core/access"
	"github.com/relabs-tech/schemabase/core/schema"
	"github.com/relabs-tech/schemabase/core/store"
)

func testController(t *testing.T) *Controller {
	e, err := schema.ParseEntity([]byte(`{
		"entity_name": "fruits",
		"permissions": {"get": "anyone"},
		"schema": {"properties": {
			"name": {"type": "string"},
			"color": {"type": "string"},
			"ripe": {"type": "boolean"},
			"weight": {"type": "number"},
			"harvested": {"type": "string", "format": "date-time"},
			"tree": {"$ref": "#entity/tree"}
		}}
	}`))
	require.NoError(t, err)
	require.NoError(t, e.Normalize(DefaultIdentityEntity))
	return &Controller{config: e}
}

func TestParseSort(t *testing.T) {
	c := testController(t)

	order, err := c.parseSort(access.Caller{}, false, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, defaultSort, order)

	order, err = c.parseSort(access.Caller{}, false, url.Values{"sort": {"name:asc, weight"}})
	require.NoError(t, err)
	assert.Equal(t, store.Sort{{Field: "name"}, {Field: "weight", Descending: true}}, order)

	order, err = c.parseSort(access.Caller{}, false, url.Values{"orderBy": {"createdAt:asc"}})
	require.NoError(t, err)
	assert.Equal(t, store.Sort{{Field: "id"}}, order)

	_, err = c.parseSort(access.Caller{}, false, url.Values{"sort": {"price:asc"}})
	assert.Error(t, err)
	_, err = c.parseSort(access.Caller{}, false, url.Values{"sort": {"name:up"}})
	assert.Error(t, err)
}

func TestParseStringFilter(t *testing.T) {
	c := testController(t)

	filter, err := c.parseFilter(url.Values{"filter": {"color:red;ripe:true;weight:1.5"}, "search": {" apple "}})
	require.NoError(t, err)
	assert.Equal(t, store.Filter{
		Conditions: []store.Condition{
			{Field: "color", Comparator: store.Equal, Value: "red"},
			{Field: "ripe", Comparator: store.Equal, Value: true},
			{Field: "weight", Comparator: store.Equal, Value: 1.5},
		},
		Search: "apple",
	}, filter)

	filter, err = c.parseFilter(url.Values{"filter": {"or[color:red;and[color:green;ripe:true]]"}})
	require.NoError(t, err)
	assert.Equal(t, store.Filter{Or: []store.Filter{
		{Conditions: []store.Condition{{Field: "color", Comparator: store.Equal, Value: "red"}}},
		{And: []store.Filter{
			{Conditions: []store.Condition{{Field: "color", Comparator: store.Equal, Value: "green"}}},
			{Conditions: []store.Condition{{Field: "ripe", Comparator: store.Equal, Value: true}}},
		}},
	}}, filter)

	filter, err = c.parseFilter(url.Values{"filter": {"name:a:b"}})
	require.NoError(t, err)
	assert.Equal(t, "a:b", filter.Conditions[0].Value, "values may contain colons")

	filter, err = c.parseFilter(url.Values{"filter": {"harvested:2021-03-04"}})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC), filter.Conditions[0].Value)

	for _, invalid := range []string{"ripe:maybe", "weight:heavy", "tree:nope", "novalue"} {
		_, err = c.parseFilter(url.Values{"filter": {invalid}})
		var e *Error
		require.True(t, errors.As(err, &e), invalid)
		assert.Equal(t, http.StatusBadRequest, e.Status, invalid)
	}
}

func TestParseStructuredFilter(t *testing.T) {
	c := testController(t)

	filter, err := c.parseFilter(url.Values{"filter": {`{
		"weight": {"value": 2, "comparator": ">="},
		"or": [{"color": "red"}, {"color": {"value": "green", "comparator": "!="}}]
	}`}})
	require.NoError(t, err)
	assert.Equal(t, store.Filter{
		Conditions: []store.Condition{{Field: "weight", Comparator: store.GreaterOrEqual, Value: float64(2)}},
		Or: []store.Filter{
			{Conditions: []store.Condition{{Field: "color", Comparator: store.Equal, Value: "red"}}},
			{Conditions: []store.Condition{{Field: "color", Comparator: store.NotEqual, Value: "green"}}},
		},
	}, filter)

	for _, invalid := range []string{`{"weight": {"value": 2, "comparator": "~"}}`, `{"and": {"color": "red"}}`, `{"color": `} {
		_, err = c.parseFilter(url.Values{"filter": {invalid}})
		assert.Error(t, err, invalid)
	}
}

func TestParsePopulate(t *testing.T) {
	assert.Equal(t, Populate{}, ParsePopulate("", 3))
	assert.Equal(t, Populate{"author": {}, "post": {}}, ParsePopulate("author; post;", 3))
	assert.Equal(t, Populate{"post": {"user": {"company": {}}, "topic": {}}},
		ParsePopulate("post.user.company.owner;post.topic", 3))
	assert.Equal(t, Populate{"a": {"b": {"c": {"d": {}}}}}, ParsePopulate("a.b.c.d", 0))
}

func TestParseDateTime(t *testing.T) {
	want := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	for _, value := range []interface{}{
		want,
		float64(want.UnixMilli()),
		want.UnixMilli(),
		"2021-03-04T05:06:07Z",
		"2021-03-04T06:06:07+01:00",
		"2021-03-04T05:06:07",
		"1614834367000",
	} {
		got, ok := parseDateTime(value)
		assert.True(t, ok, "%v", value)
		assert.True(t, want.Equal(got), "%v gives %v", value, got)
	}
	for _, value := range []interface{}{"yesterday", true, nil, map[string]interface{}{}} {
		_, ok := parseDateTime(value)
		assert.False(t, ok, "%v", value)
	}
}

func TestIsFalsy(t *testing.T) {
	for _, value := range []interface{}{nil, false, "", float64(0)} {
		assert.True(t, isFalsy(value), "%v", value)
	}
	for _, value := range []interface{}{true, "0", float64(1), map[string]interface{}{}} {
		assert.False(t, isFalsy(value), "%v", value)
	}
}

func TestSlugValue(t *testing.T) {
	c := testController(t)
	p := &schema.Property{Format: schema.FormatSlug, SetFrom: "name"}

	s, err := c.slugValue(p, map[string]interface{}{"name": " Crème Brûlée!"})
	require.NoError(t, err)
	assert.Equal(t, "creme-brulee", s)

	s, err = c.slugValue(p, map[string]interface{}{})
	require.NoError(t, err)
	assert.Empty(t, s)

	p.Prefix = &schema.SlugAffix{Type: "static", Value: "My Shop"}
	p.Suffix = &schema.SlugAffix{Type: "random", Chars: 6}
	s, err = c.slugValue(p, map[string]interface{}{"name": "Tart"})
	require.NoError(t, err)
	assert.Regexp(t, `^my-shop-tart-[0-9a-f]{6}$`, s)

	p.Suffix = &schema.SlugAffix{Type: "random"}
	s, err = c.slugValue(p, map[string]interface{}{"name": "Tart"})
	require.NoError(t, err)
	assert.Regexp(t, `^my-shop-tart-[0-9a-f]{4}$`, s)
}

func TestHooksOrder(t *testing.T) {
	h := NewHooks()
	var calls []string
	hook := func(name string, err error) Hook {
		return func(ctx context.Context, event *Event) error {
			calls = append(calls, name+":"+event.Entity)
			return err
		}
	}
	h.Handle(AnyEntity, BeforeCreate, hook("any", nil))
	h.Handle("fruits", BeforeCreate, hook("first", nil))
	h.Handle("fruits", BeforeCreate, hook("second", nil))
	h.Handle("fruits", AfterCreate, hook("after", nil))

	require.NoError(t, h.Run(context.Background(), "fruits", BeforeCreate, store.Record{}, nil))
	assert.Equal(t, []string{"first:fruits", "second:fruits", "any:fruits"}, calls)

	calls = nil
	require.NoError(t, h.Run(context.Background(), "trees", BeforeCreate, store.Record{}, nil))
	assert.Equal(t, []string{"any:trees"}, calls)

	calls = nil
	require.NoError(t, h.Run(context.Background(), "trees", BeforeDelete, store.Record{}, nil))
	assert.Empty(t, calls)

	failure := errors.New("failure")
	h.Handle("trees", BeforeCreate, hook("failing", failure))
	calls = nil
	assert.Equal(t, failure, h.Run(context.Background(), "trees", BeforeCreate, store.Record{}, nil))
	assert.Equal(t, []string{"failing:trees"}, calls, "the first error stops the run")
}

func TestErrors(t *testing.T) {
	err := asError(BadRequest("%s is wrong", "x"))
	assert.Equal(t, http.StatusBadRequest, err.Status)
	assert.Equal(t, "x is wrong", err.Error())

	cause := errors.New("database down")
	err = asError(cause)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Equal(t, "internal server error", err.Message)
	assert.True(t, errors.Is(err, cause))

	assert.Equal(t, http.StatusNotFound, NotFound("fruit").Status)
	assert.Equal(t, "no such fruit", NotFound("fruit").Error())
	assert.Equal(t, http.StatusUnauthorized, Unauthorized().Status)
}
