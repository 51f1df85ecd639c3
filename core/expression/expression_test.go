package expression

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapResolver(this, user map[string]interface{}) Resolver {
	return ResolverFunc(func(ctx context.Context, path Path) (interface{}, bool, error) {
		root := this
		if path.Root == RootUser {
			root = user
		}
		v, ok := Lookup(root, path.Segments)
		return v, ok, nil
	})
}

func TestParse(t *testing.T) {
	tmpl, err := Parse("{this.firstName} {this.lastName}")
	require.NoError(t, err)
	assert.False(t, tmpl.IsLiteral())
	assert.Equal(t, []Path{
		{Root: RootThis, Segments: []string{"firstName"}},
		{Root: RootThis, Segments: []string{"lastName"}},
	}, tmpl.Paths())

	tmpl, err = Parse("plain text")
	require.NoError(t, err)
	assert.True(t, tmpl.IsLiteral())

	for _, bad := range []string{"{this.name", "{this}", "{other.name}", "{this.na me}", "{this..name}"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrSyntax, bad)
	}
}

func TestEvaluate(t *testing.T) {
	this := map[string]interface{}{
		"firstName": "Ada",
		"lastName":  "Lovelace",
		"age":       float64(36),
		"address":   map[string]interface{}{"city": "London"},
	}
	user := map[string]interface{}{"email": "ada@example.com"}
	r := mapResolver(this, user)
	ctx := context.Background()

	tests := []struct {
		template string
		want     interface{}
		ok       bool
	}{
		{"{this.firstName} {this.lastName}", "Ada Lovelace", true},
		{"{this.age}", float64(36), true},
		{"age: {this.age}", "age: 36", true},
		{"{this.address.city}", "London", true},
		{"{user.email}", "ada@example.com", true},
		{"{this.missing}", nil, false},
		{"{this.address.missing.deeper}", nil, false},
		{"{this.firstName} {this.missing}", nil, false},
		{"constant", "constant", true},
	}
	for _, tt := range tests {
		tmpl, err := Parse(tt.template)
		require.NoError(t, err)
		got, ok, err := tmpl.Evaluate(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, tt.ok, ok, tt.template)
		assert.Equal(t, tt.want, got, tt.template)
	}
}

func TestEvaluateDoesNotModifyRecord(t *testing.T) {
	this := map[string]interface{}{"name": "x"}
	tmpl, err := Parse("{this.name}-{this.name}")
	require.NoError(t, err)
	_, _, err = tmpl.Evaluate(context.Background(), mapResolver(this, nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"name": "x"}, this)
}

func TestEvaluateResolverError(t *testing.T) {
	boom := errors.New("boom")
	tmpl, err := Parse("{user.name}")
	require.NoError(t, err)
	_, ok, err := tmpl.Evaluate(context.Background(), ResolverFunc(func(ctx context.Context, path Path) (interface{}, bool, error) {
		return nil, false, boom
	}))
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}
