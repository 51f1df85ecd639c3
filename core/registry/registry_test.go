package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/schemabase/core/schema"
	"github.com/relabs-tech/schemabase/core/store"
)

func normalized(t *testing.T, config string) *schema.Entity {
	e, err := schema.ParseEntity([]byte(config))
	require.NoError(t, err)
	require.NoError(t, e.Normalize("users"))
	return e
}

func TestRegistry(t *testing.T) {
	r := New()
	posts := normalized(t, `{"entity_name": "posts", "schema": {"properties": {"title": {"type": "string"}}}}`)
	users := normalized(t, `{"entity_name": "users", "schema": {"properties": {"name": {"type": "string"}}}}`)

	_, err := r.Get("posts")
	assert.True(t, errors.Is(err, ErrNotRegistered))

	r.Register(posts, store.NewMemory())
	r.Register(users, store.NewMemory())

	entry, err := r.Get("posts")
	require.NoError(t, err)
	assert.Equal(t, posts, entry.Config)

	name, err := r.PluralName("user")
	require.NoError(t, err)
	assert.Equal(t, "users", name)
	_, err = r.PluralName("comment")
	assert.True(t, errors.Is(err, ErrNotRegistered))

	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "posts", entries[0].Config.Name)
	assert.Equal(t, "users", entries[1].Config.Name)

	// last writer wins
	other := store.NewMemory()
	r.Register(posts, other)
	entry, err = r.Get("posts")
	require.NoError(t, err)
	assert.Same(t, other, entry.DAO)

	r.Reset()
	assert.Empty(t, r.Entries())
	_, err = r.PluralName("user")
	assert.Error(t, err)

	require.NoError(t, r.Init([]*Entry{{Config: users, DAO: store.NewMemory()}}))
	_, err = r.Get("users")
	assert.NoError(t, err)
	_, err = r.Get("posts")
	assert.Error(t, err)

	assert.Error(t, r.Init([]*Entry{{Config: users}}))
}
