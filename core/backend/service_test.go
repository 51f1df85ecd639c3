package backend_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/schemabase/core/backend"
	"github.com/relabs-tech/schemabase/core/client"
	"github.com/relabs-tech/schemabase/core/schema"
	"github.com/relabs-tech/schemabase/core/store"
)

const usersConfig = `{
	"entity_name": "users",
	"permissions": {
		"get": "anyone", "create": "anyone", "update": "own", "delete": "own",
		"properties": {
			"email": {"get": "own"},
			"password": {"get": "system"},
			"admin": {"create": "system", "update": "system"}
		}
	},
	"schema": {
		"required": ["username"],
		"properties": {
			"username": {"type": "string", "unique": true},
			"email": {"type": "string", "format": "email"},
			"password": {"type": "string", "format": "hash"},
			"admin": {"type": "boolean"}
		}
	}
}`

const postsConfig = `{
	"entity_name": "posts",
	"permissions": {
		"get": "anyone", "create": "user", "update": "own", "delete": "own",
		"properties": {"secret": {"get": "system"}}
	},
	"schema": {
		"required": ["title"],
		"properties": {
			"title": {"type": "string", "maxLength": 80},
			"user": {"$ref": "#user"},
			"published": {"type": "boolean", "default": false},
			"views": {"type": "number"},
			"secret": {"type": "string"},
			"slug": {"type": "string", "format": "slug", "set_from": "title"},
			"summary": {"type": "string", "format": "eval:{this.title} by {user.username}"}
		}
	},
	"join_properties": {
		"comments": {"type": "findMany", "entity": "comments", "query": {"post": "{this.id}"}}
	}
}`

const commentsConfig = `{
	"entity_name": "comments",
	"permissions": {"get": "anyone", "create": "user", "update": "own", "delete": "own"},
	"schema": {
		"required": ["text", "post"],
		"properties": {
			"text": {"type": "string"},
			"post": {"$ref": "#entity/post"},
			"user": {"$ref": "#user"}
		}
	},
	"join_properties": {
		"postAuthor": {"type": "findOne", "entity": "users", "query": {"id": "{this.post.user}"}}
	}
}`

const notesConfig = `{
	"entity_name": "notes",
	"permissions": {"get": "own", "create": "user", "update": "own", "delete": "own"},
	"schema": {
		"properties": {
			"text": {"type": "string"},
			"user": {"$ref": "#user"}
		}
	}
}`

type testService struct {
	backend *backend.Backend
	router  *mux.Router
	// client is anonymous
	client client.Client
}

// newTestService creates an in-memory backend with the users, posts,
// comments and notes entities plus the given configurations
func newTestService(t *testing.T, configs ...string) *testService {
	t.Helper()
	var entities []*schema.Entity
	for _, config := range append([]string{usersConfig, postsConfig, commentsConfig, notesConfig}, configs...) {
		e, err := schema.ParseEntity([]byte(config))
		require.NoError(t, err)
		entities = append(entities, e)
	}
	router := mux.NewRouter()
	b := backend.New(&backend.Builder{
		Router:   router,
		Entities: entities,
	})
	return &testService{backend: b, router: router, client: client.NewWithRouter(router)}
}

// as returns a client for the caller with identity id
func (s *testService) as(id string) client.Client {
	return client.NewWithRouter(s.router).WithIdentity(id)
}

// dao returns the data access object of entity
func (s *testService) dao(t *testing.T, entity string) store.DAO {
	entry, err := s.backend.Registry().Get(entity)
	require.NoError(t, err)
	return entry.DAO
}

// createUser creates a user through the store, so that admins can be created too
func (s *testService) createUser(t *testing.T, username string, admin bool) string {
	t.Helper()
	record, err := s.dao(t, "users").InsertOne(context.Background(), store.Record{"username": username, "admin": admin})
	require.NoError(t, err)
	return record.ID()
}

// createPost creates a post as caller and returns the item
func (s *testService) createPost(t *testing.T, caller string, post map[string]interface{}) map[string]interface{} {
	t.Helper()
	var response client.ItemResponse
	status, err := s.as(caller).Collection("posts").Create(post, &response)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, status)
	return response.Item
}

