package client

import (
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/schemabase/core/access"
)

func TestClientPaths(t *testing.T) {
	client := NewWithRouter(nil)

	collection := client.Collection("posts")
	assert.Equal(t, "/api/v1/posts", collection.CollectionPath())
	assert.Equal(t, "/api/v1/posts/0190a6f3-9c6e-7c3b-8a5d-3f0e7e1b2c4d", collection.Item("0190a6f3-9c6e-7c3b-8a5d-3f0e7e1b2c4d").Path())
	assert.Equal(t, "/api/v1/posts/a%20b", collection.Item("a b").Path())

	collection = client.Collection("posts").WithFilter("email", "maybe@yes.no").WithParameter("something", "else")
	assert.Equal(t, "/api/v1/posts?filter=email%3Amaybe%40yes.no&something=else", collection.CollectionPath())

	// filter really is a only a shortcut for WithParameter
	collection = client.Collection("posts").WithParameter("filter", "email:maybe@yes.no").WithParameter("something", "else")
	assert.Equal(t, "/api/v1/posts?filter=email%3Amaybe%40yes.no&something=else", collection.CollectionPath())

	combined := client.Collection("posts").WithFilter("a", "1").WithFilter("b", "2")
	assert.Equal(t, "/api/v1/posts?filter=a%3A1%3Bb%3A2", combined.CollectionPath())

	base := client.Collection("posts")
	_ = base.WithParameter("first", "4")
	assert.Equal(t, "/api/v1/posts", base.CollectionPath(), "parameters must not leak into the original collection")

	assert.Equal(t, "/v2/posts", client.WithPrefix("/v2").Collection("posts").CollectionPath())
}

func TestClientIdentity(t *testing.T) {
	client := NewWithRouter(nil)
	assert.Nil(t, access.TokenFromContext(client.Context()))

	token := access.TokenFromContext(client.WithIdentity("someone").Context())
	require.NotNil(t, token)
	assert.Equal(t, "someone", token.ID)
}

func TestClientStatus(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/v1/things", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"item":{"id":"x","name":"` + r.Header.Get("X-Name") + `"}}`))
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/things/{key}", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["key"] == "missing" {
			http.Error(w, "no such thing", http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"item":{"id":"` + mux.Vars(r)["key"] + `"}}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/things/{key}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":true}`))
	}).Methods(http.MethodDelete)

	client := NewWithRouter(router)
	things := client.WithHeader("X-Name", "apple").Collection("things")

	var created ItemResponse
	status, err := things.Create(map[string]interface{}{}, &created)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "apple", created.Item["name"])

	var read ItemResponse
	_, err = things.Item("x").Read(&read)
	require.NoError(t, err)
	assert.Equal(t, "x", read.Item["id"])

	status, err = things.Item("missing").Read(&read)
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, status)

	status, err = things.Item("x").Delete()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	var raw []byte
	_, err = client.RawGet("/api/v1/things/y", &raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"item":{"id":"y"}}`, string(raw))
}
