// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to a REST api

Instead of marshalling HTTP, the client talks directly to the mux router. The client
is the tool of choice if one request handler needs to call other handlers to fulfill
its task. It is also perfectly suited for unit tests.

The same client also talks to a remote backend, see NewWithURL.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/schemabase/core/access"
)

// DefaultPrefix is the route prefix of the backend's entity API
const DefaultPrefix = "/api/v1"

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	prefix     string
	token      string
	identity   string
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithIdentity() adds a caller identity to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		prefix:         DefaultPrefix,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            strings.TrimSuffix(url, "/"),
		prefix:         DefaultPrefix,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := make(map[string]string, len(c.defaultHeaders)+1)
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	headers[key] = value
	c.defaultHeaders = headers
	return c
}

// WithPrefix returns a new client for a backend with a different route prefix
func (c Client) WithPrefix(prefix string) Client {
	c.prefix = prefix
	return c
}

// WithToken returns a new client which sends token as bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithIdentity returns a new client which makes requests as the caller with
// the given identity, as if the identity had been verified from a token.
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithIdentity(identity string) Client {
	c.identity = identity
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the context requests are made with
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if len(c.identity) > 0 {
		ctx = access.ContextWithToken(ctx, &access.Token{ID: c.identity})
	}
	return ctx
}

// Collection represents the records of one entity
type Collection struct {
	client     Client
	entity     string
	parameters url.Values
}

// Collection returns a new collection client for entity
func (c Client) Collection(entity string) Collection {
	return Collection{client: c, entity: entity, parameters: url.Values{}}
}

func (r Collection) withParameters(set func(url.Values)) Collection {
	parameters := url.Values{}
	for key, values := range r.parameters {
		parameters[key] = append([]string{}, values...)
	}
	set(parameters)
	r.parameters = parameters
	return r
}

// WithParameter returns a new collection client with a URL parameter added.
func (r Collection) WithParameter(key string, value string) Collection {
	return r.withParameters(func(p url.Values) { p.Set(key, value) })
}

// WithParameters returns a new collection client with all URL parameters added.
func (r Collection) WithParameters(keyValues map[string]string) Collection {
	return r.withParameters(func(p url.Values) {
		for key, value := range keyValues {
			p.Set(key, value)
		}
	})
}

// WithFilter returns a new collection client with a URL filter parameter added.
// This is a shortcut for WithParameter("filter", key+":"+value). Several
// filters are combined, all of them must match.
func (r Collection) WithFilter(key string, value string) Collection {
	return r.withParameters(func(p url.Values) {
		condition := key + ":" + value
		if existing := p.Get("filter"); len(existing) > 0 {
			condition = existing + ";" + condition
		}
		p.Set("filter", condition)
	})
}

// WithPopulate returns a new collection client which populates the references fields
func (r Collection) WithPopulate(fields ...string) Collection {
	return r.WithParameter("populate", strings.Join(fields, ";"))
}

// CollectionPath returns the created path for the collection plus optional query strings
func (r Collection) CollectionPath() string {
	path := r.client.prefix + "/" + r.entity
	if len(r.parameters) > 0 {
		path += "?" + r.parameters.Encode()
	}
	return path
}

// ItemResponse is the response for a single record
type ItemResponse struct {
	Item map[string]interface{} `json:"item"`
}

// PageInfo is the position of a page
type PageInfo struct {
	StartCursor     string `json:"startCursor,omitempty"`
	EndCursor       string `json:"endCursor,omitempty"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
	HasNextPage     bool   `json:"hasNextPage"`
}

// ListResponse is the response for a list request
type ListResponse struct {
	Items      []map[string]interface{} `json:"items"`
	PageInfo   PageInfo                 `json:"pageInfo"`
	TotalCount *int                     `json:"totalCount,omitempty"`
}

// Create creates a new record.
//
// The operation corresponds to a POST request.
//
// Expects http.StatusCreated as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Collection) Create(body interface{}, result interface{}) (int, error) {
	return r.client.RawPost(r.CollectionPath(), body, result)
}

// List gets one page of the collection.
//
// The operation corresponds to a GET request.
//
// Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// result can be *ListResponse, map[string]interface{} or a raw *[]byte.
func (r Collection) List(result interface{}) (int, error) {
	return r.client.RawGet(r.CollectionPath(), result)
}

// Item represents a single record of an entity
type Item struct {
	collection Collection
	key        string
}

// Item returns the record with the api key value key
func (r Collection) Item(key string) Item {
	return Item{collection: r, key: key}
}

// Path returns the created path for this item
func (r Item) Path() string {
	path := r.collection.client.prefix + "/" + r.collection.entity + "/" + url.PathEscape(r.key)
	if len(r.collection.parameters) > 0 {
		path += "?" + r.collection.parameters.Encode()
	}
	return path
}

// Read reads a record
//
// The operation corresponds to a GET request.
//
// Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// result can be *ItemResponse, map[string]interface{} or a raw *[]byte.
func (r Item) Read(result interface{}) (int, error) {
	return r.collection.client.RawGet(r.Path(), result)
}

// Update changes the fields of a record which are in body
//
// The operation corresponds to a PUT request.
//
// Expects http.StatusOK as response, otherwise it will flag an error.
// Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Item) Update(body interface{}, result interface{}) (int, error) {
	return r.collection.client.RawPut(r.Path(), body, result)
}

// Delete deletes a record
//
// The operation corresponds to a DELETE request.
//
// Expects http.StatusOK as response, otherwise it will
// flag an error.
//
// Returns the actual http status code.
func (r Item) Delete() (int, error) {
	return r.collection.client.RawDelete(r.Path())
}

// Page is a requester for one page in a collection
type Page struct {
	r          Collection
	after      string
	first      bool
	hasNext    bool
	totalCount int
}

// FirstPage returns a requester for the first page of a collection
//
// Do not specify the after parameter when using the page requester, as
// it manages the cursor itself. You can set all others parameters, including
// the page size "first".
func (r Collection) FirstPage() Page {
	return Page{r: r, first: true}
}

// HasData returns true if the page has data (by definition true for the first page)
func (p Page) HasData() bool {
	return p.first || p.hasNext
}

// TotalCount returns the total number of elements (only available after you have called Get on the page)
func (p Page) TotalCount() int {
	return p.totalCount
}

// Get gets one page of the collection
func (p *Page) Get(result *ListResponse) (int, error) {
	r := p.r.WithParameter("totalCount", "true")
	if len(p.after) > 0 {
		r = r.WithParameter("after", p.after)
	}
	status, err := r.List(result)
	if err != nil {
		return status, err
	}
	p.hasNext = result.PageInfo.HasNextPage
	p.after = result.PageInfo.EndCursor
	if result.TotalCount != nil {
		p.totalCount = *result.TotalCount
	}
	return status, nil
}

// Next returns the next page
func (p Page) Next() Page {
	return Page{
		r:       p.r,
		after:   p.after,
		hasNext: p.hasNext,
	}
}

// do makes one request, either through the router or over the network
func (c Client) do(method, path string, header map[string]string, body interface{}) (int, http.Header, []byte, error) {
	var reader io.Reader
	if body != nil {
		j, ok := body.([]byte)
		if !ok {
			var err error
			if j, err = json.Marshal(body); err != nil {
				return http.StatusBadRequest, nil, nil, fmt.Errorf("%s to %s: %w", method, path, err)
			}
		}
		reader = bytes.NewBuffer(j)
	}

	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return http.StatusBadRequest, nil, nil, err
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	for key, value := range header {
		r.Header.Add(key, value)
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res := rec.Result()
		return res.StatusCode, res.Header, rec.Body.Bytes(), nil
	}
	if c.token != "" {
		r.Header.Add("Authorization", "Bearer "+c.token)
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, nil, err
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, res.Header, resBody, nil
}

func decode(resBody []byte, result interface{}) error {
	if len(resBody) == 0 || result == nil {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = resBody
		return nil
	}
	return json.Unmarshal(resBody, result)
}

func wrongStatus(status, want int, resBody []byte) error {
	return fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
		status, want, strings.TrimSpace(string(resBody)))
}

// RawGet gets the resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// The path can be extend with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, _, err := c.RawGetWithHeader(path, nil, result)
	return status, err
}

// RawGetWithHeader gets the resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code and the header.
//
// A http.StatusNotModified response is no error, result is left alone.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGetWithHeader(path string, header map[string]string, result interface{}) (int, http.Header, error) {
	status, resHeader, resBody, err := c.do(http.MethodGet, path, header, nil)
	if err != nil {
		return status, resHeader, err
	}
	if status == http.StatusNotModified {
		return status, resHeader, nil
	}
	if status != http.StatusOK {
		return status, resHeader, wrongStatus(status, http.StatusOK, resBody)
	}
	return status, resHeader, decode(resBody, result)
}

// RawPost posts a resource to path. Expects http.StatusCreated as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// The path can be extend with query strings.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	status, _, resBody, err := c.do(http.MethodPost, path, nil, body)
	if err != nil {
		return status, err
	}
	if status != http.StatusCreated {
		return status, wrongStatus(status, http.StatusCreated, resBody)
	}
	return status, decode(resBody, result)
}

// RawPut puts a resource to path. Expects http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// The path can be extend with query strings.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	status, _, resBody, err := c.do(http.MethodPut, path, nil, body)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, wrongStatus(status, http.StatusOK, resBody)
	}
	return status, decode(resBody, result)
}

// RawDelete deletes the resource at path. Expects http.StatusOK with
// {"result": true} as response, otherwise it will flag an error.
//
// Returns the actual http status code.
func (c Client) RawDelete(path string) (int, error) {
	status, _, resBody, err := c.do(http.MethodDelete, path, nil, nil)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, wrongStatus(status, http.StatusOK, resBody)
	}
	var response struct {
		Result bool `json:"result"`
	}
	if err = decode(resBody, &response); err != nil {
		return status, err
	}
	if !response.Result {
		return status, fmt.Errorf("delete %s returned %s", path, strconv.Quote(strings.TrimSpace(string(resBody))))
	}
	return status, nil
}
