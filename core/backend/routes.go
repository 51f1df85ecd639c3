package backend

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/schemabase/core/logger"
	"github.com/relabs-tech/schemabase/core/registry"
)

// maxBodySize limits request bodies
const maxBodySize = 8 << 20

func (b *Backend) handleRoutes() {
	rlog := logger.Default()
	listRoute := b.prefix + "/{entity}"
	itemRoute := b.prefix + "/{entity}/{key}"
	// the router runs middlewares for matching routes only, preflight
	// requests must match to reach the CORS middleware
	methods := func(method string) []string {
		if b.cors {
			return []string{method, http.MethodOptions}
		}
		return []string{method}
	}

	rlog.Debugln("  handle route:", listRoute, "GET")
	b.router.HandleFunc(listRoute, b.handleList).Methods(methods(http.MethodGet)...)
	rlog.Debugln("  handle route:", listRoute, "POST")
	b.router.HandleFunc(listRoute, b.handleCreate).Methods(methods(http.MethodPost)...)
	rlog.Debugln("  handle route:", itemRoute, "GET")
	b.router.HandleFunc(itemRoute, b.handleGet).Methods(methods(http.MethodGet)...)
	rlog.Debugln("  handle route:", itemRoute, "PUT")
	b.router.HandleFunc(itemRoute, b.handleUpdate).Methods(methods(http.MethodPut)...)
	rlog.Debugln("  handle route:", itemRoute, "DELETE")
	b.router.HandleFunc(itemRoute, b.handleDelete).Methods(methods(http.MethodDelete)...)
}

// request maps an HTTP request to the entity controller and an entity request
func (b *Backend) request(w http.ResponseWriter, r *http.Request, withBody bool) (*Controller, *Request, bool) {
	vars := mux.Vars(r)
	c, err := b.Controller(vars["entity"])
	if errors.Is(err, registry.ErrNotRegistered) {
		http.Error(w, "no such entity "+vars["entity"], http.StatusNotFound)
		return nil, nil, false
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorf("Error 4710: cannot get controller for %s", vars["entity"])
		http.Error(w, "Error 4710", http.StatusInternalServerError)
		return nil, nil, false
	}
	req := &Request{
		Entity: c.config.Name,
		Key:    vars["key"],
		Query:  r.URL.Query(),
	}
	if withBody {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			http.Error(w, "cannot read body", http.StatusBadRequest)
			return nil, nil, false
		}
		req.Body = map[string]interface{}{}
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := json.Unmarshal(body, &req.Body); err != nil || req.Body == nil {
				http.Error(w, "invalid json body: body must be a JSON object", http.StatusBadRequest)
				return nil, nil, false
			}
		}
	}
	return c, req, true
}

func (b *Backend) handleList(w http.ResponseWriter, r *http.Request) {
	c, req, ok := b.request(w, r, false)
	if !ok {
		return
	}
	keys := ListKeys{PageInfo: true, TotalCount: r.URL.Query().Get("totalCount") == "true"}
	result, err := c.List(r.Context(), req, keys)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result, true)
}

func (b *Backend) handleGet(w http.ResponseWriter, r *http.Request) {
	c, req, ok := b.request(w, r, false)
	if !ok {
		return
	}
	item, err := c.Get(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"item": item}, true)
}

func (b *Backend) handleCreate(w http.ResponseWriter, r *http.Request) {
	c, req, ok := b.request(w, r, true)
	if !ok {
		return
	}
	item, err := c.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]interface{}{"item": item}, false)
}

func (b *Backend) handleUpdate(w http.ResponseWriter, r *http.Request) {
	c, req, ok := b.request(w, r, true)
	if !ok {
		return
	}
	item, err := c.Update(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"item": item}, false)
}

func (b *Backend) handleDelete(w http.ResponseWriter, r *http.Request) {
	c, req, ok := b.request(w, r, false)
	if !ok {
		return
	}
	result, err := c.Delete(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"result": result}, false)
}

// writeError answers with the status of err. Server errors are logged with
// their cause, the client only sees a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := asError(err)
	if e.Status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).WithError(err).Errorf("Error 4721: %s %s", r.Method, r.URL.Path)
	}
	http.Error(w, e.Message, e.Status)
}

// writeJSON writes response. With etag, an Etag header is added and a
// matching If-None-Match request is answered with 304.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, response interface{}, etag bool) {
	jsonData, err := json.MarshalWithOption(response, json.DisableHTMLEscape())
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorf("Error 4726: cannot marshal response for %s", r.URL.Path)
		http.Error(w, "Error 4726", http.StatusInternalServerError)
		return
	}
	if etag {
		tag := bytesToEtag(jsonData)
		w.Header().Set("Etag", tag)
		if ifNoneMatchFound(r.Header.Get("If-None-Match"), tag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonData)
}

func bytesToEtag(b []byte) string {
	return fmt.Sprintf("\"%x\"", md5.Sum(b))
}

func ifNoneMatchFound(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.Trim(ifNoneMatch, " ")
	if len(ifNoneMatch) == 0 {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	for _, s := range strings.Split(ifNoneMatch, ",") {
		s = strings.Trim(s, " \"")
		t := strings.Trim(etag, " \"")
		if s == t {
			return true
		}
	}
	return false
}
