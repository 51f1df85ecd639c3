package backend

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/schemabase/core/logger"
)

var (
	// Version is the version of the curent build
	Version = "unset"
)

func (b *Backend) handleVersion() {
	logger.Default().Debugln("  handle version route: /version GET")
	b.router.HandleFunc("/version", b.version).Methods(http.MethodOptions, http.MethodGet)
}

func (b *Backend) version(w http.ResponseWriter, r *http.Request) {
	caller, err := b.caller(r.Context(), &Request{})
	if err != nil {
		writeError(w, r, ServerError(err))
		return
	}
	if !caller.Admin {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	data, _ := json.Marshal(map[string]string{"version": Version})
	w.Write(data)
}
