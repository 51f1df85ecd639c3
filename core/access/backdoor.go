package access

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/schemabase/core/logger"
)

// BackdoorMiddlewareBuilder is a helper builder for the backdoor middleware
type BackdoorMiddlewareBuilder struct {
	// Backdoors is a mapping from a bearer token to a caller identity
	Backdoors map[string]string
}

// ParseBackdoors parses a ";" separated list of token=identity pairs
func ParseBackdoors(s string) map[string]string {
	backdoors := map[string]string{}
	for _, pair := range strings.Split(s, ";") {
		token, identity, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && len(token) > 0 && len(identity) > 0 {
			backdoors[token] = identity
		}
	}
	return backdoors
}

// NewBackdoorMiddleware returns a middleware handler for a backdoor
//
// The key for the backdoors map is the bearer token passed with the request.
//
// Example: if you specify the backdoor
//
//	"please": "0190c1c2-0000-7000-8000-000000000001"
//
// then any request with an authorization bearer token consisting of the single
// magic word "please" is made as the caller with that identity.
//
// With curl, use -H 'Authorization: Bearer please' or pass a cookie with
// -b 'Schemabase-JWT=please'
//
// Requests which already carry a token are left alone, so the backdoor must
// be installed after the JWT middleware.
func NewBackdoorMiddleware(bmb *BackdoorMiddlewareBuilder) mux.MiddlewareFunc {
	if len(bmb.Backdoors) == 0 {
		panic("backdoor middleware without backdoors")
	}
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if TokenFromContext(r.Context()) != nil { // already authenticated?
				h.ServeHTTP(w, r)
				return
			}
			tokenString := bearerToken(r)
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r)
				return
			}
			if identity, ok := bmb.Backdoors[tokenString]; ok {
				ctx := ContextWithToken(r.Context(), &Token{ID: identity})
				ctx, _ = logger.ContextWithLoggerIdentity(ctx, identity)
				r = r.WithContext(ctx)
			}
			h.ServeHTTP(w, r)
		})
	}
}
