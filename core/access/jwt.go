package access

import (
	"crypto/rsa"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/schemabase/core/logger"
)

// JwtCookieName is the cookie the middleware reads a token from when there is no bearer header
const JwtCookieName = "Schemabase-JWT"

// JwtMiddlewareBuilder is a helper builder for JwtMiddleware
type JwtMiddlewareBuilder struct {
	// Secret is the HMAC key for HS256/HS384/HS512 signed tokens
	Secret []byte
	// PublicKey verifies RS256/RS384/RS512 signed tokens. Optional.
	PublicKey *rsa.PublicKey
	// Issuer is the accepted issuer for the token. Empty accepts any issuer.
	Issuer string
}

// Claims are the token claims the middleware understands. The caller identity
// is taken from "id", or from the subject if there is no id claim.
type Claims struct {
	ID string `json:"id,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the caller identity of the claims
func (c *Claims) Identity() string {
	if len(c.ID) > 0 {
		return c.ID
	}
	return c.Subject
}

// NewJwtMiddleware returns a middleware handler to validate
// JWT bearer token.
//
// Tokens are accepted as "Authorization: Bearer" header or as
// Schemabase-JWT cookie. A valid token adds a Token with the caller identity
// to the request context. Requests without a token, or with a token that does
// not verify, continue anonymously: permission rules decide what an anonymous
// caller may do.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	if len(jmb.Secret) == 0 && jmb.PublicKey == nil {
		panic("jwt middleware needs a secret or a public key")
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(jmb.Secret) > 0 {
				return jmb.Secret, nil
			}
		case *jwt.SigningMethodRSA:
			if jmb.PublicKey != nil {
				return jmb.PublicKey, nil
			}
		}
		return nil, errors.New("unexpected signing method " + token.Method.Alg())
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if TokenFromContext(r.Context()) != nil { // already authenticated
				h.ServeHTTP(w, r)
				return
			}
			tokenString := bearerToken(r)
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			rlog := logger.FromContext(r.Context())
			claims := Claims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, keyFunc)
			if err != nil || !token.Valid {
				rlog.WithError(err).Debugln("ignoring invalid token")
				h.ServeHTTP(w, r)
				return
			}
			if len(jmb.Issuer) > 0 && !claims.VerifyIssuer(jmb.Issuer, true) {
				rlog.Debugln("ignoring token from issuer", claims.Issuer)
				h.ServeHTTP(w, r)
				return
			}
			identity := claims.Identity()
			if len(identity) == 0 {
				h.ServeHTTP(w, r)
				return
			}

			ctx := ContextWithToken(r.Context(), &Token{ID: identity})
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, identity)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) > 0 && bearer != "null" {
		if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
			return bearer[7:]
		}
		return bearer
	}
	if cookie, _ := r.Cookie(JwtCookieName); cookie != nil {
		return cookie.Value
	}
	return ""
}
