// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package access provides utilities for access control

A verified token is added to a request context with

	ctx = access.ContextWithToken(ctx, &access.Token{ID: id})

and retrieved with

	token := access.TokenFromContext(ctx)

Tokens are added to the context by the JWT middleware, or directly by the
in-process client. The backend turns a token into a Caller by looking up the
admin flag on the identity's own record.
*/
package access

import (
	"context"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyToken contextKey = "_token_"
)

// Token is the result of a successful token verification. It carries
// the identity of the caller, which is the id of the caller's record in
// the identity entity.
type Token struct {
	ID string `json:"id"`
}

// ContextWithToken returns a new context with the token added to it
func ContextWithToken(ctx context.Context, t *Token) context.Context {
	return context.WithValue(ctx, contextKeyToken, t)
}

// TokenFromContext retrieves a token from the context, or nil if the request
// is anonymous.
func TokenFromContext(ctx context.Context) *Token {
	if t, ok := ctx.Value(contextKeyToken).(*Token); ok && t != nil && len(t.ID) > 0 {
		return t
	}
	return nil
}

// Caller is the identity a request is evaluated for. The zero value is the
// anonymous caller.
type Caller struct {
	ID    string `json:"id,omitempty"`
	Admin bool   `json:"admin,omitempty"`
}

// IsAuthenticated returns true if the caller has an identity
func (c Caller) IsAuthenticated() bool {
	return len(c.ID) > 0
}
