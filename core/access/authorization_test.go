package access

import (
	"context"
	"testing"
)

func TestTokenFromContext(t *testing.T) {
	ctx := context.Background()
	if TokenFromContext(ctx) != nil {
		t.Fatal("expected no token in empty context")
	}

	ctx = ContextWithToken(ctx, &Token{})
	if TokenFromContext(ctx) != nil {
		t.Fatal("a token without identity must count as anonymous")
	}

	ctx = ContextWithToken(ctx, &Token{ID: ownerID})
	token := TokenFromContext(ctx)
	if token == nil || token.ID != ownerID {
		t.Fatalf("unexpected token %+v", token)
	}
}

func TestCallerIsAuthenticated(t *testing.T) {
	if (Caller{}).IsAuthenticated() {
		t.Fatal("zero caller must be anonymous")
	}
	if !(Caller{ID: ownerID}).IsAuthenticated() {
		t.Fatal("caller with id must be authenticated")
	}
}
