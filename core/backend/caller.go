package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/relabs-tech/schemabase/core/access"
	"github.com/relabs-tech/schemabase/core/logger"
	"github.com/relabs-tech/schemabase/core/registry"
	"github.com/relabs-tech/schemabase/core/store"
)

// FieldAdmin is the boolean field of an identity record that makes the caller an admin
const FieldAdmin = "admin"

// caller returns the caller of the request. It is resolved once per request
// from the token in the context: a token without a record in the identity
// entity is treated as anonymous.
func (b *Backend) caller(ctx context.Context, req *Request) (access.Caller, error) {
	if req.caller != nil {
		return *req.caller, nil
	}
	caller := access.Caller{}
	if token := access.TokenFromContext(ctx); token != nil {
		user, err := b.identityRecord(ctx, token.ID)
		if err != nil {
			return caller, err
		}
		if user != nil {
			caller.ID = user.ID()
			caller.Admin, _ = user[FieldAdmin].(bool)
			req.user = user
		} else {
			logger.FromContext(ctx).Debugf("no %s record for token identity %s", b.identityEntity, token.ID)
		}
	}
	req.caller = &caller
	return caller, nil
}

// identityRecord returns the record of identity id in the identity entity, or nil
func (b *Backend) identityRecord(ctx context.Context, id string) (store.Record, error) {
	entry, err := b.registry.Get(b.identityEntity)
	if errors.Is(err, registry.ErrNotRegistered) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record, err := entry.DAO.FindOneByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cannot read caller %s: %w", id, err)
	}
	return record, nil
}

// userRecord returns the caller's own record, or nil for anonymous callers
func (b *Backend) userRecord(ctx context.Context, req *Request) (store.Record, error) {
	if _, err := b.caller(ctx, req); err != nil {
		return nil, err
	}
	return req.user, nil
}
