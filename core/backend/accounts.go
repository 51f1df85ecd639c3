// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"fmt"

	"github.com/relabs-tech/schemabase/core/schema"
	"github.com/relabs-tech/schemabase/core/store"
)

// Account is a function account, a record of the identity entity which is
// created by the service itself rather than through the API
type Account struct {
	ID    string
	Admin bool
	// Properties are further fields of the record
	Properties map[string]interface{}
}

// EnsureAccounts creates the specified accounts in the identity entity if
// they do not exist yet. Existing accounts are left alone.
//
// Accounts are inserted without validation, so that they can carry fields
// like the admin flag which no caller may set.
func (b *Backend) EnsureAccounts(ctx context.Context, accounts ...Account) error {
	entry, err := b.registry.Get(b.identityEntity)
	if err != nil {
		return fmt.Errorf("cannot create accounts: %w", err)
	}
	for _, account := range accounts {
		id, err := store.CanonicalID(account.ID)
		if err != nil {
			return fmt.Errorf("account %s: %w", account.ID, err)
		}
		existing, err := entry.DAO.FindOneByID(ctx, id)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		record := store.Record{}
		for key, value := range account.Properties {
			record[key] = value
		}
		record[schema.FieldID] = id
		record[FieldAdmin] = account.Admin
		if _, err = entry.DAO.InsertOne(ctx, record); err != nil {
			return fmt.Errorf("cannot create account %s: %w", id, err)
		}
	}
	return nil
}
