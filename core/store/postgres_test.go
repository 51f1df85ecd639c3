package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/schemabase/core/csql/csqltest"
	"github.com/relabs-tech/schemabase/core/schema"
)

func TestPostgres(t *testing.T) {
	db := csqltest.Start(t, "store_test")
	testDAO(t, func(t *testing.T, e *schema.Entity) DAO {
		db.ClearSchema()
		ctx := context.Background()
		p, err := NewPostgres(ctx, db, e)
		require.NoError(t, err)
		require.NoError(t, p.CreateIndexes(ctx, e))
		return p
	})
}
