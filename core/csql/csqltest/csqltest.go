// Package csqltest starts throw-away postgres databases for tests
package csqltest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/schemabase/core/csql"
)

// Start starts a postgres container and opens schema in it. The container is
// terminated when the test finishes. The test is skipped in short mode or if
// no container runtime is available.
//
// The database uses the C locale, so that strings order byte-wise.
func Start(t *testing.T, schema string) *csql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres tests need a container")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	postgresUser := "testuser"
	postgresPassword := "testpass"
	postgresDB := "testdb"
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":        postgresUser,
				"POSTGRES_PASSWORD":    postgresPassword,
				"POSTGRES_DB":          postgresDB,
				"POSTGRES_INITDB_ARGS": "--locale=C --encoding=UTF8",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgC.Terminate(context.Background()); err != nil {
			t.Logf("cannot terminate postgres container: %v", err)
		}
	})

	pgHost, err := pgC.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db := csql.OpenWithSchema(fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgPort.Port(), postgresUser, postgresPassword, postgresDB), schema)
	t.Cleanup(func() { db.Close() })
	return db
}
