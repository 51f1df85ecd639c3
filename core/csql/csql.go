// Package csql wraps a postgres sql.DB together with the schema all
// tables of one backend live in.
package csql

import (
	"database/sql"
	"errors"

	"github.com/lib/pq" // registers the postgres driver

	"github.com/relabs-tech/schemabase/core/logger"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row.
var ErrNoRows = sql.ErrNoRows

// uniqueViolation is the postgres error code for unique constraint violations
const uniqueViolation = "23505"

// OpenWithSchema opens a postgres database with a schema.
// The schema gets created if it does not exist yet.
//
// OpenWithSchema panics if the database is not reachable, it is meant to be
// called while bootstrapping a service.
func OpenWithSchema(dataSourceName, schema string) *DB {
	rlog := logger.Default()
	rlog.Infoln("connecting to postgres database")
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		panic(err)
	}
	if err = db.Ping(); err != nil {
		panic(err)
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		rlog.Infoln("selected database schema:", schema)
		_, err = db.Exec(`CREATE schema IF NOT EXISTS ` + pq.QuoteIdentifier(schema) + `;`)
		if err != nil {
			panic(err)
		}
	}
	return &DB{DB: db, Schema: schema}
}

// Table returns the fully qualified and quoted name of table within the schema
func (db *DB) Table(table string) string {
	return pq.QuoteIdentifier(db.Schema) + "." + pq.QuoteIdentifier(table)
}

// ClearSchema clears all the data contained in the database's schema
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema() {
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	schema := pq.QuoteIdentifier(db.Schema)
	_, err := db.Exec(`DROP SCHEMA ` + schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + schema + `;`)
	if err != nil {
		logger.Default().WithError(err).Errorln("clear schema error:", db.Schema)
	}
}

// IsUniqueViolation returns true if err reports a violated unique constraint
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
