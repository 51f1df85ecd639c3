package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/schemabase/core/csql"
)

// Table is a persistent key value table of JSON objects in a SQL database
type Table struct {
	db *csql.DB
}

// NewTable creates the "_registry_" table in the schema of db, if it does not exist yet
func NewTable(db *csql.DB) (*Table, error) {
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Table("_registry_") + `
(key varchar NOT NULL,
value json NOT NULL,
timestamp timestamp NOT NULL,
PRIMARY KEY(key)
);`)
	if err != nil {
		return nil, fmt.Errorf("cannot create registry table: %w", err)
	}
	return &Table{db: db}, nil
}

// Accessor is an accessor with optional prefix
type Accessor struct {
	Prefix string
	Table  *Table
}

// Accessor returns a table accessor with prefix
func (t *Table) Accessor(prefix string) Accessor {
	return Accessor{
		Prefix: prefix,
		Table:  t,
	}
}

func (r Accessor) key(key string) string {
	if len(r.Prefix) > 0 {
		return r.Prefix + ":" + key
	}
	return key
}

// Read reads a value from the table. It returns the
// time when the value was written, or a zero timestamp
// if there is no value.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Read(ctx context.Context, key string, value interface{}) (time.Time, error) {
	var (
		rawValue  json.RawMessage
		timestamp time.Time
	)
	key = r.key(key)
	err := r.Table.db.QueryRowContext(ctx,
		`SELECT value, timestamp FROM `+r.Table.db.Table("_registry_")+` WHERE key=$1;`,
		key).Scan(&rawValue, &timestamp)
	if err == csql.ErrNoRows {
		return timestamp, nil
	}
	if err != nil {
		return timestamp, fmt.Errorf("cannot read key '%s': %w", key, err)
	}
	err = json.Unmarshal(rawValue, value)
	return timestamp, err
}

// List returns the raw values of all keys with the accessor's prefix, keyed
// by the key without prefix.
func (r Accessor) List(ctx context.Context) (map[string]json.RawMessage, error) {
	prefix := r.key("")
	rows, err := r.Table.db.QueryContext(ctx,
		`SELECT key, value FROM `+r.Table.db.Table("_registry_")+` WHERE starts_with(key, $1) ORDER BY key;`,
		prefix)
	if err != nil {
		return nil, fmt.Errorf("cannot list prefix '%s': %w", prefix, err)
	}
	defer rows.Close()
	values := map[string]json.RawMessage{}
	for rows.Next() {
		var (
			key      string
			rawValue json.RawMessage
		)
		if err := rows.Scan(&key, &rawValue); err != nil {
			return nil, err
		}
		values[strings.TrimPrefix(key, prefix)] = rawValue
	}
	return values, rows.Err()
}

// Write writes a value into the table.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Write(ctx context.Context, key string, value interface{}) error {

	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	key = r.key(key)
	now := time.Now().UTC()
	res, err := r.Table.db.ExecContext(ctx,
		`INSERT INTO `+r.Table.db.Table("_registry_")+`(key,value,timestamp)
VALUES($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value=$2,timestamp=$3;`,
		key, string(body), now)

	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("could not write key %s", key)
	}
	return nil

}

// Delete deletes a value from the table.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Delete(ctx context.Context, key string) error {
	_, err := r.Table.db.ExecContext(ctx,
		`DELETE FROM `+r.Table.db.Table("_registry_")+` WHERE key=$1;`,
		r.key(key))
	return err
}
