/*
Package store provides the data access layer of the entities.

Every entity gets its own DAO. Records are schemaless JSON documents with
three system managed fields: "id" (a time ordered UUID in canonical string
form), "createdAt" and "updatedAt". Two implementations exist: Memory, an in
process store, and Postgres, which keeps each entity in its own table with the
document in a jsonb column.
*/
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/schemabase/core/schema"
)

// ErrDuplicateKey is returned by InsertOne and UpdateOne when a unique index is violated
var ErrDuplicateKey = errors.New("duplicate key")

// Record is a stored document
type Record map[string]interface{}

// ID returns the identity of the record
func (r Record) ID() string {
	id, _ := r[schema.FieldID].(string)
	return id
}

// Clone returns a deep copy of the record
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]interface{}(r)).(map[string]interface{})
}

func cloneValue(value interface{}) interface{} {
	switch v := value.(type) {
	case Record:
		return Record(cloneValue(map[string]interface{}(v)).(map[string]interface{}))
	case map[string]interface{}:
		m := make(map[string]interface{}, len(v))
		for key, child := range v {
			m[key] = cloneValue(child)
		}
		return m
	case []interface{}:
		list := make([]interface{}, len(v))
		for i, child := range v {
			list[i] = cloneValue(child)
		}
		return list
	default:
		return v
	}
}

// NewID returns a new time ordered identity
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// CanonicalID parses an identity and returns its canonical form
func CanonicalID(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Comparator compares a field with a value
type Comparator string

// all comparators
const (
	Equal          Comparator = "="
	NotEqual       Comparator = "!="
	Less           Comparator = "<"
	LessOrEqual    Comparator = "<="
	Greater        Comparator = ">"
	GreaterOrEqual Comparator = ">="
)

// Valid returns true for known comparators
func (c Comparator) Valid() bool {
	switch c {
	case Equal, NotEqual, Less, LessOrEqual, Greater, GreaterOrEqual:
		return true
	}
	return false
}

// Condition is a comparison of one top-level field
type Condition struct {
	Field      string
	Comparator Comparator
	Value      interface{}
}

// Filter selects records. All conditions, all And filters and at least one
// of the Or filters must match. Search selects records containing the text.
// The zero Filter matches everything.
type Filter struct {
	Conditions []Condition
	And        []Filter
	Or         []Filter
	Search     string
}

// Where returns a filter for field equal to value
func Where(field string, value interface{}) Filter {
	return Filter{Conditions: []Condition{{Field: field, Comparator: Equal, Value: value}}}
}

// SortKey is one key of a sort order
type SortKey struct {
	Field      string
	Descending bool
}

// Sort is a sort order, most significant key first
type Sort []SortKey

// WithTiebreaker returns the sort order with the identity appended, unless it
// is already part of it. The identity takes the direction of the first key.
func (s Sort) WithTiebreaker() Sort {
	for _, key := range s {
		if key.Field == schema.FieldID {
			return s
		}
	}
	descending := len(s) > 0 && s[0].Descending
	return append(append(Sort{}, s...), SortKey{Field: schema.FieldID, Descending: descending})
}

// FindOptions control FindAndReturnCursor
type FindOptions struct {
	// Sort is the sort order. An empty order means store order, which is ascending identity.
	Sort Sort
	// Limit is the maximum number of records, 0 means no limit
	Limit int
	// Skip skips records after the cursor bounds are applied
	Skip int
	// After only returns records strictly after this position in the sort order
	After map[string]interface{}
	// Before only returns records strictly before this position in the sort order
	Before map[string]interface{}
}

// ResultSet is one page of records
type ResultSet struct {
	Items []Record
	count func(ctx context.Context) (int, error)
}

// Count returns the number of records matching the filter, ignoring
// limit, skip and cursor bounds. It is a separate query.
func (r *ResultSet) Count(ctx context.Context) (int, error) {
	return r.count(ctx)
}

// DAO is the data access object of one entity
type DAO interface {
	// FindOne returns the first record matching filter in store order, or nil
	FindOne(ctx context.Context, filter Filter) (Record, error)
	// FindOneByID returns the record with identity id, or nil
	FindOneByID(ctx context.Context, id string) (Record, error)
	// FindAndReturnCursor returns the records matching filter
	FindAndReturnCursor(ctx context.Context, filter Filter, options FindOptions) (*ResultSet, error)
	// InsertOne inserts a record. A missing identity is generated, the
	// timestamps are always set by the store.
	InsertOne(ctx context.Context, record Record) (Record, error)
	// UpdateOne sets the top-level fields of partial and returns the updated record, or nil if
	// there is no record with identity id.
	UpdateOne(ctx context.Context, id string, partial Record) (Record, error)
	// DeleteOne deletes a record and returns whether it existed
	DeleteOne(ctx context.Context, id string) (bool, error)
	// CreateIndexes creates the indexes of entity
	CreateIndexes(ctx context.Context, entity *schema.Entity) error
}

// now returns the current time at the precision the stores keep
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// systemField returns true for the fields only the store writes
func systemField(field string) bool {
	return field == schema.FieldID || field == schema.FieldCreatedAt || field == schema.FieldUpdatedAt
}
