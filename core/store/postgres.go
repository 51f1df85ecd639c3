package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/schemabase/core/csql"
	"github.com/relabs-tech/schemabase/core/logger"
	"github.com/relabs-tech/schemabase/core/schema"
)

// timeLayout is fixed width, so that times stored in jsonb order correctly as text
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Postgres is a DAO keeping the records of one entity in a table of a
// postgres database. The identity and the timestamps are columns, all other
// fields are stored in a jsonb document.
type Postgres struct {
	db        *csql.DB
	table     string
	name      string
	dateTimes []string
}

// NewPostgres creates the DAO for entity and its table, if it does not exist yet
func NewPostgres(ctx context.Context, db *csql.DB, entity *schema.Entity) (*Postgres, error) {
	p := &Postgres{
		db:    db,
		table: db.Table(entity.Collection),
		name:  entity.Collection,
	}
	for _, key := range entity.Schema.Properties.Keys() {
		prop, _ := entity.Property(key)
		if prop.Kind() == schema.KindDateTime && !systemField(key) {
			p.dateTimes = append(p.dateTimes, key)
		}
	}

	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+p.table+` (
id uuid NOT NULL,
created_at timestamptz NOT NULL,
updated_at timestamptz NOT NULL,
data jsonb NOT NULL DEFAULT '{}'::jsonb,
PRIMARY KEY(id)
);
CREATE INDEX IF NOT EXISTS `+pq.QuoteIdentifier(p.name+"_search")+` ON `+p.table+
		` USING GIN (to_tsvector('simple', data::text));`)
	if err != nil {
		return nil, fmt.Errorf("cannot create table for %s: %w", entity.Name, err)
	}
	return p, nil
}

// storageValue converts times to their fixed width text form, recursively
func storageValue(value interface{}) interface{} {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(timeLayout)
	case map[string]interface{}:
		m := make(map[string]interface{}, len(v))
		for key, child := range v {
			m[key] = storageValue(child)
		}
		return m
	case Record:
		return storageValue(map[string]interface{}(v))
	case []interface{}:
		list := make([]interface{}, len(v))
		for i, child := range v {
			list[i] = storageValue(child)
		}
		return list
	}
	return value
}

// jsonText returns the JSON text of a value as it is stored
func jsonText(value interface{}) string {
	data, err := json.Marshal(storageValue(value))
	if err != nil {
		return "null"
	}
	return string(data)
}

func (p *Postgres) document(r Record) string {
	data := map[string]interface{}{}
	for key, value := range r {
		if !systemField(key) {
			data[key] = value
		}
	}
	return jsonText(data)
}

type queryBuilder struct {
	args []interface{}
}

func (q *queryBuilder) arg(value interface{}) string {
	q.args = append(q.args, value)
	return "$" + strconv.Itoa(len(q.args))
}

func column(field string) string {
	switch field {
	case schema.FieldID:
		return "id"
	case schema.FieldCreatedAt:
		return "created_at"
	case schema.FieldUpdatedAt:
		return "updated_at"
	}
	return "(data->" + pq.QuoteLiteral(field) + ")"
}

// placeholder adds value as argument, typed for the column of field
func (q *queryBuilder) placeholder(field string, value interface{}) (string, error) {
	switch field {
	case schema.FieldID:
		s, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("id must be a string, got %T", value)
		}
		if _, err := uuid.Parse(s); err != nil {
			return "", fmt.Errorf("invalid id %q", s)
		}
		return q.arg(s) + "::uuid", nil
	case schema.FieldCreatedAt, schema.FieldUpdatedAt:
		switch v := value.(type) {
		case time.Time:
			return q.arg(v) + "::timestamptz", nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return "", fmt.Errorf("invalid time %q", v)
			}
			return q.arg(t) + "::timestamptz", nil
		}
		return "", fmt.Errorf("%s must be a time, got %T", field, value)
	}
	return q.arg(jsonText(value)) + "::jsonb", nil
}

func (q *queryBuilder) condition(c Condition) (string, error) {
	col := column(c.Field)
	if c.Value == nil {
		isNull := "(" + col + " IS NULL OR " + col + " = 'null'::jsonb)"
		if systemField(c.Field) {
			isNull = col + " IS NULL"
		}
		switch c.Comparator {
		case Equal:
			return isNull, nil
		case NotEqual:
			return "NOT " + isNull, nil
		}
		return "FALSE", nil
	}
	ph, err := q.placeholder(c.Field, c.Value)
	if err != nil {
		// a value of the wrong type never matches an identity or timestamp
		if c.Comparator == NotEqual {
			return "TRUE", nil
		}
		return "FALSE", nil
	}
	switch c.Comparator {
	case Equal:
		if systemField(c.Field) {
			return col + " = " + ph, nil
		}
		// arrays match if they contain the value
		return "(" + col + " = " + ph + " OR (jsonb_typeof(" + col + ") = 'array' AND " + col + " @> jsonb_build_array(" + ph + ")))", nil
	case NotEqual:
		return col + " IS DISTINCT FROM " + ph, nil
	case Less, LessOrEqual, Greater, GreaterOrEqual:
		if systemField(c.Field) {
			return col + " " + string(c.Comparator) + " " + ph, nil
		}
		return "(jsonb_typeof(" + col + ") = jsonb_typeof(" + ph + ") AND " + col + " " + string(c.Comparator) + " " + ph + ")", nil
	}
	return "", fmt.Errorf("unknown comparator %q", c.Comparator)
}

func (q *queryBuilder) where(f Filter) (string, error) {
	var parts []string
	for _, c := range f.Conditions {
		s, err := q.condition(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	for _, sub := range f.And {
		s, err := q.where(sub)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	if len(f.Or) > 0 {
		var or []string
		for _, sub := range f.Or {
			s, err := q.where(sub)
			if err != nil {
				return "", err
			}
			or = append(or, s)
		}
		parts = append(parts, "("+strings.Join(or, " OR ")+")")
	}
	if len(f.Search) > 0 {
		parts = append(parts, "to_tsvector('simple', data::text) @@ plainto_tsquery('simple', "+q.arg(f.Search)+")")
	}
	if len(parts) == 0 {
		return "TRUE", nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

// sortColumn is the expression records are ordered by. Missing fields sort
// like null, which is lower than any other value.
func sortColumn(field string) string {
	if systemField(field) {
		return column(field)
	}
	return "COALESCE(" + column(field) + ", 'null'::jsonb)"
}

// bound returns the condition for records strictly after (or before) a cursor position
func (q *queryBuilder) bound(position map[string]interface{}, order Sort, after bool) (string, error) {
	var alternatives []string
	for i, key := range order {
		var parts []string
		for _, prev := range order[:i] {
			ph, err := q.placeholder(prev.Field, position[prev.Field])
			if err != nil {
				return "", err
			}
			parts = append(parts, sortColumn(prev.Field)+" = "+ph)
		}
		comparator := Greater
		if key.Descending == after {
			comparator = Less
		}
		ph, err := q.placeholder(key.Field, position[key.Field])
		if err != nil {
			return "", err
		}
		parts = append(parts, sortColumn(key.Field)+" "+string(comparator)+" "+ph)
		alternatives = append(alternatives, "("+strings.Join(parts, " AND ")+")")
	}
	return "(" + strings.Join(alternatives, " OR ") + ")", nil
}

func (p *Postgres) scan(rows interface{ Scan(...interface{}) error }) (Record, error) {
	var (
		id                 string
		createdAt, updated time.Time
		data               []byte
	)
	if err := rows.Scan(&id, &createdAt, &updated, &data); err != nil {
		return nil, err
	}
	r := Record{}
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	for _, key := range p.dateTimes {
		if s, ok := r[key].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				r[key] = t
			}
		}
	}
	r[schema.FieldID] = id
	r[schema.FieldCreatedAt] = createdAt.UTC()
	r[schema.FieldUpdatedAt] = updated.UTC()
	return r, nil
}

const selectColumns = "id, created_at, updated_at, data"

// FindOne implements DAO
func (p *Postgres) FindOne(ctx context.Context, filter Filter) (Record, error) {
	rs, err := p.FindAndReturnCursor(ctx, filter, FindOptions{Limit: 1})
	if err != nil || len(rs.Items) == 0 {
		return nil, err
	}
	return rs.Items[0], nil
}

// FindOneByID implements DAO
func (p *Postgres) FindOneByID(ctx context.Context, id string) (Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM `+p.table+` WHERE id = $1::uuid;`, id)
	r, err := p.scan(row)
	if err == csql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s %s: %w", p.name, id, err)
	}
	return r, nil
}

// FindAndReturnCursor implements DAO
func (p *Postgres) FindAndReturnCursor(ctx context.Context, filter Filter, options FindOptions) (*ResultSet, error) {
	q := &queryBuilder{}
	where, err := q.where(filter)
	if err != nil {
		return nil, err
	}
	countQuery := `SELECT count(*) FROM ` + p.table + ` WHERE ` + where + `;`
	countArgs := append([]interface{}{}, q.args...)

	order := options.Sort
	if len(order) == 0 {
		order = Sort{{Field: schema.FieldID}}
	}
	order = order.WithTiebreaker()

	conditions := []string{where}
	for _, bound := range []struct {
		position map[string]interface{}
		after    bool
	}{{options.After, true}, {options.Before, false}} {
		if bound.position == nil || !cursorCovers(bound.position, order) {
			continue
		}
		n := len(q.args)
		s, err := q.bound(bound.position, order, bound.after)
		if err != nil {
			// a position that does not fit the columns is no position
			q.args = q.args[:n]
			continue
		}
		conditions = append(conditions, s)
	}

	var orderBy []string
	for _, key := range order {
		direction := " ASC"
		if key.Descending {
			direction = " DESC"
		}
		orderBy = append(orderBy, sortColumn(key.Field)+direction)
	}

	query := `SELECT ` + selectColumns + ` FROM ` + p.table +
		` WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY ` + strings.Join(orderBy, ", ")
	if options.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(options.Limit)
	}
	if options.Skip > 0 {
		query += ` OFFSET ` + strconv.Itoa(options.Skip)
	}
	query += `;`

	rows, err := p.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 5001: query %s", query)
		return nil, fmt.Errorf("cannot query %s: %w", p.name, err)
	}
	defer rows.Close()
	var items []Record
	for rows.Next() {
		r, err := p.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("cannot scan %s: %w", p.name, err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ResultSet{
		Items: items,
		count: func(ctx context.Context) (int, error) {
			var count int
			err := p.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&count)
			return count, err
		},
	}, nil
}

// InsertOne implements DAO
func (p *Postgres) InsertOne(ctx context.Context, record Record) (Record, error) {
	id := record.ID()
	if len(id) == 0 {
		id = NewID()
	}
	t := now()
	row := p.db.QueryRowContext(ctx, `INSERT INTO `+p.table+` (id, created_at, updated_at, data)
VALUES ($1::uuid, $2, $2, $3::jsonb)
RETURNING `+selectColumns+`;`, id, t, p.document(record))
	r, err := p.scan(row)
	if csql.IsUniqueViolation(err) {
		return nil, ErrDuplicateKey
	}
	if err != nil {
		return nil, fmt.Errorf("cannot insert into %s: %w", p.name, err)
	}
	return r, nil
}

// UpdateOne implements DAO
func (p *Postgres) UpdateOne(ctx context.Context, id string, partial Record) (Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row := p.db.QueryRowContext(ctx, `UPDATE `+p.table+`
SET data = data || $2::jsonb, updated_at = $3
WHERE id = $1::uuid
RETURNING `+selectColumns+`;`, id, p.document(partial), now())
	r, err := p.scan(row)
	if err == csql.ErrNoRows {
		return nil, nil
	}
	if csql.IsUniqueViolation(err) {
		return nil, ErrDuplicateKey
	}
	if err != nil {
		return nil, fmt.Errorf("cannot update %s %s: %w", p.name, id, err)
	}
	return r, nil
}

// DeleteOne implements DAO
func (p *Postgres) DeleteOne(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM `+p.table+` WHERE id = $1::uuid;`, id)
	if err != nil {
		return false, fmt.Errorf("cannot delete %s %s: %w", p.name, id, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateIndexes implements DAO
func (p *Postgres) CreateIndexes(ctx context.Context, entity *schema.Entity) error {
	indexes := entity.UniqueIndexes()
	for _, index := range entity.Indexes {
		if !index.Unique {
			indexes = append(indexes, index)
		}
	}
	for _, index := range indexes {
		var columns []string
		for _, key := range index.Keys.Keys() {
			direction, _ := index.Keys.Get(key)
			col := column(key)
			if direction < 0 {
				col += " DESC"
			}
			columns = append(columns, col)
		}
		name := index.Name
		if len(name) == 0 {
			name = p.name + "_" + strings.Join(index.Keys.Keys(), "_")
			if index.Unique {
				name += "_unique"
			}
		}
		statement := `CREATE INDEX IF NOT EXISTS `
		if index.Unique {
			statement = `CREATE UNIQUE INDEX IF NOT EXISTS `
		}
		statement += pq.QuoteIdentifier(name) + ` ON ` + p.table + ` (` + strings.Join(columns, ", ") + `);`
		if _, err := p.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("cannot create index %s: %w", name, err)
		}
	}
	return nil
}

var _ DAO = (*Postgres)(nil)
