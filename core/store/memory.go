package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/relabs-tech/schemabase/core/schema"
)

// Memory is an in process DAO. It is safe for concurrent use.
//
// Unique indexes are sparse: records without a value for an indexed field do
// not collide.
type Memory struct {
	mutex   sync.RWMutex
	records map[string]Record
	unique  [][]string
}

// NewMemory returns an empty in memory store
func NewMemory() *Memory {
	return &Memory{records: map[string]Record{}}
}

// CreateIndexes implements DAO. Only unique indexes have an effect.
func (m *Memory) CreateIndexes(ctx context.Context, entity *schema.Entity) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.unique = nil
	for _, index := range entity.UniqueIndexes() {
		m.unique = append(m.unique, append([]string{}, index.Keys.Keys()...))
	}
	return nil
}

// FindOne implements DAO
func (m *Memory) FindOne(ctx context.Context, filter Filter) (Record, error) {
	rs, err := m.FindAndReturnCursor(ctx, filter, FindOptions{Limit: 1})
	if err != nil || len(rs.Items) == 0 {
		return nil, err
	}
	return rs.Items[0], nil
}

// FindOneByID implements DAO
func (m *Memory) FindOneByID(ctx context.Context, id string) (Record, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.records[id].Clone(), nil
}

// FindAndReturnCursor implements DAO
func (m *Memory) FindAndReturnCursor(ctx context.Context, filter Filter, options FindOptions) (*ResultSet, error) {
	m.mutex.RLock()
	var matched []Record
	for _, r := range m.records {
		if matches(r, filter) {
			matched = append(matched, r)
		}
	}
	m.mutex.RUnlock()

	order := options.Sort
	if len(order) == 0 {
		order = Sort{{Field: schema.FieldID}}
	}
	order = order.WithTiebreaker()
	sort.SliceStable(matched, func(i, j int) bool {
		return comparePosition(matched[i], matched[j], order) < 0
	})

	total := len(matched)
	var items []Record
	for _, r := range matched {
		if options.After != nil && cursorCovers(options.After, order) && comparePosition(r, options.After, order) <= 0 {
			continue
		}
		if options.Before != nil && cursorCovers(options.Before, order) && comparePosition(r, options.Before, order) >= 0 {
			continue
		}
		items = append(items, r)
	}
	if options.Skip > 0 {
		if options.Skip >= len(items) {
			items = nil
		} else {
			items = items[options.Skip:]
		}
	}
	if options.Limit > 0 && len(items) > options.Limit {
		items = items[:options.Limit]
	}
	for i := range items {
		items[i] = items[i].Clone()
	}
	return &ResultSet{
		Items: items,
		count: func(ctx context.Context) (int, error) { return total, nil },
	}, nil
}

// InsertOne implements DAO
func (m *Memory) InsertOne(ctx context.Context, record Record) (Record, error) {
	r := record.Clone()
	if r == nil {
		r = Record{}
	}
	if len(r.ID()) == 0 {
		r[schema.FieldID] = NewID()
	}
	t := now()
	r[schema.FieldCreatedAt] = t
	r[schema.FieldUpdatedAt] = t

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.records[r.ID()]; ok {
		return nil, ErrDuplicateKey
	}
	if m.violatesUnique(r) {
		return nil, ErrDuplicateKey
	}
	m.records[r.ID()] = r
	return r.Clone(), nil
}

// UpdateOne implements DAO
func (m *Memory) UpdateOne(ctx context.Context, id string, partial Record) (Record, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	existing, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	r := existing.Clone()
	for key, value := range partial.Clone() {
		if systemField(key) {
			continue
		}
		r[key] = value
	}
	r[schema.FieldUpdatedAt] = now()
	if m.violatesUnique(r) {
		return nil, ErrDuplicateKey
	}
	m.records[id] = r
	return r.Clone(), nil
}

// DeleteOne implements DAO
func (m *Memory) DeleteOne(ctx context.Context, id string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.records[id]
	delete(m.records, id)
	return ok, nil
}

// violatesUnique must be called with the lock held
func (m *Memory) violatesUnique(r Record) bool {
	for _, fields := range m.unique {
		key, ok := uniqueKey(r, fields)
		if !ok {
			continue
		}
		for id, other := range m.records {
			if id == r.ID() {
				continue
			}
			if otherKey, ok := uniqueKey(other, fields); ok && otherKey == key {
				return true
			}
		}
	}
	return false
}

func uniqueKey(r Record, fields []string) (string, bool) {
	parts := make([]string, len(fields))
	for i, field := range fields {
		value, ok := r[field]
		if !ok || value == nil {
			return "", false
		}
		parts[i] = jsonText(value)
	}
	return strings.Join(parts, "\x00"), true
}

var _ DAO = (*Memory)(nil)
