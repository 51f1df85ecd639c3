/*
Package registry keeps the registered entities of a backend.

Every entry pairs the normalized configuration of an entity with the data
access object of its records. Entity configurations are loaded from a Source:
a directory of JSON or YAML files, the "_registry_" table of a postgres
database, or a prefix in an S3 bucket.
*/
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/relabs-tech/schemabase/core/schema"
	"github.com/relabs-tech/schemabase/core/store"
)

// ErrNotRegistered is returned for entities that are not registered
var ErrNotRegistered = errors.New("entity not registered")

// Entry is a registered entity
type Entry struct {
	Config *schema.Entity
	DAO    store.DAO
}

// Registry maps entity names to their entries. It is safe for concurrent
// use. Registering an entity again replaces the previous entry.
type Registry struct {
	mutex    sync.RWMutex
	entries  map[string]*Entry
	singular map[string]string
}

// New returns an empty registry
func New() *Registry {
	r := &Registry{}
	r.Reset()
	return r
}

// Init replaces all entries with entries
func (r *Registry) Init(entries []*Entry) error {
	m := make(map[string]*Entry, len(entries))
	singular := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry == nil || entry.Config == nil || entry.DAO == nil {
			return fmt.Errorf("incomplete registry entry")
		}
		m[entry.Config.Name] = entry
		singular[entry.Config.SingularName] = entry.Config.Name
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.entries, r.singular = m, singular
	return nil
}

// Register adds or replaces the entry of an entity. The configuration must be normalized.
func (r *Registry) Register(config *schema.Entity, dao store.DAO) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if previous, ok := r.entries[config.Name]; ok {
		delete(r.singular, previous.Config.SingularName)
	}
	r.entries[config.Name] = &Entry{Config: config, DAO: dao}
	r.singular[config.SingularName] = config.Name
}

// Get returns the entry of entity name
func (r *Registry) Get(name string) (*Entry, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return entry, nil
}

// PluralName returns the entity name for its singular name, as used by
// entity references.
func (r *Registry) PluralName(singular string) (string, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	name, ok := r.singular[singular]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotRegistered, singular)
	}
	return name, nil
}

// Entries returns all entries ordered by entity name
func (r *Registry) Entries() []*Entry {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Config.Name < entries[j].Config.Name })
	return entries
}

// Reset removes all entries
func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.entries = map[string]*Entry{}
	r.singular = map[string]string{}
}
