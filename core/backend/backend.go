package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/schemabase/core"
	"github.com/relabs-tech/schemabase/core/csql"
	"github.com/relabs-tech/schemabase/core/logger"
	"github.com/relabs-tech/schemabase/core/registry"
	"github.com/relabs-tech/schemabase/core/schema"
	"github.com/relabs-tech/schemabase/core/store"
)

// defaults of the Builder
const (
	DefaultPrefix             = "/api/v1"
	DefaultIdentityEntity     = "users"
	DefaultPopulateDepth      = 3
	DefaultMaxProjectionDepth = 4
)

// StoreFunc returns the data access object for a normalized entity
type StoreFunc func(ctx context.Context, entity *schema.Entity) (store.DAO, error)

// MemoryStore keeps every entity in process memory
func MemoryStore(ctx context.Context, entity *schema.Entity) (store.DAO, error) {
	return store.NewMemory(), nil
}

// PostgresStore keeps every entity in its own table of db
func PostgresStore(db *csql.DB) StoreFunc {
	return func(ctx context.Context, entity *schema.Entity) (store.DAO, error) {
		return store.NewPostgres(ctx, db, entity)
	}
}

// Backend is the generic entity backend
type Backend struct {
	router             *mux.Router
	registry           *registry.Registry
	hooks              *Hooks
	newDAO             StoreFunc
	prefix             string
	identityEntity     string
	populateDepth      int
	maxProjectionDepth int
	cors               bool

	mutex       sync.RWMutex
	controllers map[string]*Controller
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Entities are entity configurations to register. They are normalized by New.
	Entities []*schema.Entity
	// Sources provide more entity configurations, they are loaded once by New.
	Sources []registry.Source
	// Registry is the entity registry. If nil, a new registry is created.
	Registry *registry.Registry
	// Store creates the data access object of each entity. Default is MemoryStore.
	Store StoreFunc
	// Hooks is the pipeline event bus. If nil, a new one is created.
	Hooks *Hooks
	// Notifier receives a notification after every create, update and delete. This is optional.
	Notifier core.Notifier
	// Prefix is the path prefix of all routes. Default is /api/v1
	Prefix string
	// IdentityEntity is the entity whose records are the callers. Default is "users".
	IdentityEntity string
	// PopulateDepth is the maximum nesting of populate requests. Default is 3.
	PopulateDepth int
	// MaxProjectionDepth is the nesting level beyond which joins are not resolved. Default is 4.
	MaxProjectionDepth int
	// CORS enables the CORS middleware
	CORS bool
	// Compression enables response compression
	Compression bool
}

// New realizes the actual backend. It registers all entities, creates their
// indexes and adds the routes to the router.
//
// New panics for invalid configurations.
func New(bb *Builder) *Backend {
	if bb.Router == nil {
		panic("Router is missing")
	}
	b := &Backend{
		router:             bb.Router,
		registry:           bb.Registry,
		hooks:              bb.Hooks,
		newDAO:             bb.Store,
		prefix:             bb.Prefix,
		identityEntity:     bb.IdentityEntity,
		populateDepth:      bb.PopulateDepth,
		maxProjectionDepth: bb.MaxProjectionDepth,
		cors:               bb.CORS,
		controllers:        map[string]*Controller{},
	}
	if b.registry == nil {
		b.registry = registry.New()
	}
	if b.hooks == nil {
		b.hooks = NewHooks()
	}
	if b.newDAO == nil {
		b.newDAO = MemoryStore
	}
	if len(b.prefix) == 0 {
		b.prefix = DefaultPrefix
	}
	if len(b.identityEntity) == 0 {
		b.identityEntity = DefaultIdentityEntity
	}
	if b.populateDepth <= 0 {
		b.populateDepth = DefaultPopulateDepth
	}
	if b.maxProjectionDepth <= 0 {
		b.maxProjectionDepth = DefaultMaxProjectionDepth
	}

	ctx := context.Background()
	entities := append([]*schema.Entity{}, bb.Entities...)
	for _, source := range bb.Sources {
		loaded, err := source.Load(ctx)
		if err != nil {
			panic(fmt.Errorf("cannot load entity configurations: %w", err))
		}
		entities = append(entities, loaded...)
	}
	for _, entity := range entities {
		if err := b.RegisterEntity(ctx, entity); err != nil {
			panic(err)
		}
	}

	if bb.Notifier != nil {
		b.handleNotifications(bb.Notifier)
	}
	if bb.CORS {
		b.handleCORS()
	}
	if bb.Compression {
		b.handleCompression()
	}
	b.handleVersion()
	b.handleStatistics()
	b.handleRoutes()
	return b
}

// RegisterEntity normalizes the configuration of an entity, creates its data
// access object and indexes and registers it. An entity that is already
// registered is replaced.
func (b *Backend) RegisterEntity(ctx context.Context, entity *schema.Entity) error {
	if err := entity.Normalize(b.identityEntity); err != nil {
		return fmt.Errorf("invalid entity configuration: %w", err)
	}
	dao, err := b.newDAO(ctx, entity)
	if err != nil {
		return fmt.Errorf("cannot create store for %s: %w", entity.Name, err)
	}
	if err = dao.CreateIndexes(ctx, entity); err != nil {
		return fmt.Errorf("cannot create indexes for %s: %w", entity.Name, err)
	}
	b.registry.Register(entity, dao)
	logger.Default().Debugf("registered entity %s", entity.Name)
	return nil
}

// Controller returns the controller of entity name. Unknown entities yield
// registry.ErrNotRegistered.
func (b *Backend) Controller(name string) (*Controller, error) {
	entry, err := b.registry.Get(name)
	if err != nil {
		return nil, err
	}
	b.mutex.RLock()
	c := b.controllers[name]
	b.mutex.RUnlock()
	if c != nil && c.entry == entry {
		return c, nil
	}
	if c, err = newController(b, entry); err != nil {
		return nil, err
	}
	b.mutex.Lock()
	b.controllers[name] = c
	b.mutex.Unlock()
	return c, nil
}

// Registry returns the entity registry of the backend
func (b *Backend) Registry() *registry.Registry {
	return b.registry
}

// Hooks returns the pipeline event bus of the backend
func (b *Backend) Hooks() *Hooks {
	return b.hooks
}

// Router returns the router of the backend
func (b *Backend) Router() *mux.Router {
	return b.router
}
