package backend

import (
	"context"
	"sync"

	"github.com/relabs-tech/schemabase/core/logger"
	"github.com/relabs-tech/schemabase/core/store"
)

// Phase is a point in the request pipeline at which hooks run
type Phase string

// all hook phases
const (
	BeforeGet    Phase = "beforeGet"
	AfterGet     Phase = "afterGet"
	BeforeCreate Phase = "beforeCreate"
	AfterCreate  Phase = "afterCreate"
	BeforeUpdate Phase = "beforeUpdate"
	AfterUpdate  Phase = "afterUpdate"
	BeforeDelete Phase = "beforeDelete"
	AfterDelete  Phase = "afterDelete"
)

// Event is passed to hooks
type Event struct {
	Entity string
	Phase  Phase
	// Record is the record the pipeline works on. For BeforeCreate it is the
	// record about to be inserted, for BeforeUpdate the persisted record, for
	// the after phases the stored result. Before-hooks may modify it.
	Record store.Record
	// Request is the request that triggered the pipeline
	Request *Request
}

// Hook is a handler for pipeline events.
//
// A non-nil error aborts the pipeline and is returned to the caller. Return an
// *Error to answer with a specific status, any other error results in a 500.
type Hook func(ctx context.Context, event *Event) error

// AnyEntity installs a hook for all entities
const AnyEntity = ""

// Hooks is an event bus for pipeline events. Hooks run in the order they were
// installed, hooks for a specific entity before hooks for AnyEntity.
type Hooks struct {
	mutex    sync.RWMutex
	handlers map[string][]Hook
}

// NewHooks returns an empty event bus
func NewHooks() *Hooks {
	return &Hooks{handlers: map[string][]Hook{}}
}

func hookKey(entity string, phase Phase) string {
	return entity + "(" + string(phase) + ")"
}

// Handle installs a hook for entity and phase. Use AnyEntity for hooks that
// shall run for every entity.
func (h *Hooks) Handle(entity string, phase Phase, hook Hook) {
	key := hookKey(entity, phase)
	h.mutex.Lock()
	defer h.mutex.Unlock()
	logger.Default().Debugf("install hook for %s", key)
	h.handlers[key] = append(h.handlers[key], hook)
}

// Run runs all hooks for entity and phase and stops at the first error
func (h *Hooks) Run(ctx context.Context, entity string, phase Phase, record store.Record, request *Request) error {
	h.mutex.RLock()
	hooks := append([]Hook{}, h.handlers[hookKey(entity, phase)]...)
	if entity != AnyEntity {
		hooks = append(hooks, h.handlers[hookKey(AnyEntity, phase)]...)
	}
	h.mutex.RUnlock()

	if len(hooks) == 0 {
		return nil
	}
	event := &Event{Entity: entity, Phase: phase, Record: record, Request: request}
	for _, hook := range hooks {
		if err := hook(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
