package backend

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"github.com/relabs-tech/schemabase/core"
	"github.com/relabs-tech/schemabase/core/access"
	"github.com/relabs-tech/schemabase/core/logger"
	"github.com/relabs-tech/schemabase/core/registry"
	"github.com/relabs-tech/schemabase/core/schema"
	"github.com/relabs-tech/schemabase/core/store"
)

// Request is an entity request, independent of the transport it came in with
type Request struct {
	// Entity is the name of the requested entity
	Entity string
	// Key is the api key value of the requested record, empty for list and create
	Key string
	// Query holds the parameters of the request: populate, filter, sort and pagination
	Query url.Values
	// Body is the decoded request body for create and update
	Body map[string]interface{}

	caller *access.Caller
	user   store.Record
}

// Controller runs the request pipelines of one entity
type Controller struct {
	b          *Backend
	entry      *registry.Entry
	config     *schema.Entity
	dao        store.DAO
	validators map[core.Action]*schema.Validator
}

func newController(b *Backend, entry *registry.Entry) (*Controller, error) {
	c := &Controller{
		b:          b,
		entry:      entry,
		config:     entry.Config,
		dao:        entry.DAO,
		validators: map[core.Action]*schema.Validator{},
	}
	for _, action := range []core.Action{core.ActionCreate, core.ActionUpdate} {
		v, err := schema.NewValidator(entry.Config, action)
		if err != nil {
			return nil, err
		}
		c.validators[action] = v
	}
	return c, nil
}

// Config returns the configuration of the controller's entity
func (c *Controller) Config() *schema.Entity {
	return c.config
}

func (c *Controller) populate(req *Request) Populate {
	if req.Query == nil {
		return nil
	}
	return ParsePopulate(req.Query.Get("populate"), c.b.populateDepth)
}

// findByAPIKey returns the record whose api key field has the requested
// value, or nil. The value is converted to the type of the key field.
func (c *Controller) findByAPIKey(ctx context.Context, req *Request) (store.Record, error) {
	key := c.config.APIKey
	if key == schema.FieldID {
		id, err := store.CanonicalID(req.Key)
		if err != nil {
			return nil, BadRequest("%s is not a valid id", key)
		}
		return c.dao.FindOneByID(ctx, id)
	}
	var value interface{} = req.Key
	p, _ := c.config.Property(key)
	switch p.Kind() {
	case schema.KindScalar:
		switch p.Type {
		case "boolean":
			value = req.Key == "true"
		case "number", "integer":
			f, err := strconv.ParseFloat(req.Key, 64)
			if err != nil {
				return nil, BadRequest("%s is not a valid number", key)
			}
			value = f
		}
	case schema.KindID, schema.KindEntityRef, schema.KindUserRef:
		id, err := coerceID(key, req.Key)
		if err != nil {
			return nil, err
		}
		value = id
	case schema.KindDateTime:
		t, ok := parseDateTime(req.Key)
		if !ok {
			return nil, BadRequest("%s is not a valid date-time", key)
		}
		value = t
	case schema.KindObject, schema.KindArray, schema.KindHash, schema.KindEval, schema.KindSlug:
	default:
		schema.Unreachable(p.Kind())
	}
	return c.dao.FindOne(ctx, store.Where(key, value))
}

// authorize returns the caller if rule permits the action on record
func (c *Controller) authorize(ctx context.Context, req *Request, record store.Record, action core.Action) (access.Caller, error) {
	caller, err := c.b.caller(ctx, req)
	if err != nil {
		return caller, ServerError(err)
	}
	if !access.HasValidPermission(caller, record, c.config.OwnerField(), c.config.Permissions.Rule(action)) {
		return caller, Unauthorized()
	}
	return caller, nil
}

func (c *Controller) hook(ctx context.Context, phase Phase, record store.Record, req *Request) error {
	return c.b.hooks.Run(ctx, c.config.Name, phase, record, req)
}

// Get returns the projection of one record
func (c *Controller) Get(ctx context.Context, req *Request) (*Item, error) {
	record, err := c.findByAPIKey(ctx, req)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, NotFound(c.config.SingularName)
	}
	caller, err := c.authorize(ctx, req, record, core.ActionGet)
	if err != nil {
		return nil, err
	}
	if err = c.hook(ctx, BeforeGet, record, req); err != nil {
		return nil, err
	}
	item, err := c.project(ctx, req, caller, record, c.populate(req), 0)
	if err != nil {
		return nil, err
	}
	if err = c.hook(ctx, AfterGet, record, req); err != nil {
		return nil, err
	}
	return item, nil
}

// Create creates a record from the request body and returns its projection
func (c *Controller) Create(ctx context.Context, req *Request) (*Item, error) {
	caller, err := c.authorize(ctx, req, nil, core.ActionCreate)
	if err != nil {
		return nil, err
	}
	record, err := c.recordFromBody(ctx, req, caller, core.ActionCreate, nil)
	if err != nil {
		return nil, err
	}
	if err = c.hook(ctx, BeforeCreate, record, req); err != nil {
		return nil, err
	}
	inserted, err := c.dao.InsertOne(ctx, record)
	if errors.Is(err, store.ErrDuplicateKey) {
		return nil, BadRequest("Duplicated key")
	}
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debugf("created %s %s", c.config.SingularName, inserted.ID())
	if err = c.hook(ctx, AfterCreate, inserted, req); err != nil {
		return nil, err
	}
	return c.project(ctx, req, caller, inserted, c.populate(req), 0)
}

// Update changes the fields of a record that are in the request body and
// returns the projection of the updated record
func (c *Controller) Update(ctx context.Context, req *Request) (*Item, error) {
	record, err := c.findByAPIKey(ctx, req)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, NotFound(c.config.SingularName)
	}
	caller, err := c.authorize(ctx, req, record, core.ActionUpdate)
	if err != nil {
		return nil, err
	}
	if err = c.hook(ctx, BeforeUpdate, record, req); err != nil {
		return nil, err
	}
	partial, err := c.recordFromBody(ctx, req, caller, core.ActionUpdate, record)
	if err != nil {
		return nil, err
	}
	updated, err := c.dao.UpdateOne(ctx, record.ID(), partial)
	if errors.Is(err, store.ErrDuplicateKey) {
		return nil, BadRequest("Duplicated key")
	}
	if err != nil {
		return nil, err
	}
	if updated == nil {
		// deleted concurrently
		return nil, NotFound(c.config.SingularName)
	}
	if err = c.hook(ctx, AfterUpdate, updated, req); err != nil {
		return nil, err
	}
	return c.project(ctx, req, caller, updated, c.populate(req), 0)
}

// Delete deletes a record. Deleting a record that does not exist succeeds.
func (c *Controller) Delete(ctx context.Context, req *Request) (bool, error) {
	record, err := c.findByAPIKey(ctx, req)
	if err != nil {
		return false, err
	}
	if record == nil {
		return true, nil
	}
	if _, err = c.authorize(ctx, req, record, core.ActionDelete); err != nil {
		return false, err
	}
	if err = c.hook(ctx, BeforeDelete, record, req); err != nil {
		return false, err
	}
	if _, err = c.dao.DeleteOne(ctx, record.ID()); err != nil {
		return false, err
	}
	if err = c.hook(ctx, AfterDelete, record, req); err != nil {
		return false, err
	}
	return true, nil
}
