package backend

import (
	"context"
	"fmt"

	"github.com/relabs-tech/schemabase/core/expression"
	"github.com/relabs-tech/schemabase/core/schema"
)

// scope resolves template placeholders for one record of an entity.
//
// {this.a.b} walks the record. When a segment is an entity reference and the
// path goes on, the referenced record is fetched and the walk continues there.
// {user.a.b} does the same starting at the caller's own record.
type scope struct {
	b      *Backend
	req    *Request
	entity *schema.Entity
	this   map[string]interface{}
}

func (c *Controller) scope(req *Request, this map[string]interface{}) *scope {
	return &scope{b: c.b, req: req, entity: c.config, this: this}
}

// Resolve implements expression.Resolver
func (s *scope) Resolve(ctx context.Context, path expression.Path) (interface{}, bool, error) {
	switch path.Root {
	case expression.RootThis:
		return s.walk(ctx, s.entity, s.this, path.Segments)
	case expression.RootUser:
		user, err := s.b.userRecord(ctx, s.req)
		if err != nil || user == nil {
			return nil, false, err
		}
		entry, err := s.b.registry.Get(s.b.identityEntity)
		if err != nil {
			return nil, false, err
		}
		return s.walk(ctx, entry.Config, user, path.Segments)
	}
	return nil, false, fmt.Errorf("unknown placeholder root %s", path.Root)
}

func (s *scope) walk(ctx context.Context, entity *schema.Entity, record map[string]interface{}, segments []string) (interface{}, bool, error) {
	props := &entity.Schema.Properties
	var value interface{} = record
	for i, segment := range segments {
		m, ok := value.(map[string]interface{})
		if !ok {
			return nil, false, nil
		}
		if value, ok = m[segment]; !ok || value == nil {
			return nil, false, nil
		}
		p, _ := props.Get(segment)
		if p == nil || i == len(segments)-1 {
			// undeclared data is still walked, but without references
			props = nil
			continue
		}
		switch p.Kind() {
		case schema.KindEntityRef, schema.KindUserRef:
			id, ok := value.(string)
			if !ok {
				return nil, false, nil
			}
			target, err := s.b.referenceTarget(p)
			if err != nil {
				return nil, false, err
			}
			referenced, err := target.dao.FindOneByID(ctx, id)
			if err != nil || referenced == nil {
				return nil, false, err
			}
			value, props = map[string]interface{}(referenced), &target.config.Schema.Properties
		case schema.KindObject:
			props = p.Properties
		case schema.KindScalar, schema.KindArray, schema.KindID, schema.KindHash, schema.KindEval, schema.KindSlug, schema.KindDateTime:
			props = nil
		default:
			schema.Unreachable(p.Kind())
		}
	}
	return value, true, nil
}

// referenceTarget returns the controller of the entity a reference points to
func (b *Backend) referenceTarget(p *schema.Property) (*Controller, error) {
	name := b.identityEntity
	if p.Kind() == schema.KindEntityRef {
		var err error
		if name, err = b.registry.PluralName(p.RefTarget()); err != nil {
			return nil, fmt.Errorf("reference %s: %w", p.Ref, err)
		}
	}
	c, err := b.Controller(name)
	if err != nil {
		return nil, fmt.Errorf("reference %s: %w", p.Ref, err)
	}
	return c, nil
}
