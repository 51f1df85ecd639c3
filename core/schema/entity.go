// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package schema

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/schemabase/core"
	"github.com/relabs-tech/schemabase/core/access"
	"github.com/relabs-tech/schemabase/core/expression"
)

// names of the system managed fields every entity has
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// JoinType selects whether a join yields one record or a list
type JoinType string

// all join types
const (
	JoinFindOne  JoinType = "findOne"
	JoinFindMany JoinType = "findMany"
)

// JoinProperty is a computed relationship to records of another entity.
//
// Every query value is either a literal or a template with {this.path} or
// {user.path} placeholders, see package expression.
type JoinProperty struct {
	Type        JoinType               `json:"type"`
	Entity      string                 `json:"entity"`
	Query       map[string]interface{} `json:"query"`
	Permissions access.Permissions     `json:"permissions,omitempty"`
}

// Index is a store index over one or more fields. Keys map field names to
// 1 (ascending) or -1 (descending).
type Index struct {
	Name   string       `json:"name,omitempty"`
	Keys   Ordered[int] `json:"keys"`
	Unique bool         `json:"unique,omitempty"`
}

// EntityPermissions are the action permissions of an entity plus per property overrides
type EntityPermissions struct {
	access.Permissions
	Properties map[string]access.Permissions `json:"properties,omitempty"`
}

// Schema is the JSON-schema like field declaration of an entity
type Schema struct {
	ID         string     `json:"$id,omitempty"`
	Title      string     `json:"title,omitempty"`
	Required   []string   `json:"required,omitempty"`
	Properties Properties `json:"properties"`
}

// Entity is the configuration of one entity
type Entity struct {
	Name         string                 `json:"entity_name"`
	SingularName string                 `json:"singular_name,omitempty"`
	Collection   string                 `json:"collection_name,omitempty"`
	APIKey       string                 `json:"api_key,omitempty"`
	Description  string                 `json:"description,omitempty"`
	Permissions  EntityPermissions      `json:"permissions"`
	Schema       Schema                 `json:"schema"`
	Joins        Ordered[*JoinProperty] `json:"join_properties"`
	Indexes      []Index                `json:"indexes,omitempty"`

	ownerField string
	templates  map[string]*expression.Template
}

// ParseEntity parses an entity configuration from JSON
func ParseEntity(data []byte) (*Entity, error) {
	e := &Entity{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("cannot parse entity configuration: %w", err)
	}
	return e, nil
}

// Normalize completes the configuration with everything that is implied
// and checks it for errors. It must be called once before the entity is used.
//
// identityEntity is the name of the entity whose records are the callers.
func (e *Entity) Normalize(identityEntity string) error {
	if len(e.Name) == 0 {
		return fmt.Errorf("entity without entity_name")
	}
	if len(e.SingularName) == 0 {
		e.SingularName = core.Singular(e.Name)
	}
	if len(e.Collection) == 0 {
		e.Collection = e.Name
	}
	if len(e.APIKey) == 0 {
		e.APIKey = FieldID
	}
	if e.Permissions.Properties == nil {
		e.Permissions.Properties = map[string]access.Permissions{}
	}
	e.Schema.ID = RefEntityPrefix + e.SingularName

	system := access.Rule{access.PermissionSystem}
	props := &e.Schema.Properties

	if _, ok := props.Get(FieldID); !ok {
		props.Set(FieldID, &Property{Type: "string", Format: FormatID})
	}
	props.Set(FieldCreatedAt, &Property{Format: FormatDateTime})
	props.Set(FieldUpdatedAt, &Property{Format: FormatDateTime})
	for _, name := range []string{FieldCreatedAt, FieldUpdatedAt} {
		perms := e.Permissions.Properties[name]
		if perms.Get == nil {
			perms.Get = e.Permissions.Get
		}
		if perms.Get == nil {
			perms.Get = system
		}
		e.Permissions.Properties[name] = perms
	}

	e.templates = map[string]*expression.Template{}
	e.ownerField = ""
	for _, key := range props.Keys() {
		p, _ := props.Get(key)
		if p == nil {
			return fmt.Errorf("%s: empty property %s", e.Name, key)
		}
		if err := p.check(e.Name + "." + key); err != nil {
			return err
		}
		forced := key == FieldID || key == FieldCreatedAt || key == FieldUpdatedAt
		switch p.Kind() {
		case KindUserRef:
			forced = true
			if len(e.ownerField) == 0 {
				e.ownerField = key
			}
		case KindEval:
			forced = true
			t, err := expression.Parse(p.Expression())
			if err != nil {
				return fmt.Errorf("%s.%s: %w", e.Name, key, err)
			}
			e.templates[key] = t
		case KindSlug:
			forced = true
			if _, ok := props.Get(p.SetFrom); !ok {
				return fmt.Errorf("%s.%s: slug source %s is not a property", e.Name, key, p.SetFrom)
			}
		case KindScalar, KindObject, KindArray, KindID, KindEntityRef, KindHash, KindDateTime:
		default:
			Unreachable(p.Kind())
		}
		if forced {
			perms := e.Permissions.Properties[key]
			perms.Create, perms.Update = system, system
			e.Permissions.Properties[key] = perms
		}
	}
	if e.Name == identityEntity {
		e.ownerField = FieldID
	}

	if _, ok := props.Get(e.APIKey); !ok {
		return fmt.Errorf("%s: api_key %s is not a property", e.Name, e.APIKey)
	}
	for _, name := range e.Schema.Required {
		if _, ok := props.Get(name); !ok {
			return fmt.Errorf("%s: required property %s is not declared", e.Name, name)
		}
	}

	for _, name := range e.Joins.Keys() {
		join, _ := e.Joins.Get(name)
		if join == nil || len(join.Entity) == 0 {
			return fmt.Errorf("%s: join %s needs an entity", e.Name, name)
		}
		if join.Type != JoinFindOne && join.Type != JoinFindMany {
			return fmt.Errorf("%s: join %s has unknown type %q", e.Name, name, join.Type)
		}
		if _, ok := props.Get(name); ok {
			return fmt.Errorf("%s: join %s shadows a property", e.Name, name)
		}
		for key, value := range join.Query {
			s, ok := value.(string)
			if !ok {
				continue
			}
			t, err := expression.Parse(s)
			if err != nil {
				return fmt.Errorf("%s: join %s query %s: %w", e.Name, name, key, err)
			}
			e.templates[joinTemplateKey(name, key)] = t
		}
	}

	for i, index := range e.Indexes {
		if index.Keys.Len() == 0 {
			return fmt.Errorf("%s: index %d has no keys", e.Name, i)
		}
	}
	return nil
}

func joinTemplateKey(join, key string) string {
	return "join:" + join + ":" + key
}

// OwnerField returns the name of the property holding the owner's identity,
// or an empty string if the entity has no ownership.
func (e *Entity) OwnerField() string {
	return e.ownerField
}

// Property returns the top-level property name
func (e *Entity) Property(name string) (*Property, bool) {
	return e.Schema.Properties.Get(name)
}

// PropertyPermissions returns the permissions of a property, the entity
// permissions merged with the property override.
func (e *Entity) PropertyPermissions(name string) access.Permissions {
	return e.Permissions.Permissions.Merge(e.Permissions.Properties[name])
}

// JoinPermissions returns the permissions of a join, the entity permissions
// merged with the join override.
func (e *Entity) JoinPermissions(join *JoinProperty) access.Permissions {
	return e.Permissions.Permissions.Merge(join.Permissions)
}

// EvalTemplate returns the parsed expression of an eval property
func (e *Entity) EvalTemplate(name string) (*expression.Template, bool) {
	t, ok := e.templates[name]
	return t, ok
}

// JoinTemplate returns the parsed template of a string join query value
func (e *Entity) JoinTemplate(join, key string) (*expression.Template, bool) {
	t, ok := e.templates[joinTemplateKey(join, key)]
	return t, ok
}

// IsRequired returns true if name is a required top-level property
func (e *Entity) IsRequired(name string) bool {
	for _, r := range e.Schema.Required {
		if r == name {
			return true
		}
	}
	return false
}

// UniqueIndexes returns all unique indexes, including those implied by
// properties marked unique.
func (e *Entity) UniqueIndexes() []Index {
	var indexes []Index
	for _, key := range e.Schema.Properties.Keys() {
		p, _ := e.Schema.Properties.Get(key)
		if p.Unique {
			index := Index{Name: e.Collection + "_" + key + "_unique", Unique: true}
			index.Keys.Set(key, 1)
			indexes = append(indexes, index)
		}
	}
	for _, index := range e.Indexes {
		if index.Unique {
			indexes = append(indexes, index)
		}
	}
	return indexes
}
