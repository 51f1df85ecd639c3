package schema

import (
	"fmt"
	"strings"
)

// Kind is the closed set of field kinds. Every switch over a Kind must handle
// all of them and end with Unreachable.
type Kind int

// all field kinds
const (
	// KindScalar is a plain string, number, integer or boolean
	KindScalar Kind = iota
	// KindObject is a nested object with child properties
	KindObject
	// KindArray is a list of items described by one item property
	KindArray
	// KindID is an identity field
	KindID
	// KindEntityRef references the identity of a record in another entity
	KindEntityRef
	// KindUserRef references the caller identity and is populated on create
	KindUserRef
	// KindHash stores a one-way hash of the supplied value
	KindHash
	// KindEval is computed from an expression over the record and the caller
	KindEval
	// KindSlug is computed from another field
	KindSlug
	// KindDateTime is a point in time
	KindDateTime
)

var kindNames = [...]string{"scalar", "object", "array", "id", "entity-ref", "user-ref", "hash", "eval", "slug", "date-time"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Unreachable panics for a kind that a switch did not handle
func Unreachable(k Kind) {
	panic(fmt.Sprintf("unhandled field kind %s", k))
}

// reference and format markers
const (
	RefUser         = "#user"
	RefEntityPrefix = "#entity/"

	FormatID         = "id"
	FormatHash       = "hash"
	FormatEvalPrefix = "eval:"
	FormatSlug       = "slug"
	FormatDateTime   = "date-time"
)

// Properties are the child properties of an object, in declaration order
type Properties = Ordered[*Property]

// SlugAffix adds a prefix or suffix to a slug
type SlugAffix struct {
	// Type is "random" for random characters, or "static" for Value
	Type  string `json:"type"`
	Chars int    `json:"chars,omitempty"`
	Value string `json:"value,omitempty"`
}

// Property is a field definition. The JSON Schema keywords keep their usual
// spelling, extensions are snake_case.
type Property struct {
	Type        string              `json:"type,omitempty"`
	Format      string              `json:"format,omitempty"`
	Ref         string              `json:"$ref,omitempty"`
	Description string              `json:"description,omitempty"`
	Default     interface{}         `json:"default,omitempty"`
	ReadOnly    bool                `json:"readOnly,omitempty"`
	Unique      bool                `json:"unique,omitempty"`
	Enum        []interface{}       `json:"enum,omitempty"`
	Minimum     *float64            `json:"minimum,omitempty"`
	Maximum     *float64            `json:"maximum,omitempty"`
	MinLength   *int                `json:"minLength,omitempty"`
	MaxLength   *int                `json:"maxLength,omitempty"`
	Pattern     string              `json:"pattern,omitempty"`
	Properties  *Ordered[*Property] `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
	Items       *Property           `json:"items,omitempty"`

	SetFrom string     `json:"set_from,omitempty"`
	Prefix  *SlugAffix `json:"prefix,omitempty"`
	Suffix  *SlugAffix `json:"suffix,omitempty"`
}

// Kind returns the kind of the property
func (p *Property) Kind() Kind {
	switch {
	case p.Ref == RefUser:
		return KindUserRef
	case strings.HasPrefix(p.Ref, RefEntityPrefix):
		return KindEntityRef
	case p.Format == FormatID:
		return KindID
	case p.Format == FormatHash:
		return KindHash
	case strings.HasPrefix(p.Format, FormatEvalPrefix):
		return KindEval
	case p.Format == FormatSlug:
		return KindSlug
	case p.Format == FormatDateTime:
		return KindDateTime
	case p.Type == "object":
		return KindObject
	case p.Type == "array":
		return KindArray
	default:
		return KindScalar
	}
}

// IsReference returns true for properties holding the identity of another record
func (p *Property) IsReference() bool {
	k := p.Kind()
	return k == KindEntityRef || k == KindUserRef
}

// IsSystem returns true for properties the engine always computes itself
func (p *Property) IsSystem() bool {
	switch p.Kind() {
	case KindUserRef, KindEval, KindSlug:
		return true
	}
	return false
}

// RefTarget returns the singular entity name of an entity reference
func (p *Property) RefTarget() string {
	return strings.TrimPrefix(p.Ref, RefEntityPrefix)
}

// Expression returns the expression of an eval property
func (p *Property) Expression() string {
	return strings.TrimPrefix(p.Format, FormatEvalPrefix)
}

func (p *Property) check(path string) error {
	if len(p.Ref) > 0 && p.Ref != RefUser && (!strings.HasPrefix(p.Ref, RefEntityPrefix) || len(p.RefTarget()) == 0) {
		return fmt.Errorf("%s: invalid reference %q", path, p.Ref)
	}
	switch p.Kind() {
	case KindObject:
		for _, key := range p.Properties.Keys() {
			child, _ := p.Properties.Get(key)
			if child == nil {
				return fmt.Errorf("%s.%s: empty property", path, key)
			}
			if err := child.check(path + "." + key); err != nil {
				return err
			}
		}
	case KindArray:
		if p.Items != nil {
			return p.Items.check(path + "[]")
		}
	case KindSlug:
		if len(p.SetFrom) == 0 {
			return fmt.Errorf("%s: slug needs set_from", path)
		}
		for _, affix := range []*SlugAffix{p.Prefix, p.Suffix} {
			if affix != nil && affix.Type != "random" && affix.Type != "static" {
				return fmt.Errorf("%s: unknown slug affix type %q", path, affix.Type)
			}
		}
	case KindScalar, KindID, KindEntityRef, KindUserRef, KindHash, KindEval, KindDateTime:
	default:
		Unreachable(p.Kind())
	}
	return nil
}
