// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/relabs-tech/schemabase/core"
)

// Validator validates request bodies of one entity and action against a
// JSON schema generated from the entity's properties.
type Validator struct {
	entity string
	schema *gojsonschema.Schema
}

// ValidationError lists all violated constraints of a document
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, ", ")
}

// NewValidator compiles the validator of entity for action.
//
// For create, properties the engine computes itself and properties with a
// default are not required. For update nothing is required.
func NewValidator(e *Entity, action core.Action) (*Validator, error) {
	var required []string
	if action == core.ActionCreate {
		for _, name := range e.Schema.Required {
			p, _ := e.Property(name)
			if p.IsSystem() || p.Default != nil {
				continue
			}
			required = append(required, name)
		}
	}

	doc := objectSchema(&e.Schema.Properties, required)
	doc["$id"] = e.Schema.ID + "/" + string(action)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("cannot compile schema %s: %w", e.Schema.ID, err)
	}
	return &Validator{entity: e.Name, schema: schema}, nil
}

// Validate validates a decoded JSON document. If no error is returned, then
// the document is valid. Violations are reported as *ValidationError.
func (v *Validator) Validate(document map[string]interface{}) error {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("cannot validate %s: %w", v.entity, err)
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{}
	for _, e := range result.Errors() {
		if e.Type() == "required" {
			// the description names the missing property already
			verr.Messages = append(verr.Messages, v.entity+" "+e.Description())
			continue
		}
		field := e.Field()
		if field == "(root)" || field == "" {
			field = v.entity
		}
		verr.Messages = append(verr.Messages, field+" "+e.Description())
	}
	return verr
}

func objectSchema(props *Properties, required []string) map[string]interface{} {
	properties := map[string]interface{}{}
	for _, key := range props.Keys() {
		p, _ := props.Get(key)
		properties[key] = propertySchema(p)
	}
	doc := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func propertySchema(p *Property) map[string]interface{} {
	doc := map[string]interface{}{}
	switch p.Kind() {
	case KindID, KindEntityRef, KindUserRef:
		doc["type"] = "string"
		doc["format"] = "uuid"
	case KindHash, KindEval, KindSlug:
		// computed, the supplied value is only an input to the computation
	case KindDateTime:
		doc["type"] = []string{"string", "number"}
	case KindObject:
		doc = objectSchema(p.Properties, p.Required)
	case KindArray:
		doc["type"] = "array"
		if p.Items != nil {
			doc["items"] = propertySchema(p.Items)
		}
	case KindScalar:
		if len(p.Type) > 0 {
			doc["type"] = p.Type
		}
		if len(p.Format) > 0 {
			doc["format"] = p.Format
		}
		if len(p.Enum) > 0 {
			doc["enum"] = p.Enum
		}
		if p.Minimum != nil {
			doc["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			doc["maximum"] = *p.Maximum
		}
		if p.MinLength != nil {
			doc["minLength"] = *p.MinLength
		}
		if p.MaxLength != nil {
			doc["maxLength"] = *p.MaxLength
		}
		if len(p.Pattern) > 0 {
			doc["pattern"] = p.Pattern
		}
	default:
		Unreachable(p.Kind())
	}
	return doc
}
