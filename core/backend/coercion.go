package backend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"golang.org/x/crypto/bcrypt"

	"github.com/relabs-tech/schemabase/core"
	"github.com/relabs-tech/schemabase/core/access"
	"github.com/relabs-tech/schemabase/core/expression"
	"github.com/relabs-tech/schemabase/core/logger"
	"github.com/relabs-tech/schemabase/core/schema"
	"github.com/relabs-tech/schemabase/core/store"
)

// hashCost is the bcrypt cost of hash fields
const hashCost = 12

// defaultAffixChars is the length of random slug affixes without explicit chars
const defaultAffixChars = 4

// recordFromBody builds the record to store from the request body. For
// create the result is the complete record, for update only the fields to
// change. Persisted is the stored record for update and nil for create.
func (c *Controller) recordFromBody(ctx context.Context, req *Request, caller access.Caller, action core.Action, persisted store.Record) (store.Record, error) {
	props := &c.config.Schema.Properties
	// coercion works on a copy, hooks see the body as it was sent
	body := map[string]interface{}(store.Record(req.Body).Clone())
	if body == nil {
		body = map[string]interface{}{}
	}
	schema.CoerceScalars(props, body)
	if err := c.validators[action].Validate(body); err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			return nil, BadRequest("%s", verr.Error())
		}
		return nil, ServerError(err)
	}

	create := action == core.ActionCreate
	// input is what expressions and slugs see: the body with defaults on
	// create, the stored record with the body applied on update
	input := body
	if create {
		for _, key := range props.Keys() {
			p, _ := props.Get(key)
			if _, ok := input[key]; !ok && p.Default != nil {
				input[key] = p.Default
			}
		}
	} else {
		input = persisted.Clone()
		for key, value := range body {
			input[key] = value
		}
	}

	record := store.Record{}
	owner := c.config.OwnerField()
	for _, key := range props.Keys() {
		p, _ := props.Get(key)
		rule := c.config.PropertyPermissions(key).Rule(action)
		permitted := access.HasValidPermission(caller, persisted, owner, rule)
		_, supplied := body[key]

		var set bool
		switch p.Kind() {
		case schema.KindUserRef:
			set = create || (permitted && !p.ReadOnly && supplied)
		case schema.KindEval:
			set = true
		case schema.KindSlug:
			_, sourceSupplied := body[p.SetFrom]
			set = create || sourceSupplied
		case schema.KindScalar, schema.KindObject, schema.KindArray, schema.KindID, schema.KindEntityRef, schema.KindHash, schema.KindDateTime:
			set = permitted && (create || (!p.ReadOnly && supplied))
		default:
			schema.Unreachable(p.Kind())
		}
		if !set {
			continue
		}
		value, ok, err := c.resolveFieldValue(ctx, req, caller, p, key, input, !create)
		if err != nil {
			return nil, err
		}
		if ok {
			record[key] = value
		}
	}
	return record, nil
}

// resolveFieldValue computes the value of one top-level field from input.
// It returns false if the field gets no value.
func (c *Controller) resolveFieldValue(ctx context.Context, req *Request, caller access.Caller, p *schema.Property, key string, input map[string]interface{}, ignoreDefaults bool) (interface{}, bool, error) {
	def := p.Default
	if ignoreDefaults {
		def = nil
	}
	value, supplied := input[key]
	if !supplied {
		value = def
	}

	switch p.Kind() {
	case schema.KindUserRef:
		if caller.IsAuthenticated() {
			return caller.ID, true, nil
		}
		if def == nil {
			if c.config.IsRequired(key) {
				return nil, false, BadRequest("%s is required", key)
			}
			return nil, false, nil
		}
		id, err := coerceID(key, def)
		return id, err == nil, err
	case schema.KindID, schema.KindEntityRef:
		if value == nil {
			return nil, false, nil
		}
		id, err := coerceID(key, value)
		return id, err == nil, err
	case schema.KindHash:
		if value == nil {
			return nil, false, nil
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(expression.Format(value)), hashCost)
		if err != nil {
			return nil, false, ServerError(fmt.Errorf("cannot hash %s: %w", key, err))
		}
		return string(hash), true, nil
	case schema.KindEval:
		t, _ := c.config.EvalTemplate(key)
		result, ok, err := t.Evaluate(ctx, c.scope(req, input))
		if err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("Error 4640: cannot evaluate %s.%s", c.config.Name, key)
			return nil, false, ServerError(err)
		}
		if !ok || isFalsy(result) {
			if p.Default == nil {
				if c.config.IsRequired(key) {
					return nil, false, BadRequest("%s is required", key)
				}
				return nil, false, nil
			}
			return p.Default, true, nil
		}
		return result, true, nil
	case schema.KindSlug:
		s, err := c.slugValue(p, input)
		if err != nil {
			return nil, false, err
		}
		if len(s) == 0 {
			if c.config.IsRequired(key) {
				return nil, false, BadRequest("%s is required", key)
			}
			return nil, false, nil
		}
		return s, true, nil
	case schema.KindDateTime, schema.KindScalar, schema.KindObject, schema.KindArray:
		if !supplied && def == nil {
			return nil, false, nil
		}
		coerced, err := coerceField(key, p, value)
		return coerced, err == nil, err
	default:
		schema.Unreachable(p.Kind())
	}
	return nil, false, nil
}

// coerceField converts a validated value to its stored form: identities are
// canonical, points in time are time.Time and objects only keep declared fields.
func coerceField(path string, p *schema.Property, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch p.Kind() {
	case schema.KindObject:
		m, ok := value.(map[string]interface{})
		if !ok || p.Properties.Len() == 0 {
			return value, nil
		}
		object := make(map[string]interface{}, len(m))
		for _, key := range p.Properties.Keys() {
			child, ok := m[key]
			if !ok {
				continue
			}
			cp, _ := p.Properties.Get(key)
			coerced, err := coerceField(path+"."+key, cp, child)
			if err != nil {
				return nil, err
			}
			object[key] = coerced
		}
		return object, nil
	case schema.KindArray:
		list, ok := value.([]interface{})
		if !ok || p.Items == nil {
			return value, nil
		}
		items := make([]interface{}, len(list))
		for i, item := range list {
			coerced, err := coerceField(path+"["+strconv.Itoa(i)+"]", p.Items, item)
			if err != nil {
				return nil, err
			}
			items[i] = coerced
		}
		return items, nil
	case schema.KindID, schema.KindEntityRef, schema.KindUserRef:
		return coerceID(path, value)
	case schema.KindDateTime:
		t, ok := parseDateTime(value)
		if !ok {
			return nil, BadRequest("%s is not a valid date-time", path)
		}
		return t, nil
	case schema.KindHash:
		hash, err := bcrypt.GenerateFromPassword([]byte(expression.Format(value)), hashCost)
		if err != nil {
			return nil, ServerError(fmt.Errorf("cannot hash %s: %w", path, err))
		}
		return string(hash), nil
	case schema.KindScalar, schema.KindEval, schema.KindSlug:
		return value, nil
	default:
		schema.Unreachable(p.Kind())
	}
	return value, nil
}

func coerceID(key string, value interface{}) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", BadRequest("%s is not a valid id", key)
	}
	id, err := store.CanonicalID(s)
	if err != nil {
		return "", BadRequest("%s is not a valid id", key)
	}
	return id, nil
}

// parseDateTime accepts epoch milliseconds, RFC 3339 timestamps and dates
func parseDateTime(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), true
	case float64:
		return time.UnixMilli(int64(v)).UTC(), true
	case int:
		return time.UnixMilli(int64(v)).UTC(), true
	case int64:
		return time.UnixMilli(v).UTC(), true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), true
			}
		}
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
	}
	return time.Time{}, false
}

func isFalsy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case bool:
		return !v
	case string:
		return len(v) == 0
	case float64:
		return v == 0
	}
	return false
}

// slugValue computes a slug field from its source field
func (c *Controller) slugValue(p *schema.Property, input map[string]interface{}) (string, error) {
	source, ok := input[p.SetFrom]
	if !ok || source == nil {
		return "", nil
	}
	s := slug.Make(strings.TrimSpace(expression.Format(source)))
	if len(s) == 0 {
		return "", nil
	}
	prefix, err := affixValue(p.Prefix)
	if err != nil {
		return "", err
	}
	suffix, err := affixValue(p.Suffix)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, 3)
	for _, part := range []string{prefix, s, suffix} {
		if len(part) > 0 {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "-"), nil
}

func affixValue(affix *schema.SlugAffix) (string, error) {
	if affix == nil {
		return "", nil
	}
	switch affix.Type {
	case "static":
		return slug.Make(affix.Value), nil
	case "random":
		chars := affix.Chars
		if chars <= 0 {
			chars = defaultAffixChars
		}
		b := make([]byte, (chars+1)/2)
		if _, err := rand.Read(b); err != nil {
			return "", ServerError(fmt.Errorf("cannot generate slug affix: %w", err))
		}
		return hex.EncodeToString(b)[:chars], nil
	}
	return "", nil
}
