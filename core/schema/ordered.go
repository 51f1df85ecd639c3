package schema

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"

	"github.com/goccy/go-json"
)

// Ordered is a JSON object that remembers the order of its keys. Entity
// schemas use it so that responses keep the declared field order.
//
// The zero value is an empty object ready to use.
type Ordered[T any] struct {
	keys   []string
	values map[string]T
}

// Set sets key to value. New keys are appended, existing keys keep their position.
func (o *Ordered[T]) Set(key string, value T) {
	if o.values == nil {
		o.values = map[string]T{}
	}
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// Get returns the value for key
func (o *Ordered[T]) Get(key string) (T, bool) {
	if o == nil {
		var zero T
		return zero, false
	}
	v, ok := o.values[key]
	return v, ok
}

// Keys returns the keys in declaration order
func (o *Ordered[T]) Keys() []string {
	if o == nil {
		return nil
	}
	return o.keys
}

// Len returns the number of keys
func (o *Ordered[T]) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// MarshalJSON writes the object with its keys in order
func (o Ordered[T]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(o.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object and records the order of its keys
func (o *Ordered[T]) UnmarshalJSON(data []byte) error {
	o.keys, o.values = nil, nil
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	// the token stream of the standard decoder is the only way to see key order
	dec := stdjson.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(stdjson.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected a JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", tok)
		}
		var raw stdjson.RawMessage
		if err = dec.Decode(&raw); err != nil {
			return err
		}
		var value T
		if err = json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		o.Set(key, value)
	}
	_, err = dec.Token()
	return err
}
