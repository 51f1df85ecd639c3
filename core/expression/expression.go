/*
Package expression implements the small template language used by computed
fields and join queries.

A template is text with placeholders. A placeholder is a dotted path in curly
braces starting at one of two roots:

	{this.address.city}   a value of the record being processed
	{user.email}          a value of the caller's own record

There are no operators and no function calls: evaluating a template never
executes code, it only looks up values through a Resolver. A template
consisting of exactly one placeholder evaluates to the raw value, any other
template evaluates to a string.
*/
package expression

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Root is the starting point of a placeholder path
type Root string

// the supported roots
const (
	RootThis Root = "this"
	RootUser Root = "user"
)

// Path is a parsed placeholder
type Path struct {
	Root     Root
	Segments []string
}

func (p Path) String() string {
	return string(p.Root) + "." + strings.Join(p.Segments, ".")
}

type part struct {
	literal string
	path    *Path
}

// Template is a parsed expression
type Template struct {
	source string
	parts  []part
}

// ErrSyntax is returned for templates that cannot be parsed
var ErrSyntax = errors.New("expression syntax error")

// Parse parses a template
func Parse(s string) (*Template, error) {
	t := &Template{source: s}
	rest := s
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			t.parts = append(t.parts, part{literal: rest})
			break
		}
		if open > 0 {
			t.parts = append(t.parts, part{literal: rest[:open]})
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			return nil, fmt.Errorf("%w: unclosed placeholder in %q", ErrSyntax, s)
		}
		path, err := parsePath(rest[open+1 : open+closing])
		if err != nil {
			return nil, fmt.Errorf("%w in %q", err, s)
		}
		t.parts = append(t.parts, part{path: path})
		rest = rest[open+closing+1:]
	}
	return t, nil
}

func parsePath(s string) (*Path, error) {
	segments := strings.Split(strings.TrimSpace(s), ".")
	if len(segments) < 2 {
		return nil, fmt.Errorf("%w: placeholder {%s} needs a root and a field", ErrSyntax, s)
	}
	root := Root(segments[0])
	if root != RootThis && root != RootUser {
		return nil, fmt.Errorf("%w: unknown root %q", ErrSyntax, segments[0])
	}
	for _, segment := range segments[1:] {
		if !isIdentifier(segment) {
			return nil, fmt.Errorf("%w: invalid path segment %q", ErrSyntax, segment)
		}
	}
	return &Path{Root: root, Segments: segments[1:]}, nil
}

func isIdentifier(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r == '-' || r == '$' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')) {
			return false
		}
	}
	return true
}

// String returns the source of the template
func (t *Template) String() string {
	return t.source
}

// IsLiteral returns true if the template has no placeholders
func (t *Template) IsLiteral() bool {
	for _, p := range t.parts {
		if p.path != nil {
			return false
		}
	}
	return true
}

// Paths returns the placeholders of the template
func (t *Template) Paths() []Path {
	var paths []Path
	for _, p := range t.parts {
		if p.path != nil {
			paths = append(paths, *p.path)
		}
	}
	return paths
}

// Resolver looks up the value of a placeholder. It returns false if the path
// does not exist.
type Resolver interface {
	Resolve(ctx context.Context, path Path) (interface{}, bool, error)
}

// ResolverFunc is an adapter to use a function as Resolver
type ResolverFunc func(ctx context.Context, path Path) (interface{}, bool, error)

// Resolve calls f
func (f ResolverFunc) Resolve(ctx context.Context, path Path) (interface{}, bool, error) {
	return f(ctx, path)
}

// Evaluate evaluates the template. It returns false if any placeholder cannot
// be resolved. Errors only come from the resolver.
func (t *Template) Evaluate(ctx context.Context, r Resolver) (interface{}, bool, error) {
	if len(t.parts) == 1 && t.parts[0].path != nil {
		value, ok, err := r.Resolve(ctx, *t.parts[0].path)
		if err != nil || !ok || value == nil {
			return nil, false, err
		}
		return value, true, nil
	}
	var b strings.Builder
	for _, p := range t.parts {
		if p.path == nil {
			b.WriteString(p.literal)
			continue
		}
		value, ok, err := r.Resolve(ctx, *p.path)
		if err != nil || !ok || value == nil {
			return nil, false, err
		}
		b.WriteString(Format(value))
	}
	return b.String(), true, nil
}

// Format renders a value the way it appears inside a text template
func Format(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Lookup walks segments through nested maps starting at value
func Lookup(value interface{}, segments []string) (interface{}, bool) {
	for _, segment := range segments {
		m, ok := value.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if value, ok = m[segment]; !ok {
			return nil, false
		}
	}
	return value, true
}
