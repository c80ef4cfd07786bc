package cypher

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Query is a named, parameterized openCypher statement.
// Values only ever travel in Params; Text references them as $name.
type Query struct {
	Name   string         `json:"name"`
	Text   string         `json:"text"`
	Params map[string]any `json:"params,omitempty"`
}

// ErrInvalidIdentifier is returned when a label, relationship type, property key
// or parameter name would have to be interpolated into the query text.
var ErrInvalidIdentifier = errors.New("invalid cypher identifier")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s can appear verbatim in query text.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Builder assembles a query clause by clause. Structural fragments are
// trusted text written by this module; anything user supplied must go through
// Param, Label, Rel or Prop.
type Builder struct {
	clauses []string
	params  map[string]any
	err     error
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{params: make(map[string]any)}
}

// Param binds value under name and returns the "$name" placeholder.
// Binding the same name twice with different values is an error.
func (b *Builder) Param(name string, value any) string {
	if !ValidIdentifier(name) {
		b.fail(fmt.Errorf("%w: parameter %q", ErrInvalidIdentifier, name))
		return "$_"
	}
	if existing, ok := b.params[name]; ok && !reflect.DeepEqual(existing, value) {
		b.fail(fmt.Errorf("parameter %q bound twice with different values", name))
	}
	b.params[name] = value
	return "$" + name
}

// Label validates a node label.
func (b *Builder) Label(name string) string {
	return b.ident("label", name)
}

// Rel validates a relationship type.
func (b *Builder) Rel(name string) string {
	return b.ident("relationship type", name)
}

// Prop validates a property key.
func (b *Builder) Prop(name string) string {
	return b.ident("property", name)
}

func (b *Builder) ident(kind, name string) string {
	if !ValidIdentifier(name) {
		b.fail(fmt.Errorf("%w: %s %q", ErrInvalidIdentifier, kind, name))
		return "_"
	}
	return name
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) add(keyword, body string) *Builder {
	body = strings.TrimSpace(body)
	if body == "" {
		b.fail(fmt.Errorf("empty %s clause", keyword))
		return b
	}
	b.clauses = append(b.clauses, keyword+" "+body)
	return b
}

// Match appends a MATCH clause.
func (b *Builder) Match(pattern string) *Builder { return b.add("MATCH", pattern) }

// Where appends a WHERE clause; multiple conditions are joined with AND.
func (b *Builder) Where(conds ...string) *Builder {
	return b.add("WHERE", strings.Join(conds, " AND "))
}

// With appends a WITH projection.
func (b *Builder) With(items ...string) *Builder {
	return b.add("WITH", strings.Join(items, ", "))
}

// Return appends the RETURN projection. Column order is preserved in result rows.
func (b *Builder) Return(items ...string) *Builder {
	return b.add("RETURN", strings.Join(items, ", "))
}

// OrderBy appends ORDER BY.
func (b *Builder) OrderBy(items ...string) *Builder {
	return b.add("ORDER BY", strings.Join(items, ", "))
}

// Limit appends LIMIT bound to a parameter.
func (b *Builder) Limit(n int) *Builder {
	if n <= 0 {
		b.fail(fmt.Errorf("limit must be positive, got %d", n))
		return b
	}
	return b.add("LIMIT", b.Param("limit", n))
}

// Build finalizes the statement under name.
func (b *Builder) Build(name string) (Query, error) {
	if b.err != nil {
		return Query{}, fmt.Errorf("build %s: %w", name, b.err)
	}
	if len(b.clauses) == 0 {
		return Query{}, fmt.Errorf("build %s: no clauses", name)
	}
	params := make(map[string]any, len(b.params))
	for k, v := range b.params {
		params[k] = v
	}
	return Query{
		Name:   name,
		Text:   strings.Join(b.clauses, "\n"),
		Params: params,
	}, nil
}

// String returns the query text for logs.
func (q Query) String() string {
	return q.Name
}

// StringParam returns a string parameter, or "" if absent or of another type.
func (q Query) StringParam(name string) string {
	if v, ok := q.Params[name].(string); ok {
		return v
	}
	return ""
}

// IntParam returns an int parameter.
func (q Query) IntParam(name string) (int, bool) {
	switch v := q.Params[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
