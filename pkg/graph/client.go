package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/rmax-ai/rolematch/pkg/cypher"
)

// Row is one result tuple; column order matches the RETURN clause.
type Row []any

// Client executes reads and edge edits against a graph store.
// Implementations must be safe for concurrent use.
type Client interface {
	// Query runs a read-only statement.
	Query(ctx context.Context, q cypher.Query) ([]Row, error)

	// ApplyEdits attempts every add and delete independently and reports one
	// EditResult per item. It is not atomic across items; a nil error only
	// means the request reached the store.
	ApplyEdits(ctx context.Context, edits Edits) ([]EditResult, error)
}

// EdgeAdd requests creation of a relationship.
type EdgeAdd struct {
	OriginID      string            `json:"origin_id"`
	Type          EdgeType          `json:"type"`
	DestinationID string            `json:"destination_id"`
	Properties    map[string]string `json:"properties,omitempty"`
}

// EdgeDelete requests deletion of relationships of one type by id.
type EdgeDelete struct {
	Type EdgeType `json:"type"`
	IDs  []string `json:"ids"`
}

// Edits is one applyEdits request.
type Edits struct {
	Adds    []EdgeAdd    `json:"adds,omitempty"`
	Deletes []EdgeDelete `json:"deletes,omitempty"`
}

// EditOp distinguishes add and delete outcomes.
type EditOp string

const (
	OpAdd    EditOp = "add"
	OpDelete EditOp = "delete"
)

// EditResult is the outcome of one requested add or one deleted id.
type EditResult struct {
	Op            EditOp   `json:"op"`
	Type          EdgeType `json:"type"`
	ID            string   `json:"id,omitempty"`
	OriginID      string   `json:"origin_id,omitempty"`
	DestinationID string   `json:"destination_id,omitempty"`
	Err           string   `json:"error,omitempty"`
}

// OK reports whether the item succeeded.
func (r EditResult) OK() bool {
	return r.Err == "" && r.ID != ""
}

var (
	// ErrQuery marks query failures: malformed statements, unreachable store,
	// undecodable rows.
	ErrQuery = errors.New("graph query failed")
	// ErrEdit marks rejected edits.
	ErrEdit = errors.New("graph edit failed")
)

// QueryError wraps a failure of a named statement.
type QueryError struct {
	Statement string
	Err       error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Statement, e.Err)
}

func (e *QueryError) Unwrap() []error { return []error{ErrQuery, e.Err} }

// NewQueryError builds a QueryError for q.
func NewQueryError(statement string, err error) error {
	return &QueryError{Statement: statement, Err: err}
}

// EditError wraps an edit failure.
type EditError struct {
	Op  EditOp
	Err error
}

func (e *EditError) Error() string {
	return fmt.Sprintf("edit %s: %v", e.Op, e.Err)
}

func (e *EditError) Unwrap() []error { return []error{ErrEdit, e.Err} }
