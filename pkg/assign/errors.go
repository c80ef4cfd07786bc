package assign

import (
	"errors"
	"fmt"

	"github.com/rmax-ai/rolematch/pkg/graph"
)

var (
	// ErrConflict marks an assignment refused because the role is already
	// pending or filled.
	ErrConflict = errors.New("role assignment conflict")
	// ErrInvalidRequest marks a request missing an id.
	ErrInvalidRequest = errors.New("invalid assignment request")
)

// ConflictError is returned when another assignment holds the role.
// No edit was sent to the store.
type ConflictError struct {
	RoleID   string
	PersonID string
	State    RoleState
	Reason   string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("role %s cannot be assigned to %s: %s", e.RoleID, e.PersonID, e.Reason)
	}
	return fmt.Sprintf("role %s cannot be assigned to %s: role is %s", e.RoleID, e.PersonID, e.State)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// EditError is returned when the store rejected or never received the
// AssignedTo edge. The role is back to Unfilled.
type EditError struct {
	FacilityID string
	RoleID     string
	PersonID   string
	Err        error
}

func (e *EditError) Error() string {
	return fmt.Sprintf("assign %s to role %s at facility %s: %v", e.PersonID, e.RoleID, e.FacilityID, e.Err)
}

func (e *EditError) Unwrap() []error { return []error{graph.ErrEdit, e.Err} }

// LookupError is returned when the store could not be queried for the
// role's existing assignment. No edit was sent and the role is Unfilled.
type LookupError struct {
	FacilityID string
	RoleID     string
	PersonID   string
	Err        error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("check role %s at facility %s before assigning %s: %v", e.RoleID, e.FacilityID, e.PersonID, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }
