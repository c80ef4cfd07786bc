package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/rmax-ai/rolematch/pkg/matcher"
	"github.com/rmax-ai/rolematch/pkg/store"
)

// Response types share their JSON shape with the daemon.
type (
	RoleRequirement  = matcher.RoleRequirement
	Candidate        = matcher.Candidate
	FacilityInfo     = matcher.FacilityInfo
	AssignmentRecord = store.AssignmentRecord
)

var (
	// ErrConflict is returned by Assign when the role is already taken.
	ErrConflict = errors.New("role already assigned")
	// ErrNotFound is returned by Facility for an unknown facility id.
	ErrNotFound = errors.New("facility not found")
)

// Assignment is the body of POST /v1/assignments and its response.
type Assignment struct {
	FacilityID     string `json:"facility_id"`
	PersonID       string `json:"person_id"`
	RoleID         string `json:"role_id"`
	RelationshipID string `json:"relationship_id,omitempty"`
}

// Status represents the health check response.
type Status struct {
	// Status is the health status string (e.g. "ok").
	Status string `json:"status"`
}

// HistoryOptions filters History.
type HistoryOptions struct {
	FacilityID string
	RoleID     string
	PersonID   string
	Action     string
	From       time.Time
	To         time.Time
	Limit      int
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Detail     string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("rolematch: %d %s: %s", e.StatusCode, e.Code, e.Detail)
	}
	return fmt.Sprintf("rolematch: %d %s", e.StatusCode, e.Code)
}

// Unwrap maps a 409 to ErrConflict.
func (e *APIError) Unwrap() error {
	if e.StatusCode == 409 {
		return ErrConflict
	}
	return nil
}

func (e *APIError) retryable() bool {
	return e.StatusCode >= 500
}
