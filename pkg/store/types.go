package store

import (
	"context"
	"time"
)

// AssignmentAction is the kind of journal entry.
type AssignmentAction string

const (
	ActionAssigned AssignmentAction = "assigned"
	ActionReleased AssignmentAction = "released"
)

// AssignmentRecord is one journal entry. FacilityID may be empty for
// releases, which are keyed by person and role only.
type AssignmentRecord struct {
	ID             int64            `json:"id"`
	Action         AssignmentAction `json:"action"`
	FacilityID     string           `json:"facility_id,omitempty"`
	RoleID         string           `json:"role_id"`
	PersonID       string           `json:"person_id"`
	RelationshipID string           `json:"relationship_id"`
	At             time.Time        `json:"at"`
}

// AssignmentFilter narrows ListAssignments. Zero values match everything.
type AssignmentFilter struct {
	FacilityID string
	RoleID     string
	PersonID   string
	Action     AssignmentAction
	From       time.Time
	To         time.Time
	Limit      int
}

// Lease represents a distributed lock or leadership claim.
type Lease struct {
	Name      string    `json:"name"`
	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Version   int64     `json:"version"` // For CAS (Compare-And-Swap) logic
}

// LeaseStore defines the interface for acquiring and renewing leases.
type LeaseStore interface {
	// Acquire tries to acquire the lease. Returns true if successful.
	// If the lease is already held by holderID, it renews it.
	Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error)

	// Renew updates the expiry of an existing lease held by holderID.
	// Returns error if the lease is lost or stolen.
	Renew(ctx context.Context, name, holderID string, ttl time.Duration) error

	// Release releases the lease if held by holderID.
	Release(ctx context.Context, name, holderID string) error

	// Get returns the current lease state.
	Get(ctx context.Context, name string) (*Lease, error)
}
