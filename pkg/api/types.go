package api

import "github.com/rmax-ai/rolematch/pkg/store"

// AssignRequest matches the POST /v1/assignments body schema.
type AssignRequest struct {
	FacilityID string `json:"facility_id"`
	PersonID   string `json:"person_id"`
	RoleID     string `json:"role_id"`
}

// AssignResponse matches the response for POST /v1/assignments.
type AssignResponse struct {
	FacilityID     string `json:"facility_id"`
	PersonID       string `json:"person_id"`
	RoleID         string `json:"role_id"`
	RelationshipID string `json:"relationship_id"`
}

// CleanupRequest matches the DELETE /v1/assignments body schema.
type CleanupRequest struct {
	PersonID string `json:"person_id"`
	RoleID   string `json:"role_id"`
}

// CleanupResponse lists the relationship ids that were removed.
type CleanupResponse struct {
	Deleted []string `json:"deleted"`
}

// HistoryResponse matches the response for GET /v1/assignments.
type HistoryResponse struct {
	Records []store.AssignmentRecord `json:"records"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
