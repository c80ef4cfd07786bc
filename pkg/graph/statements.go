package graph

// Statement names shared by the query builders and the in-memory executor.
// Remote stores run the statement text; Memory evaluates the same pattern
// natively, keyed by name.
const (
	StmtFacility             = "facility_by_id"
	StmtUnfilledRequirements = "unfilled_role_requirements"
	StmtRankedCandidates     = "ranked_candidates"
	StmtAssignmentsBetween   = "assignments_between"
	StmtRoleAssignments      = "role_assignments"
)

// Statement parameter names.
const (
	ParamFacilityID     = "facilityID"
	ParamInactiveStatus = "inactiveStatus"
	ParamPersonID       = "personID"
	ParamRoleID         = "roleID"
	ParamLimit          = "limit"
)
