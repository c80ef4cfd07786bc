package matcher

import (
	"github.com/rmax-ai/rolematch/pkg/cypher"
	"github.com/rmax-ai/rolematch/pkg/graph"
)

// unfilledRoles is the shared head of the requirements and candidates
// statements: roles under the facility with no AssignedTo edge, and the
// de-duplicated names of the skills each requires.
func unfilledRoles(b *cypher.Builder, facilityID string) *cypher.Builder {
	return b.
		Match("(f:" + b.Label(string(graph.NodeFacility)) + " {" + b.Prop(graph.PropFacilityID) + ": " + b.Param(graph.ParamFacilityID, facilityID) + "})" +
			"-[:" + b.Rel(string(graph.EdgeRequiresRole)) + "]->(role:" + b.Label(string(graph.NodeRole)) + ")" +
			"-[:" + b.Rel(string(graph.EdgeRequiresSkill)) + "]->(skill:" + b.Label(string(graph.NodeSkill)) + ")").
		Where("NOT (role)<-[:" + b.Rel(string(graph.EdgeAssignedTo)) + "]-(:" + b.Label(string(graph.NodePerson)) + ")")
}

func facilityQuery(facilityID string) (cypher.Query, error) {
	b := cypher.New()
	return b.
		Match("(f:"+b.Label(string(graph.NodeFacility))+" {"+b.Prop(graph.PropFacilityID)+": "+b.Param(graph.ParamFacilityID, facilityID)+"})").
		Return("f.globalid", "f.facility_id", "f.name", "f.status", "f.lat", "f.lon", "properties(f)").
		Limit(1).
		Build(graph.StmtFacility)
}

func requirementsQuery(facilityID string) (cypher.Query, error) {
	b := cypher.New()
	return unfilledRoles(b, facilityID).
		With("role", "collect(DISTINCT skill.name) AS required").
		Return("role.role_type", "role.globalid", "required").
		OrderBy("role.role_type", "role.globalid").
		Build(graph.StmtUnfilledRequirements)
}

// candidatesQuery selects persons drawn from the displaced pool (assigned to
// a role at an inactive facility that is Nearby the target) whose skills
// cover every skill a still-unfilled role requires. Each row carries the
// person's and the facility's coordinates. limit <= 0 omits LIMIT.
func candidatesQuery(facilityID, inactiveStatus string, limit int) (cypher.Query, error) {
	b := cypher.New()
	b = unfilledRoles(b, facilityID).
		With("f", "role", "collect(DISTINCT skill.name) AS required").
		Match("(p:" + b.Label(string(graph.NodePerson)) + ")-[:" + b.Rel(string(graph.EdgeHasSkill)) + "]->(held:" + b.Label(string(graph.NodeSkill)) + ")<-[:" + b.Rel(string(graph.EdgeRequiresSkill)) + "]-(role)").
		Where("(p)-[:"+b.Rel(string(graph.EdgeAssignedTo))+"]->(:"+b.Label(string(graph.NodeRole))+")<-[:"+b.Rel(string(graph.EdgeRequiresRole))+"]-"+
			"(:"+b.Label(string(graph.NodeFacility))+" {"+b.Prop(graph.PropStatus)+": "+b.Param(graph.ParamInactiveStatus, inactiveStatus)+"})"+
			"-[:"+b.Rel(string(graph.EdgeNearby))+"]-(f)").
		With("f", "role", "p", "required", "collect(DISTINCT held.name) AS matched").
		Where("all(s IN required WHERE s IN matched)").
		Return("role.role_type", "role.globalid", "p.name", "p.globalid", "matched", "required", "p.lat", "p.lon", "f.lat", "f.lon").
		OrderBy("p.name", "role.globalid", "p.globalid")
	if limit > 0 {
		b = b.Limit(limit)
	}
	return b.Build(graph.StmtRankedCandidates)
}
