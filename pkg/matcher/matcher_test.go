package matcher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/rolematch/pkg/cypher"
	"github.com/rmax-ai/rolematch/pkg/graph"
	"github.com/rmax-ai/rolematch/pkg/graph/graphtest"
)

type stubClient struct {
	rows    []graph.Row
	err     error
	queries []cypher.Query
}

func (s *stubClient) Query(ctx context.Context, q cypher.Query) ([]graph.Row, error) {
	s.queries = append(s.queries, q)
	return s.rows, s.err
}

func (s *stubClient) ApplyEdits(ctx context.Context, edits graph.Edits) ([]graph.EditResult, error) {
	return nil, errors.New("read only")
}

func names(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.PersonName
	}
	return out
}

func TestUnfilledRoleRequirements(t *testing.T) {
	m := New(graphtest.NewMemory(), Options{})

	reqs, err := m.UnfilledRoleRequirements(context.Background(), graphtest.Shelter12)
	require.NoError(t, err)
	require.Equal(t, []RoleRequirement{{
		RoleType:       graphtest.RoleTypeNurse,
		RoleID:         graphtest.RoleNurse12,
		RequiredSkills: []string{"CPR", "Spanish"},
	}}, reqs)
}

func TestUnfilledRoleRequirements_UnknownFacility(t *testing.T) {
	m := New(graphtest.NewMemory(), Options{})

	reqs, err := m.UnfilledRoleRequirements(context.Background(), "Shelter-404")
	require.NoError(t, err)
	assert.NotNil(t, reqs)
	assert.Empty(t, reqs)
}

func TestRankedCandidates_Shelter12(t *testing.T) {
	m := New(graphtest.NewMemory(), Options{})

	cands, err := m.RankedCandidates(context.Background(), graphtest.Shelter12, 5)
	require.NoError(t, err)

	// Brooks lacks Spanish, Diaz was displaced from a non-adjacent facility,
	// Evans was never displaced.
	assert.Equal(t, []string{graphtest.NameAlvarez, graphtest.NameChen}, names(cands))

	alvarez := cands[0]
	assert.Equal(t, graphtest.PersonAlvarez, alvarez.PersonID)
	assert.Equal(t, graphtest.RoleNurse12, alvarez.RoleID)
	assert.Equal(t, graphtest.RoleTypeNurse, alvarez.RoleType)
	assert.Subset(t, alvarez.MatchedSkills, []string{"CPR", "Spanish"})
	require.NotNil(t, alvarez.DistanceMiles)
	assert.Greater(t, *alvarez.DistanceMiles, 0.0)
}

func TestRankedCandidates_CoverageIsExact(t *testing.T) {
	mem := graphtest.NewMemory()
	m := New(mem, Options{})
	g := mem.GetGraph()

	skillsOf := func(nodeID string, et graph.EdgeType) map[string]bool {
		out := map[string]bool{}
		for _, e := range g.Edges {
			if e.FromID == nodeID && e.Type == et {
				out[g.Nodes[e.ToID].Label] = true
			}
		}
		return out
	}

	for _, facility := range []string{graphtest.Shelter12, graphtest.Shelter20} {
		cands, err := m.RankedCandidates(context.Background(), facility, 100)
		require.NoError(t, err)
		for _, c := range cands {
			possessed := skillsOf(c.PersonID, graph.EdgeHasSkill)
			for skill := range skillsOf(c.RoleID, graph.EdgeRequiresSkill) {
				assert.True(t, possessed[skill], "%s lacks %s for %s", c.PersonName, skill, c.RoleID)
			}
		}
	}
}

func TestRankedCandidates_NoCoverageIsEmpty(t *testing.T) {
	m := New(graphtest.NewMemory(), Options{})

	cands, err := m.RankedCandidates(context.Background(), graphtest.Shelter20, 5)
	require.NoError(t, err)
	assert.NotNil(t, cands)
	assert.Empty(t, cands)
}

func TestRankedCandidates_Idempotent(t *testing.T) {
	m := New(graphtest.NewMemory(), Options{})

	first, err := m.RankedCandidates(context.Background(), graphtest.Shelter12, 5)
	require.NoError(t, err)
	second, err := m.RankedCandidates(context.Background(), graphtest.Shelter12, 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRankedCandidates_Limit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"one", 1, []string{graphtest.NameAlvarez}},
		{"default", 0, []string{graphtest.NameAlvarez, graphtest.NameChen}},
		{"negative uses default", -3, []string{graphtest.NameAlvarez, graphtest.NameChen}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(graphtest.NewMemory(), Options{})
			cands, err := m.RankedCandidates(context.Background(), graphtest.Shelter12, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(cands))
		})
	}
}

func TestRankedCandidates_RankByDistance(t *testing.T) {
	m := New(graphtest.NewMemory(), Options{RankByDistance: true})

	cands, err := m.RankedCandidates(context.Background(), graphtest.Shelter12, 5)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, graphtest.NameChen, cands[0].PersonName, "Chen lives closer to Shelter-12")
	assert.LessOrEqual(t, *cands[0].DistanceMiles, *cands[1].DistanceMiles)

	one, err := m.RankedCandidates(context.Background(), graphtest.Shelter12, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{graphtest.NameChen}, names(one))
}

func TestRankedCandidates_InactiveStatusIsConfigurable(t *testing.T) {
	m := New(graphtest.NewMemory(), Options{InactiveStatus: "DEMOBILIZED"})

	cands, err := m.RankedCandidates(context.Background(), graphtest.Shelter12, 5)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestRankedCandidates_AfterAssignment(t *testing.T) {
	mem := graphtest.NewMemory()
	m := New(mem, Options{})

	res, err := mem.ApplyEdits(context.Background(), graph.Edits{Adds: []graph.EdgeAdd{
		{OriginID: graphtest.PersonAlvarez, Type: graph.EdgeAssignedTo, DestinationID: graphtest.RoleNurse12},
	}})
	require.NoError(t, err)
	require.True(t, res[0].OK())

	reqs, err := m.UnfilledRoleRequirements(context.Background(), graphtest.Shelter12)
	require.NoError(t, err)
	assert.Empty(t, reqs)

	cands, err := m.RankedCandidates(context.Background(), graphtest.Shelter12, 5)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestRankedCandidates_DropsPartialCoverageRows(t *testing.T) {
	stub := &stubClient{rows: []graph.Row{
		{"Nurse", "{R-1}", "Brooks", "{P-B}", []any{"CPR"}, []any{"CPR", "Spanish"}, nil, nil},
		{"Nurse", "{R-1}", "Alvarez", "{P-A}", []any{"Spanish", "CPR"}, []any{"CPR", "Spanish"}, nil, nil},
	}}
	m := New(stub, Options{})

	cands, err := m.RankedCandidates(context.Background(), "Shelter-12", 5)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "Alvarez", cands[0].PersonName)
	assert.Equal(t, []string{"CPR", "Spanish"}, cands[0].MatchedSkills)
	assert.Nil(t, cands[0].DistanceMiles)
}

func TestRankedCandidates_ReordersBackendOutput(t *testing.T) {
	stub := &stubClient{rows: []graph.Row{
		{"Nurse", "{R-2}", "Chen", "{P-C}", []any{"CPR"}, []any{"CPR"}},
		{"Nurse", "{R-1}", "Chen", "{P-C}", []any{"CPR"}, []any{"CPR"}},
		{"Nurse", "{R-1}", "Alvarez", "{P-A}", []string{"CPR"}, []string{"CPR"}},
	}}
	m := New(stub, Options{})

	cands, err := m.RankedCandidates(context.Background(), "F", 5)
	require.NoError(t, err)
	require.Len(t, cands, 3)
	assert.Equal(t, "Alvarez", cands[0].PersonName)
	assert.Equal(t, "{R-1}", cands[1].RoleID)
	assert.Equal(t, "{R-2}", cands[2].RoleID)
}

func TestQueries_BindValues(t *testing.T) {
	stub := &stubClient{}
	m := New(stub, Options{})
	hostile := `x'}) DETACH DELETE f //`

	_, err := m.RankedCandidates(context.Background(), hostile, 3)
	require.NoError(t, err)
	_, err = m.UnfilledRoleRequirements(context.Background(), hostile)
	require.NoError(t, err)

	require.Len(t, stub.queries, 2)
	for _, q := range stub.queries {
		assert.False(t, strings.Contains(q.Text, hostile), q.Name)
		assert.Equal(t, hostile, q.Params[graph.ParamFacilityID])
	}
	assert.Equal(t, graph.StmtRankedCandidates, stub.queries[0].Name)
	assert.Equal(t, graph.DefaultInactiveStatus, stub.queries[0].Params[graph.ParamInactiveStatus])
	assert.Equal(t, 3, stub.queries[0].Params[graph.ParamLimit])
	assert.Contains(t, stub.queries[0].Text, "LIMIT $limit")
}

func TestQueries_RankByDistanceOmitsLimit(t *testing.T) {
	q, err := candidatesQuery("F", "CLOSED", 0)
	require.NoError(t, err)
	assert.NotContains(t, q.Text, "LIMIT")
	assert.NotContains(t, q.Params, graph.ParamLimit)
}

func TestErrors(t *testing.T) {
	t.Run("query failure propagates with facility", func(t *testing.T) {
		stub := &stubClient{err: graph.NewQueryError(graph.StmtRankedCandidates, errors.New("connection refused"))}
		_, err := New(stub, Options{}).RankedCandidates(context.Background(), "Shelter-12", 5)
		require.Error(t, err)
		assert.True(t, errors.Is(err, graph.ErrQuery))
		assert.Contains(t, err.Error(), "Shelter-12")
	})

	t.Run("undecodable row", func(t *testing.T) {
		stub := &stubClient{rows: []graph.Row{{"Nurse", 42, []any{"CPR"}}}}
		_, err := New(stub, Options{}).UnfilledRoleRequirements(context.Background(), "Shelter-12")
		require.Error(t, err)
		var qe *graph.QueryError
		require.True(t, errors.As(err, &qe))
		assert.Equal(t, graph.StmtUnfilledRequirements, qe.Statement)
	})

	t.Run("short row", func(t *testing.T) {
		stub := &stubClient{rows: []graph.Row{{"Nurse", "{R-1}", "Chen"}}}
		_, err := New(stub, Options{}).RankedCandidates(context.Background(), "Shelter-12", 5)
		assert.True(t, errors.Is(err, graph.ErrQuery))
	})
}

func TestFacility(t *testing.T) {
	m := New(graphtest.NewMemory(), Options{})

	info, ok, err := m.Facility(context.Background(), graphtest.Shelter12)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, graphtest.Shelter12Node, info.GlobalID)
	assert.Equal(t, "ACTIVATED", info.Status)
	require.NotNil(t, info.Location)
	assert.Equal(t, "450", info.Properties["capacity"])

	_, ok, err = m.Facility(context.Background(), "Shelter-404")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFacility_Int64Coordinates(t *testing.T) {
	stub := &stubClient{rows: []graph.Row{{"{F}", "F", "Depot", "ACTIVATED", int64(25), int64(-80), map[string]any{"beds": int64(10)}}}}
	info, ok, err := New(stub, Options{}).Facility(context.Background(), "F")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, &graph.Location{Lat: 25, Lon: -80}, info.Location)
	assert.Equal(t, "10", info.Properties["beds"])
}

func TestDistanceMiles(t *testing.T) {
	assert.Equal(t, 0.0, DistanceMiles(graph.Location{Lat: 10, Lon: 10}, graph.Location{Lat: 10, Lon: 10}))
	// one degree of latitude is about 69.09 miles
	assert.InDelta(t, 69.09, DistanceMiles(graph.Location{Lat: 0, Lon: 0}, graph.Location{Lat: 1, Lon: 0}), 0.01)
}

type countingClient struct {
	graph.Client
	statements map[string]int
}

func (c *countingClient) Query(ctx context.Context, q cypher.Query) ([]graph.Row, error) {
	c.statements[q.Name]++
	return c.Client.Query(ctx, q)
}

func TestRankedCandidates_SingleRoundTrip(t *testing.T) {
	client := &countingClient{Client: graphtest.NewMemory(), statements: map[string]int{}}
	m := New(client, Options{RankByDistance: true})

	cands, err := m.RankedCandidates(context.Background(), graphtest.Shelter12, 5)
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	require.NotNil(t, cands[0].DistanceMiles)
	assert.Equal(t, map[string]int{graph.StmtRankedCandidates: 1}, client.statements)
}

func TestRankedCandidates_DistanceFromRowCoordinates(t *testing.T) {
	stub := &stubClient{rows: []graph.Row{
		{"Nurse", "{R-1}", "Far", "{P-F}", []any{"CPR"}, []any{"CPR"}, 1.0, 0.0, 0.0, 0.0},
		{"Nurse", "{R-1}", "Near", "{P-N}", []any{"CPR"}, []any{"CPR"}, 0.5, 0.0, 0.0, 0.0},
		{"Nurse", "{R-1}", "Adams", "{P-A}", []any{"CPR"}, []any{"CPR"}, nil, nil, 0.0, 0.0},
	}}
	m := New(stub, Options{RankByDistance: true})

	cands, err := m.RankedCandidates(context.Background(), "F", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Near", "Far", "Adams"}, names(cands))
	assert.InDelta(t, 69.09, *cands[1].DistanceMiles, 0.01)
	assert.Nil(t, cands[2].DistanceMiles)
	assert.Len(t, stub.queries, 1)
}

func TestQueries_Text(t *testing.T) {
	const head = "MATCH (f:Facility {facility_id: $facilityID})-[:RequiresRole]->(role:Role)-[:RequiresSkill]->(skill:Skill)\n" +
		"WHERE NOT (role)<-[:AssignedTo]-(:Person)\n"

	tests := []struct {
		name   string
		build  func() (cypher.Query, error)
		text   string
		params map[string]any
	}{
		{
			name:  graph.StmtUnfilledRequirements,
			build: func() (cypher.Query, error) { return requirementsQuery("Shelter-12") },
			text: head + strings.Join([]string{
				"WITH role, collect(DISTINCT skill.name) AS required",
				"RETURN role.role_type, role.globalid, required",
				"ORDER BY role.role_type, role.globalid",
			}, "\n"),
			params: map[string]any{graph.ParamFacilityID: "Shelter-12"},
		},
		{
			name:  graph.StmtRankedCandidates,
			build: func() (cypher.Query, error) { return candidatesQuery("Shelter-12", "CLOSED", 5) },
			text: head + strings.Join([]string{
				"WITH f, role, collect(DISTINCT skill.name) AS required",
				"MATCH (p:Person)-[:HasSkill]->(held:Skill)<-[:RequiresSkill]-(role)",
				"WHERE (p)-[:AssignedTo]->(:Role)<-[:RequiresRole]-(:Facility {status: $inactiveStatus})-[:Nearby]-(f)",
				"WITH f, role, p, required, collect(DISTINCT held.name) AS matched",
				"WHERE all(s IN required WHERE s IN matched)",
				"RETURN role.role_type, role.globalid, p.name, p.globalid, matched, required, p.lat, p.lon, f.lat, f.lon",
				"ORDER BY p.name, role.globalid, p.globalid",
				"LIMIT $limit",
			}, "\n"),
			params: map[string]any{graph.ParamFacilityID: "Shelter-12", graph.ParamInactiveStatus: "CLOSED", graph.ParamLimit: 5},
		},
		{
			name:  graph.StmtFacility,
			build: func() (cypher.Query, error) { return facilityQuery("Shelter-12") },
			text: strings.Join([]string{
				"MATCH (f:Facility {facility_id: $facilityID})",
				"RETURN f.globalid, f.facility_id, f.name, f.status, f.lat, f.lon, properties(f)",
				"LIMIT $limit",
			}, "\n"),
			params: map[string]any{graph.ParamFacilityID: "Shelter-12", graph.ParamLimit: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := tt.build()
			require.NoError(t, err)
			assert.Equal(t, tt.name, q.Name)
			assert.Equal(t, tt.text, q.Text)
			assert.Equal(t, tt.params, q.Params)
		})
	}
}
