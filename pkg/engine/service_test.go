package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/rolematch/pkg/assign"
	"github.com/rmax-ai/rolematch/pkg/cypher"
	"github.com/rmax-ai/rolematch/pkg/graph"
	"github.com/rmax-ai/rolematch/pkg/graph/graphtest"
	"github.com/rmax-ai/rolematch/pkg/store"
)

func assignNurse() assign.Request {
	return assign.Request{
		FacilityID: graphtest.Shelter12,
		PersonID:   graphtest.PersonAlvarez,
		RoleID:     graphtest.RoleNurse12,
	}
}

func TestService_MatchThenAssign(t *testing.T) {
	ctx := context.Background()
	svc := NewService(graphtest.NewMemory(), WithLimit(1))

	reqs, err := svc.UnfilledRoleRequirements(ctx, graphtest.Shelter12)
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	cands, err := svc.RankedCandidates(ctx, graphtest.Shelter12, 0)
	require.NoError(t, err)
	require.Len(t, cands, 1, "WithLimit applies when the caller passes 0")
	assert.Equal(t, graphtest.NameAlvarez, cands[0].PersonName)

	var events []assign.Committed
	cancel := svc.Subscribe(func(ev assign.Committed) { events = append(events, ev) })
	defer cancel()

	res, err := svc.Assign(ctx, assignNurse())
	require.NoError(t, err)
	assert.NotEmpty(t, res.RelationshipID)
	require.Len(t, events, 1)
	assert.Equal(t, res.RelationshipID, events[0].RelationshipID)

	reqs, err = svc.UnfilledRoleRequirements(ctx, graphtest.Shelter12)
	require.NoError(t, err)
	assert.Empty(t, reqs)

	deleted, err := svc.Cleanup(ctx, graphtest.PersonAlvarez, graphtest.RoleNurse12)
	require.NoError(t, err)
	assert.Equal(t, []string{res.RelationshipID}, deleted)
}

func TestService_Facility(t *testing.T) {
	svc := NewService(graphtest.NewMemory())

	info, ok, err := svc.Facility(context.Background(), graphtest.Shelter12)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "North Miami Senior High", info.Name)

	_, ok, err = svc.Facility(context.Background(), "Shelter-404")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_Options(t *testing.T) {
	svc := NewService(graphtest.NewMemory(),
		WithLimit(3),
		WithInactiveStatus("DEACTIVATED"),
		WithRankByDistance(true),
	)

	opts := svc.Matcher().Options()
	assert.Equal(t, 3, opts.Limit)
	assert.Equal(t, "DEACTIVATED", opts.InactiveStatus)
	assert.True(t, opts.RankByDistance)

	cands, err := svc.RankedCandidates(context.Background(), graphtest.Shelter12, 0)
	require.NoError(t, err)
	assert.Empty(t, cands, "no facility carries the configured inactive status")
}

func TestService_AssignMetrics(t *testing.T) {
	ctx := context.Background()
	svc := NewService(graphtest.NewMemory())

	okBefore := testutil.ToFloat64(AssignTotal.WithLabelValues(OutcomeOK))
	conflictBefore := testutil.ToFloat64(AssignTotal.WithLabelValues(OutcomeConflict))
	invalidBefore := testutil.ToFloat64(AssignTotal.WithLabelValues(OutcomeInvalid))

	_, err := svc.Assign(ctx, assignNurse())
	require.NoError(t, err)

	_, err = svc.Assign(ctx, assignNurse())
	require.ErrorIs(t, err, assign.ErrConflict)

	_, err = svc.Assign(ctx, assign.Request{FacilityID: graphtest.Shelter12})
	require.ErrorIs(t, err, assign.ErrInvalidRequest)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(AssignTotal.WithLabelValues(OutcomeOK)))
	assert.Equal(t, conflictBefore+1, testutil.ToFloat64(AssignTotal.WithLabelValues(OutcomeConflict)))
	assert.Equal(t, invalidBefore+1, testutil.ToFloat64(AssignTotal.WithLabelValues(OutcomeInvalid)))
	assert.Equal(t, 0.0, testutil.ToFloat64(PendingRoles))
}

type failingClient struct{}

func (failingClient) Query(ctx context.Context, q cypher.Query) ([]graph.Row, error) {
	return nil, graph.NewQueryError(q.Name, errors.New("backend down"))
}

func (failingClient) ApplyEdits(ctx context.Context, edits graph.Edits) ([]graph.EditResult, error) {
	return nil, &graph.EditError{Op: graph.OpAdd, Err: errors.New("backend down")}
}

func TestService_QueryMetrics(t *testing.T) {
	ctx := context.Background()

	emptyBefore := testutil.ToFloat64(QueryTotal.WithLabelValues(graph.StmtRankedCandidates, OutcomeEmpty))
	errBefore := testutil.ToFloat64(QueryTotal.WithLabelValues(graph.StmtRankedCandidates, OutcomeError))

	_, err := NewService(graphtest.NewMemory()).RankedCandidates(ctx, graphtest.Shelter20, 5)
	require.NoError(t, err)

	_, err = NewService(failingClient{}).RankedCandidates(ctx, graphtest.Shelter12, 5)
	require.ErrorIs(t, err, graph.ErrQuery)

	assert.Equal(t, emptyBefore+1, testutil.ToFloat64(QueryTotal.WithLabelValues(graph.StmtRankedCandidates, OutcomeEmpty)))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(QueryTotal.WithLabelValues(graph.StmtRankedCandidates, OutcomeError)))
}

func TestService_History(t *testing.T) {
	ctx := context.Background()

	_, err := NewService(graphtest.NewMemory()).History(ctx, store.AssignmentFilter{})
	require.ErrorIs(t, err, ErrNoJournal)

	st, err := store.NewStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer st.Close()

	svc := NewService(graphtest.NewMemory(), WithJournal(st), WithGuard(assign.NewLeaseGuard(st, 0)), WithHolderID("daemon-a"))
	res, err := svc.Assign(ctx, assignNurse())
	require.NoError(t, err)
	_, err = svc.Cleanup(ctx, graphtest.PersonAlvarez, graphtest.RoleNurse12)
	require.NoError(t, err)

	recs, err := svc.History(ctx, store.AssignmentFilter{RoleID: graphtest.RoleNurse12})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, store.ActionAssigned, recs[0].Action)
	assert.Equal(t, store.ActionReleased, recs[1].Action)
	assert.Equal(t, res.RelationshipID, recs[1].RelationshipID)

	lease, err := st.Get(ctx, assign.LeaseName(graphtest.RoleNurse12))
	require.NoError(t, err)
	assert.Nil(t, lease, "cleanup releases the role lease")
}
