package assign

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/rolematch/pkg/cypher"
	"github.com/rmax-ai/rolematch/pkg/graph"
	"github.com/rmax-ai/rolematch/pkg/graph/graphtest"
	"github.com/rmax-ai/rolematch/pkg/matcher"
	"github.com/rmax-ai/rolematch/pkg/store"
)

// faultyClient wraps a Memory graph and lets tests fail or stall edits.
type faultyClient struct {
	*graph.Memory

	mu        sync.Mutex
	editErr   error
	rejectAdd string
	editCalls int
	gate      chan struct{}
}

func (f *faultyClient) ApplyEdits(ctx context.Context, edits graph.Edits) ([]graph.EditResult, error) {
	f.mu.Lock()
	f.editCalls++
	editErr, reject, gate := f.editErr, f.rejectAdd, f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if editErr != nil {
		return nil, editErr
	}
	if reject != "" && len(edits.Adds) > 0 {
		out := make([]graph.EditResult, len(edits.Adds))
		for i, a := range edits.Adds {
			out[i] = graph.EditResult{Op: graph.OpAdd, Type: a.Type, OriginID: a.OriginID, DestinationID: a.DestinationID, Err: reject}
		}
		return out, nil
	}
	return f.Memory.ApplyEdits(ctx, edits)
}

func (f *faultyClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.editCalls
}

func newFaulty() *faultyClient {
	return &faultyClient{Memory: graphtest.NewMemory()}
}

var nurseRequest = Request{FacilityID: graphtest.Shelter12, PersonID: graphtest.PersonAlvarez, RoleID: graphtest.RoleNurse12}

func TestAssign_Success(t *testing.T) {
	client := newFaulty()
	c := NewCoordinator(client, Options{})

	var events []Committed
	cancel := c.Subscribe(func(ev Committed) { events = append(events, ev) })
	defer cancel()

	res, err := c.Assign(context.Background(), nurseRequest)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RelationshipID)
	assert.Equal(t, nurseRequest, res.Request)
	assert.Equal(t, Filled, c.State(graphtest.RoleNurse12))
	assert.Equal(t, 1, client.CountEdges(graphtest.RoleNurse12, graph.EdgeAssignedTo))

	require.Len(t, events, 1)
	assert.Equal(t, Committed{
		FacilityID:     graphtest.Shelter12,
		RoleID:         graphtest.RoleNurse12,
		PersonID:       graphtest.PersonAlvarez,
		RelationshipID: res.RelationshipID,
	}, events[0])

	reqs, err := matcher.New(client, matcher.Options{}).UnfilledRoleRequirements(context.Background(), graphtest.Shelter12)
	require.NoError(t, err)
	assert.Empty(t, reqs, "assigned role must no longer be listed")
}

func TestAssign_FilledRoleConflictsWithoutStoreCall(t *testing.T) {
	client := newFaulty()
	c := NewCoordinator(client, Options{})

	_, err := c.Assign(context.Background(), nurseRequest)
	require.NoError(t, err)

	second := nurseRequest
	second.PersonID = graphtest.PersonChen
	_, err = c.Assign(context.Background(), second)

	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, Filled, ce.State)
	assert.Equal(t, 1, client.calls())
	assert.Equal(t, 1, client.CountEdges(graphtest.RoleNurse12, graph.EdgeAssignedTo))
}

func TestAssign_RoleFilledElsewhere(t *testing.T) {
	client := newFaulty()
	c := NewCoordinator(client, Options{})

	req := Request{FacilityID: graphtest.Shelter12, PersonID: graphtest.PersonChen, RoleID: graphtest.RoleManager12}
	_, err := c.Assign(context.Background(), req)
	require.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, Filled, c.State(graphtest.RoleManager12))
	assert.Equal(t, 0, client.calls())
}

func TestAssign_AtMostOneUnderConcurrency(t *testing.T) {
	client := newFaulty()
	client.gate = make(chan struct{})
	c := NewCoordinator(client, Options{})

	people := []string{graphtest.PersonAlvarez, graphtest.PersonChen, graphtest.PersonBrooks, graphtest.PersonEvans}
	results := make(chan error, len(people))
	for _, p := range people {
		go func(p string) {
			_, err := c.Assign(context.Background(), Request{FacilityID: graphtest.Shelter12, PersonID: p, RoleID: graphtest.RoleNurse12})
			results <- err
		}(p)
	}

	// Every loser returns while the winner's edit is still held at the gate.
	var errs []error
	for len(errs) < len(people)-1 {
		select {
		case err := <-results:
			errs = append(errs, err)
		case <-time.After(time.Second):
			t.Fatal("losers did not return while the winner was pending")
		}
	}
	for _, err := range errs {
		assert.True(t, errors.Is(err, ErrConflict), "unexpected error: %v", err)
	}

	close(client.gate)
	assert.NoError(t, <-results)
	assert.Equal(t, 1, client.calls())
	assert.Equal(t, 1, client.CountEdges(graphtest.RoleNurse12, graph.EdgeAssignedTo))
}

func TestAssign_DifferentRolesProceedConcurrently(t *testing.T) {
	mem := graphtest.NewMemory()
	mem.AddNode(&graph.Node{ID: "{R-12-COOK}", Type: graph.NodeRole, Label: "Cook", Properties: map[string]string{graph.PropRoleType: "Cook"}})
	client := &faultyClient{Memory: mem, gate: make(chan struct{})}
	c := NewCoordinator(client, Options{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, role := range []string{graphtest.RoleNurse12, "{R-12-COOK}"} {
		wg.Add(1)
		go func(i int, role string) {
			defer wg.Done()
			_, errs[i] = c.Assign(context.Background(), Request{FacilityID: graphtest.Shelter12, PersonID: graphtest.PersonEvans, RoleID: role})
		}(i, role)
	}
	require.Eventually(t, func() bool { return c.Pending() == 2 }, time.Second, 5*time.Millisecond)
	close(client.gate)
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}

func TestAssign_EditFailureRevertsToUnfilled(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*faultyClient)
		nested error
	}{
		{"transport error", func(f *faultyClient) { f.editErr = &graph.EditError{Op: graph.OpAdd, Err: errors.New("connection reset")} }, graph.ErrEdit},
		{"rejected edit", func(f *faultyClient) { f.rejectAdd = "destination not found" }, graph.ErrEdit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFaulty()
			tt.setup(client)
			c := NewCoordinator(client, Options{})

			var events int
			c.Subscribe(func(Committed) { events++ })

			_, err := c.Assign(context.Background(), nurseRequest)
			var ee *EditError
			require.True(t, errors.As(err, &ee))
			assert.True(t, errors.Is(err, tt.nested))
			assert.Equal(t, graphtest.RoleNurse12, ee.RoleID)
			assert.Equal(t, graphtest.PersonAlvarez, ee.PersonID)
			assert.Equal(t, graphtest.Shelter12, ee.FacilityID)
			assert.Contains(t, err.Error(), graphtest.RoleNurse12)

			assert.Equal(t, Unfilled, c.State(graphtest.RoleNurse12))
			assert.Equal(t, 0, events)
			assert.Equal(t, 1, client.calls(), "no automatic retry")

			// The caller may re-initiate once the store recovers.
			client.mu.Lock()
			client.editErr, client.rejectAdd = nil, ""
			client.mu.Unlock()
			_, err = c.Assign(context.Background(), nurseRequest)
			require.NoError(t, err)
		})
	}
}

func TestAssign_InvalidRequest(t *testing.T) {
	c := NewCoordinator(newFaulty(), Options{})
	_, err := c.Assign(context.Background(), Request{FacilityID: graphtest.Shelter12, RoleID: graphtest.RoleNurse12})
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Equal(t, Unfilled, c.State(graphtest.RoleNurse12))
}

func TestSubscribe_Cancel(t *testing.T) {
	c := NewCoordinator(newFaulty(), Options{})
	var events int
	cancel := c.Subscribe(func(Committed) { events++ })
	cancel()
	cancel()

	_, err := c.Assign(context.Background(), nurseRequest)
	require.NoError(t, err)
	assert.Equal(t, 0, events)
}

func TestCleanup(t *testing.T) {
	client := newFaulty()
	c := NewCoordinator(client, Options{})

	res, err := c.Assign(context.Background(), nurseRequest)
	require.NoError(t, err)

	deleted, err := c.Cleanup(context.Background(), graphtest.PersonAlvarez, graphtest.RoleNurse12)
	require.NoError(t, err)
	assert.Equal(t, []string{res.RelationshipID}, deleted)
	assert.Equal(t, Unfilled, c.State(graphtest.RoleNurse12))
	assert.Equal(t, 0, client.CountEdges(graphtest.RoleNurse12, graph.EdgeAssignedTo))

	again, err := c.Cleanup(context.Background(), graphtest.PersonAlvarez, graphtest.RoleNurse12)
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = c.Assign(context.Background(), nurseRequest)
	require.NoError(t, err, "role can be reassigned after cleanup")
}

func TestCleanup_RemovesDuplicates(t *testing.T) {
	client := newFaulty()
	add := graph.EdgeAdd{OriginID: graphtest.PersonChen, Type: graph.EdgeAssignedTo, DestinationID: graphtest.RoleNurse12}
	_, err := client.Memory.ApplyEdits(context.Background(), graph.Edits{Adds: []graph.EdgeAdd{add, add}})
	require.NoError(t, err)

	c := NewCoordinator(client, Options{})
	deleted, err := c.Cleanup(context.Background(), graphtest.PersonChen, graphtest.RoleNurse12)
	require.NoError(t, err)
	assert.Len(t, deleted, 2)
	assert.Equal(t, 0, client.CountEdges(graphtest.RoleNurse12, graph.EdgeAssignedTo))
}

type refusingGuard struct{ released []string }

func (g *refusingGuard) Acquire(ctx context.Context, roleID, holder string) (bool, error) {
	return false, nil
}

func (g *refusingGuard) Release(ctx context.Context, roleID, holder string) error {
	g.released = append(g.released, roleID)
	return nil
}

func TestAssign_GuardRefusal(t *testing.T) {
	client := newFaulty()
	c := NewCoordinator(client, Options{Guard: &refusingGuard{}})

	_, err := c.Assign(context.Background(), nurseRequest)
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.NotEmpty(t, ce.Reason)
	assert.Equal(t, Unfilled, c.State(graphtest.RoleNurse12))
	assert.Equal(t, 0, client.calls())
}

func TestAssign_SharedLeaseAcrossCoordinators(t *testing.T) {
	db, err := store.NewStore(filepath.Join(t.TempDir(), "rolematch.db"))
	require.NoError(t, err)
	defer db.Close()

	client := newFaulty()
	client.gate = make(chan struct{})
	guard := NewLeaseGuard(db, time.Minute)
	a := NewCoordinator(client, Options{Guard: guard, Journal: db, HolderID: "a"})
	b := NewCoordinator(client, Options{Guard: guard, Journal: db, HolderID: "b"})

	done := make(chan error, 1)
	go func() {
		_, err := a.Assign(context.Background(), nurseRequest)
		done <- err
	}()
	require.Eventually(t, func() bool { return a.Pending() == 1 && client.calls() == 1 }, time.Second, 5*time.Millisecond)

	other := nurseRequest
	other.PersonID = graphtest.PersonChen
	_, err = b.Assign(context.Background(), other)
	assert.True(t, errors.Is(err, ErrConflict), "second process must see the lease")

	close(client.gate)
	require.NoError(t, <-done)

	lease, err := db.Get(context.Background(), LeaseName(graphtest.RoleNurse12))
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "a", lease.HolderID)

	_, err = a.Cleanup(context.Background(), graphtest.PersonAlvarez, graphtest.RoleNurse12)
	require.NoError(t, err)
	lease, err = db.Get(context.Background(), LeaseName(graphtest.RoleNurse12))
	require.NoError(t, err)
	assert.Nil(t, lease)

	recs, err := db.ListAssignments(context.Background(), store.AssignmentFilter{RoleID: graphtest.RoleNurse12})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, store.ActionAssigned, recs[0].Action)
	assert.Equal(t, store.ActionReleased, recs[1].Action)
}

type failingJournal struct{}

func (failingJournal) RecordAssignment(ctx context.Context, rec store.AssignmentRecord) error {
	return errors.New("disk full")
}

func TestAssign_JournalFailureDoesNotFailAssignment(t *testing.T) {
	c := NewCoordinator(newFaulty(), Options{Journal: failingJournal{}})
	_, err := c.Assign(context.Background(), nurseRequest)
	assert.NoError(t, err)
}

func TestQueries_AreParameterized(t *testing.T) {
	q, err := assignmentsBetweenQuery(`a"}) DETACH DELETE p //`, "{R}")
	require.NoError(t, err)
	assert.NotContains(t, q.Text, "DETACH")
	assert.Equal(t, graph.StmtAssignmentsBetween, q.Name)
}

// failingLookups fails every read of the given statement.
type failingLookups struct {
	*faultyClient
	statement string
}

func (f *failingLookups) Query(ctx context.Context, q cypher.Query) ([]graph.Row, error) {
	if q.Name == f.statement {
		return nil, graph.NewQueryError(q.Name, errors.New("connection reset"))
	}
	return f.faultyClient.Query(ctx, q)
}

func TestAssign_LookupFailureIsQueryFailure(t *testing.T) {
	client := &failingLookups{faultyClient: newFaulty(), statement: graph.StmtRoleAssignments}
	c := NewCoordinator(client, Options{})

	_, err := c.Assign(context.Background(), nurseRequest)
	var le *LookupError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, graphtest.Shelter12, le.FacilityID)
	assert.Equal(t, graphtest.RoleNurse12, le.RoleID)
	assert.Equal(t, graphtest.PersonAlvarez, le.PersonID)
	assert.True(t, errors.Is(err, graph.ErrQuery))
	assert.False(t, errors.Is(err, graph.ErrEdit))
	assert.Equal(t, Unfilled, c.State(graphtest.RoleNurse12))
	assert.Equal(t, 0, client.calls())
}

type grantingGuard struct {
	mu       sync.Mutex
	released []string
}

func (g *grantingGuard) Acquire(ctx context.Context, roleID, holder string) (bool, error) {
	return true, nil
}

func (g *grantingGuard) Release(ctx context.Context, roleID, holder string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = append(g.released, roleID)
	return nil
}

func TestCleanup_OtherPersonLeavesRoleFilled(t *testing.T) {
	client := newFaulty()
	guard := &grantingGuard{}
	c := NewCoordinator(client, Options{Guard: guard})

	_, err := c.Assign(context.Background(), nurseRequest)
	require.NoError(t, err)

	deleted, err := c.Cleanup(context.Background(), graphtest.PersonChen, graphtest.RoleNurse12)
	require.NoError(t, err)
	assert.Empty(t, deleted)
	assert.Equal(t, Filled, c.State(graphtest.RoleNurse12))
	assert.Empty(t, guard.released, "the role lease stays with the filled role")

	second := nurseRequest
	second.PersonID = graphtest.PersonChen
	_, err = c.Assign(context.Background(), second)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, 1, client.calls())

	_, err = c.Cleanup(context.Background(), graphtest.PersonAlvarez, graphtest.RoleNurse12)
	require.NoError(t, err)
	assert.Equal(t, Unfilled, c.State(graphtest.RoleNurse12))
	assert.Equal(t, []string{graphtest.RoleNurse12}, guard.released)
}

func TestCleanup_ForeignAssignmentMarksRoleFilled(t *testing.T) {
	client := newFaulty()
	add := graph.EdgeAdd{OriginID: graphtest.PersonChen, Type: graph.EdgeAssignedTo, DestinationID: graphtest.RoleNurse12}
	_, err := client.Memory.ApplyEdits(context.Background(), graph.Edits{Adds: []graph.EdgeAdd{add}})
	require.NoError(t, err)

	c := NewCoordinator(client, Options{})
	deleted, err := c.Cleanup(context.Background(), graphtest.PersonAlvarez, graphtest.RoleNurse12)
	require.NoError(t, err)
	assert.Empty(t, deleted)
	assert.Equal(t, Filled, c.State(graphtest.RoleNurse12))
}
