// Package assign commits person-to-role assignments as AssignedTo edges and
// keeps at most one assignment in flight per role.
package assign

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rmax-ai/rolematch/pkg/cypher"
	"github.com/rmax-ai/rolematch/pkg/graph"
	"github.com/rmax-ai/rolematch/pkg/store"
)

// RoleState is the coordinator's view of one role.
type RoleState int

const (
	Unfilled RoleState = iota
	Pending
	Filled
)

func (s RoleState) String() string {
	switch s {
	case Unfilled:
		return "unfilled"
	case Pending:
		return "pending"
	case Filled:
		return "filled"
	}
	return fmt.Sprintf("RoleState(%d)", int(s))
}

// Request asks for PersonID to fill RoleID at FacilityID.
type Request struct {
	FacilityID string `json:"facility_id"`
	PersonID   string `json:"person_id"`
	RoleID     string `json:"role_id"`
}

func (r Request) validate() error {
	switch {
	case r.FacilityID == "":
		return fmt.Errorf("%w: facility_id is required", ErrInvalidRequest)
	case r.PersonID == "":
		return fmt.Errorf("%w: person_id is required", ErrInvalidRequest)
	case r.RoleID == "":
		return fmt.Errorf("%w: role_id is required", ErrInvalidRequest)
	}
	return nil
}

// Result is a committed assignment.
type Result struct {
	Request
	RelationshipID string `json:"relationship_id"`
}

// Committed is published to subscribers after an AssignedTo edge is created.
type Committed struct {
	FacilityID     string `json:"facility_id"`
	RoleID         string `json:"role_id"`
	PersonID       string `json:"person_id"`
	RelationshipID string `json:"relationship_id"`
}

// Guard is a cross-process claim on a role.
type Guard interface {
	Acquire(ctx context.Context, roleID, holder string) (bool, error)
	Release(ctx context.Context, roleID, holder string) error
}

// Journal records assignment history.
type Journal interface {
	RecordAssignment(ctx context.Context, rec store.AssignmentRecord) error
}

// Options configures a Coordinator. All fields are optional.
type Options struct {
	Guard    Guard
	Journal  Journal
	HolderID string
	Logger   *zap.Logger
}

// Coordinator serializes assignments per role. Different roles proceed
// concurrently; no lock is held across graph calls.
type Coordinator struct {
	client  graph.Client
	guard   Guard
	journal Journal
	holder  string
	logger  *zap.Logger

	mu     sync.Mutex
	states map[string]RoleState

	subMu   sync.RWMutex
	subs    map[int]func(Committed)
	nextSub int
}

// NewCoordinator creates a Coordinator over client.
func NewCoordinator(client graph.Client, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	holder := opts.HolderID
	if holder == "" {
		holder = uuid.NewString()
	}
	return &Coordinator{
		client:  client,
		guard:   opts.Guard,
		journal: opts.Journal,
		holder:  holder,
		logger:  logger,
		states:  make(map[string]RoleState),
		subs:    make(map[int]func(Committed)),
	}
}

// State returns the local state of roleID.
func (c *Coordinator) State(roleID string) RoleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[roleID]
}

// Pending returns the number of roles with an edit in flight.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.states {
		if s == Pending {
			n++
		}
	}
	return n
}

// Subscribe registers fn for Committed events. fn runs on the assigning
// goroutine and must not block.
func (c *Coordinator) Subscribe(fn func(Committed)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

func (c *Coordinator) publish(ev Committed) {
	c.subMu.RLock()
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Committed), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.subs[id])
	}
	c.subMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// claim moves roleID from Unfilled to Pending.
func (c *Coordinator) claim(req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.states[req.RoleID]; s != Unfilled {
		return &ConflictError{RoleID: req.RoleID, PersonID: req.PersonID, State: s}
	}
	c.states[req.RoleID] = Pending
	return nil
}

func (c *Coordinator) settle(roleID string, s RoleState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s == Unfilled {
		delete(c.states, roleID)
		return
	}
	c.states[roleID] = s
}

// Assign creates one AssignedTo edge from the person to the role. It never
// retries: a failed assignment leaves the role Unfilled and must be
// re-requested by the caller.
func (c *Coordinator) Assign(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	if err := c.claim(req); err != nil {
		return Result{}, err
	}

	logger := c.logger.With(
		zap.String("facility_id", req.FacilityID),
		zap.String("role_id", req.RoleID),
		zap.String("person_id", req.PersonID),
	)

	if c.guard != nil {
		ok, err := c.guard.Acquire(ctx, req.RoleID, c.holder)
		if err != nil {
			c.settle(req.RoleID, Unfilled)
			return Result{}, fmt.Errorf("acquire lease for role %s: %w", req.RoleID, err)
		}
		if !ok {
			c.settle(req.RoleID, Unfilled)
			return Result{}, &ConflictError{RoleID: req.RoleID, PersonID: req.PersonID, State: Pending, Reason: "another coordinator holds the role"}
		}
	}

	existing, err := c.roleAssignments(ctx, req.RoleID)
	if err != nil {
		c.abort(req, logger)
		return Result{}, &LookupError{FacilityID: req.FacilityID, RoleID: req.RoleID, PersonID: req.PersonID, Err: err}
	}
	if len(existing) > 0 {
		// Filled outside this coordinator; remember it.
		c.settle(req.RoleID, Filled)
		return Result{}, &ConflictError{RoleID: req.RoleID, PersonID: req.PersonID, State: Filled, Reason: "role already has an assignment"}
	}

	relID, err := c.addEdge(ctx, req)
	if err != nil {
		c.abort(req, logger)
		logger.Warn("assignment failed", zap.Error(err))
		return Result{}, &EditError{FacilityID: req.FacilityID, RoleID: req.RoleID, PersonID: req.PersonID, Err: err}
	}

	c.settle(req.RoleID, Filled)
	logger.Info("assignment committed", zap.String("relationship_id", relID))

	c.record(ctx, store.AssignmentRecord{
		Action:         store.ActionAssigned,
		FacilityID:     req.FacilityID,
		RoleID:         req.RoleID,
		PersonID:       req.PersonID,
		RelationshipID: relID,
	}, logger)
	c.publish(Committed{
		FacilityID:     req.FacilityID,
		RoleID:         req.RoleID,
		PersonID:       req.PersonID,
		RelationshipID: relID,
	})
	return Result{Request: req, RelationshipID: relID}, nil
}

func (c *Coordinator) abort(req Request, logger *zap.Logger) {
	c.settle(req.RoleID, Unfilled)
	c.release(req.RoleID, logger)
}

func (c *Coordinator) release(roleID string, logger *zap.Logger) {
	if c.guard == nil {
		return
	}
	// Release even if the caller's context is already done.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.guard.Release(ctx, roleID, c.holder); err != nil {
		logger.Warn("failed to release role lease", zap.Error(err))
	}
}

func (c *Coordinator) record(ctx context.Context, rec store.AssignmentRecord, logger *zap.Logger) {
	if c.journal == nil {
		return
	}
	rec.At = time.Now().UTC()
	if err := c.journal.RecordAssignment(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("failed to journal assignment", zap.String("action", string(rec.Action)), zap.Error(err))
	}
}

func (c *Coordinator) addEdge(ctx context.Context, req Request) (string, error) {
	results, err := c.client.ApplyEdits(ctx, graph.Edits{Adds: []graph.EdgeAdd{{
		OriginID:      req.PersonID,
		Type:          graph.EdgeAssignedTo,
		DestinationID: req.RoleID,
		Properties:    map[string]string{},
	}}})
	if err != nil {
		return "", err
	}
	if len(results) != 1 {
		return "", &graph.EditError{Op: graph.OpAdd, Err: fmt.Errorf("expected 1 edit result, got %d", len(results))}
	}
	res := results[0]
	if !res.OK() {
		msg := res.Err
		if msg == "" {
			msg = "store returned no relationship id"
		}
		return "", &graph.EditError{Op: graph.OpAdd, Err: errors.New(msg)}
	}
	return res.ID, nil
}

func (c *Coordinator) roleAssignments(ctx context.Context, roleID string) ([]string, error) {
	q, err := roleAssignmentsQuery(roleID)
	if err != nil {
		return nil, graph.NewQueryError(graph.StmtRoleAssignments, err)
	}
	rows, err := c.client.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return firstColumn(q.Name, rows)
}

// Cleanup deletes every AssignedTo edge from personID to roleID and reports
// the deleted relationship ids. Each delete succeeds or fails on its own;
// failures are joined into the returned error alongside the ids that were
// deleted. The role returns to Unfilled, and its lease is released, only
// when no AssignedTo edge to it remains.
func (c *Coordinator) Cleanup(ctx context.Context, personID, roleID string) ([]string, error) {
	if personID == "" || roleID == "" {
		return nil, fmt.Errorf("%w: person_id and role_id are required", ErrInvalidRequest)
	}
	logger := c.logger.With(zap.String("role_id", roleID), zap.String("person_id", personID))

	q, err := assignmentsBetweenQuery(personID, roleID)
	if err != nil {
		return nil, graph.NewQueryError(graph.StmtAssignmentsBetween, err)
	}
	rows, err := c.client.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find assignments of %s to role %s: %w", personID, roleID, err)
	}
	ids, err := firstColumn(q.Name, rows)
	if err != nil {
		return nil, err
	}

	deleted := []string{}
	var errs []error
	if len(ids) > 0 {
		results, err := c.client.ApplyEdits(ctx, graph.Edits{Deletes: []graph.EdgeDelete{{Type: graph.EdgeAssignedTo, IDs: ids}}})
		if err != nil {
			return deleted, fmt.Errorf("delete assignments of %s to role %s: %w", personID, roleID, err)
		}
		for _, res := range results {
			if res.OK() {
				deleted = append(deleted, res.ID)
				continue
			}
			errs = append(errs, &graph.EditError{Op: graph.OpDelete, Err: errors.New(res.Err)})
		}
	}

	for _, id := range deleted {
		c.record(ctx, store.AssignmentRecord{
			Action:         store.ActionReleased,
			RoleID:         roleID,
			PersonID:       personID,
			RelationshipID: id,
		}, logger)
	}

	if len(errs) > 0 {
		return deleted, errors.Join(errs...)
	}

	remaining, err := c.roleAssignments(ctx, roleID)
	if err != nil {
		logger.Warn("could not confirm role is free after cleanup", zap.Error(err))
		return deleted, nil
	}

	c.mu.Lock()
	pending := c.states[roleID] == Pending
	vacated := !pending && len(remaining) == 0
	switch {
	case vacated:
		delete(c.states, roleID)
	case !pending:
		c.states[roleID] = Filled
	}
	c.mu.Unlock()
	if vacated {
		c.release(roleID, logger)
	}
	logger.Info("assignments cleaned up", zap.Strings("deleted", deleted), zap.Bool("vacated", vacated))
	return deleted, nil
}

func firstColumn(statement string, rows []graph.Row) ([]string, error) {
	ids := make([]string, 0, len(rows))
	for i, row := range rows {
		if len(row) == 0 {
			return nil, graph.NewQueryError(statement, fmt.Errorf("row %d is empty", i))
		}
		id, ok := row[0].(string)
		if !ok {
			return nil, graph.NewQueryError(statement, fmt.Errorf("row %d: want string id, got %T", i, row[0]))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func assignmentsBetweenQuery(personID, roleID string) (cypher.Query, error) {
	b := cypher.New()
	return b.
		Match("(p:" + b.Label(string(graph.NodePerson)) + " {" + b.Prop(graph.PropGlobalID) + ": " + b.Param(graph.ParamPersonID, personID) + "})" +
			"-[r:" + b.Rel(string(graph.EdgeAssignedTo)) + "]->" +
			"(role:" + b.Label(string(graph.NodeRole)) + " {" + b.Prop(graph.PropGlobalID) + ": " + b.Param(graph.ParamRoleID, roleID) + "})").
		Return("r.globalid").
		Build(graph.StmtAssignmentsBetween)
}

func roleAssignmentsQuery(roleID string) (cypher.Query, error) {
	b := cypher.New()
	return b.
		Match("(p:" + b.Label(string(graph.NodePerson)) + ")-[r:" + b.Rel(string(graph.EdgeAssignedTo)) + "]->" +
			"(role:" + b.Label(string(graph.NodeRole)) + " {" + b.Prop(graph.PropGlobalID) + ": " + b.Param(graph.ParamRoleID, roleID) + "})").
		Return("r.globalid", "p.globalid").
		Build(graph.StmtRoleAssignments)
}
