package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rmax-ai/rolematch/pkg/cypher"
)

// DefaultInactiveStatus is the facility status that releases its staff.
const DefaultInactiveStatus = "CLOSED"

// Memory is an in-process property graph that satisfies Client.
// It evaluates the module's named statements natively and, like a real
// store, happily creates duplicate AssignedTo edges; uniqueness is the
// coordinator's job.
type Memory struct {
	mu            sync.RWMutex
	nodes         map[string]*Node
	edges         map[string]*Edge
	out           map[string][]string // nodeID -> outgoing edge ids
	in            map[string][]string // nodeID -> incoming edge ids
	facilityIndex map[string]string   // facility_id -> node id
	newID         func() string
}

// NewMemory creates an empty in-memory graph.
func NewMemory() *Memory {
	return &Memory{
		nodes:         make(map[string]*Node),
		edges:         make(map[string]*Edge),
		out:           make(map[string][]string),
		in:            make(map[string][]string),
		facilityIndex: make(map[string]string),
		newID:         func() string { return "{" + uuid.NewString() + "}" },
	}
}

// AddNode inserts or replaces a node.
func (m *Memory) AddNode(n *Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addNodeLocked(n)
}

func (m *Memory) addNodeLocked(n *Node) {
	m.nodes[n.ID] = n
	if n.Type == NodeFacility {
		if key := n.Prop(PropFacilityID); key != "" {
			m.facilityIndex[key] = n.ID
		}
	}
}

// AddEdge links two existing nodes and returns the edge id.
func (m *Memory) AddEdge(e *Edge) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addEdgeLocked(e)
}

func (m *Memory) addEdgeLocked(e *Edge) (string, error) {
	if _, ok := m.nodes[e.FromID]; !ok {
		return "", fmt.Errorf("origin node %q not found", e.FromID)
	}
	if _, ok := m.nodes[e.ToID]; !ok {
		return "", fmt.Errorf("destination node %q not found", e.ToID)
	}
	if !cypher.ValidIdentifier(string(e.Type)) {
		return "", fmt.Errorf("invalid edge type %q", e.Type)
	}
	if e.ID == "" {
		e.ID = m.newID()
	}
	if _, dup := m.edges[e.ID]; dup {
		return "", fmt.Errorf("edge %q already exists", e.ID)
	}
	m.edges[e.ID] = e
	m.out[e.FromID] = append(m.out[e.FromID], e.ID)
	m.in[e.ToID] = append(m.in[e.ToID], e.ID)
	return e.ID, nil
}

func (m *Memory) deleteEdgeLocked(id string) {
	e, ok := m.edges[id]
	if !ok {
		return
	}
	delete(m.edges, id)
	m.out[e.FromID] = without(m.out[e.FromID], id)
	m.in[e.ToID] = without(m.in[e.ToID], id)
}

func without(ids []string, id string) []string {
	kept := ids[:0]
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	return kept
}

// Query evaluates one of the module's named statements.
func (m *Memory) Query(ctx context.Context, q cypher.Query) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewQueryError(q.Name, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	switch q.Name {
	case StmtFacility:
		return m.facilityRows(q)
	case StmtUnfilledRequirements:
		return m.requirementRows(q)
	case StmtRankedCandidates:
		return m.candidateRows(q)
	case StmtAssignmentsBetween:
		return m.assignmentsBetweenRows(q)
	case StmtRoleAssignments:
		return m.roleAssignmentRows(q)
	}
	return nil, NewQueryError(q.Name, fmt.Errorf("unsupported statement"))
}

func requireParam(q cypher.Query, name string) (string, error) {
	v, ok := q.Params[name]
	if !ok {
		return "", NewQueryError(q.Name, fmt.Errorf("missing parameter $%s", name))
	}
	s, ok := v.(string)
	if !ok {
		return "", NewQueryError(q.Name, fmt.Errorf("parameter $%s must be a string, got %T", name, v))
	}
	return s, nil
}

func (m *Memory) facilityByKey(key string) *Node {
	id, ok := m.facilityIndex[key]
	if !ok {
		return nil
	}
	return m.nodes[id]
}

func (m *Memory) facilityRows(q cypher.Query) ([]Row, error) {
	key, err := requireParam(q, ParamFacilityID)
	if err != nil {
		return nil, err
	}
	f := m.facilityByKey(key)
	if f == nil {
		return []Row{}, nil
	}
	props := make(map[string]any, len(f.Properties))
	for k, v := range f.Properties {
		props[k] = v
	}
	var lat, lon any
	if f.Location != nil {
		lat, lon = f.Location.Lat, f.Location.Lon
	}
	return []Row{{f.ID, f.Prop(PropFacilityID), f.Label, f.Prop(PropStatus), lat, lon, props}}, nil
}

// neighbours returns the nodes reached over edges of type t in the given direction.
func (m *Memory) neighbours(nodeID string, t EdgeType, outgoing bool) []*Node {
	ids := m.in[nodeID]
	if outgoing {
		ids = m.out[nodeID]
	}
	var nodes []*Node
	for _, eid := range ids {
		e := m.edges[eid]
		if e == nil || e.Type != t {
			continue
		}
		other := e.FromID
		if outgoing {
			other = e.ToID
		}
		if n := m.nodes[other]; n != nil {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

type unfilledRole struct {
	role     *Node
	required []string
}

// unfilledRoles lists the facility's roles with no incoming AssignedTo and at
// least one required skill, ordered by role type then id.
func (m *Memory) unfilledRoles(f *Node) []unfilledRole {
	var roles []unfilledRole
	for _, role := range m.neighbours(f.ID, EdgeRequiresRole, true) {
		if role.Type != NodeRole || len(m.neighbours(role.ID, EdgeAssignedTo, false)) > 0 {
			continue
		}
		required := skillNames(m.neighbours(role.ID, EdgeRequiresSkill, true))
		if len(required) == 0 {
			continue
		}
		roles = append(roles, unfilledRole{role: role, required: required})
	}
	sort.Slice(roles, func(i, j int) bool {
		a, b := roles[i].role, roles[j].role
		if a.Prop(PropRoleType) != b.Prop(PropRoleType) {
			return a.Prop(PropRoleType) < b.Prop(PropRoleType)
		}
		return a.ID < b.ID
	})
	return roles
}

func skillNames(nodes []*Node) []string {
	seen := make(map[string]struct{}, len(nodes))
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := seen[n.Label]; ok {
			continue
		}
		seen[n.Label] = struct{}{}
		names = append(names, n.Label)
	}
	sort.Strings(names)
	return names
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func (m *Memory) requirementRows(q cypher.Query) ([]Row, error) {
	key, err := requireParam(q, ParamFacilityID)
	if err != nil {
		return nil, err
	}
	f := m.facilityByKey(key)
	if f == nil {
		return []Row{}, nil
	}
	rows := []Row{}
	for _, ur := range m.unfilledRoles(f) {
		rows = append(rows, Row{ur.role.Prop(PropRoleType), ur.role.ID, toAnySlice(ur.required)})
	}
	return rows, nil
}

// eligible reports whether person holds an AssignedTo edge to a role at an
// inactive facility that is Nearby the target.
func (m *Memory) eligible(person, target *Node, inactive string) bool {
	for _, held := range m.neighbours(person.ID, EdgeAssignedTo, true) {
		for _, origin := range m.neighbours(held.ID, EdgeRequiresRole, false) {
			if origin.Prop(PropStatus) != inactive {
				continue
			}
			if m.nearby(origin, target) {
				return true
			}
		}
	}
	return false
}

func (m *Memory) nearby(a, b *Node) bool {
	for _, n := range m.neighbours(a.ID, EdgeNearby, true) {
		if n.ID == b.ID {
			return true
		}
	}
	for _, n := range m.neighbours(a.ID, EdgeNearby, false) {
		if n.ID == b.ID {
			return true
		}
	}
	return false
}

func (m *Memory) candidateRows(q cypher.Query) ([]Row, error) {
	key, err := requireParam(q, ParamFacilityID)
	if err != nil {
		return nil, err
	}
	inactive, err := requireParam(q, ParamInactiveStatus)
	if err != nil {
		return nil, err
	}
	f := m.facilityByKey(key)
	if f == nil {
		return []Row{}, nil
	}

	roles := m.unfilledRoles(f)
	if len(roles) == 0 {
		return []Row{}, nil
	}

	type match struct {
		role     *Node
		person   *Node
		matched  []string
		required []string
	}
	var matches []match
	for _, node := range m.nodes {
		if node.Type != NodePerson || !m.eligible(node, f, inactive) {
			continue
		}
		possessed := make(map[string]struct{})
		for _, s := range m.neighbours(node.ID, EdgeHasSkill, true) {
			possessed[s.Label] = struct{}{}
		}
		for _, ur := range roles {
			var matched []string
			for _, req := range ur.required {
				if _, ok := possessed[req]; ok {
					matched = append(matched, req)
				}
			}
			if len(matched) == len(ur.required) {
				matches = append(matches, match{role: ur.role, person: node, matched: matched, required: ur.required})
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.person.Label != b.person.Label {
			return a.person.Label < b.person.Label
		}
		if a.role.ID != b.role.ID {
			return a.role.ID < b.role.ID
		}
		return a.person.ID < b.person.ID
	})

	if limit, ok := q.IntParam(ParamLimit); ok && limit >= 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	var flat, flon any
	if f.Location != nil {
		flat, flon = f.Location.Lat, f.Location.Lon
	}
	rows := make([]Row, 0, len(matches))
	for _, mt := range matches {
		var lat, lon any
		if mt.person.Location != nil {
			lat, lon = mt.person.Location.Lat, mt.person.Location.Lon
		}
		rows = append(rows, Row{
			mt.role.Prop(PropRoleType),
			mt.role.ID,
			mt.person.Label,
			mt.person.ID,
			toAnySlice(mt.matched),
			toAnySlice(mt.required),
			lat,
			lon,
			flat,
			flon,
		})
	}
	return rows, nil
}

func (m *Memory) assignmentsBetweenRows(q cypher.Query) ([]Row, error) {
	personID, err := requireParam(q, ParamPersonID)
	if err != nil {
		return nil, err
	}
	roleID, err := requireParam(q, ParamRoleID)
	if err != nil {
		return nil, err
	}
	rows := []Row{}
	for _, eid := range m.out[personID] {
		e := m.edges[eid]
		if e != nil && e.Type == EdgeAssignedTo && e.ToID == roleID {
			rows = append(rows, Row{e.ID})
		}
	}
	return rows, nil
}

func (m *Memory) roleAssignmentRows(q cypher.Query) ([]Row, error) {
	roleID, err := requireParam(q, ParamRoleID)
	if err != nil {
		return nil, err
	}
	rows := []Row{}
	for _, eid := range m.in[roleID] {
		e := m.edges[eid]
		if e != nil && e.Type == EdgeAssignedTo {
			rows = append(rows, Row{e.ID, e.FromID})
		}
	}
	return rows, nil
}

// ApplyEdits applies each add and delete independently.
func (m *Memory) ApplyEdits(ctx context.Context, edits Edits) ([]EditResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &EditError{Op: OpAdd, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]EditResult, 0, len(edits.Adds)+len(edits.Deletes))
	for _, add := range edits.Adds {
		res := EditResult{Op: OpAdd, Type: add.Type, OriginID: add.OriginID, DestinationID: add.DestinationID}
		props := make(map[string]string, len(add.Properties))
		for k, v := range add.Properties {
			props[k] = v
		}
		id, err := m.addEdgeLocked(&Edge{FromID: add.OriginID, ToID: add.DestinationID, Type: add.Type, Properties: props})
		if err != nil {
			res.Err = err.Error()
		} else {
			res.ID = id
		}
		results = append(results, res)
	}
	for _, del := range edits.Deletes {
		for _, id := range del.IDs {
			res := EditResult{Op: OpDelete, Type: del.Type}
			e, ok := m.edges[id]
			switch {
			case !ok:
				res.Err = fmt.Sprintf("relationship %q not found", id)
			case e.Type != del.Type:
				res.Err = fmt.Sprintf("relationship %q is %s, not %s", id, e.Type, del.Type)
			default:
				res.ID, res.OriginID, res.DestinationID = e.ID, e.FromID, e.ToID
				m.deleteEdgeLocked(id)
			}
			results = append(results, res)
		}
	}
	return results, nil
}

// GetGraph returns a snapshot of the current graph.
func (m *Memory) GetGraph() *Graph {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g := NewGraph()
	for k, v := range m.nodes {
		n := *v
		if v.Properties != nil {
			n.Properties = make(map[string]string, len(v.Properties))
			for pk, pv := range v.Properties {
				n.Properties[pk] = pv
			}
		}
		g.Nodes[k] = &n
	}
	ids := make([]string, 0, len(m.edges))
	for id := range m.edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e := *m.edges[id]
		g.Edges = append(g.Edges, &e)
	}
	return g
}

// CountEdges returns how many edges of type t point at nodeID.
func (m *Memory) CountEdges(nodeID string, t EdgeType) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.neighbours(nodeID, t, false))
}

// Snapshot writes the graph as JSON.
func (m *Memory) Snapshot(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m.GetGraph())
}

// Restore replaces the graph contents with a snapshot written by Snapshot.
func (m *Memory) Restore(r io.Reader) error {
	var g Graph
	if err := json.NewDecoder(r).Decode(&g); err != nil {
		return fmt.Errorf("failed to decode graph snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nodes = make(map[string]*Node, len(g.Nodes))
	m.edges = make(map[string]*Edge, len(g.Edges))
	m.out = make(map[string][]string)
	m.in = make(map[string][]string)
	m.facilityIndex = make(map[string]string)
	for _, n := range g.Nodes {
		m.addNodeLocked(n)
	}
	for _, e := range g.Edges {
		if _, err := m.addEdgeLocked(e); err != nil {
			return fmt.Errorf("restore edge %s: %w", e.ID, err)
		}
	}
	return nil
}
