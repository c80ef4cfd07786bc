package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Fixture is the JSON seed format for the in-memory graph.
type Fixture struct {
	Facilities []FixtureFacility `json:"facilities"`
	People     []FixturePerson   `json:"people"`
}

// FixtureFacility describes a facility, its roles and adjacency.
type FixtureFacility struct {
	ID                 string            `json:"id"`
	FacilityID         string            `json:"facility_id"`
	Name               string            `json:"name"`
	Status             string            `json:"status"`
	Location           *Location         `json:"location,omitempty"`
	Properties         map[string]string `json:"properties,omitempty"`
	RequiredConditions []string          `json:"required_conditions,omitempty"`
	Nearby             []string          `json:"nearby,omitempty"` // facility_id values
	Roles              []FixtureRole     `json:"roles"`
}

// FixtureRole describes one role and the skills it requires.
type FixtureRole struct {
	ID       string   `json:"id"`
	RoleType string   `json:"role_type"`
	Skills   []string `json:"skills"`
}

// FixturePerson describes one person and their current assignments.
type FixturePerson struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Skills     []string  `json:"skills"`
	Conditions []string  `json:"conditions,omitempty"`
	Location   *Location `json:"location,omitempty"`
	AssignedTo []string  `json:"assigned_to,omitempty"` // role ids
}

// LoadFixture reads a fixture file into a new Memory graph.
func LoadFixture(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadFixture(f)
}

// ReadFixture decodes a fixture from r.
func ReadFixture(r io.Reader) (*Memory, error) {
	var fx Fixture
	if err := json.NewDecoder(r).Decode(&fx); err != nil {
		return nil, fmt.Errorf("failed to decode fixture: %w", err)
	}
	m := NewMemory()
	if err := m.Seed(fx); err != nil {
		return nil, err
	}
	return m, nil
}

func skillNodeID(name string) string     { return "skill:" + name }
func conditionNodeID(name string) string { return "condition:" + name }

// Seed adds the fixture's nodes and edges to m.
func (m *Memory) Seed(fx Fixture) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ensure := func(id string, t NodeType, label string) {
		if _, ok := m.nodes[id]; !ok {
			m.addNodeLocked(&Node{ID: id, Type: t, Label: label})
		}
	}
	link := func(from, to string, t EdgeType) error {
		_, err := m.addEdgeLocked(&Edge{FromID: from, ToID: to, Type: t})
		return err
	}

	byKey := make(map[string]string, len(fx.Facilities))
	for _, f := range fx.Facilities {
		if f.ID == "" || f.FacilityID == "" {
			return fmt.Errorf("facility %q: id and facility_id are required", f.Name)
		}
		props := map[string]string{
			PropFacilityID: f.FacilityID,
			PropStatus:     f.Status,
		}
		for k, v := range f.Properties {
			props[k] = v
		}
		m.addNodeLocked(&Node{ID: f.ID, Type: NodeFacility, Label: f.Name, Location: f.Location, Properties: props})
		byKey[f.FacilityID] = f.ID

		for _, c := range f.RequiredConditions {
			ensure(conditionNodeID(c), NodeCondition, c)
			if err := link(f.ID, conditionNodeID(c), EdgeRequiresCondition); err != nil {
				return err
			}
		}
		for _, r := range f.Roles {
			m.addNodeLocked(&Node{ID: r.ID, Type: NodeRole, Label: r.RoleType, Properties: map[string]string{PropRoleType: r.RoleType}})
			if err := link(f.ID, r.ID, EdgeRequiresRole); err != nil {
				return err
			}
			for _, s := range r.Skills {
				ensure(skillNodeID(s), NodeSkill, s)
				if err := link(r.ID, skillNodeID(s), EdgeRequiresSkill); err != nil {
					return err
				}
			}
		}
	}

	// Nearby is symmetric for matching; store one edge per declared pair.
	for _, f := range fx.Facilities {
		for _, other := range f.Nearby {
			otherID, ok := byKey[other]
			if !ok {
				return fmt.Errorf("facility %s: unknown nearby facility %q", f.FacilityID, other)
			}
			if err := link(f.ID, otherID, EdgeNearby); err != nil {
				return err
			}
		}
	}

	for _, p := range fx.People {
		if p.ID == "" {
			return fmt.Errorf("person %q: id is required", p.Name)
		}
		m.addNodeLocked(&Node{ID: p.ID, Type: NodePerson, Label: p.Name, Location: p.Location, Properties: map[string]string{}})
		for _, s := range p.Skills {
			ensure(skillNodeID(s), NodeSkill, s)
			if err := link(p.ID, skillNodeID(s), EdgeHasSkill); err != nil {
				return err
			}
		}
		for _, c := range p.Conditions {
			ensure(conditionNodeID(c), NodeCondition, c)
			if err := link(p.ID, conditionNodeID(c), EdgeHasCondition); err != nil {
				return err
			}
		}
		for _, roleID := range p.AssignedTo {
			if err := link(p.ID, roleID, EdgeAssignedTo); err != nil {
				return fmt.Errorf("person %s: %w", p.ID, err)
			}
		}
	}
	return nil
}
