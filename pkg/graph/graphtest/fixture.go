// Package graphtest provides a shared staffing graph for tests.
package graphtest

import (
	"github.com/rmax-ai/rolematch/pkg/graph"
)

// IDs used by Shelters.
const (
	Shelter12      = "Shelter-12" // active, one unfilled role needing CPR+Spanish
	Shelter3       = "Shelter-3"  // closed, Nearby Shelter-12
	Shelter9       = "Shelter-9"  // closed, not Nearby Shelter-12
	Shelter20      = "Shelter-20" // active, role nobody can cover
	Shelter12Node  = "{F-12}"
	RoleNurse12    = "{R-12-NURSE}"
	RoleManager12  = "{R-12-MGR}"
	RoleWelder20   = "{R-20-WELD}"
	PersonAlvarez  = "{P-ALVAREZ}" // CPR, Spanish, Forklift; displaced from Shelter-3
	PersonBrooks   = "{P-BROOKS}"  // CPR only; displaced from Shelter-3
	PersonChen     = "{P-CHEN}"    // CPR, Spanish; displaced from Shelter-3
	PersonDiaz     = "{P-DIAZ}"    // CPR, Spanish; displaced from Shelter-9 (not adjacent)
	PersonEvans    = "{P-EVANS}"   // CPR, Spanish; never assigned
	PersonZimmer   = "{P-ZIMMER}"  // fills Shelter-12 manager role
	NameAlvarez    = "Alvarez"
	NameChen       = "Chen"
	RoleTypeNurse  = "Nurse"
	RoleTypeWelder = "Welder"
)

// Shelters returns a small fixture exercising eligibility and coverage rules.
func Shelters() graph.Fixture {
	return graph.Fixture{
		Facilities: []graph.FixtureFacility{
			{
				ID:         Shelter12Node,
				FacilityID: Shelter12,
				Name:       "North Miami Senior High",
				Status:     "ACTIVATED",
				Location:   &graph.Location{Lat: 25.8901, Lon: -80.1867},
				Properties: map[string]string{"capacity": "450", "pet_friendly": "yes"},
				Nearby:     []string{Shelter3},
				Roles: []graph.FixtureRole{
					{ID: RoleNurse12, RoleType: RoleTypeNurse, Skills: []string{"CPR", "Spanish"}},
					{ID: RoleManager12, RoleType: "Manager", Skills: []string{"Logistics"}},
				},
			},
			{
				ID:         "{F-3}",
				FacilityID: Shelter3,
				Name:       "Miami Edison Middle",
				Status:     "CLOSED",
				Location:   &graph.Location{Lat: 25.8283, Lon: -80.1942},
				Roles: []graph.FixtureRole{
					{ID: "{R-3-A}", RoleType: "Nurse", Skills: []string{"CPR"}},
					{ID: "{R-3-B}", RoleType: "Nurse", Skills: []string{"CPR"}},
					{ID: "{R-3-C}", RoleType: "Interpreter", Skills: []string{"Spanish"}},
				},
			},
			{
				ID:         "{F-9}",
				FacilityID: Shelter9,
				Name:       "Homestead Middle",
				Status:     "CLOSED",
				Location:   &graph.Location{Lat: 25.4687, Lon: -80.4776},
				Roles: []graph.FixtureRole{
					{ID: "{R-9-A}", RoleType: "Nurse", Skills: []string{"CPR"}},
				},
			},
			{
				ID:         "{F-20}",
				FacilityID: Shelter20,
				Name:       "Coral Reef Senior High",
				Status:     "ACTIVATED",
				Location:   &graph.Location{Lat: 25.6387, Lon: -80.3460},
				Nearby:     []string{Shelter3},
				Roles: []graph.FixtureRole{
					{ID: RoleWelder20, RoleType: RoleTypeWelder, Skills: []string{"CPR", "Welding"}},
				},
			},
		},
		People: []graph.FixturePerson{
			{ID: PersonAlvarez, Name: NameAlvarez, Skills: []string{"CPR", "Spanish", "Forklift"}, Location: &graph.Location{Lat: 25.80, Lon: -80.20}, AssignedTo: []string{"{R-3-A}"}},
			{ID: PersonBrooks, Name: "Brooks", Skills: []string{"CPR"}, AssignedTo: []string{"{R-3-B}"}},
			{ID: PersonChen, Name: NameChen, Skills: []string{"Spanish", "CPR"}, Location: &graph.Location{Lat: 25.88, Lon: -80.19}, AssignedTo: []string{"{R-3-C}"}},
			{ID: PersonDiaz, Name: "Diaz", Skills: []string{"CPR", "Spanish"}, AssignedTo: []string{"{R-9-A}"}},
			{ID: PersonEvans, Name: "Evans", Skills: []string{"CPR", "Spanish"}},
			{ID: PersonZimmer, Name: "Zimmer", Skills: []string{"Logistics"}, AssignedTo: []string{RoleManager12}},
		},
	}
}

// NewMemory returns a Memory seeded with Shelters. It panics on a bad fixture.
func NewMemory() *graph.Memory {
	m := graph.NewMemory()
	if err := m.Seed(Shelters()); err != nil {
		panic(err)
	}
	return m
}
