// Package matcher finds the unfilled roles of a facility and the displaced
// people whose skills fully cover them.
package matcher

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/rmax-ai/rolematch/pkg/graph"
)

// DefaultLimit caps ranked candidates when the caller passes no limit.
const DefaultLimit = 5

// RoleRequirement is an unfilled role and the skills it requires.
type RoleRequirement struct {
	RoleType       string   `json:"role_type"`
	RoleID         string   `json:"role_id"`
	RequiredSkills []string `json:"required_skills"`
}

// Candidate is a person who can fill a role.
type Candidate struct {
	RoleType      string   `json:"role_type"`
	RoleID        string   `json:"role_id"`
	PersonName    string   `json:"person_name"`
	PersonID      string   `json:"person_id"`
	MatchedSkills []string `json:"matched_skills"`
	// DistanceMiles is nil when either end has no location.
	DistanceMiles *float64 `json:"distance_miles,omitempty"`
}

// FacilityInfo holds the attributes of a facility node.
type FacilityInfo struct {
	GlobalID   string            `json:"global_id"`
	FacilityID string            `json:"facility_id"`
	Name       string            `json:"name"`
	Status     string            `json:"status"`
	Location   *graph.Location   `json:"location,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Options tunes matching.
type Options struct {
	Limit          int    // default candidate limit
	InactiveStatus string // facility status that releases its staff
	RankByDistance bool   // order by distance to the facility before name
	Logger         *zap.Logger
}

// Matcher runs the matching statements against a graph.Client.
type Matcher struct {
	client graph.Client
	opts   Options
	logger *zap.Logger
}

// New creates a Matcher.
func New(client graph.Client, opts Options) *Matcher {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.InactiveStatus == "" {
		opts.InactiveStatus = graph.DefaultInactiveStatus
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{client: client, opts: opts, logger: logger}
}

// Options returns the effective options.
func (m *Matcher) Options() Options {
	return m.opts
}

// UnfilledRoleRequirements lists the facility's roles with no AssignedTo edge.
// An unknown facility yields an empty list.
func (m *Matcher) UnfilledRoleRequirements(ctx context.Context, facilityID string) ([]RoleRequirement, error) {
	q, err := requirementsQuery(facilityID)
	if err != nil {
		return nil, graph.NewQueryError(graph.StmtUnfilledRequirements, err)
	}
	rows, err := m.client.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("unfilled roles for facility %s: %w", facilityID, err)
	}

	reqs := make([]RoleRequirement, 0, len(rows))
	for i, row := range rows {
		r, err := decodeRequirement(row)
		if err != nil {
			return nil, graph.NewQueryError(q.Name, fmt.Errorf("facility %s row %d: %w", facilityID, i, err))
		}
		reqs = append(reqs, r)
	}
	sort.SliceStable(reqs, func(i, j int) bool {
		if reqs[i].RoleType != reqs[j].RoleType {
			return reqs[i].RoleType < reqs[j].RoleType
		}
		return reqs[i].RoleID < reqs[j].RoleID
	})
	return reqs, nil
}

func decodeRequirement(row graph.Row) (RoleRequirement, error) {
	var r RoleRequirement
	var err error
	if r.RoleType, err = stringAt(row, 0); err != nil {
		return r, err
	}
	if r.RoleID, err = stringAt(row, 1); err != nil {
		return r, err
	}
	if r.RequiredSkills, err = stringsAt(row, 2); err != nil {
		return r, err
	}
	return r, nil
}

type rankedRow struct {
	Candidate
	required []string
	location *graph.Location
	facility *graph.Location
}

// RankedCandidates returns eligible people whose skills cover an unfilled
// role of the facility, ordered by name then role id then person id (or by
// distance first when RankByDistance is set) and truncated to limit.
// limit <= 0 uses the configured default. No match yields an empty list.
func (m *Matcher) RankedCandidates(ctx context.Context, facilityID string, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = m.opts.Limit
	}
	queryLimit := limit
	if m.opts.RankByDistance {
		// distance is computed here, so the store can't truncate for us
		queryLimit = 0
	}

	q, err := candidatesQuery(facilityID, m.opts.InactiveStatus, queryLimit)
	if err != nil {
		return nil, graph.NewQueryError(graph.StmtRankedCandidates, err)
	}
	rows, err := m.client.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ranked candidates for facility %s: %w", facilityID, err)
	}

	ranked := make([]rankedRow, 0, len(rows))
	for i, row := range rows {
		r, err := decodeCandidate(row)
		if err != nil {
			return nil, graph.NewQueryError(q.Name, fmt.Errorf("facility %s row %d: %w", facilityID, i, err))
		}
		if !covers(r.MatchedSkills, r.required) {
			m.logger.Warn("dropping candidate without full coverage",
				zap.String("facility_id", facilityID),
				zap.String("role_id", r.RoleID),
				zap.String("person_id", r.PersonID),
				zap.Strings("required", r.required),
				zap.Strings("matched", r.MatchedSkills),
			)
			continue
		}
		if r.location != nil && r.facility != nil {
			d := DistanceMiles(*r.location, *r.facility)
			r.DistanceMiles = &d
		}
		ranked = append(ranked, r)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if m.opts.RankByDistance {
			switch {
			case a.DistanceMiles != nil && b.DistanceMiles == nil:
				return true
			case a.DistanceMiles == nil && b.DistanceMiles != nil:
				return false
			case a.DistanceMiles != nil && *a.DistanceMiles != *b.DistanceMiles:
				return *a.DistanceMiles < *b.DistanceMiles
			}
		}
		if a.PersonName != b.PersonName {
			return a.PersonName < b.PersonName
		}
		if a.RoleID != b.RoleID {
			return a.RoleID < b.RoleID
		}
		return a.PersonID < b.PersonID
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]Candidate, len(ranked))
	for i, r := range ranked {
		out[i] = r.Candidate
	}
	return out, nil
}

func decodeCandidate(row graph.Row) (rankedRow, error) {
	var r rankedRow
	var err error
	if r.RoleType, err = stringAt(row, 0); err != nil {
		return r, err
	}
	if r.RoleID, err = stringAt(row, 1); err != nil {
		return r, err
	}
	if r.PersonName, err = stringAt(row, 2); err != nil {
		return r, err
	}
	if r.PersonID, err = stringAt(row, 3); err != nil {
		return r, err
	}
	if r.MatchedSkills, err = stringsAt(row, 4); err != nil {
		return r, err
	}
	if r.required, err = stringsAt(row, 5); err != nil {
		return r, err
	}
	if len(row) > 7 {
		lat, err := floatAt(row, 6)
		if err != nil {
			return r, err
		}
		lon, err := floatAt(row, 7)
		if err != nil {
			return r, err
		}
		if lat != nil && lon != nil {
			r.location = &graph.Location{Lat: *lat, Lon: *lon}
		}
	}
	if len(row) > 9 {
		lat, err := floatAt(row, 8)
		if err != nil {
			return r, err
		}
		lon, err := floatAt(row, 9)
		if err != nil {
			return r, err
		}
		if lat != nil && lon != nil {
			r.facility = &graph.Location{Lat: *lat, Lon: *lon}
		}
	}
	return r, nil
}

// Facility looks up a facility by its facility id. ok is false if absent.
func (m *Matcher) Facility(ctx context.Context, facilityID string) (FacilityInfo, bool, error) {
	q, err := facilityQuery(facilityID)
	if err != nil {
		return FacilityInfo{}, false, graph.NewQueryError(graph.StmtFacility, err)
	}
	rows, err := m.client.Query(ctx, q)
	if err != nil {
		return FacilityInfo{}, false, fmt.Errorf("facility %s: %w", facilityID, err)
	}
	if len(rows) == 0 {
		return FacilityInfo{}, false, nil
	}
	info, err := decodeFacility(rows[0])
	if err != nil {
		return FacilityInfo{}, false, graph.NewQueryError(q.Name, fmt.Errorf("facility %s: %w", facilityID, err))
	}
	return info, true, nil
}

func decodeFacility(row graph.Row) (FacilityInfo, error) {
	var f FacilityInfo
	var err error
	if f.GlobalID, err = stringAt(row, 0); err != nil {
		return f, err
	}
	if f.FacilityID, err = stringAt(row, 1); err != nil {
		return f, err
	}
	if f.Name, err = stringAt(row, 2); err != nil {
		return f, err
	}
	if f.Status, err = stringAt(row, 3); err != nil {
		return f, err
	}
	lat, err := floatAt(row, 4)
	if err != nil {
		return f, err
	}
	lon, err := floatAt(row, 5)
	if err != nil {
		return f, err
	}
	if lat != nil && lon != nil {
		f.Location = &graph.Location{Lat: *lat, Lon: *lon}
	}
	if f.Properties, err = propsAt(row, 6); err != nil {
		return f, err
	}
	return f, nil
}
