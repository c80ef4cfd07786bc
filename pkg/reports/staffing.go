package reports

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rmax-ai/rolematch/pkg/matcher"
)

// RoleStaffing is one unfilled role and the candidates who can fill it.
type RoleStaffing struct {
	matcher.RoleRequirement
	Candidates []matcher.Candidate `json:"candidates"`
}

// StaffingSummary is the JSON form of a staffing report.
type StaffingSummary struct {
	FacilityID  string                `json:"facility_id"`
	Facility    *matcher.FacilityInfo `json:"facility,omitempty"`
	GeneratedAt time.Time             `json:"generated_at"`
	Roles       []RoleStaffing        `json:"roles"`
}

// StaffingReport lists a facility's unfilled roles with their ranked
// candidates.
type StaffingReport struct {
	source MatchSource
	now    func() time.Time
}

func NewStaffingReport(src MatchSource) *StaffingReport {
	return &StaffingReport{source: src, now: time.Now}
}

// Summarize gathers the facility, its requirements and its candidates
// concurrently. An unknown facility yields an empty summary.
func (r *StaffingReport) Summarize(ctx context.Context, params ReportParams) (StaffingSummary, error) {
	if params.FacilityID == "" {
		return StaffingSummary{}, fmt.Errorf("staffing report requires a facility id")
	}

	var (
		info  matcher.FacilityInfo
		found bool
		reqs  []matcher.RoleRequirement
		cands []matcher.Candidate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		info, found, err = r.source.Facility(gctx, params.FacilityID)
		return err
	})
	g.Go(func() error {
		var err error
		reqs, err = r.source.UnfilledRoleRequirements(gctx, params.FacilityID)
		return err
	})
	g.Go(func() error {
		var err error
		cands, err = r.source.RankedCandidates(gctx, params.FacilityID, params.Limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return StaffingSummary{}, fmt.Errorf("failed to gather staffing for %s: %w", params.FacilityID, err)
	}

	summary := StaffingSummary{
		FacilityID:  params.FacilityID,
		GeneratedAt: r.now().UTC(),
		Roles:       make([]RoleStaffing, 0, len(reqs)),
	}
	if found {
		summary.Facility = &info
	}
	byRole := make(map[string][]matcher.Candidate)
	for _, c := range cands {
		byRole[c.RoleID] = append(byRole[c.RoleID], c)
	}
	for _, req := range reqs {
		rc := byRole[req.RoleID]
		if rc == nil {
			rc = []matcher.Candidate{}
		}
		summary.Roles = append(summary.Roles, RoleStaffing{RoleRequirement: req, Candidates: rc})
	}
	return summary, nil
}

// Generate renders the staffing report as CSV (one row per role and
// candidate, roles without candidates get one row with empty person
// columns) or JSON.
func (r *StaffingReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	summary, err := r.Summarize(ctx, params)
	if err != nil {
		return nil, err
	}
	if params.Format == ReportFormatJSON {
		return writeJSON(summary)
	}

	name := ""
	if summary.Facility != nil {
		name = summary.Facility.Name
	}
	headers := []string{"facility_id", "facility_name", "role_type", "role_id", "required_skills", "person_id", "person_name", "matched_skills", "distance_miles"}
	var rows [][]string
	for _, role := range summary.Roles {
		prefix := []string{summary.FacilityID, name, role.RoleType, role.RoleID, strings.Join(role.RequiredSkills, ";")}
		if len(role.Candidates) == 0 {
			rows = append(rows, append(prefix, "", "", "", ""))
			continue
		}
		for _, c := range role.Candidates {
			dist := ""
			if c.DistanceMiles != nil {
				dist = strconv.FormatFloat(*c.DistanceMiles, 'f', 2, 64)
			}
			row := append(append([]string{}, prefix...), c.PersonID, c.PersonName, strings.Join(c.MatchedSkills, ";"), dist)
			rows = append(rows, row)
		}
	}
	return writeCSV(headers, rows)
}
