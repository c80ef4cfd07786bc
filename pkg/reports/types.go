package reports

import (
	"context"
	"io"
	"time"

	"github.com/rmax-ai/rolematch/pkg/matcher"
	"github.com/rmax-ai/rolematch/pkg/store"
)

type ReportType string

const (
	ReportTypeStaffing    ReportType = "staffing"
	ReportTypeAssignments ReportType = "assignments"
)

type ReportFormat string

const (
	ReportFormatCSV  ReportFormat = "csv"
	ReportFormatJSON ReportFormat = "json"
)

// ParseFormat accepts "csv", "json" or "" (csv).
func ParseFormat(s string) (ReportFormat, bool) {
	switch ReportFormat(s) {
	case "", ReportFormatCSV:
		return ReportFormatCSV, true
	case ReportFormatJSON:
		return ReportFormatJSON, true
	}
	return "", false
}

type ReportParams struct {
	FacilityID string
	Format     ReportFormat
	Limit      int
	Start      time.Time
	End        time.Time
	Filters    map[string]interface{}
}

// MatchSource is the read side a staffing report draws on.
type MatchSource interface {
	UnfilledRoleRequirements(ctx context.Context, facilityID string) ([]matcher.RoleRequirement, error)
	RankedCandidates(ctx context.Context, facilityID string, limit int) ([]matcher.Candidate, error)
	Facility(ctx context.Context, facilityID string) (matcher.FacilityInfo, bool, error)
}

// ReportStore defines the journal access required by reports.
type ReportStore interface {
	ListAssignments(ctx context.Context, filter store.AssignmentFilter) ([]store.AssignmentRecord, error)
}

type Generator interface {
	Generate(ctx context.Context, params ReportParams) (io.Reader, error)
}
