package reports

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rmax-ai/rolematch/pkg/store"
)

// AssignmentReport exports the assignment journal.
type AssignmentReport struct {
	store ReportStore
}

func NewAssignmentReport(s ReportStore) *AssignmentReport {
	return &AssignmentReport{store: s}
}

// Generate lists journal records between params.Start and params.End.
// Filters may carry role_id, person_id and action strings.
func (r *AssignmentReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	filter := store.AssignmentFilter{
		FacilityID: params.FacilityID,
		From:       params.Start,
		To:         params.End,
		Limit:      params.Limit,
	}
	if roleID, ok := params.Filters["role_id"].(string); ok && roleID != "" {
		filter.RoleID = roleID
	}
	if personID, ok := params.Filters["person_id"].(string); ok && personID != "" {
		filter.PersonID = personID
	}
	if action, ok := params.Filters["action"].(string); ok && action != "" {
		filter.Action = store.AssignmentAction(action)
	}

	recs, err := r.store.ListAssignments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	if params.Format == ReportFormatJSON {
		if recs == nil {
			recs = []store.AssignmentRecord{}
		}
		return writeJSON(recs)
	}

	headers := []string{"timestamp", "action", "facility_id", "role_id", "person_id", "relationship_id"}
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, []string{
			rec.At.UTC().Format(time.RFC3339),
			string(rec.Action),
			rec.FacilityID,
			rec.RoleID,
			rec.PersonID,
			rec.RelationshipID,
		})
	}
	return writeCSV(headers, rows)
}
