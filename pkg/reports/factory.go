package reports

import (
	"fmt"
)

// NewReportGenerator creates a report generator based on the report type.
// A nil journal makes the assignments report unavailable.
func NewReportGenerator(reportType ReportType, src MatchSource, journal ReportStore) (Generator, error) {
	switch reportType {
	case ReportTypeStaffing:
		return NewStaffingReport(src), nil
	case ReportTypeAssignments:
		if journal == nil {
			return nil, fmt.Errorf("report %s requires an assignment journal", reportType)
		}
		return NewAssignmentReport(journal), nil
	default:
		return nil, fmt.Errorf("unknown report type: %s", reportType)
	}
}
