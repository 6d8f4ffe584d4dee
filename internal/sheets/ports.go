// Package sheets defines the outbound port for publishing usage reports
// to a shared spreadsheet.
package sheets

import (
	"context"
	"time"

	"twilioreport/internal/core"
)

// UsageReport is one account's usage history ready to be published.
type UsageReport struct {
	AccountName string
	GeneratedAt time.Time
	Days        []core.DailyUsage
}

// ReportWriter publishes a report and returns a reference to where it
// was written (e.g. "'Main 2024-03-10'!A1:G33").
type ReportWriter interface {
	WriteUsageReport(ctx context.Context, report UsageReport) (ref string, err error)
}

// TabName is the worksheet title used for a report.
func TabName(r UsageReport) string {
	name := r.AccountName
	if name == "" {
		name = "Usage"
	}
	return name + " " + r.GeneratedAt.UTC().Format(core.DateLayout)
}
