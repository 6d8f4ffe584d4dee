// Package export renders usage history as spreadsheet tables.
package export

import (
	"twilioreport/internal/core"
)

// Header is the column layout shared by every spreadsheet export.
var Header = []string{
	"Date",
	"SMS Count",
	"SMS Cost ($)",
	"Call Count",
	"Total Call Minutes",
	"Call Cost ($)",
	"Total Cost ($)",
}

// TotalsLabel heads the closing totals row.
const TotalsLabel = "Total"

// Row lays out one day in Header order.
func Row(d core.DailyUsage) []any {
	return []any{d.Date, d.SMSCount, d.SMSCost, d.CallCount, d.TotalCallMinutes, d.CallCost, d.TotalCost}
}

// TotalsRow lays out window totals in Header order.
func TotalsRow(t core.UsageTotals) []any {
	return []any{TotalsLabel, t.SMSCount, t.SMSCost, t.CallCount, t.TotalCallMinutes, t.CallCost, t.TotalCost}
}

// Table returns header, one row per day and the totals row.
func Table(days []core.DailyUsage) [][]any {
	rows := make([][]any, 0, len(days)+2)
	head := make([]any, len(Header))
	for i, h := range Header {
		head[i] = h
	}
	rows = append(rows, head)
	for _, d := range days {
		rows = append(rows, Row(d))
	}
	rows = append(rows, TotalsRow(core.SumDays(days)))
	return rows
}
