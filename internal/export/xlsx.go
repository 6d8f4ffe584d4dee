package export

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"twilioreport/internal/core"
)

const (
	// SheetName is the worksheet holding the usage table.
	SheetName = "Twilio Usage"
	// FileName is the suggested download name.
	FileName = "Twilio_Usage.xlsx"
)

// WriteUsageXLSX writes days as a single-sheet workbook with a bold header
// and a bold totals row.
func WriteUsageXLSX(w io.Writer, days []core.DailyUsage) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	rows := Table(days)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	last := len(rows)
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	if err := f.SetRowStyle(SheetName, last, last, bold); err != nil {
		return fmt.Errorf("style totals: %w", err)
	}
	if len(days) > 0 {
		for _, col := range []string{"C", "E", "F", "G"} {
			if err := f.SetCellStyle(SheetName, col+"2", col+strconv.Itoa(last-1), money); err != nil {
				return fmt.Errorf("style column %s: %w", col, err)
			}
		}
	}
	if err := f.SetColWidth(SheetName, "A", "G", 18); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// ReadUsageXLSX parses a workbook produced by WriteUsageXLSX back into
// daily rows. The totals row is skipped.
func ReadUsageXLSX(r io.Reader) ([]core.DailyUsage, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("read rows: sheet %q is empty", SheetName)
	}

	var out []core.DailyUsage
	for i, row := range rows[1:] {
		if len(row) == 0 || row[0] == TotalsLabel {
			continue
		}
		if len(row) < len(Header) {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", i+2, len(Header), len(row))
		}
		d, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func parseRow(row []string) (core.DailyUsage, error) {
	var (
		d   core.DailyUsage
		err error
	)
	d.Date = row[0]
	if d.SMSCount, err = strconv.ParseInt(row[1], 10, 64); err != nil {
		return d, fmt.Errorf("sms count: %w", err)
	}
	if d.SMSCost, err = strconv.ParseFloat(row[2], 64); err != nil {
		return d, fmt.Errorf("sms cost: %w", err)
	}
	if d.CallCount, err = strconv.ParseInt(row[3], 10, 64); err != nil {
		return d, fmt.Errorf("call count: %w", err)
	}
	if d.TotalCallMinutes, err = strconv.ParseFloat(row[4], 64); err != nil {
		return d, fmt.Errorf("call minutes: %w", err)
	}
	if d.CallCost, err = strconv.ParseFloat(row[5], 64); err != nil {
		return d, fmt.Errorf("call cost: %w", err)
	}
	if d.TotalCost, err = strconv.ParseFloat(row[6], 64); err != nil {
		return d, fmt.Errorf("total cost: %w", err)
	}
	return d, nil
}
