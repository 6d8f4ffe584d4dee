// Package google publishes usage reports to a Google Sheets spreadsheet
// using service-account or authorized-user credentials.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"twilioreport/internal/export"
	applog "twilioreport/internal/log"
	ports "twilioreport/internal/sheets"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	logger        *applog.Logger
}

var _ ports.ReportWriter = (*Client)(nil)

// New creates a client from inline credentials JSON, falling back to
// reading credentialsFile. Both service-account keys and the
// authorized_user files written by sheets-auth are accepted.
func New(ctx context.Context, spreadsheetID, credentialsFile, credentialsJSON string, logger *applog.Logger) (*Client, error) {
	if logger == nil {
		logger = applog.Default(applog.ComponentSheets)
	}
	logger = logger.WithComponent(applog.ComponentSheets)
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	var creds []byte
	switch {
	case strings.TrimSpace(credentialsJSON) != "":
		logger.InfoContext(ctx, "Using inline service account credentials")
		creds = []byte(credentialsJSON)
	case credentialsFile != "":
		b, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		logger.InfoContext(ctx, "Read service account credentials", "path", credentialsFile, "size", len(b))
		creds = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_CREDENTIALS_JSON or GOOGLE_CREDENTIALS_FILE)")
	}

	return NewWithOptions(ctx, spreadsheetID, logger,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
}

// NewWithOptions builds the Sheets service from raw client options.
func NewWithOptions(ctx context.Context, spreadsheetID string, logger *applog.Logger, opts ...goption.ClientOption) (*Client, error) {
	if logger == nil {
		logger = applog.Default(applog.ComponentSheets)
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, logger: logger.WithComponent(applog.ComponentSheets)}, nil
}

// WriteUsageReport writes the report into its own tab, creating the tab on
// first use and clearing it on later runs.
func (c *Client) WriteUsageReport(ctx context.Context, r ports.UsageReport) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	tab := ports.TabName(r)
	if err := c.prepareTab(ctx, tab); err != nil {
		return "", err
	}

	rows := export.Table(r.Days)
	rng := fmt.Sprintf("%s!A1:G%d", quoteTab(tab), len(rows))
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("write %s: %w", rng, err)
	}

	c.logger.InfoContext(ctx, "Usage report written to sheet", "range", rng, "rows", len(rows))
	return rng, nil
}

func (c *Client) prepareTab(ctx context.Context, tab string) error {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w", err)
	}

	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == tab {
			_, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, quoteTab(tab), &gsheet.ClearValuesRequest{}).
				Context(ctx).Do()
			if err != nil {
				return fmt.Errorf("clear tab %q: %w", tab, err)
			}
			return nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: tab}},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add tab %q: %w", tab, err)
	}
	return nil
}

// quoteTab renders a tab title for A1 notation.
func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}
