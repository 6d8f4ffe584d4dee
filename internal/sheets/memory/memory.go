// Package memory keeps published usage reports in process. It backs the
// export worker when Google Sheets is not configured, and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"twilioreport/internal/export"
	ports "twilioreport/internal/sheets"
)

type Writer struct {
	mu   sync.Mutex
	tabs map[string][][]any
}

var _ ports.ReportWriter = (*Writer)(nil)

func New() *Writer {
	return &Writer{tabs: make(map[string][][]any)}
}

// WriteUsageReport stores the report table under its tab name, replacing
// any earlier report with the same name.
func (w *Writer) WriteUsageReport(_ context.Context, r ports.UsageReport) (string, error) {
	rows := export.Table(r.Days)
	tab := ports.TabName(r)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.tabs[tab] = rows
	return fmt.Sprintf("mem:%s!A1:G%d", tab, len(rows)), nil
}

// Tab returns a copy of the rows written under name.
func (w *Writer) Tab(name string) ([][]any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rows, ok := w.tabs[name]
	if !ok {
		return nil, false
	}
	return append([][]any(nil), rows...), true
}

// Len returns the number of stored tabs.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tabs)
}
