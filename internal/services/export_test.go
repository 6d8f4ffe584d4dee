package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"twilioreport/internal/core"
	"twilioreport/internal/sheets"
	sheetsmem "twilioreport/internal/sheets/memory"
	"twilioreport/internal/store/memory"
)

type fakePublisher struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (p *fakePublisher) PublishExportRequest(_ context.Context, jobID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, jobID)
	return p.err
}

type fakeHistory struct {
	days []core.DailyUsage
	err  error
}

func (h fakeHistory) History(_ context.Context, _ core.Credentials, days int) ([]core.DailyUsage, error) {
	if h.err != nil {
		return nil, h.err
	}
	if days < len(h.days) {
		return h.days[:days], nil
	}
	return h.days, nil
}

type failingWriter struct{}

func (failingWriter) WriteUsageReport(context.Context, sheets.UsageReport) (string, error) {
	return "", errors.New("quota exceeded")
}

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type exportFixture struct {
	store     *memory.Store
	publisher *fakePublisher
	writer    *sheetsmem.Writer
	svc       *ExportService
	account   core.ProviderAccount
}

func newExportFixture(t *testing.T, history HistorySource, writer sheets.ReportWriter) *exportFixture {
	t.Helper()
	st := memory.New()
	a, err := st.CreateAccount(context.Background(), core.ProviderAccount{
		UserID: "u1", Name: "Main", SID: "AC1", AuthToken: "tok",
	})
	if err != nil {
		t.Fatal(err)
	}

	f := &exportFixture{store: st, publisher: &fakePublisher{}, writer: sheetsmem.New(), account: a}
	if writer == nil {
		writer = f.writer
	}
	f.svc = NewExportService(ExportDeps{
		Jobs:      st,
		Accounts:  st,
		Publisher: f.publisher,
		History:   history,
		Writer:    writer,
		Clock:     func() time.Time { return fixedNow },
	})
	return f
}

func sampleDays() []core.DailyUsage {
	return []core.DailyUsage{
		{Date: "2024-03-10", SMSCount: 3, SMSCost: 0.12, TotalCost: 0.12},
		{Date: "2024-03-09", CallCount: 2, CallCost: 0.5, TotalCost: 0.5, TotalCallMinutes: 4},
	}
}

func TestExportRequest(t *testing.T) {
	f := newExportFixture(t, fakeHistory{days: sampleDays()}, nil)
	ctx := context.Background()

	job, err := f.svc.Request(ctx, "u1", f.account.ID, 2)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if job.Status != core.ExportPending {
		t.Errorf("status = %q, want pending", job.Status)
	}
	if len(f.publisher.jobs) != 1 || f.publisher.jobs[0] != job.ID {
		t.Errorf("published = %v, want [%s]", f.publisher.jobs, job.ID)
	}
}

func TestExportRequestRejects(t *testing.T) {
	f := newExportFixture(t, fakeHistory{}, nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		user      string
		account   string
		days      int
		wantKind  Kind
		wantCount int
	}{
		{name: "zero days", user: "u1", account: f.account.ID, days: 0, wantKind: KindInvalid},
		{name: "too many days", user: "u1", account: f.account.ID, days: core.MaxWindowDays + 1, wantKind: KindInvalid},
		{name: "foreign account", user: "u2", account: f.account.ID, days: 7, wantKind: KindNotFound},
		{name: "unknown account", user: "u1", account: "missing", days: 7, wantKind: KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Request(ctx, tt.user, tt.account, tt.days)
			if KindOf(err) != tt.wantKind {
				t.Fatalf("Request() kind = %v, want %v (err %v)", KindOf(err), tt.wantKind, err)
			}
		})
	}
	if len(f.publisher.jobs) != 0 {
		t.Errorf("rejected requests were published: %v", f.publisher.jobs)
	}
}

func TestExportRequestPublishFailureKeepsJob(t *testing.T) {
	f := newExportFixture(t, fakeHistory{days: sampleDays()}, nil)
	f.publisher.err = errors.New("broker down")
	ctx := context.Background()

	job, err := f.svc.Request(ctx, "u1", f.account.ID, 2)
	if err != nil {
		t.Fatalf("Request() error = %v, want nil when publishing fails", err)
	}

	n, err := f.svc.ProcessPending(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("ProcessPending() = %d, %v; want 1, nil", n, err)
	}
	got, _ := f.store.GetExportJob(ctx, job.ID)
	if got.Status != core.ExportDone {
		t.Errorf("status = %q, want done", got.Status)
	}
}

func TestProcessJobWritesReport(t *testing.T) {
	f := newExportFixture(t, fakeHistory{days: sampleDays()}, nil)
	ctx := context.Background()

	job, err := f.svc.Request(ctx, "u1", f.account.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}

	got, err := f.store.GetExportJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != core.ExportDone || got.SheetRef == "" {
		t.Fatalf("job = %+v, want done with a sheet ref", got)
	}

	rows, ok := f.writer.Tab(sheets.TabName(sheets.UsageReport{AccountName: "Main", GeneratedAt: fixedNow}))
	if !ok {
		t.Fatal("report tab not written")
	}
	// header, two days, totals
	if len(rows) != 4 {
		t.Errorf("rows = %d, want 4", len(rows))
	}

	// Processing twice is a no-op.
	if err := f.svc.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("second ProcessJob() error = %v", err)
	}
	if f.writer.Len() != 1 {
		t.Errorf("tabs = %d, want 1", f.writer.Len())
	}
}

func TestProcessJobFailures(t *testing.T) {
	tests := []struct {
		name          string
		history       HistorySource
		writer        sheets.ReportWriter
		deleteAccount bool
	}{
		{name: "history error", history: fakeHistory{err: core.ErrInvalidDays}},
		{name: "writer error", history: fakeHistory{days: sampleDays()}, writer: failingWriter{}},
		{name: "account deleted", history: fakeHistory{days: sampleDays()}, deleteAccount: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newExportFixture(t, tt.history, tt.writer)
			ctx := context.Background()

			job, err := f.svc.Request(ctx, "u1", f.account.ID, 2)
			if err != nil {
				t.Fatal(err)
			}
			if tt.deleteAccount {
				if err := f.store.DeleteAccount(ctx, f.account.ID); err != nil {
					t.Fatal(err)
				}
			}

			if err := f.svc.ProcessJob(ctx, job.ID); err != nil {
				t.Fatalf("ProcessJob() error = %v, want failure recorded on the job", err)
			}
			got, _ := f.store.GetExportJob(ctx, job.ID)
			if got.Status != core.ExportFailed || got.Error == "" {
				t.Errorf("job = %+v, want failed with a reason", got)
			}
		})
	}
}

func TestProcessJobUnknownIsDropped(t *testing.T) {
	f := newExportFixture(t, fakeHistory{}, nil)
	if err := f.svc.ProcessJob(context.Background(), "missing"); err != nil {
		t.Fatalf("ProcessJob(missing) error = %v, want nil", err)
	}
}

func TestExportJobOwnership(t *testing.T) {
	f := newExportFixture(t, fakeHistory{days: sampleDays()}, nil)
	ctx := context.Background()
	job, err := f.svc.Request(ctx, "u1", f.account.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Job(ctx, "u1", job.ID); err != nil {
		t.Errorf("Job() owner error = %v", err)
	}
	if _, err := f.svc.Job(ctx, "u2", job.ID); KindOf(err) != KindNotFound {
		t.Errorf("Job() stranger kind = %v, want KindNotFound", KindOf(err))
	}
}
