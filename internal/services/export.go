package services

import (
	"context"
	"errors"
	"fmt"

	"twilioreport/internal/core"
	applog "twilioreport/internal/log"
	"twilioreport/internal/sheets"
	"twilioreport/internal/store"
)

const MsgInvalidDays = "Invalid number of days"

// ExportPublisher announces new export jobs to the worker.
type ExportPublisher interface {
	PublishExportRequest(ctx context.Context, jobID, userID string) error
}

// HistorySource builds the usage history of an account.
type HistorySource interface {
	History(ctx context.Context, creds core.Credentials, days int) ([]core.DailyUsage, error)
}

// ExportService queues and runs Google Sheets exports. Jobs are stored
// before they are announced, so a lost message is recovered by
// ProcessPending.
type ExportService struct {
	jobs      store.ExportJobStore
	accounts  store.AccountStore
	publisher ExportPublisher
	history   HistorySource
	writer    sheets.ReportWriter
	clock     core.Clock
	logger    *applog.Logger
}

// ExportDeps groups the collaborators of ExportService. Publisher may be
// nil when no broker is configured; History and Writer are only needed
// by the process that runs jobs.
type ExportDeps struct {
	Jobs      store.ExportJobStore
	Accounts  store.AccountStore
	Publisher ExportPublisher
	History   HistorySource
	Writer    sheets.ReportWriter
	Clock     core.Clock
	Logger    *applog.Logger
}

func NewExportService(d ExportDeps) *ExportService {
	if d.Clock == nil {
		d.Clock = core.SystemClock
	}
	if d.Logger == nil {
		d.Logger = applog.Default(applog.ComponentExport)
	}
	return &ExportService{
		jobs:      d.Jobs,
		accounts:  d.Accounts,
		publisher: d.Publisher,
		history:   d.History,
		writer:    d.Writer,
		clock:     d.Clock,
		logger:    d.Logger.WithComponent(applog.ComponentExport),
	}
}

// Request stores a pending export of the last days days of accountID and
// announces it. Publishing failures are logged, not returned.
func (s *ExportService) Request(ctx context.Context, userID, accountID string, days int) (core.ExportJob, error) {
	if days < 1 || days > core.MaxWindowDays {
		return core.ExportJob{}, invalid(MsgInvalidDays)
	}

	a, err := s.accounts.GetAccount(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && a.UserID != userID) {
		return core.ExportJob{}, notFound(MsgAccountNotFound)
	}
	if err != nil {
		return core.ExportJob{}, internal(MsgDatabaseError, err)
	}

	job, err := s.jobs.CreateExportJob(ctx, core.ExportJob{UserID: userID, AccountID: accountID, Days: days})
	if err != nil {
		return core.ExportJob{}, internal(MsgDatabaseError, err)
	}

	if s.publisher == nil {
		s.logger.WarnContext(ctx, "No broker configured, export left for the pending sweep", applog.FieldJobID, job.ID)
		return job, nil
	}
	if err := s.publisher.PublishExportRequest(ctx, job.ID, userID); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish export request",
			applog.FieldJobID, job.ID, applog.FieldError, err.Error())
	}
	return job, nil
}

// Job returns a stored export job owned by userID.
func (s *ExportService) Job(ctx context.Context, userID, jobID string) (core.ExportJob, error) {
	j, err := s.jobs.GetExportJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && j.UserID != userID) {
		return core.ExportJob{}, notFound("Export not found")
	}
	if err != nil {
		return core.ExportJob{}, internal(MsgDatabaseError, err)
	}
	return j, nil
}

// ProcessJob runs one pending export. Jobs that are already finished are
// skipped. Failures are recorded on the job; only store errors and
// cancellation are returned so the caller can retry.
func (s *ExportService) ProcessJob(ctx context.Context, jobID string) error {
	if s.history == nil || s.writer == nil {
		return errors.New("export service is not configured to run jobs")
	}

	job, err := s.jobs.GetExportJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.WarnContext(ctx, "Export job not found, dropping", applog.FieldJobID, jobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get export job: %w", err)
	}
	if job.Status != core.ExportPending {
		s.logger.DebugContext(ctx, "Export job already processed", applog.FieldJobID, jobID, "status", job.Status)
		return nil
	}

	account, err := s.accounts.GetAccount(ctx, job.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		return s.fail(ctx, job, "account no longer exists")
	}
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}

	days, err := s.history.History(ctx, account.Credentials(), job.Days)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.fail(ctx, job, err.Error())
	}

	ref, err := s.writer.WriteUsageReport(ctx, sheets.UsageReport{
		AccountName: account.Name,
		GeneratedAt: s.clock(),
		Days:        days,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.fail(ctx, job, err.Error())
	}

	if err := s.jobs.MarkExportDone(ctx, job.ID, ref); err != nil {
		return fmt.Errorf("mark export done: %w", err)
	}
	s.logger.InfoContext(ctx, "Export completed",
		applog.FieldJobID, job.ID,
		applog.FieldAccountID, account.ID,
		applog.FieldDays, job.Days,
		applog.FieldSheetsRef, ref)
	return nil
}

// ProcessPending runs up to limit pending jobs and returns how many
// completed without a store error.
func (s *ExportService) ProcessPending(ctx context.Context, limit int) (int, error) {
	jobs, err := s.jobs.ListPendingExportJobs(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending exports: %w", err)
	}

	processed := 0
	for _, j := range jobs {
		if err := s.ProcessJob(ctx, j.ID); err != nil {
			if ctx.Err() != nil {
				return processed, ctx.Err()
			}
			s.logger.ErrorContext(ctx, "Pending export failed", applog.FieldJobID, j.ID, applog.FieldError, err.Error())
			continue
		}
		processed++
	}
	return processed, nil
}

func (s *ExportService) fail(ctx context.Context, job core.ExportJob, reason string) error {
	s.logger.WarnContext(ctx, "Export failed", applog.FieldJobID, job.ID, applog.FieldError, reason)
	if err := s.jobs.MarkExportFailed(ctx, job.ID, reason); err != nil {
		return fmt.Errorf("mark export failed: %w", err)
	}
	return nil
}
