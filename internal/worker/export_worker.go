// Package worker runs queued Google Sheets exports.
package worker

import (
	"context"
	"fmt"
	"time"

	"twilioreport/internal/amqp"
	applog "twilioreport/internal/log"
)

// JobProcessor runs export jobs. services.ExportService implements it.
type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID string) error
	ProcessPending(ctx context.Context, limit int) (int, error)
}

// ExportWorker handles export requests from the broker and sweeps
// pending jobs whose messages were lost.
type ExportWorker struct {
	jobs      JobProcessor
	batchSize int
	logger    *applog.Logger
}

func NewExportWorker(jobs JobProcessor, batchSize int, logger *applog.Logger) *ExportWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	if logger == nil {
		logger = applog.Default(applog.ComponentWorker)
	}
	return &ExportWorker{jobs: jobs, batchSize: batchSize, logger: logger.WithComponent(applog.ComponentWorker)}
}

// HandleMessage processes the job named by one export request. A returned
// error makes the broker redeliver the message.
func (w *ExportWorker) HandleMessage(ctx context.Context, msg *amqp.ExportRequestMessage) error {
	w.logger.InfoContext(ctx, "Processing export request",
		applog.FieldJobID, msg.ID,
		applog.FieldUserID, msg.UserID)

	if err := w.jobs.ProcessJob(ctx, msg.ID); err != nil {
		return fmt.Errorf("process export %s: %w", msg.ID, err)
	}
	return nil
}

// ProcessPending runs one batch of pending jobs.
func (w *ExportWorker) ProcessPending(ctx context.Context) error {
	n, err := w.jobs.ProcessPending(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("process pending exports: %w", err)
	}
	if n > 0 {
		w.logger.InfoContext(ctx, "Processed pending exports", "count", n)
	}
	return nil
}

// StartupCheck drains a larger batch of jobs left over from downtime.
func (w *ExportWorker) StartupCheck(ctx context.Context) error {
	n, err := w.jobs.ProcessPending(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup export check: %w", err)
	}
	w.logger.InfoContext(ctx, "Startup export check completed", "processed", n)
	return nil
}

// RunSweeper calls ProcessPending every interval until ctx is done.
func (w *ExportWorker) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ProcessPending(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "Periodic export sweep failed", applog.FieldError, err.Error())
			}
		}
	}
}
