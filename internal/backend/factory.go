// Package backend builds the configured store and the optional export
// sinks (broker publisher and spreadsheet writer).
package backend

import (
	"context"
	"fmt"

	"twilioreport/internal/amqp"
	"twilioreport/internal/config"
	applog "twilioreport/internal/log"
	"twilioreport/internal/sheets"
	gsheet "twilioreport/internal/sheets/google"
	sheetsmem "twilioreport/internal/sheets/memory"
	"twilioreport/internal/storage"
	"twilioreport/internal/store/memory"
	"twilioreport/internal/store/mongostore"
)

// DefaultFactory implements Factory.
type DefaultFactory struct {
	logger *applog.Logger
}

func NewFactory(logger *applog.Logger) Factory {
	if logger == nil {
		logger = applog.Default(applog.ComponentBackend)
	}
	return &DefaultFactory{logger: logger.WithComponent(applog.ComponentBackend)}
}

// CreateBackend opens the store selected by config.Type.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case MongoBackend:
		return f.createMongoBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*Result, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize SQLite repository: %w", err)
	}
	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return &Result{Store: repo, Cleanup: repo.Close}, nil
}

func (f *DefaultFactory) createMongoBackend(ctx context.Context, config Config) (*Result, error) {
	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s, err := mongostore.Connect(ctx, config.MongoURI, config.MongoDatabase, f.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	f.logger.Info("Initialized MongoDB backend", "database", config.MongoDatabase)
	return &Result{Store: s, Cleanup: s.Close}, nil
}

func (f *DefaultFactory) createMemoryBackend() (*Result, error) {
	f.logger.Warn("Initialized memory backend, data is lost on restart")
	return &Result{Store: memory.New()}, nil
}

// NewPublisher connects to the broker when AMQP_URL is set. It returns
// nil without error when messaging is disabled.
func NewPublisher(cfg *config.Config, logger *applog.Logger) (*amqp.Client, error) {
	if cfg.AMQPURL == "" {
		return nil, nil
	}
	c, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize AMQP client: %w", err)
	}
	return c, nil
}

// NewReportWriter returns the Google Sheets writer when a spreadsheet is
// configured and the in-memory writer otherwise.
func NewReportWriter(ctx context.Context, cfg *config.Config, logger *applog.Logger) (sheets.ReportWriter, error) {
	if !cfg.SheetsEnabled() {
		if logger != nil {
			logger.Warn("Google Sheets disabled, exports are kept in memory")
		}
		return sheetsmem.New(), nil
	}
	c, err := gsheet.New(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleCredentialsFile, cfg.GoogleCredentialsJSON, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize Google Sheets client: %w", err)
	}
	return c, nil
}
