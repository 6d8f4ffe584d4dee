// Package store defines the persistence ports for users, saved provider
// accounts and export jobs. Implementations live in internal/store/memory,
// internal/store/mongostore and internal/storage (SQLite).
package store

import (
	"context"
	"errors"

	"twilioreport/internal/core"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("already exists")
)

// UserStore persists dashboard users. Emails are unique.
type UserStore interface {
	CreateUser(ctx context.Context, u core.User) (core.User, error)
	GetUserByEmail(ctx context.Context, email string) (core.User, error)
	GetUserByID(ctx context.Context, id string) (core.User, error)
}

// AccountStore persists provider accounts. Names are unique per user.
type AccountStore interface {
	CreateAccount(ctx context.Context, a core.ProviderAccount) (core.ProviderAccount, error)
	GetAccount(ctx context.Context, id string) (core.ProviderAccount, error)
	ListAccountsByUser(ctx context.Context, userID string) ([]core.ProviderAccount, error)
	DeleteAccount(ctx context.Context, id string) error
}

// ExportJobStore persists spreadsheet export jobs.
type ExportJobStore interface {
	CreateExportJob(ctx context.Context, j core.ExportJob) (core.ExportJob, error)
	GetExportJob(ctx context.Context, id string) (core.ExportJob, error)
	ListPendingExportJobs(ctx context.Context, limit int) ([]core.ExportJob, error)
	MarkExportDone(ctx context.Context, id, sheetRef string) error
	MarkExportFailed(ctx context.Context, id, reason string) error
}

// Store bundles every port with lifecycle hooks.
type Store interface {
	UserStore
	AccountStore
	ExportJobStore
	Ping(ctx context.Context) error
	Close() error
}
