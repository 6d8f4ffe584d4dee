// Package storage is the SQLite implementation of store.Store.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"twilioreport/internal/core"
	"twilioreport/internal/store"
)

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) stamp() string {
	return r.now().UTC().Format(timeLayout)
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	u.ID = uuid.NewString()
	ts := r.stamp()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, first_name, last_name, email, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.FirstName, u.LastName, u.Email, u.PasswordHash, ts, ts)
	if err != nil {
		return core.User{}, fmt.Errorf("create user: %w", mapErr(err))
	}
	u.CreatedAt, u.UpdatedAt = parseTime(ts), parseTime(ts)

	slog.InfoContext(ctx, "User saved to SQLite", "id", u.ID)
	return u, nil
}

const userColumns = `id, first_name, last_name, email, password_hash, created_at, updated_at`

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err != nil {
		return core.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (core.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return core.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.ProviderAccount) (core.ProviderAccount, error) {
	a.ID = uuid.NewString()
	ts := r.stamp()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO provider_accounts (id, user_id, name, sid, auth_token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.SID, a.AuthToken, ts, ts)
	if err != nil {
		return core.ProviderAccount{}, fmt.Errorf("create account %q: %w", a.Name, mapErr(err))
	}
	a.CreatedAt, a.UpdatedAt = parseTime(ts), parseTime(ts)

	slog.InfoContext(ctx, "Provider account saved to SQLite", "id", a.ID, "user_id", a.UserID)
	return a, nil
}

const accountColumns = `id, user_id, name, sid, auth_token, created_at, updated_at`

func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (core.ProviderAccount, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM provider_accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		return core.ProviderAccount{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

func (r *SQLiteRepository) ListAccountsByUser(ctx context.Context, userID string) ([]core.ProviderAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM provider_accounts WHERE user_id = ? ORDER BY created_at, rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	out := make([]core.ProviderAccount, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) DeleteAccount(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM provider_accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete account %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) CreateExportJob(ctx context.Context, j core.ExportJob) (core.ExportJob, error) {
	j.ID = uuid.NewString()
	j.Status = core.ExportPending
	ts := r.stamp()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO export_jobs (id, user_id, account_id, days, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.UserID, j.AccountID, j.Days, string(j.Status), ts, ts)
	if err != nil {
		return core.ExportJob{}, fmt.Errorf("create export job: %w", mapErr(err))
	}
	j.CreatedAt, j.UpdatedAt = parseTime(ts), parseTime(ts)
	return j, nil
}

const jobColumns = `id, user_id, account_id, days, status, sheet_ref, error, created_at, updated_at`

func (r *SQLiteRepository) GetExportJob(ctx context.Context, id string) (core.ExportJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM export_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		return core.ExportJob{}, fmt.Errorf("get export job %s: %w", id, err)
	}
	return j, nil
}

func (r *SQLiteRepository) ListPendingExportJobs(ctx context.Context, limit int) ([]core.ExportJob, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM export_jobs WHERE status = ? ORDER BY created_at, rowid LIMIT ?`,
		string(core.ExportPending), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending export jobs: %w", err)
	}
	defer rows.Close()

	var out []core.ExportJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list pending export jobs: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending export jobs: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) MarkExportDone(ctx context.Context, id, sheetRef string) error {
	return r.updateJob(ctx, id,
		`UPDATE export_jobs SET status = ?, sheet_ref = ?, error = '', updated_at = ? WHERE id = ?`,
		string(core.ExportDone), sheetRef, r.stamp(), id)
}

func (r *SQLiteRepository) MarkExportFailed(ctx context.Context, id, reason string) error {
	return r.updateJob(ctx, id,
		`UPDATE export_jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(core.ExportFailed), reason, r.stamp(), id)
}

func (r *SQLiteRepository) updateJob(ctx context.Context, id, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update export job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update export job %s: %w", id, store.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (core.User, error) {
	var u core.User
	var created, updated string
	if err := s.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &created, &updated); err != nil {
		return core.User{}, mapErr(err)
	}
	u.CreatedAt, u.UpdatedAt = parseTime(created), parseTime(updated)
	return u, nil
}

func scanAccount(s scanner) (core.ProviderAccount, error) {
	var a core.ProviderAccount
	var created, updated string
	if err := s.Scan(&a.ID, &a.UserID, &a.Name, &a.SID, &a.AuthToken, &created, &updated); err != nil {
		return core.ProviderAccount{}, mapErr(err)
	}
	a.CreatedAt, a.UpdatedAt = parseTime(created), parseTime(updated)
	return a, nil
}

func scanJob(s scanner) (core.ExportJob, error) {
	var j core.ExportJob
	var status, created, updated string
	if err := s.Scan(&j.ID, &j.UserID, &j.AccountID, &j.Days, &status, &j.SheetRef, &j.Error, &created, &updated); err != nil {
		return core.ExportJob{}, mapErr(err)
	}
	j.Status = core.ExportStatus(status)
	j.CreatedAt, j.UpdatedAt = parseTime(created), parseTime(updated)
	return j, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// mapErr translates driver errors into store sentinels.
func mapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
	}
	return err
}
