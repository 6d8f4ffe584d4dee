// Package storetest holds the behavioural checks every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"

	"twilioreport/internal/core"
	"twilioreport/internal/store"
)

// Run exercises s against the store contract. s must start empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	// IDs handed out by the store, shared by the subtests below.
	var user1, user2, user3, backupID string

	t.Run("users", func(t *testing.T) {
		u, err := s.CreateUser(ctx, core.User{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", PasswordHash: "hash"})
		if err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
		if u.ID == "" || u.CreatedAt.IsZero() {
			t.Fatalf("CreateUser() should assign ID and timestamps: %+v", u)
		}

		if _, err := s.CreateUser(ctx, core.User{FirstName: "Other", Email: "jane@example.com"}); !errors.Is(err, store.ErrConflict) {
			t.Errorf("duplicate email error = %v, want ErrConflict", err)
		}

		got, err := s.GetUserByEmail(ctx, "jane@example.com")
		if err != nil {
			t.Fatalf("GetUserByEmail() error = %v", err)
		}
		if got.ID != u.ID || got.PasswordHash != "hash" || got.FirstName != "Jane" {
			t.Errorf("GetUserByEmail() = %+v, want %+v", got, u)
		}

		byID, err := s.GetUserByID(ctx, u.ID)
		if err != nil || byID.Email != u.Email {
			t.Errorf("GetUserByID() = %+v, %v", byID, err)
		}

		if _, err := s.GetUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("unknown email error = %v, want ErrNotFound", err)
		}

		u2, err := s.CreateUser(ctx, core.User{FirstName: "John", Email: "john@example.com", PasswordHash: "hash"})
		if err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
		u3, err := s.CreateUser(ctx, core.User{FirstName: "Ann", Email: "ann@example.com", PasswordHash: "hash"})
		if err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
		user1, user2, user3 = u.ID, u2.ID, u3.ID
	})

	t.Run("accounts", func(t *testing.T) {
		if user1 == "" {
			t.Skip("users subtest failed")
		}
		a1, err := s.CreateAccount(ctx, core.ProviderAccount{UserID: user1, Name: "Main", SID: "AC1", AuthToken: "t1"})
		if err != nil {
			t.Fatalf("CreateAccount() error = %v", err)
		}
		backup, err := s.CreateAccount(ctx, core.ProviderAccount{UserID: user1, Name: "Backup", SID: "AC2", AuthToken: "t2"})
		if err != nil {
			t.Fatalf("CreateAccount() error = %v", err)
		}
		backupID = backup.ID
		if _, err := s.CreateAccount(ctx, core.ProviderAccount{UserID: user2, Name: "Main", SID: "AC3", AuthToken: "t3"}); err != nil {
			t.Fatalf("same name for another user should be allowed: %v", err)
		}
		if _, err := s.CreateAccount(ctx, core.ProviderAccount{UserID: user1, Name: "Main", SID: "AC4", AuthToken: "t4"}); !errors.Is(err, store.ErrConflict) {
			t.Errorf("duplicate name error = %v, want ErrConflict", err)
		}

		got, err := s.GetAccount(ctx, a1.ID)
		if err != nil {
			t.Fatalf("GetAccount() error = %v", err)
		}
		if got.SID != "AC1" || got.AuthToken != "t1" || got.UserID != user1 {
			t.Errorf("GetAccount() = %+v", got)
		}

		list, err := s.ListAccountsByUser(ctx, user1)
		if err != nil {
			t.Fatalf("ListAccountsByUser() error = %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("ListAccountsByUser() len = %d, want 2", len(list))
		}

		empty, err := s.ListAccountsByUser(ctx, user3)
		if err != nil || len(empty) != 0 {
			t.Errorf("ListAccountsByUser(unknown) = %v, %v", empty, err)
		}

		if err := s.DeleteAccount(ctx, a1.ID); err != nil {
			t.Fatalf("DeleteAccount() error = %v", err)
		}
		if err := s.DeleteAccount(ctx, a1.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("second delete error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetAccount(ctx, a1.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetAccount(deleted) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("export jobs", func(t *testing.T) {
		if backupID == "" {
			t.Skip("accounts subtest failed")
		}
		j1, err := s.CreateExportJob(ctx, core.ExportJob{UserID: user1, AccountID: backupID, Days: 31})
		if err != nil {
			t.Fatalf("CreateExportJob() error = %v", err)
		}
		if j1.Status != core.ExportPending || j1.ID == "" {
			t.Fatalf("CreateExportJob() = %+v", j1)
		}
		j2, err := s.CreateExportJob(ctx, core.ExportJob{UserID: user1, AccountID: backupID, Days: 7})
		if err != nil {
			t.Fatalf("CreateExportJob() error = %v", err)
		}

		pending, err := s.ListPendingExportJobs(ctx, 10)
		if err != nil || len(pending) != 2 {
			t.Fatalf("ListPendingExportJobs() = %v, %v", pending, err)
		}

		if err := s.MarkExportDone(ctx, j1.ID, "sheet!A1"); err != nil {
			t.Fatalf("MarkExportDone() error = %v", err)
		}
		if err := s.MarkExportFailed(ctx, j2.ID, "provider down"); err != nil {
			t.Fatalf("MarkExportFailed() error = %v", err)
		}

		done, err := s.GetExportJob(ctx, j1.ID)
		if err != nil || done.Status != core.ExportDone || done.SheetRef != "sheet!A1" {
			t.Errorf("GetExportJob(done) = %+v, %v", done, err)
		}
		failed, err := s.GetExportJob(ctx, j2.ID)
		if err != nil || failed.Status != core.ExportFailed || failed.Error != "provider down" || failed.Days != 7 {
			t.Errorf("GetExportJob(failed) = %+v, %v", failed, err)
		}
		if failed.UserID != user1 || failed.AccountID != backupID {
			t.Errorf("GetExportJob() owner = %s/%s, want %s/%s", failed.UserID, failed.AccountID, user1, backupID)
		}

		pending, err = s.ListPendingExportJobs(ctx, 10)
		if err != nil || len(pending) != 0 {
			t.Errorf("ListPendingExportJobs() after processing = %v, %v", pending, err)
		}

		if err := s.MarkExportDone(ctx, "missing", "x"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("MarkExportDone(missing) error = %v, want ErrNotFound", err)
		}
	})

	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
