// Package memory is an in-process store.Store used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"twilioreport/internal/core"
	"twilioreport/internal/store"
)

type Store struct {
	mu       sync.RWMutex
	users    map[string]core.User
	accounts map[string]core.ProviderAccount
	jobs     map[string]core.ExportJob
	now      func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:    make(map[string]core.User),
		accounts: make(map[string]core.ProviderAccount),
		jobs:     make(map[string]core.ExportJob),
		now:      time.Now,
	}
}

func (s *Store) CreateUser(_ context.Context, u core.User) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return core.User{}, fmt.Errorf("create user %s: %w", u.Email, store.ErrConflict)
		}
	}
	now := s.now().UTC()
	u.ID = uuid.NewString()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return core.User{}, fmt.Errorf("get user by email: %w", store.ErrNotFound)
}

func (s *Store) GetUserByID(_ context.Context, id string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return core.User{}, fmt.Errorf("get user %s: %w", id, store.ErrNotFound)
	}
	return u, nil
}

func (s *Store) CreateAccount(_ context.Context, a core.ProviderAccount) (core.ProviderAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.UserID == a.UserID && existing.Name == a.Name {
			return core.ProviderAccount{}, fmt.Errorf("create account %q: %w", a.Name, store.ErrConflict)
		}
	}
	now := s.now().UTC()
	a.ID = uuid.NewString()
	a.CreatedAt, a.UpdatedAt = now, now
	s.accounts[a.ID] = a
	return a, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (core.ProviderAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return core.ProviderAccount{}, fmt.Errorf("get account %s: %w", id, store.ErrNotFound)
	}
	return a, nil
}

func (s *Store) ListAccountsByUser(_ context.Context, userID string) ([]core.ProviderAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.ProviderAccount, 0)
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return fmt.Errorf("delete account %s: %w", id, store.ErrNotFound)
	}
	delete(s.accounts, id)
	return nil
}

func (s *Store) CreateExportJob(_ context.Context, j core.ExportJob) (core.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	j.ID = uuid.NewString()
	j.Status = core.ExportPending
	j.CreatedAt, j.UpdatedAt = now, now
	s.jobs[j.ID] = j
	return j, nil
}

func (s *Store) GetExportJob(_ context.Context, id string) (core.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return core.ExportJob{}, fmt.Errorf("get export job %s: %w", id, store.ErrNotFound)
	}
	return j, nil
}

func (s *Store) ListPendingExportJobs(_ context.Context, limit int) ([]core.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.ExportJob
	for _, j := range s.jobs {
		if j.Status == core.ExportPending {
			out = append(out, j)
		}
	}
	slices.SortFunc(out, func(a, b core.ExportJob) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkExportDone(_ context.Context, id, sheetRef string) error {
	return s.updateJob(id, func(j *core.ExportJob) {
		j.Status = core.ExportDone
		j.SheetRef = sheetRef
		j.Error = ""
	})
}

func (s *Store) MarkExportFailed(_ context.Context, id, reason string) error {
	return s.updateJob(id, func(j *core.ExportJob) {
		j.Status = core.ExportFailed
		j.Error = reason
	})
}

func (s *Store) updateJob(id string, fn func(*core.ExportJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("update export job %s: %w", id, store.ErrNotFound)
	}
	fn(&j)
	j.UpdatedAt = s.now().UTC()
	s.jobs[id] = j
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
