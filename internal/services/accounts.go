package services

import (
	"context"
	"errors"

	"twilioreport/internal/core"
	applog "twilioreport/internal/log"
	"twilioreport/internal/store"
)

const (
	MsgAccountInfoRequired = "Account information are required!"
	MsgAccountExists       = "Account already exists"
	MsgAccountNotFound     = "Account not found"
	MsgDatabaseError       = "Database error"
)

// AccountService manages saved provider accounts.
type AccountService struct {
	accounts store.AccountStore
	logger   *applog.Logger
}

func NewAccountService(accounts store.AccountStore, logger *applog.Logger) *AccountService {
	if logger == nil {
		logger = applog.Default(applog.ComponentAccounts)
	}
	return &AccountService{accounts: accounts, logger: logger.WithComponent(applog.ComponentAccounts)}
}

// Create saves a provider account. Names are unique per user.
func (s *AccountService) Create(ctx context.Context, in core.AccountInput) (core.ProviderAccount, error) {
	in.Normalize()
	if in.Empty() {
		return core.ProviderAccount{}, invalid(MsgAccountInfoRequired)
	}
	if err := in.Validate(); err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			return core.ProviderAccount{}, invalid(verr.Message)
		}
		return core.ProviderAccount{}, internal(MsgDatabaseError, err)
	}

	a, err := s.accounts.CreateAccount(ctx, core.ProviderAccount{
		UserID:    in.UserID,
		Name:      in.Name,
		SID:       in.SID,
		AuthToken: in.AuthToken,
	})
	if errors.Is(err, store.ErrConflict) {
		return core.ProviderAccount{}, invalid(MsgAccountExists)
	}
	if err != nil {
		return core.ProviderAccount{}, internal(MsgDatabaseError, err)
	}

	s.logger.InfoContext(ctx, "Provider account saved",
		applog.FieldUserID, a.UserID,
		applog.FieldAccountID, a.ID,
		applog.FieldAccountSID, applog.MaskSID(a.SID))
	return a, nil
}

// Get returns an account by ID.
func (s *AccountService) Get(ctx context.Context, id string) (core.ProviderAccount, error) {
	a, err := s.accounts.GetAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return core.ProviderAccount{}, notFound(MsgAccountNotFound)
	}
	if err != nil {
		return core.ProviderAccount{}, internal(MsgDatabaseError, err)
	}
	return a, nil
}

// GetOwned returns the account only when it belongs to userID. Accounts of
// other users are reported as missing.
func (s *AccountService) GetOwned(ctx context.Context, userID, id string) (core.ProviderAccount, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return core.ProviderAccount{}, err
	}
	if a.UserID != userID {
		return core.ProviderAccount{}, notFound(MsgAccountNotFound)
	}
	return a, nil
}

// ListByUser returns a user's accounts, oldest first.
func (s *AccountService) ListByUser(ctx context.Context, userID string) ([]core.ProviderAccount, error) {
	list, err := s.accounts.ListAccountsByUser(ctx, userID)
	if err != nil {
		return nil, internal(MsgDatabaseError, err)
	}
	return list, nil
}

// Delete removes an account by ID.
func (s *AccountService) Delete(ctx context.Context, id string) error {
	err := s.accounts.DeleteAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(MsgAccountNotFound)
	}
	if err != nil {
		return internal(MsgDatabaseError, err)
	}
	s.logger.InfoContext(ctx, "Provider account deleted", applog.FieldAccountID, id)
	return nil
}

// DeleteOwned removes an account after checking it belongs to userID.
func (s *AccountService) DeleteOwned(ctx context.Context, userID, id string) error {
	if _, err := s.GetOwned(ctx, userID, id); err != nil {
		return err
	}
	return s.Delete(ctx, id)
}
