package core

import (
	"errors"
	"strings"
	"time"
)

// ExportStatus labels the outcome of a spreadsheet export job.
type ExportStatus string

const (
	ExportPending ExportStatus = "pending"
	ExportDone    ExportStatus = "done"
	ExportFailed  ExportStatus = "failed"
)

type (
	// User is a dashboard login. PasswordHash is a bcrypt digest.
	User struct {
		ID           string    `json:"_id"`
		FirstName    string    `json:"firstName"`
		LastName     string    `json:"lastName"`
		Email        string    `json:"email"`
		PasswordHash string    `json:"-"`
		CreatedAt    time.Time `json:"createdAt"`
		UpdatedAt    time.Time `json:"updatedAt"`
	}

	// ProviderAccount is a saved telephony-provider account owned by a user.
	ProviderAccount struct {
		ID        string    `json:"_id"`
		UserID    string    `json:"user"`
		Name      string    `json:"name"`
		SID       string    `json:"sid"`
		AuthToken string    `json:"authToken"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// Credentials authenticate calls to the provider usage API.
	Credentials struct {
		SID       string
		AuthToken string
	}

	// ExportJob tracks one asynchronous export of an account's usage
	// history to Google Sheets.
	ExportJob struct {
		ID        string       `json:"id"`
		UserID    string       `json:"userId"`
		AccountID string       `json:"accountId"`
		Days      int          `json:"days"`
		Status    ExportStatus `json:"status"`
		SheetRef  string       `json:"sheetRef,omitempty"`
		Error     string       `json:"error,omitempty"`
		CreatedAt time.Time    `json:"createdAt"`
		UpdatedAt time.Time    `json:"updatedAt"`
	}
)

var (
	ErrInvalidCredentials = errors.New("invalid or missing provider credentials")
	ErrInvalidDate        = errors.New("invalid date")
	ErrInvalidDays        = errors.New("invalid number of days")
	ErrValidation         = errors.New("validation failed")
)

// Credentials returns the pair used to query the provider for this account.
func (a ProviderAccount) Credentials() Credentials {
	return Credentials{SID: a.SID, AuthToken: a.AuthToken}
}

// Validate checks the minimum shape the provider accepts: an account SID
// starting with "AC" and a non-empty token.
func (c Credentials) Validate() error {
	if !strings.HasPrefix(c.SID, "AC") || c.AuthToken == "" {
		return ErrInvalidCredentials
	}
	return nil
}

// Public strips fields that must not leave the server.
func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email}
}

// PublicUser is the user shape returned by the auth endpoints.
type PublicUser struct {
	ID        string `json:"_id,omitempty"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}
