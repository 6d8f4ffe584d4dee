package google

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	gsheet "google.golang.org/api/sheets/v4"
)

// authorizedUser is the end-user credentials format accepted in place of
// a service-account key by New.
type authorizedUser struct {
	Type         string `json:"type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// OAuthConfig parses a downloaded OAuth client file for the Sheets scope.
func OAuthConfig(clientJSON []byte, redirectURL string) (*oauth2.Config, error) {
	cfg, err := googleoauth.ConfigFromJSON(clientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse oauth client: %w", err)
	}
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	return cfg, nil
}

// AuthorizedUserJSON renders an exchanged token as a credentials file
// usable as GOOGLE_CREDENTIALS_FILE.
func AuthorizedUserJSON(cfg *oauth2.Config, tok *oauth2.Token) ([]byte, error) {
	if cfg == nil || cfg.ClientID == "" {
		return nil, errors.New("oauth config without client id")
	}
	if tok == nil || tok.RefreshToken == "" {
		return nil, errors.New("token has no refresh token, revoke the app grant and authorize again")
	}
	return json.MarshalIndent(authorizedUser{
		Type:         "authorized_user",
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: tok.RefreshToken,
	}, "", "  ")
}
