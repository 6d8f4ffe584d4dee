package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"twilioreport/internal/core"
	applog "twilioreport/internal/log"
	"twilioreport/internal/services"
)

// Messages returned by the JSON API.
const (
	MsgInvalidCredentials = "Invalid or missing Twilio credentials"
	MsgMissingDate        = "Missing date in the request headers"
	MsgInvalidDate        = "Invalid date in the request headers"
	MsgFetchFailed        = "Failed to fetch usage data"
	MsgInvalidJSON        = "Invalid or missing JSON body"
	MsgAccountSaved       = "Account save successfully"
	MsgAccountDeleted     = "Account successfully deleted"
	MsgUnauthorized       = "Unauthorized"
	MsgForbidden          = "Forbidden"
)

// Credential headers accepted by the dashboard API.
const (
	headerAccountSID = "x-account-sid"
	headerAuthToken  = "x-auth-token"
	headerDate       = "x-date"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorKey names the field of an error body. Dashboard routes answer
// {"error": ...}; auth and account routes answer {"message": ...}.
func errorKey(r *http.Request) string {
	if strings.HasPrefix(r.URL.Path, "/api/v1/dashboard/") {
		return "error"
	}
	return "message"
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, map[string]string{errorKey(r): msg})
}

// statusFor maps a service failure to its HTTP status.
func statusFor(err error) int {
	switch services.KindOf(err) {
	case services.KindInvalid:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError answers with the caller-safe message of err and logs
// internal failures.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			applog.FieldPath, r.URL.Path,
			applog.FieldError, err.Error())
	}
	writeError(w, r, status, services.MessageOf(err, fallback))
}

// credentialsFromHeaders reads and checks the provider credentials sent by
// API clients.
func credentialsFromHeaders(r *http.Request) (core.Credentials, error) {
	creds := core.Credentials{
		SID:       strings.TrimSpace(r.Header.Get(headerAccountSID)),
		AuthToken: strings.TrimSpace(r.Header.Get(headerAuthToken)),
	}
	if err := creds.Validate(); err != nil {
		return core.Credentials{}, err
	}
	return creds, nil
}

// parseDays reads a window length, falling back to def when raw is empty.
func parseDays(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > core.MaxWindowDays {
		return 0, fmt.Errorf("%w: %q", core.ErrInvalidDays, raw)
	}
	return n, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}

// money renders a float amount with two decimals.
func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
