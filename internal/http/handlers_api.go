package http

import (
	"net/http"
	"strings"
	"sync/atomic"

	"twilioreport/internal/core"
	applog "twilioreport/internal/log"
	"twilioreport/internal/services"
)

// costJSON is the wire shape of a DayCost.
type costJSON struct {
	Date      string `json:"date"`
	TotalCost string `json:"totalCost"`
}

func toCostJSON(c core.DayCost) costJSON {
	return costJSON{Date: c.Date, TotalCost: c.Formatted()}
}

// apiSession returns the caller's session or answers 401.
func (s *Server) apiSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	sess, ok := s.sessions.Load(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, MsgUnauthorized)
		return Session{}, false
	}
	return sess, true
}

func (s *Server) apiSignup(w http.ResponseWriter, r *http.Request) {
	var in core.SignupInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, MsgInvalidJSON)
		return
	}

	u, err := s.auth.Signup(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err, services.MsgServerError)
		return
	}
	atomic.AddInt64(&s.appMetrics.signups, 1)

	writeJSON(w, http.StatusCreated, core.PublicUser{
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
	})
}

// apiLogin checks the credentials and also opens a cookie session, which
// the account endpoints require.
func (s *Server) apiLogin(w http.ResponseWriter, r *http.Request) {
	var in core.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, MsgInvalidJSON)
		return
	}

	u, err := s.auth.Login(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err, services.MsgServerError)
		return
	}
	if err := s.sessions.Save(w, Session{UserID: u.ID}); err != nil {
		writeServiceError(w, r, err, services.MsgServerError)
		return
	}
	atomic.AddInt64(&s.appMetrics.logins, 1)

	writeJSON(w, http.StatusOK, u.Public())
}

func (s *Server) apiCreateAccount(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.apiSession(w, r)
	if !ok {
		return
	}

	var in core.AccountInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, MsgInvalidJSON)
		return
	}
	in.UserID = strings.TrimSpace(in.UserID)
	switch {
	case in.Empty():
	case in.UserID == "":
		in.UserID = sess.UserID
	case in.UserID != sess.UserID:
		writeError(w, r, http.StatusForbidden, MsgForbidden)
		return
	}

	a, err := s.accounts.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err, services.MsgDatabaseError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": MsgAccountSaved,
		"account": a,
	})
}

func (s *Server) apiDeleteAccount(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.apiSession(w, r)
	if !ok {
		return
	}

	if err := s.accounts.DeleteOwned(r.Context(), sess.UserID, r.PathValue("id")); err != nil {
		writeServiceError(w, r, err, services.MsgDatabaseError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": MsgAccountDeleted})
}

func (s *Server) apiListAccounts(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.apiSession(w, r)
	if !ok {
		return
	}
	if r.PathValue("userId") != sess.UserID {
		writeError(w, r, http.StatusForbidden, MsgForbidden)
		return
	}

	list, err := s.accounts.ListByUser(r.Context(), sess.UserID)
	if err != nil {
		writeServiceError(w, r, err, services.MsgDatabaseError)
		return
	}
	if list == nil {
		list = []core.ProviderAccount{}
	}
	writeJSON(w, http.StatusOK, list)
}

// apiCredentials reads the provider credentials or answers 400.
func (s *Server) apiCredentials(w http.ResponseWriter, r *http.Request) (core.Credentials, bool) {
	creds, err := credentialsFromHeaders(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, MsgInvalidCredentials)
		return core.Credentials{}, false
	}
	return creds, true
}

func (s *Server) apiTotalUsed(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.apiCredentials(w, r)
	if !ok {
		return
	}

	raw := strings.TrimSpace(r.Header.Get(headerDate))
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, MsgMissingDate)
		return
	}
	date, err := core.ParseDate(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, MsgInvalidDate)
		return
	}

	cost, err := s.usage.DayCost(r.Context(), creds, date)
	if err != nil {
		s.usageFailed(w, r, creds, err)
		return
	}
	writeJSON(w, http.StatusOK, toCostJSON(cost))
}

func (s *Server) apiTodayTotal(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.apiCredentials(w, r)
	if !ok {
		return
	}

	cost, err := s.usage.TodayCost(r.Context(), creds)
	if err != nil {
		s.usageFailed(w, r, creds, err)
		return
	}
	writeJSON(w, http.StatusOK, toCostJSON(cost))
}

func (s *Server) apiLast7Days(w http.ResponseWriter, r *http.Request) {
	s.writeHistory(w, r, 7)
}

func (s *Server) apiHistory(w http.ResponseWriter, r *http.Request) {
	days, err := parseDays(r.URL.Query().Get("days"), s.historyDays)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, services.MsgInvalidDays)
		return
	}
	s.writeHistory(w, r, days)
}

func (s *Server) writeHistory(w http.ResponseWriter, r *http.Request, days int) {
	creds, ok := s.apiCredentials(w, r)
	if !ok {
		return
	}

	data, err := s.usage.History(r.Context(), creds, days)
	if err != nil {
		s.usageFailed(w, r, creds, err)
		return
	}
	if data == nil {
		data = []core.DailyUsage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (s *Server) apiSummary(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.apiCredentials(w, r)
	if !ok {
		return
	}

	sum, err := s.usage.Summary(r.Context(), creds)
	if err != nil {
		s.usageFailed(w, r, creds, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]costJSON{
		"today":     toCostJSON(sum.Today),
		"yesterday": toCostJSON(sum.Yesterday),
		"last7Days": toCostJSON(sum.Last7Days),
	})
}

func (s *Server) usageFailed(w http.ResponseWriter, r *http.Request, creds core.Credentials, err error) {
	applog.FromContext(r.Context()).ErrorContext(r.Context(), "Usage request failed",
		applog.FieldAccountSID, applog.MaskSID(creds.SID),
		applog.FieldPath, r.URL.Path,
		applog.FieldError, err.Error())
	writeError(w, r, http.StatusInternalServerError, MsgFetchFailed)
}
