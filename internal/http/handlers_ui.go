package http

import (
	"bytes"
	"context"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"twilioreport/internal/core"
	"twilioreport/internal/export"
	applog "twilioreport/internal/log"
	"twilioreport/internal/services"
)

var templateFuncs = template.FuncMap{
	"money":   money,
	"maskSID": applog.MaskSID,
}

// usageWindows are the table lengths offered by the dashboard.
var usageWindows = []int{7, 31}

type authPageData struct {
	Error     string
	Email     string
	FirstName string
	LastName  string
}

type accountsPanelData struct {
	Accounts   []core.ProviderAccount
	SelectedID string
	Query      string
}

type costCardsData struct {
	HasAccount bool
	Today      string
	Yesterday  string
	Last7Days  string
	Error      string
}

type usageTableData struct {
	HasAccount bool
	Days       int
	Windows    []int
	Rows       []core.DailyUsage
	Totals     core.UsageTotals
	Error      string
}

type dashboardData struct {
	User        core.PublicUser
	Panel       accountsPanelData
	Selected    *core.ProviderAccount
	HistoryDays int
	Exports     bool
}

// render executes name into a buffer so a failing template never leaves a
// half-written response.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	if s.templates == nil {
		s.logger.ErrorContext(r.Context(), "Templates not loaded", applog.FieldPath, r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.ErrorContext(r.Context(), "Template execution failed",
			applog.FieldOperation, applog.OpRender,
			"template", name,
			applog.FieldError, err.Error())
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess Session)

// requireSession sends anonymous visitors to the login page.
func (s *Server) requireSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.sessions.Load(r)
		if !ok {
			s.redirect(w, r, "/login")
			return
		}
		next(w, r, sess)
	}
}

func (s *Server) redirect(w http.ResponseWriter, r *http.Request, to string) {
	if isHTMX(r) {
		NewHTMXResponse().Redirect(to).Write(w)
		return
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.sessions.Load(r); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "login_page", authPageData{})
}

func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	p, fail := parseBodyOrFail(r)
	if fail != nil {
		fail.Write(w)
		return
	}
	in := core.LoginInput{Email: p.Get("email"), Password: p.Get("password")}

	u, err := s.auth.Login(r.Context(), in)
	if err != nil {
		s.render(w, r, statusFor(err), "login_page", authPageData{
			Error: services.MessageOf(err, services.MsgServerError),
			Email: in.Email,
		})
		return
	}
	if err := s.sessions.Save(w, Session{UserID: u.ID}); err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to save session", applog.FieldError, err.Error())
		s.render(w, r, http.StatusInternalServerError, "login_page", authPageData{Error: services.MsgServerError})
		return
	}
	atomic.AddInt64(&s.appMetrics.logins, 1)
	s.redirect(w, r, "/")
}

func (s *Server) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "signup_page", authPageData{})
}

func (s *Server) handleSignupSubmit(w http.ResponseWriter, r *http.Request) {
	p, fail := parseBodyOrFail(r)
	if fail != nil {
		fail.Write(w)
		return
	}
	in := core.SignupInput{
		FirstName: p.Get("firstName"),
		LastName:  p.Get("lastName"),
		Email:     p.Get("email"),
		Password:  p.Get("password"),
	}

	u, err := s.auth.Signup(r.Context(), in)
	if err != nil {
		s.render(w, r, statusFor(err), "signup_page", authPageData{
			Error:     services.MessageOf(err, services.MsgServerError),
			Email:     in.Email,
			FirstName: in.FirstName,
			LastName:  in.LastName,
		})
		return
	}
	atomic.AddInt64(&s.appMetrics.signups, 1)

	if err := s.sessions.Save(w, Session{UserID: u.ID}); err != nil {
		s.redirect(w, r, "/login")
		return
	}
	s.redirect(w, r, "/")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Clear(w)
	s.redirect(w, r, "/login")
}

// selection returns the user's accounts and the selected one, defaulting
// to the first account. The session is updated when the choice changes.
func (s *Server) selection(ctx context.Context, w http.ResponseWriter, sess Session) ([]core.ProviderAccount, *core.ProviderAccount, error) {
	list, err := s.accounts.ListByUser(ctx, sess.UserID)
	if err != nil {
		return nil, nil, err
	}

	var selected *core.ProviderAccount
	for i := range list {
		if list[i].ID == sess.AccountID {
			selected = &list[i]
			break
		}
	}
	if selected == nil && len(list) > 0 {
		selected = &list[0]
	}

	want := ""
	if selected != nil {
		want = selected.ID
	}
	if want != sess.AccountID {
		sess.AccountID = want
		if err := s.sessions.Save(w, sess); err != nil {
			s.logger.WarnContext(ctx, "Failed to persist account selection", applog.FieldError, err.Error())
		}
	}
	return list, selected, nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, sess Session) {
	u, err := s.auth.User(r.Context(), sess.UserID)
	if services.KindOf(err) == services.KindNotFound {
		s.sessions.Clear(w)
		s.redirect(w, r, "/login")
		return
	}
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to load user", applog.FieldUserID, sess.UserID, applog.FieldError, err.Error())
		http.Error(w, services.MsgServerError, http.StatusInternalServerError)
		return
	}

	list, selected, err := s.selection(r.Context(), w, sess)
	if err != nil {
		http.Error(w, services.MsgDatabaseError, http.StatusInternalServerError)
		return
	}

	data := dashboardData{
		User:        u.Public(),
		Selected:    selected,
		HistoryDays: s.historyDays,
		Exports:     s.exports != nil,
		Panel:       accountsPanelData{Accounts: list},
	}
	if selected != nil {
		data.Panel.SelectedID = selected.ID
	}
	s.render(w, r, http.StatusOK, "dashboard_page", data)
}

// filterAccounts keeps accounts whose name contains q, ignoring case.
func filterAccounts(list []core.ProviderAccount, q string) []core.ProviderAccount {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return list
	}
	out := make([]core.ProviderAccount, 0, len(list))
	for _, a := range list {
		if strings.Contains(strings.ToLower(a.Name), q) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Server) renderPanel(w http.ResponseWriter, r *http.Request, sess Session, q string, b *HTMXResponseBuilder) {
	list, selected, err := s.selection(r.Context(), w, sess)
	if err != nil {
		InternalServerError(services.MsgDatabaseError).Write(w)
		return
	}
	data := accountsPanelData{Accounts: filterAccounts(list, q), Query: q}
	if selected != nil {
		data.SelectedID = selected.ID
	}

	var buf bytes.Buffer
	if s.templates == nil {
		InternalServerError("templates not loaded").Write(w)
		return
	}
	if err := s.templates.ExecuteTemplate(&buf, "accounts_panel", data); err != nil {
		s.logger.ErrorContext(r.Context(), "Template execution failed", "template", "accounts_panel", applog.FieldError, err.Error())
		InternalServerError("template error").Write(w)
		return
	}
	if b == nil {
		b = NewHTMXResponse()
	}
	b.BodyHTML(buf.String()).Write(w)
}

func (s *Server) handleAccountsPanel(w http.ResponseWriter, r *http.Request, sess Session) {
	s.renderPanel(w, r, sess, sanitizeInput(r.URL.Query().Get("q")), nil)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request, sess Session) {
	p, fail := parseBodyOrFail(r)
	if fail != nil {
		fail.Write(w)
		return
	}
	in := core.AccountInput{
		UserID:    sess.UserID,
		Name:      p.Get("name"),
		SID:       p.Get("sid"),
		AuthToken: p.Get("authToken"),
	}

	a, err := s.accounts.Create(r.Context(), in)
	if err != nil {
		msg := services.MessageOf(err, services.MsgDatabaseError)
		ErrorResponse(statusFor(err), msg).TriggerErrorNotification(msg).Write(w)
		return
	}

	if sess.AccountID == "" {
		sess.AccountID = a.ID
		_ = s.sessions.Save(w, sess)
	}
	s.renderPanel(w, r, sess, "", NewHTMXResponse().
		TriggerFormReset().
		TriggerUsageRefresh(sess.AccountID).
		TriggerSuccessNotification(MsgAccountSaved))
}

func (s *Server) handleSelectAccount(w http.ResponseWriter, r *http.Request, sess Session) {
	a, err := s.accounts.GetOwned(r.Context(), sess.UserID, r.PathValue("id"))
	if err != nil {
		ErrorResponse(statusFor(err), services.MessageOf(err, services.MsgDatabaseError)).Write(w)
		return
	}
	sess.AccountID = a.ID
	if err := s.sessions.Save(w, sess); err != nil {
		InternalServerError(services.MsgServerError).Write(w)
		return
	}
	s.renderPanel(w, r, sess, "", NewHTMXResponse().TriggerUsageRefresh(a.ID))
}

// handleDeleteAccount answers without a body; the panel reloads itself on
// accounts:changed.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request, sess Session) {
	id := r.PathValue("id")
	if err := s.accounts.DeleteOwned(r.Context(), sess.UserID, id); err != nil {
		msg := services.MessageOf(err, services.MsgDatabaseError)
		ErrorResponse(statusFor(err), msg).TriggerErrorNotification(msg).Write(w)
		return
	}
	if sess.AccountID == id {
		sess.AccountID = ""
		_ = s.sessions.Save(w, sess)
	}
	NewHTMXResponse().
		TriggerAccountsChanged().
		TriggerUsageRefresh(id).
		TriggerSuccessNotification(MsgAccountDeleted).
		Write(w)
}

func (s *Server) handleCostCards(w http.ResponseWriter, r *http.Request, sess Session) {
	_, selected, err := s.selection(r.Context(), w, sess)
	if err != nil {
		s.render(w, r, http.StatusInternalServerError, "cost_cards", costCardsData{Error: services.MsgDatabaseError})
		return
	}
	if selected == nil {
		s.render(w, r, http.StatusOK, "cost_cards", costCardsData{})
		return
	}

	sum, err := s.usage.Summary(r.Context(), selected.Credentials())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Summary failed", applog.FieldAccountID, selected.ID, applog.FieldError, err.Error())
		s.render(w, r, http.StatusOK, "cost_cards", costCardsData{HasAccount: true, Error: MsgFetchFailed})
		return
	}
	s.render(w, r, http.StatusOK, "cost_cards", costCardsData{
		HasAccount: true,
		Today:      sum.Today.Formatted(),
		Yesterday:  sum.Yesterday.Formatted(),
		Last7Days:  sum.Last7Days.Formatted(),
	})
}

func (s *Server) handleUsageTable(w http.ResponseWriter, r *http.Request, sess Session) {
	days, err := parseDays(r.URL.Query().Get("days"), usageWindows[0])
	if err != nil {
		BadRequestError(services.MsgInvalidDays).Write(w)
		return
	}
	data := usageTableData{Days: days, Windows: usageWindows}

	_, selected, err := s.selection(r.Context(), w, sess)
	if err != nil {
		data.Error = services.MsgDatabaseError
		s.render(w, r, http.StatusInternalServerError, "usage_table", data)
		return
	}
	if selected == nil {
		s.render(w, r, http.StatusOK, "usage_table", data)
		return
	}
	data.HasAccount = true

	rows, err := s.usage.History(r.Context(), selected.Credentials(), days)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "History failed", applog.FieldAccountID, selected.ID, applog.FieldError, err.Error())
		data.Error = MsgFetchFailed
		s.render(w, r, http.StatusOK, "usage_table", data)
		return
	}
	data.Rows = rows
	data.Totals = core.SumDays(rows)
	s.render(w, r, http.StatusOK, "usage_table", data)
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request, sess Session) {
	days, err := parseDays(r.URL.Query().Get("days"), s.historyDays)
	if err != nil {
		http.Error(w, services.MsgInvalidDays, http.StatusBadRequest)
		return
	}
	_, selected, err := s.selection(r.Context(), w, sess)
	if err != nil {
		http.Error(w, services.MsgDatabaseError, http.StatusInternalServerError)
		return
	}
	if selected == nil {
		http.Error(w, services.MsgAccountNotFound, http.StatusNotFound)
		return
	}

	rows, err := s.usage.History(r.Context(), selected.Credentials(), days)
	if err != nil {
		http.Error(w, MsgFetchFailed, http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteUsageXLSX(&buf, rows); err != nil {
		s.logger.ErrorContext(r.Context(), "XLSX export failed",
			applog.FieldOperation, applog.OpExport,
			applog.FieldError, err.Error())
		http.Error(w, "Failed to build report", http.StatusInternalServerError)
		return
	}
	atomic.AddInt64(&s.appMetrics.xlsxDownloads, 1)

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleExportSheets(w http.ResponseWriter, r *http.Request, sess Session) {
	if s.exports == nil {
		msg := "Google Sheets export is not configured"
		ErrorResponse(http.StatusServiceUnavailable, msg).TriggerErrorNotification(msg).Write(w)
		return
	}
	p, fail := parseBodyOrFail(r)
	if fail != nil {
		fail.Write(w)
		return
	}
	days, err := parseDays(p.Get("days"), s.historyDays)
	if err != nil {
		BadRequestError(services.MsgInvalidDays).TriggerErrorNotification(services.MsgInvalidDays).Write(w)
		return
	}

	_, selected, err := s.selection(r.Context(), w, sess)
	if err != nil {
		InternalServerError(services.MsgDatabaseError).Write(w)
		return
	}
	if selected == nil {
		NotFoundError(services.MsgAccountNotFound).TriggerErrorNotification(services.MsgAccountNotFound).Write(w)
		return
	}

	job, err := s.exports.Request(r.Context(), sess.UserID, selected.ID, days)
	if err != nil {
		msg := services.MessageOf(err, services.MsgServerError)
		ErrorResponse(statusFor(err), msg).TriggerErrorNotification(msg).Write(w)
		return
	}
	atomic.AddInt64(&s.appMetrics.exportsQueued, 1)

	NewHTMXResponse().
		Status(http.StatusAccepted).
		TriggerExportQueued(job.ID).
		TriggerSuccessNotification("Export queued, the sheet will appear shortly").
		Write(w)
}
