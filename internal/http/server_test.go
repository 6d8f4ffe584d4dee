package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"twilioreport/internal/core"
	applog "twilioreport/internal/log"
	"twilioreport/internal/services"
	"twilioreport/internal/store/memory"
	"twilioreport/internal/usage"
)

const (
	testSID   = "AC0123456789"
	testToken = "secret123"
)

type fakeUsage struct {
	mu       sync.Mutex
	days     []core.DailyUsage
	cost     core.DayCost
	err      error
	lastDays int
	lastDate string
	lastSID  string
}

func (f *fakeUsage) DayCost(_ context.Context, creds core.Credentials, date string) (core.DayCost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastDate, f.lastSID = date, creds.SID
	if f.err != nil {
		return core.DayCost{}, f.err
	}
	return core.DayCost{Date: date, TotalCost: f.cost.TotalCost}, nil
}

func (f *fakeUsage) TodayCost(ctx context.Context, creds core.Credentials) (core.DayCost, error) {
	return f.DayCost(ctx, creds, "2024-03-10")
}

func (f *fakeUsage) History(_ context.Context, creds core.Credentials, days int) ([]core.DailyUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastDays, f.lastSID = days, creds.SID
	if f.err != nil {
		return nil, f.err
	}
	return f.days, nil
}

func (f *fakeUsage) Summary(_ context.Context, _ core.Credentials) (usage.Summary, error) {
	if f.err != nil {
		return usage.Summary{}, f.err
	}
	return usage.Summary{
		Today:     core.DayCost{Date: "2024-03-10", TotalCost: decimal.RequireFromString("1.5")},
		Yesterday: core.DayCost{Date: "2024-03-09", TotalCost: decimal.RequireFromString("2.25")},
		Last7Days: core.DayCost{Date: "2024-03-10", TotalCost: decimal.RequireFromString("10")},
	}, nil
}

type testEnv struct {
	srv   *Server
	store *memory.Store
	usage *fakeUsage
}

func newTestEnv(t *testing.T, withExports bool) *testEnv {
	t.Helper()
	logger := applog.New(applog.Config{Output: io.Discard})
	st := memory.New()
	fu := &fakeUsage{
		cost: core.DayCost{TotalCost: decimal.RequireFromString("1.5")},
		days: []core.DailyUsage{
			{Date: "2024-03-09", SMSCount: 3, SMSCost: 0.24, CallCount: 1, CallCost: 0.5, TotalCost: 0.74, TotalCallMinutes: 2},
			{Date: "2024-03-10", SMSCount: 1, SMSCost: 0.08, TotalCost: 0.08},
		},
	}

	d := Deps{
		Auth:     services.NewAuthService(st, logger),
		Accounts: services.NewAccountService(st, logger),
		Usage:    fu,
		Store:    st,
		Sessions: NewSessionManager(nil, nil, false),
		Logger:   logger,
	}
	if withExports {
		d.Exports = services.NewExportService(services.ExportDeps{Jobs: st, Accounts: st, Logger: logger})
	}
	srv := NewServer(":0", d)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, store: st, usage: fu}
}

func (e *testEnv) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func formRequest(method, target string, form url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	var found *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			found = c
		}
	}
	if found == nil || found.Value == "" {
		t.Fatalf("no session cookie in response (status %d)", rec.Code)
	}
	return found
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return m
}

// signupAndLogin creates a user through the API and returns its ID and
// session cookie.
func (e *testEnv) signupAndLogin(t *testing.T, email string) (string, *http.Cookie) {
	t.Helper()
	rec := e.do(jsonRequest(http.MethodPost, "/api/v1/auth/signup",
		`{"firstName":"Alice","lastName":"Smith","email":"`+email+`","password":"hunter22"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d body = %s", rec.Code, rec.Body.String())
	}
	rec = e.do(jsonRequest(http.MethodPost, "/api/v1/auth/login",
		`{"email":"`+email+`","password":"hunter22"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d body = %s", rec.Code, rec.Body.String())
	}
	id, _ := decodeBody(t, rec)["_id"].(string)
	if id == "" {
		t.Fatal("login response without _id")
	}
	return id, sessionCookie(t, rec)
}

func TestAPI_Signup(t *testing.T) {
	e := newTestEnv(t, false)
	body := `{"firstName":"Alice","lastName":"Smith","email":"alice@example.com","password":"hunter22"}`

	rec := e.do(jsonRequest(http.MethodPost, "/api/v1/auth/signup", body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	got := decodeBody(t, rec)
	if got["email"] != "alice@example.com" || got["firstName"] != "Alice" {
		t.Errorf("unexpected body %v", got)
	}
	if _, ok := got["_id"]; ok {
		t.Error("signup response should not expose the ID")
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"duplicate", body, services.MsgUserExists},
		{"empty body", "", MsgInvalidJSON},
		{"missing password", `{"firstName":"Bob","lastName":"Brown","email":"bob@example.com"}`, services.MsgPasswordRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(jsonRequest(http.MethodPost, "/api/v1/auth/signup", tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			body := decodeBody(t, rec)
			if got := body["message"]; got != tt.wantErr {
				t.Errorf("message = %v, want %q", got, tt.wantErr)
			}
			if _, ok := body["error"]; ok {
				t.Errorf("auth error body should not carry an error key: %v", body)
			}
		})
	}
}

func TestAPI_Login(t *testing.T) {
	e := newTestEnv(t, false)
	e.signupAndLogin(t, "alice@example.com")

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"malformed json", `{"email":`, MsgInvalidJSON},
		{"missing password", `{"email":"alice@example.com"}`, services.MsgCredentialsRequired},
		{"wrong password", `{"email":"alice@example.com","password":"nope"}`, services.MsgInvalidLogin},
		{"unknown user", `{"email":"who@example.com","password":"hunter22"}`, services.MsgInvalidLogin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(jsonRequest(http.MethodPost, "/api/v1/auth/login", tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			body := decodeBody(t, rec)
			if got := body["message"]; got != tt.wantErr {
				t.Errorf("message = %v, want %q", got, tt.wantErr)
			}
			if _, ok := body["error"]; ok {
				t.Errorf("login error body should not carry an error key: %v", body)
			}
		})
	}
}

func TestAPI_Accounts(t *testing.T) {
	e := newTestEnv(t, false)
	userID, cookie := e.signupAndLogin(t, "alice@example.com")

	rec := e.do(jsonRequest(http.MethodPost, "/api/v1/twilio-accounts", `{"name":"Main"}`))
	if got := decodeBody(t, rec)["message"]; rec.Code != http.StatusUnauthorized || got != MsgUnauthorized {
		t.Fatalf("anonymous create = %d %v, want 401 %q", rec.Code, got, MsgUnauthorized)
	}

	rec = e.do(jsonRequest(http.MethodPost, "/api/v1/twilio-accounts",
		`{"name":"Main","sid":"`+testSID+`","authToken":"`+testToken+`"}`), cookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	if created["message"] != MsgAccountSaved {
		t.Errorf("message = %v", created["message"])
	}
	account, _ := created["account"].(map[string]any)
	accountID, _ := account["_id"].(string)
	if accountID == "" || account["user"] != userID {
		t.Fatalf("unexpected account %v", account)
	}

	rec = e.do(jsonRequest(http.MethodPost, "/api/v1/twilio-accounts", `{}`), cookie)
	if got := decodeBody(t, rec)["message"]; rec.Code != http.StatusBadRequest || got != services.MsgAccountInfoRequired {
		t.Errorf("empty create = %d %v", rec.Code, got)
	}

	rec = e.do(jsonRequest(http.MethodPost, "/api/v1/twilio-accounts",
		`{"user":"someone-else","name":"Other","sid":"`+testSID+`","authToken":"`+testToken+`"}`), cookie)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign user create status = %d, want 403", rec.Code)
	}

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/twilio-accounts/by-userId/"+userID, nil), cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list []core.ProviderAccount
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list = %s (%v)", rec.Body.String(), err)
	}

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/v1/twilio-accounts/by-userId/other", nil), cookie)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign list status = %d, want 403", rec.Code)
	}

	rec = e.do(httptest.NewRequest(http.MethodDelete, "/api/v1/twilio-accounts/missing", nil), cookie)
	if got := decodeBody(t, rec)["message"]; rec.Code != http.StatusNotFound || got != services.MsgAccountNotFound {
		t.Errorf("delete missing = %d %v", rec.Code, got)
	}

	rec = e.do(httptest.NewRequest(http.MethodDelete, "/api/v1/twilio-accounts/"+accountID, nil), cookie)
	if got := decodeBody(t, rec)["message"]; rec.Code != http.StatusOK || got != MsgAccountDeleted {
		t.Errorf("delete = %d %v", rec.Code, got)
	}
}

func dashboardRequest(target string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestAPI_DashboardErrors(t *testing.T) {
	e := newTestEnv(t, false)
	creds := map[string]string{headerAccountSID: testSID, headerAuthToken: testToken}

	tests := []struct {
		name       string
		target     string
		headers    map[string]string
		wantStatus int
		wantErr    string
	}{
		{"missing credentials", "/api/v1/dashboard/today-total-use", nil, http.StatusBadRequest, MsgInvalidCredentials},
		{"bad sid prefix", "/api/v1/dashboard/summary", map[string]string{headerAccountSID: "XX1", headerAuthToken: "t"}, http.StatusBadRequest, MsgInvalidCredentials},
		{"missing date", "/api/v1/dashboard/total-used", creds, http.StatusBadRequest, MsgMissingDate},
		{"invalid date", "/api/v1/dashboard/total-used", map[string]string{headerAccountSID: testSID, headerAuthToken: testToken, headerDate: "10/03/2024"}, http.StatusBadRequest, MsgInvalidDate},
		{"too many days", "/api/v1/dashboard/last-100-days-usages?days=101", creds, http.StatusBadRequest, services.MsgInvalidDays},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(dashboardRequest(tt.target, tt.headers))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := decodeBody(t, rec)["error"]; got != tt.wantErr {
				t.Errorf("error = %v, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestAPI_Dashboard(t *testing.T) {
	e := newTestEnv(t, false)
	creds := map[string]string{headerAccountSID: testSID, headerAuthToken: testToken}

	rec := e.do(dashboardRequest("/api/v1/dashboard/total-used", map[string]string{
		headerAccountSID: testSID, headerAuthToken: testToken, headerDate: "2024-03-01",
	}))
	if got := decodeBody(t, rec); rec.Code != http.StatusOK || got["date"] != "2024-03-01" || got["totalCost"] != "1.50" {
		t.Errorf("total-used = %d %v", rec.Code, got)
	}

	rec = e.do(dashboardRequest("/api/v1/dashboard/last-7-days-usages", creds))
	if rec.Code != http.StatusOK || e.usage.lastDays != 7 {
		t.Fatalf("last-7 = %d days=%d", rec.Code, e.usage.lastDays)
	}
	var payload struct {
		Data []core.DailyUsage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil || len(payload.Data) != 2 {
		t.Fatalf("data = %s (%v)", rec.Body.String(), err)
	}
	if !strings.Contains(rec.Body.String(), `"smsCount":3`) {
		t.Errorf("expected camelCase fields: %s", rec.Body.String())
	}

	e.do(dashboardRequest("/api/v1/dashboard/last-100-days-usages", creds))
	if e.usage.lastDays != 31 {
		t.Errorf("default history days = %d, want 31", e.usage.lastDays)
	}
	e.do(dashboardRequest("/api/v1/dashboard/last-100-days-usages?days=100", creds))
	if e.usage.lastDays != 100 {
		t.Errorf("history days = %d, want 100", e.usage.lastDays)
	}

	rec = e.do(dashboardRequest("/api/v1/dashboard/summary", creds))
	got := decodeBody(t, rec)
	today, _ := got["today"].(map[string]any)
	week, _ := got["last7Days"].(map[string]any)
	if today["totalCost"] != "1.50" || week["totalCost"] != "10.00" {
		t.Errorf("summary = %v", got)
	}

	e.usage.err = errors.New("provider down")
	rec = e.do(dashboardRequest("/api/v1/dashboard/last-100-days-usages", creds))
	if got := decodeBody(t, rec)["error"]; rec.Code != http.StatusInternalServerError || got != MsgFetchFailed {
		t.Errorf("failed history = %d %v", rec.Code, got)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	e := newTestEnv(t, false)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || decodeBody(t, rec)["status"] != "ok" {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}

	rec = e.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK || decodeBody(t, rec)["status"] != "ready" {
		t.Errorf("readyz = %d %s", rec.Code, rec.Body.String())
	}

	rec = e.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, metric := range []string{"http_requests_total", "logins_total", "rate_limit_hits_total", "uptime_seconds"} {
		if !strings.Contains(rec.Body.String(), metric) {
			t.Errorf("metrics missing %s", metric)
		}
	}
}

func TestRequestIDEchoed(t *testing.T) {
	e := newTestEnv(t, false)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")

	rec := e.do(req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("security headers not applied")
	}
}
