// Package http serves the dashboard's JSON API, its htmx browser UI and
// the operational endpoints.
package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"twilioreport/internal/cache"
	"twilioreport/internal/core"
	applog "twilioreport/internal/log"
	"twilioreport/internal/middleware/ratelimit"
	"twilioreport/internal/middleware/security"
	"twilioreport/internal/middleware/trace"
	"twilioreport/internal/services"
	"twilioreport/internal/usage"
	appweb "twilioreport/web"
)

// UsageReporter is the read side of the provider usage API.
type UsageReporter interface {
	DayCost(ctx context.Context, creds core.Credentials, date string) (core.DayCost, error)
	TodayCost(ctx context.Context, creds core.Credentials) (core.DayCost, error)
	History(ctx context.Context, creds core.Credentials, days int) ([]core.DailyUsage, error)
	Summary(ctx context.Context, creds core.Credentials) (usage.Summary, error)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheStats exposes usage cache effectiveness to /metrics.
type CacheStats interface {
	Stats() cache.Stats
}

// Deps wires the server to its services. Exports and UsageCache are
// optional.
type Deps struct {
	Auth        *services.AuthService
	Accounts    *services.AccountService
	Exports     *services.ExportService
	Usage       UsageReporter
	Store       Pinger
	Sessions    *SessionManager
	UsageCache  CacheStats
	Logger      *applog.Logger
	HistoryDays int
	Clock       core.Clock
	// RequestsPerMinute bounds mutating requests per client.
	RequestsPerMinute int
}

type appMetrics struct {
	uptime        time.Time
	logins        int64
	signups       int64
	exportsQueued int64
	xlsxDownloads int64
}

type Server struct {
	http.Server
	templates *template.Template

	auth        *services.AuthService
	accounts    *services.AccountService
	exports     *services.ExportService
	usage       UsageReporter
	store       Pinger
	sessions    *SessionManager
	usageCache  CacheStats
	logger      *applog.Logger
	historyDays int
	clock       core.Clock

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	appMetrics       appMetrics

	shutdownOnce sync.Once
}

// NewServer builds the router and middleware chain. Template parse
// failures are logged and reported by /readyz.
func NewServer(addr string, d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = applog.Default(applog.ComponentHTTP)
	}
	logger = logger.WithComponent(applog.ComponentHTTP)
	if d.Sessions == nil {
		d.Sessions = NewSessionManager(nil, nil, false)
	}
	if d.HistoryDays < 1 || d.HistoryDays > core.MaxWindowDays {
		d.HistoryDays = 31
	}
	if d.Clock == nil {
		d.Clock = core.SystemClock
	}
	rlConfig := ratelimit.DefaultConfig()
	if d.RequestsPerMinute > 0 {
		rlConfig.RequestsPerMinute = d.RequestsPerMinute
	}

	s := &Server{
		auth:             d.Auth,
		accounts:         d.Accounts,
		exports:          d.Exports,
		usage:            d.Usage,
		store:            d.Store,
		sessions:         d.Sessions,
		usageCache:       d.UsageCache,
		logger:           logger,
		historyDays:      d.HistoryDays,
		clock:            d.Clock,
		rateLimiter:      ratelimit.NewLimiter(rlConfig),
		securityDetector: security.NewDetector(logger),
		appMetrics:       appMetrics{uptime: time.Now()},
	}
	s.traceMiddleware = trace.NewMiddleware(logger, s.securityDetector.ExtractClientIP)

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Error("Failed parsing templates", applog.FieldError, err.Error())
		t = nil
	}
	s.templates = t

	mux := http.NewServeMux()
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		logger.Warn("Failed to mount embedded static FS", applog.FieldError, err.Error())
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	s.registerAPI(mux)
	s.registerUI(mux)

	limited := s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, isMutating, s.onRateLimited)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	var h http.Handler = mux
	h = limited(h)
	h = headers.Middleware(h)
	h = applog.Middleware(logger, trace.RequestIDFromRequest)(h)
	h = s.traceMiddleware.Middleware(h)
	h = s.securityDetector.Middleware(h)

	s.Server = http.Server{Addr: addr, Handler: h}
	return s
}

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/signup", s.apiSignup)
	mux.HandleFunc("POST /api/v1/auth/login", s.apiLogin)

	mux.HandleFunc("POST /api/v1/twilio-accounts", s.apiCreateAccount)
	mux.HandleFunc("DELETE /api/v1/twilio-accounts/{id}", s.apiDeleteAccount)
	mux.HandleFunc("GET /api/v1/twilio-accounts/by-userId/{userId}", s.apiListAccounts)

	mux.HandleFunc("GET /api/v1/dashboard/total-used", s.apiTotalUsed)
	mux.HandleFunc("GET /api/v1/dashboard/today-total-use", s.apiTodayTotal)
	mux.HandleFunc("GET /api/v1/dashboard/last-7-days-usages", s.apiLast7Days)
	mux.HandleFunc("GET /api/v1/dashboard/last-100-days-usages", s.apiHistory)
	mux.HandleFunc("GET /api/v1/dashboard/summary", s.apiSummary)
}

func (s *Server) registerUI(mux *http.ServeMux) {
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLoginSubmit)
	mux.HandleFunc("GET /signup", s.handleSignupPage)
	mux.HandleFunc("POST /signup", s.handleSignupSubmit)
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.HandleFunc("GET /{$}", s.requireSession(s.handleDashboard))
	mux.HandleFunc("GET /ui/accounts", s.requireSession(s.handleAccountsPanel))
	mux.HandleFunc("POST /ui/accounts", s.requireSession(s.handleCreateAccount))
	mux.HandleFunc("POST /ui/accounts/{id}/select", s.requireSession(s.handleSelectAccount))
	mux.HandleFunc("DELETE /ui/accounts/{id}", s.requireSession(s.handleDeleteAccount))
	mux.HandleFunc("GET /ui/cards", s.requireSession(s.handleCostCards))
	mux.HandleFunc("GET /ui/usage", s.requireSession(s.handleUsageTable))

	mux.HandleFunc("GET /export/usage.xlsx", s.requireSession(s.handleExportXLSX))
	mux.HandleFunc("POST /export/sheets", s.requireSession(s.handleExportSheets))
}

func isMutating(r *http.Request) bool {
	return r.Method == http.MethodPost || r.Method == http.MethodDelete
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	if isHTMX(r) {
		NewHTMXResponse().
			Status(http.StatusTooManyRequests).
			TriggerErrorNotification("Too many requests, try again shortly").
			Write(w)
		return
	}
	writeError(w, r, http.StatusTooManyRequests, "Too many requests")
}

// Shutdown stops background work and drains connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
	})
	return s.Server.Shutdown(ctx)
}
