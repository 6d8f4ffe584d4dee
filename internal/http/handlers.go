package http

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).Round(time.Second).String(),
	})
}

// handleReady checks templates and the store.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	switch {
	case s.store == nil:
		checks["store"] = "not_configured"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	default:
		if err := s.store.Ping(ctx); err != nil {
			checks["store"] = fmt.Sprintf("failed: %v", err)
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["store"] = "ok"
		}
	}

	if s.exports == nil {
		checks["exports"] = "disabled"
	} else {
		checks["exports"] = "ok"
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	securityMetrics := s.securityDetector.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	traceMetrics := s.traceMiddleware.GetMetrics()

	logins := atomic.LoadInt64(&s.appMetrics.logins)
	signups := atomic.LoadInt64(&s.appMetrics.signups)
	exportsQueued := atomic.LoadInt64(&s.appMetrics.exportsQueued)
	downloads := atomic.LoadInt64(&s.appMetrics.xlsxDownloads)
	uptime := time.Since(s.appMetrics.uptime)

	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", traceMetrics.TotalRequests)

	fmt.Fprintf(w, "# HELP http_server_errors_total Responses with a 5xx status\n")
	fmt.Fprintf(w, "# TYPE http_server_errors_total counter\n")
	fmt.Fprintf(w, "http_server_errors_total %d\n\n", traceMetrics.ServerErrors)

	fmt.Fprintf(w, "# HELP http_response_time_avg_us Average response time in microseconds\n")
	fmt.Fprintf(w, "# TYPE http_response_time_avg_us gauge\n")
	fmt.Fprintf(w, "http_response_time_avg_us %d\n\n", traceMetrics.AverageResponseTime())

	fmt.Fprintf(w, "# HELP logins_total Successful logins\n")
	fmt.Fprintf(w, "# TYPE logins_total counter\n")
	fmt.Fprintf(w, "logins_total %d\n\n", logins)

	fmt.Fprintf(w, "# HELP signups_total Users created\n")
	fmt.Fprintf(w, "# TYPE signups_total counter\n")
	fmt.Fprintf(w, "signups_total %d\n\n", signups)

	fmt.Fprintf(w, "# HELP exports_queued_total Google Sheets exports requested\n")
	fmt.Fprintf(w, "# TYPE exports_queued_total counter\n")
	fmt.Fprintf(w, "exports_queued_total %d\n\n", exportsQueued)

	fmt.Fprintf(w, "# HELP xlsx_downloads_total XLSX reports downloaded\n")
	fmt.Fprintf(w, "# TYPE xlsx_downloads_total counter\n")
	fmt.Fprintf(w, "xlsx_downloads_total %d\n\n", downloads)

	if s.usageCache != nil {
		stats := s.usageCache.Stats()
		fmt.Fprintf(w, "# HELP usage_cache_entries Cached provider usage days\n")
		fmt.Fprintf(w, "# TYPE usage_cache_entries gauge\n")
		fmt.Fprintf(w, "usage_cache_entries %d\n\n", stats.Size)

		fmt.Fprintf(w, "# HELP usage_cache_hits_total Usage cache hits\n")
		fmt.Fprintf(w, "# TYPE usage_cache_hits_total counter\n")
		fmt.Fprintf(w, "usage_cache_hits_total %d\n\n", stats.Hits)

		fmt.Fprintf(w, "# HELP usage_cache_misses_total Usage cache misses\n")
		fmt.Fprintf(w, "# TYPE usage_cache_misses_total counter\n")
		fmt.Fprintf(w, "usage_cache_misses_total %d\n\n", stats.Misses)
	}

	fmt.Fprintf(w, "# HELP rate_limit_hits_total Total rate limit hits\n")
	fmt.Fprintf(w, "# TYPE rate_limit_hits_total counter\n")
	fmt.Fprintf(w, "rate_limit_hits_total %d\n\n", rateLimitMetrics.TotalHits)

	fmt.Fprintf(w, "# HELP active_rate_limit_clients Currently tracked rate limit clients\n")
	fmt.Fprintf(w, "# TYPE active_rate_limit_clients gauge\n")
	fmt.Fprintf(w, "active_rate_limit_clients %d\n\n", rateLimitMetrics.ClientCount)

	fmt.Fprintf(w, "# HELP suspicious_requests_total Total suspicious requests detected\n")
	fmt.Fprintf(w, "# TYPE suspicious_requests_total counter\n")
	fmt.Fprintf(w, "suspicious_requests_total %d\n\n", securityMetrics.SuspiciousRequests)

	fmt.Fprintf(w, "# HELP blocked_requests_total Requests refused by the security filter\n")
	fmt.Fprintf(w, "# TYPE blocked_requests_total counter\n")
	fmt.Fprintf(w, "blocked_requests_total %d\n\n", securityMetrics.BlockedRequests)

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n", uptime.Seconds())
}
