// Package usage builds cost and usage reports for provider accounts.
package usage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"twilioreport/internal/cache"
	"twilioreport/internal/core"
	applog "twilioreport/internal/log"
)

// RecordFetcher returns the provider's usage records for one date.
type RecordFetcher interface {
	DailyRecords(ctx context.Context, creds core.Credentials, date string) ([]core.UsageRecord, error)
}

// Summary backs the dashboard cost cards.
type Summary struct {
	Today     core.DayCost
	Yesterday core.DayCost
	Last7Days core.DayCost
}

// Options tunes a Reporter.
type Options struct {
	// Concurrency bounds in-flight provider calls per report.
	Concurrency int
	// CacheTTL is how long settled days stay cached. Zero disables caching.
	CacheTTL time.Duration
	// TodayTTL is how long the current day stays cached.
	TodayTTL time.Duration
	// CacheSize bounds the number of cached (account, date) entries.
	CacheSize int
	Clock     core.Clock
}

// DefaultOptions returns the settings used by the server.
func DefaultOptions() Options {
	return Options{
		Concurrency: 8,
		CacheTTL:    5 * time.Minute,
		TodayTTL:    30 * time.Second,
		CacheSize:   5000,
		Clock:       core.SystemClock,
	}
}

// Reporter aggregates provider usage into daily rows and window totals.
type Reporter struct {
	fetcher RecordFetcher
	opts    Options
	cache   *cache.LRUCache[[]core.UsageRecord]
	logger  *applog.Logger
}

// NewReporter wires a Reporter over fetcher.
func NewReporter(fetcher RecordFetcher, opts Options, logger *applog.Logger) *Reporter {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock
	}
	if opts.CacheSize < 1 {
		opts.CacheSize = DefaultOptions().CacheSize
	}
	if opts.TodayTTL > opts.CacheTTL {
		opts.TodayTTL = opts.CacheTTL
	}
	if logger == nil {
		logger = applog.Default(applog.ComponentUsage)
	}
	return &Reporter{
		fetcher: fetcher,
		opts:    opts,
		cache:   cache.NewLRUCache[[]core.UsageRecord](opts.CacheSize, opts.CacheTTL),
		logger:  logger.WithComponent(applog.ComponentUsage),
	}
}

// Cache exposes the record cache so it can be registered for cleanup.
func (r *Reporter) Cache() *cache.LRUCache[[]core.UsageRecord] {
	return r.cache
}

// cacheKey binds a cached day to the full credential pair, so a request
// with the right SID and a wrong token never reads another caller's data.
func cacheKey(creds core.Credentials, date string) string {
	sum := sha256.Sum256([]byte(creds.SID + "\x00" + creds.AuthToken))
	return hex.EncodeToString(sum[:]) + "|" + date
}

// records returns the usage records of one date, served from the cache
// when possible.
func (r *Reporter) records(ctx context.Context, creds core.Credentials, date string) ([]core.UsageRecord, error) {
	key := cacheKey(creds, date)
	if recs, ok := r.cache.Get(key); ok {
		return recs, nil
	}

	recs, err := r.fetcher.DailyRecords(ctx, creds, date)
	if err != nil {
		return nil, err
	}

	ttl := r.opts.CacheTTL
	if date == core.Today(r.opts.Clock()) {
		ttl = r.opts.TodayTTL
	}
	r.cache.SetWithTTL(key, recs, ttl)
	return recs, nil
}

// DayCost returns the total spend of date. Provider failures are logged
// and reported as a zero cost so one bad day does not blank a card.
func (r *Reporter) DayCost(ctx context.Context, creds core.Credentials, date string) (core.DayCost, error) {
	if err := creds.Validate(); err != nil {
		return core.DayCost{}, err
	}
	date, err := core.ParseDate(date)
	if err != nil {
		return core.DayCost{}, err
	}

	recs, err := r.records(ctx, creds, date)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return core.DayCost{}, ctxErr
		}
		r.logger.WarnContext(ctx, "Day cost unavailable, reporting zero",
			applog.FieldAccountSID, applog.MaskSID(creds.SID),
			applog.FieldDate, date,
			applog.FieldError, err.Error())
		return core.SumCost(date, nil), nil
	}
	return core.SumCost(date, recs), nil
}

// TodayCost is DayCost for the current UTC date.
func (r *Reporter) TodayCost(ctx context.Context, creds core.Credentials) (core.DayCost, error) {
	return r.DayCost(ctx, creds, core.Today(r.opts.Clock()))
}

// History returns one DailyUsage per day for the last days days, newest
// first. Days whose fetch failed are left out.
func (r *Reporter) History(ctx context.Context, creds core.Credentials, days int) ([]core.DailyUsage, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	dates, err := core.LastNDays(r.opts.Clock(), days)
	if err != nil {
		return nil, err
	}

	results := make([]*core.DailyUsage, len(dates))
	failed := make([]error, len(dates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, date := range dates {
		g.Go(func() error {
			recs, err := r.records(gctx, creds, date)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				failed[i] = err
				return nil
			}
			day := core.SummarizeDay(date, recs)
			results[i] = &day
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("usage history: %w", err)
	}

	out := make([]core.DailyUsage, 0, len(dates))
	skipped := 0
	for i, d := range results {
		if d == nil {
			skipped++
			r.logger.WarnContext(ctx, "Dropping day from usage history",
				applog.FieldAccountSID, applog.MaskSID(creds.SID),
				applog.FieldDate, dates[i],
				applog.FieldError, failed[i].Error())
			continue
		}
		out = append(out, *d)
	}

	r.logger.DebugContext(ctx, "Usage history built",
		applog.FieldAccountSID, applog.MaskSID(creds.SID),
		applog.FieldDays, days,
		"skipped", skipped)
	return out, nil
}

// WindowCost sums DayCost over the last days days.
func (r *Reporter) WindowCost(ctx context.Context, creds core.Credentials, days int) (core.DayCost, error) {
	if err := creds.Validate(); err != nil {
		return core.DayCost{}, err
	}
	dates, err := core.LastNDays(r.opts.Clock(), days)
	if err != nil {
		return core.DayCost{}, err
	}

	costs := make([]core.DayCost, len(dates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, date := range dates {
		g.Go(func() error {
			c, err := r.DayCost(gctx, creds, date)
			if err != nil {
				return err
			}
			costs[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return core.DayCost{}, fmt.Errorf("window cost: %w", err)
	}
	return core.SumDayCosts(dates[0], costs), nil
}

// Summary fills the today, yesterday and last-7-days cards.
func (r *Reporter) Summary(ctx context.Context, creds core.Credentials) (Summary, error) {
	now := r.opts.Clock()

	var s Summary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := r.DayCost(gctx, creds, core.Today(now))
		s.Today = c
		return err
	})
	g.Go(func() error {
		c, err := r.DayCost(gctx, creds, core.Yesterday(now))
		s.Yesterday = c
		return err
	})
	g.Go(func() error {
		c, err := r.WindowCost(gctx, creds, 7)
		s.Last7Days = c
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return s, nil
}
