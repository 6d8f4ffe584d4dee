package usage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"twilioreport/internal/core"
)

var (
	testCreds = core.Credentials{SID: "AC0123456789abcdef", AuthToken: "token"}
	fixedNow  = time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
)

// fakeFetcher serves canned records per date and counts calls.
type fakeFetcher struct {
	mu       sync.Mutex
	byDate   map[string][]core.UsageRecord
	failOn   map[string]error
	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
	delay    time.Duration
}

func (f *fakeFetcher) DailyRecords(ctx context.Context, _ core.Credentials, date string) ([]core.UsageRecord, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[date]; err != nil {
		return nil, err
	}
	return f.byDate[date], nil
}

func rec(category, usage, price string) core.UsageRecord {
	return core.UsageRecord{Category: category, Usage: usage, Price: decimal.RequireFromString(price)}
}

func newReporter(f *fakeFetcher, mutate ...func(*Options)) *Reporter {
	opts := DefaultOptions()
	opts.Clock = func() time.Time { return fixedNow }
	for _, m := range mutate {
		m(&opts)
	}
	return NewReporter(f, opts, nil)
}

func TestReporter_DayCost(t *testing.T) {
	f := &fakeFetcher{byDate: map[string][]core.UsageRecord{
		"2024-03-09": {rec("sms", "3", "0.25"), rec("calls", "60", "1.004")},
	}}
	r := newReporter(f)

	got, err := r.DayCost(context.Background(), testCreds, "2024-03-09")
	if err != nil {
		t.Fatalf("DayCost() error = %v", err)
	}
	if got.Date != "2024-03-09" || got.Formatted() != "1.25" {
		t.Errorf("DayCost() = %s %s, want 2024-03-09 1.25", got.Date, got.Formatted())
	}

	// second call is served from cache
	if _, err := r.DayCost(context.Background(), testCreds, "2024-03-09"); err != nil {
		t.Fatal(err)
	}
	if f.calls.Load() != 1 {
		t.Errorf("fetcher calls = %d, want 1", f.calls.Load())
	}
}

func TestReporter_DayCost_ProviderErrorIsZero(t *testing.T) {
	f := &fakeFetcher{failOn: map[string]error{"2024-03-09": errors.New("boom")}}
	r := newReporter(f)

	got, err := r.DayCost(context.Background(), testCreds, "2024-03-09")
	if err != nil {
		t.Fatalf("DayCost() error = %v", err)
	}
	if got.Formatted() != "0.00" {
		t.Errorf("DayCost() = %s, want 0.00", got.Formatted())
	}
	if r.Cache().Size() != 0 {
		t.Error("failed fetches must not be cached")
	}
}

func TestReporter_DayCost_Validation(t *testing.T) {
	r := newReporter(&fakeFetcher{})

	if _, err := r.DayCost(context.Background(), core.Credentials{SID: "XX", AuthToken: "t"}, "2024-03-09"); !errors.Is(err, core.ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := r.DayCost(context.Background(), testCreds, "March 9"); !errors.Is(err, core.ErrInvalidDate) {
		t.Errorf("error = %v, want ErrInvalidDate", err)
	}
}

func TestReporter_TodayCost(t *testing.T) {
	f := &fakeFetcher{byDate: map[string][]core.UsageRecord{
		"2024-03-10": {rec("sms", "1", "0.10")},
	}}
	got, err := newReporter(f).TodayCost(context.Background(), testCreds)
	if err != nil {
		t.Fatal(err)
	}
	if got.Date != "2024-03-10" || got.Formatted() != "0.10" {
		t.Errorf("TodayCost() = %s %s", got.Date, got.Formatted())
	}
}

func TestReporter_History(t *testing.T) {
	f := &fakeFetcher{
		byDate: map[string][]core.UsageRecord{
			"2024-03-10": {rec("sms-outbound", "2", "0.02")},
			"2024-03-08": {rec("calls-inbound", "120", "0.50")},
		},
		failOn: map[string]error{"2024-03-09": errors.New("provider 500")},
	}
	r := newReporter(f)

	days, err := r.History(context.Background(), testCreds, 3)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("History() len = %d, want 2 (failed day dropped): %+v", len(days), days)
	}
	if days[0].Date != "2024-03-10" || days[1].Date != "2024-03-08" {
		t.Errorf("History() dates = %s, %s; want newest first", days[0].Date, days[1].Date)
	}
	if days[0].SMSCount != 2 || days[1].TotalCallMinutes != 2 || days[1].CallCost != 0.5 {
		t.Errorf("History() = %+v", days)
	}
}

func TestReporter_History_AllFailedIsEmpty(t *testing.T) {
	boom := errors.New("unauthorized")
	f := &fakeFetcher{failOn: map[string]error{"2024-03-10": boom, "2024-03-09": boom}}

	days, err := newReporter(f).History(context.Background(), testCreds, 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(days) != 0 {
		t.Errorf("History() = %+v, want empty", days)
	}
}

func TestReporter_History_BoundsAndConcurrency(t *testing.T) {
	f := &fakeFetcher{delay: 5 * time.Millisecond}
	r := newReporter(f, func(o *Options) { o.Concurrency = 3 })

	if _, err := r.History(context.Background(), testCreds, 0); !errors.Is(err, core.ErrInvalidDays) {
		t.Errorf("History(0) error = %v, want ErrInvalidDays", err)
	}
	if _, err := r.History(context.Background(), testCreds, 101); !errors.Is(err, core.ErrInvalidDays) {
		t.Errorf("History(101) error = %v, want ErrInvalidDays", err)
	}

	days, err := r.History(context.Background(), testCreds, 31)
	if err != nil {
		t.Fatalf("History(31) error = %v", err)
	}
	if len(days) != 31 {
		t.Errorf("History(31) len = %d", len(days))
	}
	if peak := f.maxSeen.Load(); peak > 3 {
		t.Errorf("max in-flight fetches = %d, want <= 3", peak)
	}
}

func TestReporter_History_Cancelled(t *testing.T) {
	f := &fakeFetcher{delay: time.Second}
	r := newReporter(f)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := r.History(ctx, testCreds, 5); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("History() error = %v, want DeadlineExceeded", err)
	}
}

func TestReporter_Summary(t *testing.T) {
	byDate := map[string][]core.UsageRecord{}
	dates, _ := core.LastNDays(fixedNow, 8)
	for _, d := range dates {
		byDate[d] = []core.UsageRecord{rec("sms", "1", "1.00")}
	}
	f := &fakeFetcher{byDate: byDate}

	s, err := newReporter(f).Summary(context.Background(), testCreds)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if s.Today.Formatted() != "1.00" || s.Yesterday.Formatted() != "1.00" {
		t.Errorf("Summary() today=%s yesterday=%s", s.Today.Formatted(), s.Yesterday.Formatted())
	}
	if s.Last7Days.Formatted() != "7.00" {
		t.Errorf("Summary() last7=%s, want 7.00", s.Last7Days.Formatted())
	}
	if s.Yesterday.Date != "2024-03-09" {
		t.Errorf("Yesterday.Date = %s", s.Yesterday.Date)
	}
}

func TestReporter_TodayUsesShortTTL(t *testing.T) {
	f := &fakeFetcher{byDate: map[string][]core.UsageRecord{}}
	r := newReporter(f, func(o *Options) {
		o.TodayTTL = time.Millisecond
		o.CacheTTL = time.Hour
	})
	if _, err := r.TodayCost(context.Background(), testCreds); err != nil {
		t.Fatal(err)
	}
	if _, err := r.DayCost(context.Background(), testCreds, "2024-03-01"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := r.TodayCost(context.Background(), testCreds); err != nil {
		t.Fatal(err)
	}
	if _, err := r.DayCost(context.Background(), testCreds, "2024-03-01"); err != nil {
		t.Fatal(err)
	}
	if got := f.calls.Load(); got != 3 {
		t.Errorf("fetcher calls = %d, want 3 (today refetched, past day cached)", got)
	}
}

// tokenFetcher rejects every token but the one it was built with.
type tokenFetcher struct {
	token string
	recs  []core.UsageRecord
	calls atomic.Int64
}

func (f *tokenFetcher) DailyRecords(_ context.Context, creds core.Credentials, _ string) ([]core.UsageRecord, error) {
	f.calls.Add(1)
	if creds.AuthToken != f.token {
		return nil, errors.New("401 authenticate")
	}
	return f.recs, nil
}

func TestReporter_CacheIsScopedToToken(t *testing.T) {
	f := &tokenFetcher{token: testCreds.AuthToken, recs: []core.UsageRecord{rec("sms", "3", "12.5")}}
	opts := DefaultOptions()
	opts.Clock = func() time.Time { return fixedNow }
	r := NewReporter(f, opts, nil)
	ctx := context.Background()

	good, err := r.DayCost(ctx, testCreds, "2024-03-09")
	if err != nil {
		t.Fatalf("DayCost() error = %v", err)
	}
	if good.Formatted() != "12.50" {
		t.Fatalf("DayCost() = %s, want 12.50", good.Formatted())
	}

	wrong := core.Credentials{SID: testCreds.SID, AuthToken: "wrong"}
	got, err := r.DayCost(ctx, wrong, "2024-03-09")
	if err != nil {
		t.Fatalf("DayCost(wrong token) error = %v", err)
	}
	if got.Formatted() != "0.00" {
		t.Errorf("DayCost(wrong token) = %s, want 0.00", got.Formatted())
	}
	if n := f.calls.Load(); n != 2 {
		t.Errorf("fetcher calls = %d, want 2", n)
	}

	rows, err := r.History(ctx, wrong, 2)
	if err != nil {
		t.Fatalf("History(wrong token) error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("History(wrong token) = %+v, want empty", rows)
	}

	if _, err := r.DayCost(ctx, testCreds, "2024-03-09"); err != nil {
		t.Fatalf("DayCost() error = %v", err)
	}
	if n := f.calls.Load(); n != 4 {
		t.Errorf("fetcher calls after cached read = %d, want 4", n)
	}
}
