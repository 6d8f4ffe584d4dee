// Package twilio adapts the vendor REST client to the usage reporter.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	twilio "github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"twilioreport/internal/core"
	applog "twilioreport/internal/log"
)

// ErrUnauthorized is returned when the provider rejects the credentials.
var ErrUnauthorized = errors.New("provider rejected credentials")

// pageSize is the provider's maximum page size for usage records.
const pageSize = 1000

// usageAPI is the slice of the vendor API this package calls.
type usageAPI interface {
	ListUsageRecordDaily(params *api.ListUsageRecordDailyParams) ([]api.ApiV2010UsageRecordDaily, error)
}

// Client fetches daily usage records with per-request credentials.
type Client struct {
	timeout time.Duration
	logger  *applog.Logger
	newAPI  func(creds core.Credentials, timeout time.Duration) usageAPI
}

// NewClient returns a Client whose provider calls time out after timeout.
func NewClient(timeout time.Duration, logger *applog.Logger) *Client {
	if logger == nil {
		logger = applog.Default(applog.ComponentProvider)
	}
	return &Client{
		timeout: timeout,
		logger:  logger.WithComponent(applog.ComponentProvider),
		newAPI:  newRestAPI,
	}
}

func newRestAPI(creds core.Credentials, timeout time.Duration) usageAPI {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: creds.SID,
		Password: creds.AuthToken,
	})
	rest.SetTimeout(timeout)
	return rest.Api
}

// DailyRecords returns the usage records of a single UTC date.
func (c *Client) DailyRecords(ctx context.Context, creds core.Credentials, date string) ([]core.UsageRecord, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if _, err := core.ParseDate(date); err != nil {
		return nil, err
	}

	params := &api.ListUsageRecordDailyParams{}
	params.SetStartDate(date)
	params.SetEndDate(date)
	params.SetPageSize(pageSize)

	type result struct {
		records []api.ApiV2010UsageRecordDaily
		err     error
	}
	// The vendor client is not context aware; the call is bounded by the
	// client timeout and abandoned if ctx ends first.
	done := make(chan result, 1)
	svc := c.newAPI(creds, c.timeout)
	start := time.Now()
	go func() {
		records, err := svc.ListUsageRecordDaily(params)
		done <- result{records: records, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			c.logger.WarnContext(ctx, "Provider usage request failed",
				applog.FieldAccountSID, applog.MaskSID(creds.SID),
				applog.FieldDate, date,
				applog.FieldError, res.err.Error(),
				applog.FieldDuration, time.Since(start).Milliseconds())
			return nil, classify(res.err)
		}
		c.logger.DebugContext(ctx, "Provider usage fetched",
			applog.FieldAccountSID, applog.MaskSID(creds.SID),
			applog.FieldDate, date,
			"records", len(res.records),
			applog.FieldDuration, time.Since(start).Milliseconds())
		return convert(res.records), nil
	}
}

func convert(in []api.ApiV2010UsageRecordDaily) []core.UsageRecord {
	out := make([]core.UsageRecord, 0, len(in))
	for _, r := range in {
		rec := core.UsageRecord{Price: decimal.Zero}
		if r.Category != nil {
			rec.Category = *r.Category
		}
		if r.Usage != nil {
			rec.Usage = *r.Usage
		}
		if r.Price != nil {
			rec.Price = decimal.NewFromFloat32(*r.Price)
		}
		out = append(out, rec)
	}
	return out
}

func classify(err error) error {
	var restErr *client.TwilioRestError
	if errors.As(err, &restErr) {
		if restErr.Status == http.StatusUnauthorized || restErr.Status == http.StatusForbidden {
			return fmt.Errorf("%w: %s", ErrUnauthorized, restErr.Message)
		}
		return fmt.Errorf("provider error %d: %s", restErr.Status, restErr.Message)
	}
	return fmt.Errorf("list daily usage: %w", err)
}
