package twilio

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"twilioreport/internal/core"
)

type fakeAPI struct {
	records []api.ApiV2010UsageRecordDaily
	err     error
	block   chan struct{}
	params  *api.ListUsageRecordDailyParams
}

func (f *fakeAPI) ListUsageRecordDaily(params *api.ListUsageRecordDailyParams) ([]api.ApiV2010UsageRecordDaily, error) {
	f.params = params
	if f.block != nil {
		<-f.block
	}
	return f.records, f.err
}

func newTestClient(f *fakeAPI) *Client {
	c := NewClient(time.Second, nil)
	c.newAPI = func(core.Credentials, time.Duration) usageAPI { return f }
	return c
}

func strPtr(s string) *string   { return &s }
func f32Ptr(f float32) *float32 { return &f }

var creds = core.Credentials{SID: "AC0123456789", AuthToken: "token"}

func TestDailyRecords_Converts(t *testing.T) {
	f := &fakeAPI{records: []api.ApiV2010UsageRecordDaily{
		{Category: strPtr("sms"), Usage: strPtr("12"), Price: f32Ptr(0.0079)},
		{Category: strPtr("calls"), Usage: strPtr("60")},
		{},
	}}
	c := newTestClient(f)

	got, err := c.DailyRecords(context.Background(), creds, "2024-03-01")
	if err != nil {
		t.Fatalf("DailyRecords() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Category != "sms" || got[0].Usage != "12" || got[0].Price.String() != "0.0079" {
		t.Errorf("record 0 = %+v (price %s)", got[0], got[0].Price)
	}
	if !got[1].Price.IsZero() || !got[2].Price.IsZero() {
		t.Error("missing prices should convert to zero")
	}

	if f.params.StartDate == nil || *f.params.StartDate != "2024-03-01" || *f.params.EndDate != "2024-03-01" {
		t.Errorf("params = %+v, want start=end=2024-03-01", f.params)
	}
}

func TestDailyRecords_RejectsBadInput(t *testing.T) {
	c := newTestClient(&fakeAPI{})

	if _, err := c.DailyRecords(context.Background(), core.Credentials{SID: "XX1", AuthToken: "t"}, "2024-03-01"); !errors.Is(err, core.ErrInvalidCredentials) {
		t.Errorf("bad sid error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := c.DailyRecords(context.Background(), creds, "03/01/2024"); !errors.Is(err, core.ErrInvalidDate) {
		t.Errorf("bad date error = %v, want ErrInvalidDate", err)
	}
}

func TestDailyRecords_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantAuth bool
	}{
		{"unauthorized", &client.TwilioRestError{Status: http.StatusUnauthorized, Message: "Authenticate"}, true},
		{"server error", &client.TwilioRestError{Status: http.StatusInternalServerError, Message: "oops"}, false},
		{"transport", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(&fakeAPI{err: tt.err})
			_, err := c.DailyRecords(context.Background(), creds, "2024-03-01")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrUnauthorized); got != tt.wantAuth {
				t.Errorf("errors.Is(ErrUnauthorized) = %v, want %v (%v)", got, tt.wantAuth, err)
			}
		})
	}
}

func TestDailyRecords_ContextCancel(t *testing.T) {
	f := &fakeAPI{block: make(chan struct{})}
	defer close(f.block)
	c := newTestClient(f)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.DailyRecords(ctx, creds, "2024-03-01"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
}
