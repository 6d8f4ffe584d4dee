package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

var sixty = decimal.NewFromInt(60)

// UsageRecord is one daily usage line reported by the provider for a
// single category (e.g. "sms-outbound", "calls-inbound").
type UsageRecord struct {
	Category string
	Usage    string
	Price    decimal.Decimal
}

// DailyUsage aggregates one day of usage records.
type DailyUsage struct {
	Date             string  `json:"date"`
	SMSCount         int64   `json:"smsCount"`
	SMSCost          float64 `json:"smsCost"`
	CallCount        int64   `json:"callCount"`
	CallCost         float64 `json:"callCost"`
	TotalCost        float64 `json:"totalCost"`
	TotalCallMinutes float64 `json:"totalCallMinutes"`
}

// UsageTotals sums a window of DailyUsage values.
type UsageTotals struct {
	Days             int     `json:"days"`
	SMSCount         int64   `json:"smsCount"`
	SMSCost          float64 `json:"smsCost"`
	CallCount        int64   `json:"callCount"`
	CallCost         float64 `json:"callCost"`
	TotalCost        float64 `json:"totalCost"`
	TotalCallMinutes float64 `json:"totalCallMinutes"`
}

// DayCost is the total spend of one day, formatted with two decimals.
type DayCost struct {
	Date      string          `json:"date"`
	TotalCost decimal.Decimal `json:"-"`
}

// Formatted returns the cost as "12.34".
func (d DayCost) Formatted() string {
	return d.TotalCost.StringFixed(2)
}

// usageCount truncates a provider usage string to an integer count.
// Values that do not parse count as zero.
func usageCount(s string) int64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return d.IntPart()
}

// SummarizeDay reduces the records of one date. Categories containing
// "sms" feed the SMS figures, categories containing "calls" feed the call
// figures (usage is seconds, reported as minutes), and every record's price
// counts toward the total.
func SummarizeDay(date string, records []UsageRecord) DailyUsage {
	var (
		smsCount, callCount      int64
		smsCost, callCost, total decimal.Decimal
		callMinutes              decimal.Decimal
	)

	for _, r := range records {
		category := strings.ToLower(r.Category)
		if strings.Contains(category, "sms") {
			smsCount += usageCount(r.Usage)
			smsCost = smsCost.Add(r.Price)
		}
		if strings.Contains(category, "calls") {
			n := usageCount(r.Usage)
			callCount += n
			callCost = callCost.Add(r.Price)
			callMinutes = callMinutes.Add(decimal.NewFromInt(n).Div(sixty))
		}
		total = total.Add(r.Price)
	}

	return DailyUsage{
		Date:             date,
		SMSCount:         smsCount,
		SMSCost:          round2(smsCost),
		CallCount:        callCount,
		CallCost:         round2(callCost),
		TotalCost:        round2(total),
		TotalCallMinutes: round2(callMinutes),
	}
}

// SumDays totals a window of days.
func SumDays(days []DailyUsage) UsageTotals {
	var smsCost, callCost, total, minutes decimal.Decimal
	t := UsageTotals{Days: len(days)}
	for _, d := range days {
		t.SMSCount += d.SMSCount
		t.CallCount += d.CallCount
		smsCost = smsCost.Add(decimal.NewFromFloat(d.SMSCost))
		callCost = callCost.Add(decimal.NewFromFloat(d.CallCost))
		total = total.Add(decimal.NewFromFloat(d.TotalCost))
		minutes = minutes.Add(decimal.NewFromFloat(d.TotalCallMinutes))
	}
	t.SMSCost = round2(smsCost)
	t.CallCost = round2(callCost)
	t.TotalCost = round2(total)
	t.TotalCallMinutes = round2(minutes)
	return t
}

// SumCost adds every record price of a single day.
func SumCost(date string, records []UsageRecord) DayCost {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Price)
	}
	return DayCost{Date: date, TotalCost: total.Round(2)}
}

// SumDayCosts adds several day costs into one window cost.
func SumDayCosts(date string, costs []DayCost) DayCost {
	total := decimal.Zero
	for _, c := range costs {
		total = total.Add(c.TotalCost)
	}
	return DayCost{Date: date, TotalCost: total.Round(2)}
}

func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
