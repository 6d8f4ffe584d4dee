package core

import (
	"fmt"
	"time"
)

// DateLayout is the provider's day format.
const DateLayout = "2006-01-02"

// MaxWindowDays bounds any usage window.
const MaxWindowDays = 100

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time { return time.Now() }

// Today returns the current UTC date.
func Today(now time.Time) string {
	return now.UTC().Format(DateLayout)
}

// Yesterday returns the UTC date before now.
func Yesterday(now time.Time) string {
	return now.UTC().AddDate(0, 0, -1).Format(DateLayout)
}

// LastNDays returns n UTC dates ending today, newest first.
func LastNDays(now time.Time, n int) ([]string, error) {
	if n < 1 || n > MaxWindowDays {
		return nil, fmt.Errorf("%w: %d (must be between 1 and %d)", ErrInvalidDays, n, MaxWindowDays)
	}
	today := now.UTC()
	dates := make([]string, n)
	for i := range n {
		dates[i] = today.AddDate(0, 0, -i).Format(DateLayout)
	}
	return dates, nil
}

// ParseDate validates a YYYY-MM-DD date and returns it in canonical form.
func ParseDate(s string) (string, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t.Format(DateLayout), nil
}
