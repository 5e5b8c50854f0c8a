package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidBillingPeriod = errors.New("invalid billing period")

// BillingPeriod is a UTC calendar month.
type BillingPeriod struct {
	Year  int
	Month time.Month
}

// CurrentBillingPeriod returns the UTC month containing now.
func CurrentBillingPeriod(now time.Time) BillingPeriod {
	now = now.UTC()
	return BillingPeriod{Year: now.Year(), Month: now.Month()}
}

// ParseBillingPeriod accepts an RFC3339 timestamp, a plain date (2006-01-02)
// or a month (2006-01). Timestamps are converted to UTC before the month is taken.
func ParseBillingPeriod(s string) (BillingPeriod, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return BillingPeriod{}, fmt.Errorf("%w: empty", ErrInvalidBillingPeriod)
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02", "2006-01"} {
		if t, err := time.Parse(layout, s); err == nil {
			return CurrentBillingPeriod(t), nil
		}
	}
	return BillingPeriod{}, fmt.Errorf("%w: %q", ErrInvalidBillingPeriod, s)
}

// Start is the first instant of the month.
func (p BillingPeriod) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the last millisecond of the month (day 0 of the next month).
func (p BillingPeriod) End() time.Time {
	return time.Date(p.Year, p.Month+1, 0, 23, 59, 59, 999_000_000, time.UTC)
}

// DefaultDueDate is the due date used when the caller gives none.
func (p BillingPeriod) DefaultDueDate() time.Time { return p.End() }

func (p BillingPeriod) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start()) && !t.After(p.End())
}

// String renders the period as YYYY-MM, the format stored on charges.
func (p BillingPeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

func (p BillingPeriod) IsZero() bool { return p.Year == 0 && p.Month == 0 }

// ParseDueDate accepts RFC3339 timestamps or plain dates (taken as end of that UTC day).
func ParseDueDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Add(24*time.Hour - time.Millisecond), nil
	}
	return time.Time{}, fmt.Errorf("%w: due date %q", ErrInvalidInput, s)
}
