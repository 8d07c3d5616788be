package billing

import (
	"fmt"
	"time"
)

// =============================================================================
// DATES - Calendar days, always normalized to UTC midnight
// =============================================================================

const dateLayout = "2006-01-02"

// Date builds a calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Day drops the time of day while keeping t's own calendar date, so an event
// at 00:30 in Paris stays on its Paris day.
func Day(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

func FormatDate(t time.Time) string { return t.Format(dateLayout) }

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// =============================================================================
// PERIOD - The calendar month an invoice covers
// =============================================================================

// Period is a calendar month, persisted as "YYYY-MM".
type Period struct {
	Year  int
	Month time.Month
}

func NewPeriod(year int, month time.Month) Period {
	// Normalize month overflow (e.g. month 0 is December of the previous year).
	t := Date(year, month, 1)
	return Period{Year: t.Year(), Month: t.Month()}
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period { return Period{Year: t.Year(), Month: t.Month()} }

// PreviousPeriod returns the month before the one containing now. This is
// the default billing period.
func PreviousPeriod(now time.Time) Period { return PeriodOf(now).Previous() }

func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

func (p Period) String() string { return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month)) }

// Start is the first day of the month.
func (p Period) Start() time.Time { return Date(p.Year, p.Month, 1) }

// End is the last day of the month.
func (p Period) End() time.Time { return Date(p.Year, p.Month+1, 1).AddDate(0, 0, -1) }

func (p Period) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(p.Start()) && !d.After(p.End())
}

func (p Period) Previous() Period { return NewPeriod(p.Year, p.Month-1) }
func (p Period) Next() Period     { return NewPeriod(p.Year, p.Month+1) }

// IsZero reports an unset period.
func (p Period) IsZero() bool { return p.Year == 0 }
