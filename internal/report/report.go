// Package report maps a report request (mode and calendar date) to the
// object-store key and the human-readable label of the attendance report.
package report

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects the report granularity.
type Mode int

const (
	Daily Mode = iota
	Weekly
)

const (
	// DateLayout is the ISO-8601 calendar date used in daily keys and labels.
	DateLayout = "2006-01-02"

	keyPrefix = "reports"
	keySuffix = ".pdf"
)

// String returns the lower-case mode name used in keys and URLs.
func (m Mode) String() string {
	switch m {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "daily" or "weekly" case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	default:
		return 0, fmt.Errorf("unknown report mode %q", s)
	}
}

// Request is a single report lookup. It is built per fetch and never stored.
type Request struct {
	Mode Mode
	Date time.Time
}

// NewRequest normalises date to a calendar day.
func NewRequest(mode Mode, date time.Time) Request {
	return Request{Mode: mode, Date: Day(date)}
}

// Key returns the storage key of the request.
func (r Request) Key() string { return StorageKey(r.Mode, r.Date) }

// Label returns the display label of the request.
func (r Request) Label() string { return DisplayLabel(r.Mode, r.Date) }

// Day drops the time of day and location, keeping the calendar date as seen
// in the location of t.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date. Impossible dates such as 2023-02-30
// are rejected.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// StorageKey returns the object-store key for mode and date:
//
//	reports/daily/2026-02-21.pdf
//	reports/weekly/2026-W08.pdf
func StorageKey(mode Mode, date time.Time) string {
	return keyPrefix + "/" + mode.String() + "/" + DisplayLabel(mode, date) + keySuffix
}

// KeyPrefix returns the common prefix of all keys of mode, with a trailing slash.
func KeyPrefix(mode Mode) string {
	return keyPrefix + "/" + mode.String() + "/"
}

// DisplayLabel returns the date string for daily reports and the ISO week
// string (YYYY-Www) for weekly reports.
func DisplayLabel(mode Mode, date time.Time) string {
	if mode == Weekly {
		year, week := ISOWeek(date)
		return WeekLabel(year, week)
	}
	return date.Format(DateLayout)
}

// ISOWeek returns the ISO-8601 week-numbering year and week of date. The
// week-based year differs from the calendar year around January 1st.
func ISOWeek(date time.Time) (year, week int) {
	return Day(date).ISOWeek()
}

// WeekLabel formats an ISO week as YYYY-Www.
func WeekLabel(year, week int) string {
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// WeeksInYear returns 52 or 53, the number of ISO weeks of the week-based year.
func WeeksInYear(year int) int {
	// December 28th always falls in the last ISO week of its year.
	_, w := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return w
}

// WeekStart returns the Monday of ISO week week of the week-based year.
func WeekStart(year, week int) (time.Time, error) {
	if week < 1 || week > WeeksInYear(year) {
		return time.Time{}, fmt.Errorf("week %d out of range for %d", week, year)
	}
	// January 4th is always in week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	monday := jan4.AddDate(0, 0, -offset)
	return monday.AddDate(0, 0, (week-1)*7), nil
}

// ParseWeekLabel parses a YYYY-Www label.
func ParseWeekLabel(s string) (year, week int, err error) {
	if _, err := fmt.Sscanf(s, "%4d-W%2d", &year, &week); err != nil {
		return 0, 0, fmt.Errorf("invalid week label %q: %w", s, err)
	}
	if WeekLabel(year, week) != s {
		return 0, 0, fmt.Errorf("invalid week label %q", s)
	}
	if _, err := WeekStart(year, week); err != nil {
		return 0, 0, err
	}
	return year, week, nil
}

// ParseRequest builds a request from user input. Weekly requests accept a
// YYYY-Www label as well as any date inside the week.
func ParseRequest(mode Mode, raw string) (Request, error) {
	raw = strings.TrimSpace(raw)
	if mode == Weekly && strings.Contains(raw, "-W") {
		year, week, err := ParseWeekLabel(raw)
		if err != nil {
			return Request{}, err
		}
		monday, _ := WeekStart(year, week)
		return NewRequest(mode, monday), nil
	}

	date, err := ParseDate(raw)
	if err != nil {
		return Request{}, err
	}
	return NewRequest(mode, date), nil
}

// ParseKey decodes a storage key produced by StorageKey. Weekly keys decode
// to the Monday of their ISO week.
func ParseKey(key string) (Request, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != keyPrefix || !strings.HasSuffix(parts[2], keySuffix) {
		return Request{}, fmt.Errorf("not a report key: %q", key)
	}
	mode, err := ParseMode(parts[1])
	if err != nil {
		return Request{}, err
	}
	name := strings.TrimSuffix(parts[2], keySuffix)

	switch mode {
	case Weekly:
		year, week, err := ParseWeekLabel(name)
		if err != nil {
			return Request{}, err
		}
		monday, _ := WeekStart(year, week)
		return Request{Mode: Weekly, Date: monday}, nil
	default:
		date, err := ParseDate(name)
		if err != nil {
			return Request{}, err
		}
		return Request{Mode: Daily, Date: date}, nil
	}
}
