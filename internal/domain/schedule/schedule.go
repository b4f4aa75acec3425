// Package schedule parses the small cadence language used for periodic
// coordination rules.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Spec is a parsed cadence. Either Every is set (fixed interval) or the
// Hour/Minute/Weekday fields describe a wall-clock slot in UTC.
type Spec struct {
	Expr    string
	Every   time.Duration
	Hourly  bool
	Hour    int
	Minute  int
	Weekday *time.Weekday // nil = daily, non-nil = specific weekday
}

// Parse parses a cadence expression.
// Supported formats:
//   - "hourly"            → every hour at :00
//   - "every:<duration>"  → fixed interval, e.g. "every:15m"
//   - "daily"             → every day at 00:00 UTC
//   - "weekly"            → every Monday at 00:00 UTC
//   - "HH:MM"             → every day at HH:MM UTC
//   - "daily:HH:MM"       → every day at HH:MM UTC
//   - "weekly:Day"        → every Day at 00:00 UTC (e.g. "weekly:Fri")
//   - "weekly:Day:HH:MM"  → every Day at HH:MM UTC
func Parse(expr string) (Spec, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Spec{}, fmt.Errorf("empty schedule expression")
	}

	switch {
	case expr == "hourly":
		return Spec{Expr: expr, Hourly: true}, nil

	case strings.HasPrefix(expr, "every:"):
		d, err := time.ParseDuration(strings.TrimPrefix(expr, "every:"))
		if err != nil {
			return Spec{}, fmt.Errorf("invalid interval in %q: %w", expr, err)
		}
		if d < time.Second {
			return Spec{}, fmt.Errorf("interval in %q must be at least 1s", expr)
		}
		return Spec{Expr: expr, Every: d}, nil

	case expr == "daily":
		return Spec{Expr: expr}, nil

	case expr == "weekly":
		mon := time.Monday
		return Spec{Expr: expr, Weekday: &mon}, nil

	case strings.HasPrefix(expr, "daily:"):
		h, m, err := parseHHMM(strings.TrimPrefix(expr, "daily:"))
		if err != nil {
			return Spec{}, err
		}
		return Spec{Expr: expr, Hour: h, Minute: m}, nil

	case strings.HasPrefix(expr, "weekly:"):
		parts := strings.SplitN(strings.TrimPrefix(expr, "weekly:"), ":", 2)
		day, err := parseWeekday(parts[0])
		if err != nil {
			return Spec{}, err
		}
		h, m := 0, 0
		if len(parts) == 2 {
			h, m, err = parseHHMM(parts[1])
			if err != nil {
				return Spec{}, err
			}
		}
		return Spec{Expr: expr, Hour: h, Minute: m, Weekday: &day}, nil

	default:
		h, m, err := parseHHMM(expr)
		if err != nil {
			return Spec{}, fmt.Errorf("unrecognized schedule expression: %q", expr)
		}
		return Spec{Expr: expr, Hour: h, Minute: m}, nil
	}
}

// String returns the original expression.
func (s Spec) String() string { return s.Expr }

// NextAfter returns the next occurrence strictly after t.
func (s Spec) NextAfter(t time.Time) time.Time {
	if s.Every > 0 {
		return t.Add(s.Every)
	}

	t = t.UTC()
	if s.Hourly {
		return t.Truncate(time.Hour).Add(time.Hour)
	}

	candidate := time.Date(t.Year(), t.Month(), t.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
	if s.Weekday == nil {
		if !candidate.After(t) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate
	}

	for i := range 8 {
		check := candidate.AddDate(0, 0, i)
		if check.Weekday() == *s.Weekday && check.After(t) {
			return check
		}
	}
	return candidate.AddDate(0, 0, 7)
}

func parseHHMM(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour %q", parts[0])
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute %q", parts[1])
	}
	return h, m, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func parseWeekday(s string) (time.Weekday, error) {
	if d, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
