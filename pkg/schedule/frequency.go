package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is the unit of a named frequency.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Frequency is the higher-level schedule used by recurring reports:
// daily, weekly or monthly at HH:MM.
type Frequency struct {
	Period     Period       `json:"period"                 yaml:"period"`
	Hour       int          `json:"hour"                   yaml:"hour"`
	Minute     int          `json:"minute"                 yaml:"minute"`
	Weekday    time.Weekday `json:"weekday,omitempty"      yaml:"weekday,omitempty"`
	DayOfMonth int          `json:"day_of_month,omitempty" yaml:"day_of_month,omitempty"`
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

// isFrequency reports whether expr starts with a named period.
func isFrequency(expr string) bool {
	fields := strings.Fields(strings.ToLower(expr))
	if len(fields) == 0 {
		return false
	}

	switch Period(fields[0]) {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	default:
		return false
	}
}

// ParseFrequency parses "daily HH:MM", "weekly <weekday> HH:MM" and "monthly <day> HH:MM".
func ParseFrequency(expr string) (Frequency, error) {
	fields := strings.Fields(strings.ToLower(expr))
	if len(fields) == 0 {
		return Frequency{}, invalid(expr, "empty frequency", nil)
	}

	freq := Frequency{Period: Period(fields[0])}

	var clock string

	switch freq.Period {
	case PeriodDaily:
		if len(fields) != 2 {
			return Frequency{}, invalid(expr, "expected 'daily HH:MM'", nil)
		}

		clock = fields[1]
	case PeriodWeekly:
		if len(fields) != 3 {
			return Frequency{}, invalid(expr, "expected 'weekly <weekday> HH:MM'", nil)
		}

		day, ok := weekdays[fields[1]]
		if !ok {
			return Frequency{}, invalid(expr, "unknown weekday "+fields[1], nil)
		}

		freq.Weekday = day
		clock = fields[2]
	case PeriodMonthly:
		if len(fields) != 3 {
			return Frequency{}, invalid(expr, "expected 'monthly <day> HH:MM'", nil)
		}

		day, err := strconv.Atoi(fields[1])
		if err != nil {
			return Frequency{}, invalid(expr, "day of month must be a number", err)
		}

		freq.DayOfMonth = day
		clock = fields[2]
	default:
		return Frequency{}, invalid(expr, "unknown period "+fields[0], nil)
	}

	hour, minute, err := parseClock(clock)
	if err != nil {
		return Frequency{}, invalid(expr, "time of day must be HH:MM", err)
	}

	freq.Hour = hour
	freq.Minute = minute

	if err := freq.Validate(); err != nil {
		return Frequency{}, invalid(expr, err.Error(), nil)
	}

	return freq, nil
}

func parseClock(value string) (int, int, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed time %q", value)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}

	return hour, minute, nil
}

// Validate checks field ranges.
func (f Frequency) Validate() error {
	if f.Hour < 0 || f.Hour > 23 {
		return fmt.Errorf("hour %d out of range", f.Hour)
	}

	if f.Minute < 0 || f.Minute > 59 {
		return fmt.Errorf("minute %d out of range", f.Minute)
	}

	switch f.Period {
	case PeriodDaily:
	case PeriodWeekly:
		if f.Weekday < time.Sunday || f.Weekday > time.Saturday {
			return fmt.Errorf("weekday %d out of range", f.Weekday)
		}
	case PeriodMonthly:
		if f.DayOfMonth < 1 || f.DayOfMonth > 31 {
			return fmt.Errorf("day of month %d out of range", f.DayOfMonth)
		}
	default:
		return fmt.Errorf("unknown period %q", f.Period)
	}

	return nil
}

// Cron returns the equivalent five-field cron expression.
func (f Frequency) Cron() string {
	switch f.Period {
	case PeriodWeekly:
		return fmt.Sprintf("%d %d * * %d", f.Minute, f.Hour, f.Weekday)
	case PeriodMonthly:
		return fmt.Sprintf("%d %d %d * *", f.Minute, f.Hour, f.DayOfMonth)
	default:
		return fmt.Sprintf("%d %d * * *", f.Minute, f.Hour)
	}
}

// String returns the canonical textual form accepted by ParseFrequency.
func (f Frequency) String() string {
	clock := fmt.Sprintf("%02d:%02d", f.Hour, f.Minute)

	switch f.Period {
	case PeriodWeekly:
		return fmt.Sprintf("weekly %s %s", strings.ToLower(f.Weekday.String()[:3]), clock)
	case PeriodMonthly:
		return fmt.Sprintf("monthly %d %s", f.DayOfMonth, clock)
	default:
		return "daily " + clock
	}
}
