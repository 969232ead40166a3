// Package dateopt resolves symbolic date tokens ("next working day",
// "last friday of next month", ...) to concrete calendar dates. All
// functions are pure: the same now always yields the same date.
package dateopt

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the closed set of symbolic date tokens.
type Kind string

const (
	KindToday                 Kind = "today"
	KindTomorrow              Kind = "tomorrow"
	KindNextWorkingDay        Kind = "next_working_day"
	KindNextWeekday           Kind = "next_weekday"
	KindNextWeekWeekday       Kind = "next_week_weekday"
	KindDayOfMonth            Kind = "day_of_month"
	KindLastDayOfMonth        Kind = "last_day_of_month"
	KindLastWorkingDayOfMonth Kind = "last_working_day_of_month"
	KindNthWeekdayOfMonth     Kind = "nth_weekday_of_month"
	KindSpecificDate          Kind = "specific_date"
)

// MonthTarget selects which month a month-relative token resolves into.
type MonthTarget string

const (
	ThisMonth MonthTarget = "this_month"
	NextMonth MonthTarget = "next_month"
)

// NthLast selects the final occurrence of a weekday in a month.
const NthLast = -1

// Option is a symbolic date with its variant parameters. Only the fields
// the Kind requires are consulted.
type Option struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// Weekday name ("monday".."sunday") for next_weekday, next_week_weekday
	// and nth_weekday_of_month.
	Weekday string `json:"weekday,omitempty" yaml:"weekday,omitempty"`

	// Nth is 1..4 or NthLast for nth_weekday_of_month.
	Nth int `json:"nth,omitempty" yaml:"nth,omitempty"`

	// Day is the day number for day_of_month and specific_date.
	Day int `json:"day,omitempty" yaml:"day,omitempty"`

	// Month is 1..12 for specific_date.
	Month int `json:"month,omitempty" yaml:"month,omitempty"`

	// MonthTarget defaults to this_month when empty.
	MonthTarget MonthTarget `json:"month_target,omitempty" yaml:"month_target,omitempty"`
}

// Validate checks the option is a known kind with usable parameters.
func (o Option) Validate() error {
	switch o.Kind {
	case KindToday, KindTomorrow, KindNextWorkingDay,
		KindLastDayOfMonth, KindLastWorkingDayOfMonth:
		return nil
	case KindNextWeekday, KindNextWeekWeekday:
		_, err := ParseWeekday(o.Weekday)
		return err
	case KindNthWeekdayOfMonth:
		if _, err := ParseWeekday(o.Weekday); err != nil {
			return err
		}
		if o.Nth != NthLast && (o.Nth < 1 || o.Nth > 4) {
			return fmt.Errorf("nth must be 1..4 or -1 (last), got %d", o.Nth)
		}
		return nil
	case KindDayOfMonth:
		if o.Day < 1 || o.Day > 31 {
			return fmt.Errorf("day must be 1..31, got %d", o.Day)
		}
		return nil
	case KindSpecificDate:
		if o.Month < 1 || o.Month > 12 {
			return fmt.Errorf("month must be 1..12, got %d", o.Month)
		}
		if o.Day < 1 || o.Day > 31 {
			return fmt.Errorf("day must be 1..31, got %d", o.Day)
		}
		return nil
	case "":
		return fmt.Errorf("date option kind is required")
	default:
		return fmt.Errorf("unknown date option kind: %s", o.Kind)
	}
}

// Resolve maps the option to a concrete date (midnight in now's location).
func Resolve(o Option, now time.Time) (time.Time, error) {
	if err := o.Validate(); err != nil {
		return time.Time{}, err
	}

	today := StartOfDay(now)

	switch o.Kind {
	case KindToday:
		return today, nil

	case KindTomorrow:
		return today.AddDate(0, 0, 1), nil

	case KindNextWorkingDay:
		d := today.AddDate(0, 0, 1)
		for IsWeekend(d) {
			d = d.AddDate(0, 0, 1)
		}
		return d, nil

	case KindNextWeekday:
		wd, _ := ParseWeekday(o.Weekday)
		delta := int(wd-today.Weekday()+7) % 7
		if delta == 0 {
			// Already that weekday: advance a full week.
			delta = 7
		}
		return today.AddDate(0, 0, delta), nil

	case KindNextWeekWeekday:
		wd, _ := ParseWeekday(o.Weekday)
		nextMonday := StartOfWeek(today).AddDate(0, 0, 7)
		offset := int(wd-time.Monday+7) % 7
		return nextMonday.AddDate(0, 0, offset), nil

	case KindDayOfMonth:
		y, m := targetMonth(today, o.MonthTarget)
		day := o.Day
		if last := daysIn(y, m); day > last {
			day = last
		}
		return time.Date(y, m, day, 0, 0, 0, 0, now.Location()), nil

	case KindLastDayOfMonth:
		y, m := targetMonth(today, o.MonthTarget)
		return time.Date(y, m, daysIn(y, m), 0, 0, 0, 0, now.Location()), nil

	case KindLastWorkingDayOfMonth:
		y, m := targetMonth(today, o.MonthTarget)
		d := time.Date(y, m, daysIn(y, m), 0, 0, 0, 0, now.Location())
		for IsWeekend(d) {
			d = d.AddDate(0, 0, -1)
		}
		return d, nil

	case KindNthWeekdayOfMonth:
		wd, _ := ParseWeekday(o.Weekday)
		y, m := targetMonth(today, o.MonthTarget)
		if o.Nth == NthLast {
			d := time.Date(y, m, daysIn(y, m), 0, 0, 0, 0, now.Location())
			for d.Weekday() != wd {
				d = d.AddDate(0, 0, -1)
			}
			return d, nil
		}
		first := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
		offset := int(wd-first.Weekday()+7) % 7
		return first.AddDate(0, 0, offset+7*(o.Nth-1)), nil

	case KindSpecificDate:
		// Nearest future occurrence of month+day; today counts as past.
		d := specificDate(today.Year(), time.Month(o.Month), o.Day, now.Location())
		if !d.After(today) {
			d = specificDate(today.Year()+1, time.Month(o.Month), o.Day, now.Location())
		}
		return d, nil
	}

	return time.Time{}, fmt.Errorf("unknown date option kind: %s", o.Kind)
}

func specificDate(year int, month time.Month, day int, loc *time.Location) time.Time {
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

func targetMonth(today time.Time, target MonthTarget) (int, time.Month) {
	y, m, _ := today.Date()
	if target == NextMonth {
		next := time.Date(y, m, 1, 0, 0, 0, 0, today.Location()).AddDate(0, 1, 0)
		return next.Year(), next.Month()
	}
	return y, m
}

func daysIn(year int, month time.Month) int {
	// Day zero of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns the Monday of t's ISO week, at midnight.
func StartOfWeek(t time.Time) time.Time {
	d := StartOfDay(t)
	offset := int(d.Weekday()-time.Monday+7) % 7
	return d.AddDate(0, 0, -offset)
}

// IsWeekend reports whether t falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// ParseWeekday maps a lowercase weekday name to time.Weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("unknown weekday: %q", name)
}
