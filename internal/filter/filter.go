// Package filter implements the card filter predicates attached to
// automation rules. Filters are pure: they read a task snapshot and a
// reference instant and never mutate anything.
package filter

import (
	"fmt"
	"math"
	"time"

	"github.com/p-blackswan/board-automation/internal/board"
	"github.com/p-blackswan/board-automation/internal/dateopt"
)

// Kind is the closed set of filter predicates.
type Kind string

const (
	KindInSection    Kind = "in_section"
	KindNotInSection Kind = "not_in_section"

	KindHasDueDate Kind = "has_due_date"
	KindNoDueDate  Kind = "no_due_date"
	KindOverdue    Kind = "overdue"

	KindDueToday        Kind = "due_today"
	KindDueTomorrow     Kind = "due_tomorrow"
	KindDueThisWeek     Kind = "due_this_week"
	KindDueNextWeek     Kind = "due_next_week"
	KindDueThisMonth    Kind = "due_this_month"
	KindDueNextMonth    Kind = "due_next_month"
	KindNotDueToday     Kind = "not_due_today"
	KindNotDueTomorrow  Kind = "not_due_tomorrow"
	KindNotDueThisWeek  Kind = "not_due_this_week"
	KindNotDueNextWeek  Kind = "not_due_next_week"
	KindNotDueThisMonth Kind = "not_due_this_month"
	KindNotDueNextMonth Kind = "not_due_next_month"

	KindDueInLessThan Kind = "due_in_less_than"
	KindDueInMoreThan Kind = "due_in_more_than"
	KindDueInExactly  Kind = "due_in_exactly"
	KindDueInBetween  Kind = "due_in_between"

	KindCreatedMoreThan      Kind = "created_more_than"
	KindCompletedMoreThan    Kind = "completed_more_than"
	KindNotModifiedIn        Kind = "not_modified_in"
	KindOverdueByMoreThan    Kind = "overdue_by_more_than"
	KindInSectionForMoreThan Kind = "in_section_for_more_than"
)

// Unit is the distance unit for comparison and age filters.
type Unit string

const (
	UnitDays        Unit = "days"
	UnitWorkingDays Unit = "working_days"
)

// Filter is one predicate. A rule's filters are ANDed together.
type Filter struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// SectionID for in_section / not_in_section / in_section_for_more_than.
	SectionID string `json:"section_id,omitempty" yaml:"section_id,omitempty"`

	// Value is the threshold for comparison and age filters; Max is the
	// upper bound for due_in_between.
	Value int  `json:"value,omitempty" yaml:"value,omitempty"`
	Max   int  `json:"max,omitempty" yaml:"max,omitempty"`
	Unit  Unit `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Validate checks the filter is a known kind with usable parameters.
func (f Filter) Validate() error {
	switch f.Kind {
	case KindInSection, KindNotInSection:
		if f.SectionID == "" {
			return fmt.Errorf("%s requires section_id", f.Kind)
		}
	case KindHasDueDate, KindNoDueDate, KindOverdue,
		KindDueToday, KindDueTomorrow, KindDueThisWeek, KindDueNextWeek,
		KindDueThisMonth, KindDueNextMonth,
		KindNotDueToday, KindNotDueTomorrow, KindNotDueThisWeek,
		KindNotDueNextWeek, KindNotDueThisMonth, KindNotDueNextMonth:
		// No parameters.
	case KindDueInLessThan, KindDueInMoreThan, KindDueInExactly:
		if err := validUnit(f.Unit); err != nil {
			return fmt.Errorf("%s: %w", f.Kind, err)
		}
	case KindDueInBetween:
		if err := validUnit(f.Unit); err != nil {
			return fmt.Errorf("%s: %w", f.Kind, err)
		}
		if f.Max < f.Value {
			return fmt.Errorf("due_in_between: max %d < min %d", f.Max, f.Value)
		}
	case KindCreatedMoreThan, KindCompletedMoreThan, KindNotModifiedIn,
		KindOverdueByMoreThan:
		if err := validUnit(f.Unit); err != nil {
			return fmt.Errorf("%s: %w", f.Kind, err)
		}
		if f.Value < 0 {
			return fmt.Errorf("%s: negative threshold %d", f.Kind, f.Value)
		}
	case KindInSectionForMoreThan:
		if err := validUnit(f.Unit); err != nil {
			return fmt.Errorf("%s: %w", f.Kind, err)
		}
		if f.SectionID == "" {
			return fmt.Errorf("in_section_for_more_than requires section_id")
		}
	case "":
		return fmt.Errorf("filter kind is required")
	default:
		return fmt.Errorf("unknown filter kind: %s", f.Kind)
	}
	return nil
}

func validUnit(u Unit) error {
	switch u {
	case UnitDays, UnitWorkingDays:
		return nil
	case "":
		return fmt.Errorf("unit is required")
	}
	return fmt.Errorf("unknown unit: %s", u)
}

// MatchesAll reports whether every filter passes. An empty list always
// matches.
func MatchesAll(filters []Filter, t *board.Task, now time.Time) (bool, error) {
	for _, f := range filters {
		ok, err := Matches(f, t, now)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Matches evaluates a single filter against a task snapshot.
func Matches(f Filter, t *board.Task, now time.Time) (bool, error) {
	if err := f.Validate(); err != nil {
		return false, err
	}

	today := dateopt.StartOfDay(now)

	switch f.Kind {
	case KindInSection:
		return t.SectionID == f.SectionID, nil
	case KindNotInSection:
		return t.SectionID != f.SectionID, nil

	case KindNoDueDate:
		return t.DueAt == nil, nil
	case KindHasDueDate:
		return t.DueAt != nil, nil
	}

	// Due-date bucket and comparison filters: a task without a due date
	// never matches (no_due_date handled above).
	switch f.Kind {
	case KindOverdue, KindDueToday, KindDueTomorrow, KindDueThisWeek,
		KindDueNextWeek, KindDueThisMonth, KindDueNextMonth,
		KindNotDueToday, KindNotDueTomorrow, KindNotDueThisWeek,
		KindNotDueNextWeek, KindNotDueThisMonth, KindNotDueNextMonth,
		KindDueInLessThan, KindDueInMoreThan, KindDueInExactly,
		KindDueInBetween, KindOverdueByMoreThan:
		if t.DueAt == nil {
			return false, nil
		}
	}

	switch f.Kind {
	case KindOverdue:
		return dueDay(t, now).Before(today), nil

	case KindDueToday:
		return dueDay(t, now).Equal(today), nil
	case KindNotDueToday:
		return !dueDay(t, now).Equal(today), nil

	case KindDueTomorrow:
		return dueDay(t, now).Equal(today.AddDate(0, 0, 1)), nil
	case KindNotDueTomorrow:
		return !dueDay(t, now).Equal(today.AddDate(0, 0, 1)), nil

	case KindDueThisWeek:
		return inWeek(dueDay(t, now), dateopt.StartOfWeek(today)), nil
	case KindNotDueThisWeek:
		return !inWeek(dueDay(t, now), dateopt.StartOfWeek(today)), nil

	case KindDueNextWeek:
		return inWeek(dueDay(t, now), dateopt.StartOfWeek(today).AddDate(0, 0, 7)), nil
	case KindNotDueNextWeek:
		return !inWeek(dueDay(t, now), dateopt.StartOfWeek(today).AddDate(0, 0, 7)), nil

	case KindDueThisMonth:
		return sameMonth(dueDay(t, now), today), nil
	case KindNotDueThisMonth:
		return !sameMonth(dueDay(t, now), today), nil

	case KindDueNextMonth:
		return sameMonth(dueDay(t, now), today.AddDate(0, 1, -today.Day()+1)), nil
	case KindNotDueNextMonth:
		return !sameMonth(dueDay(t, now), today.AddDate(0, 1, -today.Day()+1)), nil

	case KindDueInLessThan:
		return Distance(today, dueDay(t, now), f.Unit) < f.Value, nil
	case KindDueInMoreThan:
		return Distance(today, dueDay(t, now), f.Unit) > f.Value, nil
	case KindDueInExactly:
		return Distance(today, dueDay(t, now), f.Unit) == f.Value, nil
	case KindDueInBetween:
		d := Distance(today, dueDay(t, now), f.Unit)
		return d >= f.Value && d <= f.Max, nil

	case KindOverdueByMoreThan:
		return Distance(dueDay(t, now), today, f.Unit) > f.Value, nil

	case KindCreatedMoreThan:
		return Distance(dateopt.StartOfDay(t.CreatedAt), today, f.Unit) > f.Value, nil

	case KindCompletedMoreThan:
		if t.CompletedAt == nil {
			return false, nil
		}
		return Distance(dateopt.StartOfDay(*t.CompletedAt), today, f.Unit) > f.Value, nil

	case KindNotModifiedIn:
		// Unmodified for at least Value units.
		return Distance(dateopt.StartOfDay(t.UpdatedAt), today, f.Unit) >= f.Value, nil

	case KindInSectionForMoreThan:
		if t.SectionID != f.SectionID {
			return false, nil
		}
		return Distance(dateopt.StartOfDay(t.SectionEnteredAt), today, f.Unit) > f.Value, nil
	}

	return false, fmt.Errorf("unknown filter kind: %s", f.Kind)
}

// dueDay normalizes the task's due date to a day boundary in now's location.
func dueDay(t *board.Task, now time.Time) time.Time {
	return dateopt.StartOfDay(t.DueAt.In(now.Location()))
}

func inWeek(day, weekStart time.Time) bool {
	return !day.Before(weekStart) && day.Before(weekStart.AddDate(0, 0, 7))
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// Distance returns the signed distance from one day to another in the given
// unit. Positive when to is after from. Working-day distance excludes
// Saturday and Sunday in both directions.
func Distance(from, to time.Time, unit Unit) int {
	if unit == UnitWorkingDays {
		return workingDays(from, to)
	}
	return calendarDays(from, to)
}

func calendarDays(from, to time.Time) int {
	// Both inputs are midnight-normalized; rounding absorbs DST-shortened
	// or lengthened days.
	return int(math.Round(to.Sub(from).Hours() / 24))
}

func workingDays(from, to time.Time) int {
	if from.Equal(to) {
		return 0
	}
	if to.Before(from) {
		return -workingDays(to, from)
	}
	n := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		if !dateopt.IsWeekend(d) {
			n++
		}
	}
	return n
}
