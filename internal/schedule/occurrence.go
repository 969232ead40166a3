// Package schedule decides whether a scheduled trigger is due at a given
// instant and how many occurrences fell in the window since it was last
// evaluated. All functions are pure.
package schedule

import (
	"fmt"
	"time"

	"github.com/p-blackswan/board-automation/internal/dateopt"
	"github.com/p-blackswan/board-automation/internal/rule"
)

// Result is the outcome of evaluating a scheduled trigger.
type Result struct {
	// Due is true when at least one occurrence fell in (lastEvaluatedAt, now].
	Due bool

	// Missed is the occurrence count in that window.
	Missed int

	// Backlog is true when the due occurrence(s) are more than one tick
	// period old, so an execution reconciles backlog rather than
	// firing live. Drives the scheduled vs catch_up classification.
	Backlog bool

	// Next is the first occurrence strictly after now. Zero when the
	// schedule has none (a spent one_time trigger).
	Next time.Time

	// LastEvaluatedAt is the fresh evaluation stamp. Callers persist it
	// whenever an occurrence is consumed, whichever policy applies.
	// Interval triggers anchor their phase on the stored stamp, so it
	// must not be persisted for a not-due interval check.
	LastEvaluatedAt time.Time
}

// Evaluate computes the occurrence state for a scheduled trigger. The tick
// duration is the scheduler's period, used to separate live occurrences
// from backlog.
func Evaluate(t rule.Trigger, now time.Time, tick time.Duration) (Result, error) {
	if !t.Kind.IsScheduled() {
		return Result{}, fmt.Errorf("trigger %s is not scheduled", t.Kind)
	}
	if err := t.Validate(); err != nil {
		return Result{}, err
	}

	res := Result{LastEvaluatedAt: now}

	switch t.Kind {
	case rule.TriggerInterval:
		evalInterval(t, now, &res)
	case rule.TriggerCron:
		evalCron(t, now, tick, &res)
	case rule.TriggerDueDateRelative:
		// Not a calendar schedule: per-task matching happens in the engine
		// on every tick.
		res.Due = true
		res.Missed = 1
		res.Next = now.Add(tick)
	case rule.TriggerOneTime:
		evalOneTime(t, now, tick, &res)
	}

	return res, nil
}

func evalInterval(t rule.Trigger, now time.Time, res *Result) {
	interval := time.Duration(t.Schedule.IntervalMinutes) * time.Minute
	res.Next = now.Add(interval)

	if t.LastEvaluatedAt == nil {
		// Never evaluated: due immediately.
		res.Due = true
		res.Missed = 1
		return
	}

	elapsed := now.Sub(*t.LastEvaluatedAt)
	if elapsed < interval {
		return
	}
	res.Due = true
	res.Missed = int(elapsed / interval)
	res.Backlog = res.Missed > 1
}

func evalCron(t rule.Trigger, now time.Time, tick time.Duration, res *Result) {
	spec := t.Schedule.Cron
	res.Next = nextCron(spec, now)

	if t.LastEvaluatedAt == nil {
		res.Due = true
		res.Missed = 1
		return
	}

	last := *t.LastEvaluatedAt
	var latest time.Time

	// Walk each calendar day the window touches and test its hh:mm instant.
	for day := dateopt.StartOfDay(last); !day.After(now); day = day.AddDate(0, 0, 1) {
		if !cronDayAllowed(spec, day) {
			continue
		}
		at := time.Date(day.Year(), day.Month(), day.Day(), spec.Hour, spec.Minute, 0, 0, day.Location())
		if at.After(last) && !at.After(now) {
			res.Missed++
			latest = at
		}
	}

	if res.Missed == 0 {
		return
	}
	res.Due = true
	res.Backlog = res.Missed > 1 || (tick > 0 && now.Sub(latest) > tick)
}

func evalOneTime(t rule.Trigger, now time.Time, tick time.Duration, res *Result) {
	fireAt := *t.Schedule.FireAt
	if fireAt.After(now) {
		res.Next = fireAt
		return
	}
	// Already evaluated at or after fireAt: spent, never re-fires without
	// an explicit reschedule.
	if t.LastEvaluatedAt != nil && !t.LastEvaluatedAt.Before(fireAt) {
		return
	}
	res.Due = true
	res.Missed = 1
	res.Backlog = tick > 0 && now.Sub(fireAt) > tick
}

// nextCron returns the first cron occurrence strictly after now.
func nextCron(spec *rule.CronSpec, now time.Time) time.Time {
	day := dateopt.StartOfDay(now)
	// Two years bounds every weekly/monthly pattern.
	for i := 0; i < 732; i++ {
		if cronDayAllowed(spec, day) {
			at := time.Date(day.Year(), day.Month(), day.Day(), spec.Hour, spec.Minute, 0, 0, day.Location())
			if at.After(now) {
				return at
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}
}

// cronDayAllowed reports whether the schedule fires on the given day.
// Empty day lists mean daily; day-of-month values past the end of the month
// resolve to its last day.
func cronDayAllowed(spec *rule.CronSpec, day time.Time) bool {
	if len(spec.DaysOfWeek) == 0 && len(spec.DaysOfMonth) == 0 {
		return true
	}
	for _, name := range spec.DaysOfWeek {
		wd, err := dateopt.ParseWeekday(name)
		if err == nil && day.Weekday() == wd {
			return true
		}
	}
	if len(spec.DaysOfMonth) > 0 {
		lastDay := time.Date(day.Year(), day.Month()+1, 0, 0, 0, 0, 0, day.Location()).Day()
		for _, d := range spec.DaysOfMonth {
			if d > lastDay {
				d = lastDay
			}
			if day.Day() == d {
				return true
			}
		}
	}
	return false
}
