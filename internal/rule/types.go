// Package rule defines the automation rule model: triggers, schedules,
// execution history, and the Store interface rule persistence implements.
package rule

import (
	"fmt"
	"strings"
	"time"

	"github.com/p-blackswan/board-automation/internal/action"
	"github.com/p-blackswan/board-automation/internal/dateopt"
	"github.com/p-blackswan/board-automation/internal/filter"
)

// TriggerKind is the closed set of trigger variants. Event-driven kinds
// match the board event type strings one-to-one.
type TriggerKind string

const (
	TriggerCardMovedIntoSection  TriggerKind = "card_moved_into_section"
	TriggerCardMovedOutOfSection TriggerKind = "card_moved_out_of_section"
	TriggerCardMarkedComplete    TriggerKind = "card_marked_complete"
	TriggerCardMarkedIncomplete  TriggerKind = "card_marked_incomplete"
	TriggerSectionCreated        TriggerKind = "section_created"
	TriggerSectionRenamed        TriggerKind = "section_renamed"

	TriggerInterval        TriggerKind = "interval"
	TriggerCron            TriggerKind = "cron"
	TriggerDueDateRelative TriggerKind = "due_date_relative"
	TriggerOneTime         TriggerKind = "one_time"
)

// IsScheduled reports whether the kind is time-driven rather than
// event-driven.
func (k TriggerKind) IsScheduled() bool {
	switch k {
	case TriggerInterval, TriggerCron, TriggerDueDateRelative, TriggerOneTime:
		return true
	}
	return false
}

// CatchUpPolicy decides what happens to occurrences missed while the
// process was not running.
type CatchUpPolicy string

const (
	// CatchUpLatest fires one aggregated execution reconciling the backlog.
	CatchUpLatest CatchUpPolicy = "catch_up_latest"

	// SkipMissed records the backlog as skipped without executing.
	SkipMissed CatchUpPolicy = "skip_missed"
)

// Interval bounds in minutes (5 minutes to one week).
const (
	MinIntervalMinutes = 5
	MaxIntervalMinutes = 10080
)

// CronSpec is a structured daily/weekly/monthly schedule. Both day lists
// empty means daily. Day-of-month values past the end of a month clamp to
// its last day.
type CronSpec struct {
	Hour        int      `json:"hour" yaml:"hour"`
	Minute      int      `json:"minute" yaml:"minute"`
	DaysOfWeek  []string `json:"days_of_week,omitempty" yaml:"days_of_week,omitempty"`
	DaysOfMonth []int    `json:"days_of_month,omitempty" yaml:"days_of_month,omitempty"`
}

// Schedule is the payload of a scheduled trigger. The trigger kind selects
// which fields apply.
type Schedule struct {
	// IntervalMinutes for TriggerInterval.
	IntervalMinutes int `json:"interval_minutes,omitempty" yaml:"interval_minutes,omitempty"`

	// Cron for TriggerCron.
	Cron *CronSpec `json:"cron,omitempty" yaml:"cron,omitempty"`

	// OffsetMinutes for TriggerDueDateRelative: negative fires before the
	// due date, positive after.
	OffsetMinutes int `json:"offset_minutes,omitempty" yaml:"offset_minutes,omitempty"`

	// FireAt for TriggerOneTime.
	FireAt *time.Time `json:"fire_at,omitempty" yaml:"fire_at,omitempty"`
}

// Trigger is the tagged union of event-driven and scheduled triggers.
type Trigger struct {
	Kind TriggerKind `json:"kind" yaml:"kind"`

	// SectionID optionally scopes event-driven triggers to one section.
	SectionID string `json:"section_id,omitempty" yaml:"section_id,omitempty"`

	// Schedule is required for scheduled kinds.
	Schedule *Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	// LastEvaluatedAt is when the schedule was last checked, not last
	// fired. Nil means never evaluated.
	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty" yaml:"last_evaluated_at,omitempty"`

	// CatchUpPolicy defaults to catch_up_latest.
	CatchUpPolicy CatchUpPolicy `json:"catch_up_policy,omitempty" yaml:"catch_up_policy,omitempty"`
}

// Validate checks the trigger's kind and payload.
func (t Trigger) Validate() error {
	switch t.Kind {
	case TriggerCardMovedIntoSection, TriggerCardMovedOutOfSection,
		TriggerCardMarkedComplete, TriggerCardMarkedIncomplete,
		TriggerSectionCreated, TriggerSectionRenamed:
		return nil
	case TriggerInterval:
		if t.Schedule == nil {
			return fmt.Errorf("interval trigger requires a schedule")
		}
		m := t.Schedule.IntervalMinutes
		if m < MinIntervalMinutes || m > MaxIntervalMinutes {
			return fmt.Errorf("interval_minutes must be %d..%d, got %d",
				MinIntervalMinutes, MaxIntervalMinutes, m)
		}
	case TriggerCron:
		if t.Schedule == nil || t.Schedule.Cron == nil {
			return fmt.Errorf("cron trigger requires a cron spec")
		}
		c := t.Schedule.Cron
		if c.Hour < 0 || c.Hour > 23 {
			return fmt.Errorf("cron hour must be 0..23, got %d", c.Hour)
		}
		if c.Minute < 0 || c.Minute > 59 {
			return fmt.Errorf("cron minute must be 0..59, got %d", c.Minute)
		}
		for _, d := range c.DaysOfWeek {
			if _, err := dateopt.ParseWeekday(d); err != nil {
				return err
			}
		}
		for _, d := range c.DaysOfMonth {
			if d < 1 || d > 31 {
				return fmt.Errorf("cron day-of-month must be 1..31, got %d", d)
			}
		}
	case TriggerDueDateRelative:
		if t.Schedule == nil {
			return fmt.Errorf("due_date_relative trigger requires a schedule")
		}
	case TriggerOneTime:
		if t.Schedule == nil || t.Schedule.FireAt == nil {
			return fmt.Errorf("one_time trigger requires fire_at")
		}
	case "":
		return fmt.Errorf("trigger kind is required")
	default:
		return fmt.Errorf("unknown trigger kind: %s", t.Kind)
	}
	switch t.CatchUpPolicy {
	case "", CatchUpLatest, SkipMissed:
	default:
		return fmt.Errorf("unknown catch-up policy: %s", t.CatchUpPolicy)
	}
	return nil
}

// Policy returns the catch-up policy, defaulting to catch_up_latest.
func (t Trigger) Policy() CatchUpPolicy {
	if t.CatchUpPolicy == SkipMissed {
		return SkipMissed
	}
	return CatchUpLatest
}

// Describe returns a human-readable trigger summary for execution logs.
func (t Trigger) Describe() string {
	switch t.Kind {
	case TriggerCardMovedIntoSection:
		return "Card moved into section"
	case TriggerCardMovedOutOfSection:
		return "Card moved out of section"
	case TriggerCardMarkedComplete:
		return "Card marked complete"
	case TriggerCardMarkedIncomplete:
		return "Card marked incomplete"
	case TriggerSectionCreated:
		return "Section created"
	case TriggerSectionRenamed:
		return "Section renamed"
	case TriggerInterval:
		return fmt.Sprintf("Every %d minutes", t.Schedule.IntervalMinutes)
	case TriggerCron:
		c := t.Schedule.Cron
		when := fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
		switch {
		case len(c.DaysOfWeek) > 0:
			return fmt.Sprintf("At %s on %s", when, strings.Join(c.DaysOfWeek, ", "))
		case len(c.DaysOfMonth) > 0:
			return fmt.Sprintf("At %s on day(s) %v of the month", when, c.DaysOfMonth)
		default:
			return "Daily at " + when
		}
	case TriggerDueDateRelative:
		off := t.Schedule.OffsetMinutes
		if off < 0 {
			return fmt.Sprintf("%d minutes before due date", -off)
		}
		return fmt.Sprintf("%d minutes after due date", off)
	case TriggerOneTime:
		return "Once at " + t.Schedule.FireAt.Format(time.RFC3339)
	}
	return string(t.Kind)
}

// ExecutionType classifies a history entry.
type ExecutionType string

const (
	ExecutionScheduled ExecutionType = "scheduled"
	ExecutionCatchUp   ExecutionType = "catch_up"
	ExecutionSkipped   ExecutionType = "skipped"
	ExecutionEvent     ExecutionType = "event"
)

// ExecutionLogEntry is one bounded history record on a rule.
type ExecutionLogEntry struct {
	Timestamp   time.Time     `json:"timestamp"`
	Type        ExecutionType `json:"type"`
	TriggerDesc string        `json:"trigger_desc"`
	ActionDesc  string        `json:"action_desc"`
	MatchCount  int           `json:"match_count,omitempty"`
	Details     []string      `json:"details,omitempty"`
	TaskName    string        `json:"task_name,omitempty"`
	FailedCount int           `json:"failed_count,omitempty"`
}

// History bounds.
const (
	DefaultHistoryLimit = 20
	DetailsLimit        = 5
)

// AutomationRule is one automation attached to a project board.
// RecentExecutions is ordered oldest first, most recent last.
type AutomationRule struct {
	ID        string `json:"id" yaml:"id"`
	ProjectID string `json:"project_id" yaml:"project_id"`
	Name      string `json:"name" yaml:"name"`

	Trigger Trigger         `json:"trigger" yaml:"trigger"`
	Filters []filter.Filter `json:"filters,omitempty" yaml:"filters,omitempty"`
	Action  action.Action   `json:"action" yaml:"action"`

	Enabled      bool   `json:"enabled" yaml:"enabled"`
	BrokenReason string `json:"broken_reason,omitempty" yaml:"broken_reason,omitempty"`

	ExecutionCount   int                 `json:"execution_count"`
	LastExecutedAt   *time.Time          `json:"last_executed_at,omitempty"`
	RecentExecutions []ExecutionLogEntry `json:"recent_executions,omitempty"`

	// BulkPausedAt is set only when the rule was disabled by a bulk pause,
	// so a bulk resume can restore exactly those rules.
	BulkPausedAt *time.Time `json:"bulk_paused_at,omitempty"`

	// Order is the rule's display index, dense 0..N-1 within its project.
	Order int `json:"order"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the whole rule configuration.
func (r *AutomationRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.ProjectID == "" {
		return fmt.Errorf("rule project_id is required")
	}
	if err := r.Trigger.Validate(); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	for i, f := range r.Filters {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("filter %d: %w", i, err)
		}
	}
	if err := r.Action.Validate(); err != nil {
		return fmt.Errorf("action: %w", err)
	}
	return nil
}

// AppendExecution appends an entry and truncates the history to limit,
// dropping the oldest entries first.
func (r *AutomationRule) AppendExecution(e ExecutionLogEntry, limit int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	r.RecentExecutions = append(r.RecentExecutions, e)
	if n := len(r.RecentExecutions); n > limit {
		r.RecentExecutions = r.RecentExecutions[n-limit:]
	}
}

// Clone returns a deep copy. Stores hand out clones so callers never share
// mutable slices with persisted state.
func (r *AutomationRule) Clone() *AutomationRule {
	cp := *r
	if r.Trigger.Schedule != nil {
		sched := *r.Trigger.Schedule
		if sched.Cron != nil {
			cron := *sched.Cron
			cron.DaysOfWeek = append([]string(nil), cron.DaysOfWeek...)
			cron.DaysOfMonth = append([]int(nil), cron.DaysOfMonth...)
			sched.Cron = &cron
		}
		if sched.FireAt != nil {
			at := *sched.FireAt
			sched.FireAt = &at
		}
		cp.Trigger.Schedule = &sched
	}
	if r.Trigger.LastEvaluatedAt != nil {
		at := *r.Trigger.LastEvaluatedAt
		cp.Trigger.LastEvaluatedAt = &at
	}
	cp.Filters = append([]filter.Filter(nil), r.Filters...)
	cp.RecentExecutions = make([]ExecutionLogEntry, len(r.RecentExecutions))
	for i, e := range r.RecentExecutions {
		e.Details = append([]string(nil), e.Details...)
		cp.RecentExecutions[i] = e
	}
	if r.LastExecutedAt != nil {
		at := *r.LastExecutedAt
		cp.LastExecutedAt = &at
	}
	if r.BulkPausedAt != nil {
		at := *r.BulkPausedAt
		cp.BulkPausedAt = &at
	}
	return &cp
}
