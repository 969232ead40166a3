// Package engine evaluates automation rules against board events and
// schedule occurrences, dispatches actions, and records execution history.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/board-automation/internal/action"
	"github.com/p-blackswan/board-automation/internal/board"
	"github.com/p-blackswan/board-automation/internal/event"
	"github.com/p-blackswan/board-automation/internal/filter"
	"github.com/p-blackswan/board-automation/internal/metrics"
	"github.com/p-blackswan/board-automation/internal/rule"
	"github.com/p-blackswan/board-automation/internal/schedule"
)

// ErrNotScheduled is returned when a time-driven entry point receives an
// event-driven rule.
var ErrNotScheduled = errors.New("rule is not schedule-triggered")

// Config holds engine tuning.
type Config struct {
	// Tick is the scheduler period, used to classify backlog occurrences
	// and to window due-date-relative matching.
	Tick time.Duration

	// HistoryLimit bounds each rule's recentExecutions list.
	HistoryLimit int
}

// Outcome summarizes one rule evaluation.
type Outcome struct {
	Due         bool               `json:"due"`
	Executed    bool               `json:"executed"`
	Type        rule.ExecutionType `json:"type,omitempty"`
	MatchCount  int                `json:"match_count"`
	FailedCount int                `json:"failed_count"`
	ActionDesc  string             `json:"action_desc,omitempty"`
}

// DryRunResult is the read-only preview of a rule evaluation.
type DryRunResult struct {
	MatchingTasks     []*board.Task `json:"matching_tasks"`
	ActionDescription string        `json:"action_description"`
	TotalCount        int           `json:"total_count"`
}

// Engine orchestrates filters, schedules, and the action executor for a
// single rule at a time.
type Engine struct {
	rules  rule.Store
	board  board.Store
	exec   *action.Executor
	undo   *UndoSlot
	met    *metrics.Metrics
	cfg    Config
	logger zerolog.Logger
}

// New creates an Engine. met may be nil (tests).
func New(rules rule.Store, boardStore board.Store, exec *action.Executor, undo *UndoSlot, met *metrics.Metrics, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.Tick <= 0 {
		cfg.Tick = 30 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = rule.DefaultHistoryLimit
	}
	return &Engine{
		rules:  rules,
		board:  boardStore,
		exec:   exec,
		undo:   undo,
		met:    met,
		cfg:    cfg,
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// Undo returns the engine's undo slot.
func (e *Engine) Undo() *UndoSlot { return e.undo }

// HandleEvent evaluates every enabled event-driven rule in the event's
// project against the event. Rules fire independently; one rule's failure
// never stops the others.
func (e *Engine) HandleEvent(ev event.Event, now time.Time) {
	projectID, err := e.eventProject(ev)
	if err != nil {
		e.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("cannot resolve event project")
		e.recordError("engine", "event_project")
		return
	}

	rules, err := e.rules.ByProject(projectID)
	if err != nil {
		e.logger.Error().Err(err).Str("project", projectID).Msg("load rules for event")
		e.recordError("engine", "store_read")
		return
	}

	for _, r := range rules {
		if !r.Enabled || r.Trigger.Kind.IsScheduled() {
			continue
		}
		if string(r.Trigger.Kind) != string(ev.Type) {
			continue
		}
		if r.Trigger.SectionID != "" && r.Trigger.SectionID != ev.SectionID {
			continue
		}
		if err := e.evaluateEventRule(r, ev, now); err != nil {
			e.logger.Error().Err(err).Str("rule", r.ID).Msg("event rule evaluation failed")
		}
	}
}

func (e *Engine) eventProject(ev event.Event) (string, error) {
	if ev.Task != nil {
		return ev.Task.ProjectID, nil
	}
	sec, err := e.board.SectionByID(ev.SectionID)
	if err != nil {
		return "", err
	}
	return sec.ProjectID, nil
}

func (e *Engine) evaluateEventRule(r *rule.AutomationRule, ev event.Event, now time.Time) error {
	start := time.Now()
	defer e.observe(r.Trigger.Kind, start)

	if ev.Task == nil && len(r.Filters) > 0 {
		// Section-level event with task filters: nothing to match against.
		return nil
	}
	if ev.Task != nil {
		ok, err := filter.MatchesAll(r.Filters, ev.Task, now)
		if err != nil {
			e.recordError("engine", "filter")
			return fmt.Errorf("filters: %w", err)
		}
		if !ok {
			return nil
		}
	}

	desc, err := e.performAction(r, ev.Task, now)
	if err != nil {
		if e.handleBroken(r, err) {
			return err
		}
		e.recordError("engine", "action")
		return err
	}

	taskName := ""
	if ev.Task != nil {
		taskName = ev.Task.Title
	}
	entry := rule.ExecutionLogEntry{
		Timestamp:   now,
		Type:        rule.ExecutionEvent,
		TriggerDesc: r.Trigger.Describe(),
		ActionDesc:  desc,
		TaskName:    taskName,
	}
	e.recordExecution(rule.ExecutionEvent)

	_, uerr := e.rules.Update(r.ID, func(st *rule.AutomationRule) error {
		st.AppendExecution(entry, e.cfg.HistoryLimit)
		st.ExecutionCount++
		at := now
		st.LastExecutedAt = &at
		return nil
	})
	return uerr
}

// EvaluateScheduled runs one scheduled rule at the given instant: due
// check, catch-up policy, filter matching, action dispatch, bookkeeping.
func (e *Engine) EvaluateScheduled(r *rule.AutomationRule, now time.Time) (*Outcome, error) {
	if !r.Trigger.Kind.IsScheduled() {
		return nil, fmt.Errorf("rule %s: %w", r.ID, ErrNotScheduled)
	}
	start := time.Now()
	defer e.observe(r.Trigger.Kind, start)

	res, err := schedule.Evaluate(r.Trigger, now, e.cfg.Tick)
	if err != nil {
		// Evaluation error: advance lastEvaluatedAt anyway so the rule
		// does not storm on every tick, leave it enabled.
		e.stamp(r.ID, now)
		e.recordError("engine", "schedule")
		return nil, fmt.Errorf("schedule: %w", err)
	}

	if !res.Due {
		// Interval triggers anchor their phase on lastEvaluatedAt, so the
		// stamp only advances when an occurrence is consumed. Re-stamping a
		// not-due tick would hold elapsed under the interval forever.
		if r.Trigger.Kind != rule.TriggerInterval {
			e.stamp(r.ID, now)
		}
		return &Outcome{}, nil
	}

	if res.Backlog && r.Trigger.Policy() == rule.SkipMissed {
		entry := rule.ExecutionLogEntry{
			Timestamp:   now,
			Type:        rule.ExecutionSkipped,
			TriggerDesc: r.Trigger.Describe(),
			ActionDesc:  fmt.Sprintf("Skipped %d missed occurrence(s)", res.Missed),
		}
		e.recordExecution(rule.ExecutionSkipped)
		_, uerr := e.rules.Update(r.ID, func(st *rule.AutomationRule) error {
			at := now
			st.Trigger.LastEvaluatedAt = &at
			st.AppendExecution(entry, e.cfg.HistoryLimit)
			return nil
		})
		return &Outcome{Due: true, Type: rule.ExecutionSkipped}, uerr
	}

	execType := rule.ExecutionScheduled
	if res.Backlog {
		execType = rule.ExecutionCatchUp
	}
	return e.executeScheduled(r, now, execType)
}

// RunNow executes a scheduled rule immediately, bypassing the due check.
// Filters still apply; the run is logged as a scheduled execution.
func (e *Engine) RunNow(ruleID string, now time.Time) (*Outcome, error) {
	r, err := e.rules.ByID(ruleID)
	if err != nil {
		return nil, err
	}
	if !r.Trigger.Kind.IsScheduled() {
		return nil, fmt.Errorf("rule %s: %w", r.ID, ErrNotScheduled)
	}
	return e.executeScheduled(r, now, rule.ExecutionScheduled)
}

// DryRun previews which tasks a rule would act on. It never calls the
// executor, never touches rule metadata, and never writes an undo snapshot.
func (e *Engine) DryRun(r *rule.AutomationRule, now time.Time) (*DryRunResult, error) {
	matched, err := e.matchTasks(r, now)
	if err != nil {
		return nil, err
	}
	return &DryRunResult{
		MatchingTasks:     matched,
		ActionDescription: e.exec.Describe(r.Action),
		TotalCount:        len(matched),
	}, nil
}

// executeScheduled is the shared execution path for due occurrences and
// manual runs.
func (e *Engine) executeScheduled(r *rule.AutomationRule, now time.Time, execType rule.ExecutionType) (*Outcome, error) {
	matched, err := e.matchTasks(r, now)
	if err != nil {
		e.stamp(r.ID, now)
		e.recordError("engine", "match")
		return nil, err
	}

	out := &Outcome{Due: true, Type: execType}
	var details []string
	var descriptions string

	if r.Action.Kind == action.KindCreateCard {
		// Creation is per occurrence, not per matched task. Filters, when
		// present, gate whether the occurrence produces a card at all.
		if len(r.Filters) > 0 && len(matched) == 0 {
			e.stamp(r.ID, now)
			return out, nil
		}
		result, err := e.exec.Execute(r.Action, nil, now)
		if err != nil {
			return out, e.failAction(r, now, err)
		}
		e.undo.Set(&UndoSnapshot{
			RuleID:     r.ID,
			RuleName:   r.Name,
			ActionKind: r.Action.Kind,
			Snapshot: &action.Snapshot{
				TaskID: result.CreatedTaskID,
				Fields: []action.Field{action.FieldCreated},
			},
		})
		out.MatchCount = 1
		out.Executed = true
		descriptions = result.Description
	} else {
		for _, t := range matched {
			if snap := e.exec.Snapshot(r.Action, t); snap != nil {
				e.undo.Set(&UndoSnapshot{
					RuleID:     r.ID,
					RuleName:   r.Name,
					ActionKind: r.Action.Kind,
					Snapshot:   snap,
				})
			}
			result, err := e.exec.Execute(r.Action, t, now)
			if err != nil {
				if e.handleBroken(r, err) {
					// Misconfigured rule: abort the batch, surface via
					// brokenReason instead of retrying.
					out.FailedCount++
					return out, err
				}
				// Partial batch failure: keep going, report the count.
				e.logger.Warn().Err(err).Str("rule", r.ID).Str("task", t.ID).Msg("action failed for task")
				e.recordError("engine", "action")
				out.FailedCount++
				continue
			}
			out.MatchCount++
			descriptions = result.Description
			if len(details) < rule.DetailsLimit {
				details = append(details, t.Title)
			}
		}
		out.Executed = true
	}

	if descriptions == "" {
		descriptions = e.exec.Describe(r.Action)
	}
	out.ActionDesc = descriptions

	entry := rule.ExecutionLogEntry{
		Timestamp:   now,
		Type:        execType,
		TriggerDesc: r.Trigger.Describe(),
		ActionDesc:  descriptions,
		MatchCount:  out.MatchCount,
		Details:     details,
		FailedCount: out.FailedCount,
	}
	e.recordExecution(execType)

	_, uerr := e.rules.Update(r.ID, func(st *rule.AutomationRule) error {
		at := now
		st.Trigger.LastEvaluatedAt = &at
		st.AppendExecution(entry, e.cfg.HistoryLimit)
		st.ExecutionCount++
		st.LastExecutedAt = &at
		if st.Trigger.Kind == rule.TriggerOneTime {
			// One-time rules fire once and stay off until rescheduled.
			st.Enabled = false
		}
		return nil
	})
	if uerr != nil {
		e.logger.Error().Err(uerr).Str("rule", r.ID).Msg("persist rule metadata")
		e.recordError("engine", "store_write")
	}
	return out, nil
}

// matchTasks returns the project tasks that pass the rule's trigger window
// (for due-date-relative rules) and all its filters.
func (e *Engine) matchTasks(r *rule.AutomationRule, now time.Time) ([]*board.Task, error) {
	tasks, err := e.board.TasksByProject(r.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project tasks: %w", err)
	}

	var matched []*board.Task
	for _, t := range tasks {
		if r.Trigger.Kind == rule.TriggerDueDateRelative && !e.inDueWindow(r, t, now) {
			continue
		}
		ok, err := filter.MatchesAll(r.Filters, t, now)
		if err != nil {
			return nil, fmt.Errorf("filters: %w", err)
		}
		if ok {
			matched = append(matched, t)
		}
	}
	return matched, nil
}

// inDueWindow reports whether the task's due-relative fire instant fell
// within the current evaluation window, so each instant fires exactly once.
// The window is the last tick period; under catch_up_latest it stretches
// back to the previous evaluation, so instants that elapsed while the
// process was down are reconciled instead of lost.
func (e *Engine) inDueWindow(r *rule.AutomationRule, t *board.Task, now time.Time) bool {
	if t.DueAt == nil {
		return false
	}
	fireAt := t.DueAt.Add(time.Duration(r.Trigger.Schedule.OffsetMinutes) * time.Minute)
	from := now.Add(-e.cfg.Tick)
	if last := r.Trigger.LastEvaluatedAt; last != nil && last.Before(from) && r.Trigger.Policy() == rule.CatchUpLatest {
		from = *last
	}
	return fireAt.After(from) && !fireAt.After(now)
}

// performAction executes a rule's action against a single task (event path).
func (e *Engine) performAction(r *rule.AutomationRule, t *board.Task, now time.Time) (string, error) {
	if r.Action.Kind != action.KindCreateCard && t == nil {
		return "", fmt.Errorf("action %s requires a task", r.Action.Kind)
	}

	if snap := e.exec.Snapshot(r.Action, t); snap != nil {
		e.undo.Set(&UndoSnapshot{
			RuleID:     r.ID,
			RuleName:   r.Name,
			ActionKind: r.Action.Kind,
			Snapshot:   snap,
		})
	}

	result, err := e.exec.Execute(r.Action, t, now)
	if err != nil {
		return "", err
	}
	if result.CreatedTaskID != "" {
		e.undo.Set(&UndoSnapshot{
			RuleID:     r.ID,
			RuleName:   r.Name,
			ActionKind: r.Action.Kind,
			Snapshot: &action.Snapshot{
				TaskID: result.CreatedTaskID,
				Fields: []action.Field{action.FieldCreated},
			},
		})
	}
	return result.Description, nil
}

// handleBroken marks the rule broken and disabled when the error is a
// missing-section configuration error. Returns true when handled.
func (e *Engine) handleBroken(r *rule.AutomationRule, err error) bool {
	if !errors.Is(err, board.ErrSectionNotFound) {
		return false
	}
	reason := fmt.Sprintf("referenced section no longer exists: %v", err)
	_, uerr := e.rules.Update(r.ID, func(st *rule.AutomationRule) error {
		st.BrokenReason = reason
		st.Enabled = false
		return nil
	})
	if uerr != nil {
		e.logger.Error().Err(uerr).Str("rule", r.ID).Msg("persist broken reason")
	}
	e.logger.Warn().Str("rule", r.ID).Str("reason", reason).Msg("rule marked broken")
	e.recordError("engine", "broken_rule")
	return true
}

// failAction is the error path for a single-shot action failure.
func (e *Engine) failAction(r *rule.AutomationRule, now time.Time, err error) error {
	if e.handleBroken(r, err) {
		return err
	}
	e.stamp(r.ID, now)
	e.recordError("engine", "action")
	return err
}

// stamp advances lastEvaluatedAt without recording an execution.
func (e *Engine) stamp(ruleID string, now time.Time) {
	_, err := e.rules.Update(ruleID, func(st *rule.AutomationRule) error {
		at := now
		st.Trigger.LastEvaluatedAt = &at
		return nil
	})
	if err != nil {
		e.logger.Error().Err(err).Str("rule", ruleID).Msg("persist lastEvaluatedAt")
		e.recordError("engine", "store_write")
	}
}

func (e *Engine) recordExecution(t rule.ExecutionType) {
	if e.met != nil {
		e.met.RecordExecution(string(t))
	}
}

func (e *Engine) recordError(module, errType string) {
	if e.met != nil {
		e.met.RecordError(module, errType)
	}
}

func (e *Engine) observe(kind rule.TriggerKind, start time.Time) {
	if e.met != nil {
		e.met.ObserveEvaluation(string(kind), time.Since(start).Seconds())
	}
}
