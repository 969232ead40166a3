package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/board-automation/internal/board"
	"github.com/p-blackswan/board-automation/internal/engine"
	"github.com/p-blackswan/board-automation/internal/event"
	"github.com/p-blackswan/board-automation/internal/health"
	"github.com/p-blackswan/board-automation/internal/rule"
	"github.com/p-blackswan/board-automation/internal/scheduler"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	rules     rule.Store
	boardSt   board.Store
	eng       *engine.Engine
	sched     *scheduler.Scheduler
	bus       *event.Bus
	checker   *health.Checker
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(rules rule.Store, boardSt board.Store, eng *engine.Engine, sched *scheduler.Scheduler, bus *event.Bus, checker *health.Checker, logger zerolog.Logger) *Handlers {
	return &Handlers{
		rules:     rules,
		boardSt:   boardSt,
		eng:       eng,
		sched:     sched,
		bus:       bus,
		checker:   checker,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
	}
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "uptime": time.Since(h.startTime).String()})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.Context())
	ready := true
	for _, s := range results {
		if s == health.StatusDown {
			ready = false
			break
		}
	}
	status := "ready"
	code := fiber.StatusOK
	if !ready {
		status = "not_ready"
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{"status": status, "checks": results})
}

// ListRules handles GET /api/v1/projects/:projectID/rules.
func (h *Handlers) ListRules(c *fiber.Ctx) error {
	rules, err := h.rules.ByProject(c.Params("projectID"))
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"store_error", "Internal Server Error",
			"Failed to list rules: "+err.Error())
	}
	if rules == nil {
		rules = []*rule.AutomationRule{}
	}
	return c.JSON(fiber.Map{"rules": rules, "count": len(rules)})
}

// CreateRule handles POST /api/v1/projects/:projectID/rules.
func (h *Handlers) CreateRule(c *fiber.Ctx) error {
	var req RuleRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	r := &rule.AutomationRule{
		ProjectID: c.Params("projectID"),
		Name:      req.Name,
		Trigger:   req.Trigger,
		Filters:   req.Filters,
		Action:    req.Action,
		Enabled:   true,
	}
	if req.Enabled != nil {
		r.Enabled = *req.Enabled
	}

	if err := r.Validate(); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_rule", "Bad Request", err.Error())
	}

	if err := h.rules.Create(r); err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"store_error", "Internal Server Error",
			"Failed to create rule: "+err.Error())
	}

	h.logger.Info().Str("rule", r.ID).Str("name", r.Name).Msg("rule created")
	return c.Status(fiber.StatusCreated).JSON(r)
}

// GetRule handles GET /api/v1/rules/:id.
func (h *Handlers) GetRule(c *fiber.Ctx) error {
	r, err := h.rules.ByID(c.Params("id"))
	if err != nil {
		return h.ruleError(c, err)
	}
	return c.JSON(r)
}

// UpdateRule handles PUT /api/v1/rules/:id. Replacing a broken rule's
// configuration clears its broken mark; the caller re-enables it explicitly.
func (h *Handlers) UpdateRule(c *fiber.Ctx) error {
	var req RuleRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	updated, err := h.rules.Update(c.Params("id"), func(st *rule.AutomationRule) error {
		st.Name = req.Name
		st.Trigger = req.Trigger
		st.Filters = req.Filters
		st.Action = req.Action
		if req.Enabled != nil {
			st.Enabled = *req.Enabled
		}
		st.BrokenReason = ""
		return st.Validate()
	})
	if err != nil {
		if errors.Is(err, rule.ErrRuleNotFound) {
			return h.ruleError(c, err)
		}
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_rule", "Bad Request", err.Error())
	}

	return c.JSON(updated)
}

// DeleteRule handles DELETE /api/v1/rules/:id.
func (h *Handlers) DeleteRule(c *fiber.Ctx) error {
	if err := h.rules.Delete(c.Params("id")); err != nil {
		return h.ruleError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// EnableRule handles POST /api/v1/rules/:id/enable. Enabling clears a
// bulk-pause mark; broken rules must be edited first.
func (h *Handlers) EnableRule(c *fiber.Ctx) error {
	updated, err := h.rules.Update(c.Params("id"), func(st *rule.AutomationRule) error {
		if st.BrokenReason != "" {
			return errors.New("rule is broken: " + st.BrokenReason)
		}
		st.Enabled = true
		st.BulkPausedAt = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, rule.ErrRuleNotFound) {
			return h.ruleError(c, err)
		}
		return problemResponse(c, fiber.StatusConflict,
			"rule_broken", "Conflict", err.Error())
	}
	return c.JSON(updated)
}

// DisableRule handles POST /api/v1/rules/:id/disable.
func (h *Handlers) DisableRule(c *fiber.Ctx) error {
	updated, err := h.rules.Update(c.Params("id"), func(st *rule.AutomationRule) error {
		st.Enabled = false
		st.BulkPausedAt = nil
		return nil
	})
	if err != nil {
		return h.ruleError(c, err)
	}
	return c.JSON(updated)
}

// RunRule handles POST /api/v1/rules/:id/run. The rule executes
// immediately regardless of its schedule; filters still apply.
func (h *Handlers) RunRule(c *fiber.Ctx) error {
	out, err := h.sched.RunNow(c.Params("id"))
	if err != nil {
		if errors.Is(err, rule.ErrRuleNotFound) {
			return h.ruleError(c, err)
		}
		if errors.Is(err, engine.ErrNotScheduled) {
			return problemResponse(c, fiber.StatusBadRequest,
				"not_scheduled", "Bad Request",
				"Only schedule-triggered rules can be run manually")
		}
		return problemResponse(c, fiber.StatusInternalServerError,
			"run_failed", "Internal Server Error",
			"Rule execution failed: "+err.Error())
	}
	return c.JSON(out)
}

// DryRunRule handles POST /api/v1/rules/:id/dry-run. Nothing mutates.
func (h *Handlers) DryRunRule(c *fiber.Ctx) error {
	r, err := h.rules.ByID(c.Params("id"))
	if err != nil {
		return h.ruleError(c, err)
	}
	res, err := h.eng.DryRun(r, time.Now().UTC())
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"dry_run_failed", "Internal Server Error",
			"Dry run failed: "+err.Error())
	}
	if res.MatchingTasks == nil {
		res.MatchingTasks = []*board.Task{}
	}
	return c.JSON(res)
}

// ListExecutions handles GET /api/v1/rules/:id/executions, most recent last.
func (h *Handlers) ListExecutions(c *fiber.Ctx) error {
	r, err := h.rules.ByID(c.Params("id"))
	if err != nil {
		return h.ruleError(c, err)
	}
	execs := r.RecentExecutions
	if execs == nil {
		execs = []rule.ExecutionLogEntry{}
	}
	return c.JSON(ExecutionsResponse{
		RuleID:     r.ID,
		Count:      len(execs),
		Executions: execs,
	})
}

// PauseAll handles POST /api/v1/projects/:projectID/rules/pause-all.
func (h *Handlers) PauseAll(c *fiber.Ctx) error {
	ids, err := h.sched.PauseAllScheduled(c.Params("projectID"))
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"bulk_failed", "Internal Server Error",
			"Bulk pause failed: "+err.Error())
	}
	return c.JSON(BulkResponse{Count: len(ids), RuleIDs: ids})
}

// ResumeAll handles POST /api/v1/projects/:projectID/rules/resume-all.
func (h *Handlers) ResumeAll(c *fiber.Ctx) error {
	ids, err := h.sched.ResumeAllScheduled(c.Params("projectID"))
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"bulk_failed", "Internal Server Error",
			"Bulk resume failed: "+err.Error())
	}
	return c.JSON(BulkResponse{Count: len(ids), RuleIDs: ids})
}

// EnableAll handles POST /api/v1/projects/:projectID/rules/enable-all.
// Broken rules are left disabled.
func (h *Handlers) EnableAll(c *fiber.Ctx) error {
	ids, err := h.sched.EnableAll(c.Params("projectID"))
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"bulk_failed", "Internal Server Error",
			"Bulk enable failed: "+err.Error())
	}
	return c.JSON(BulkResponse{Count: len(ids), RuleIDs: ids})
}

// IngestEvent handles POST /api/v1/events: the board collaborator reports
// a board occurrence, which fans out to event-driven rules.
func (h *Handlers) IngestEvent(c *fiber.Ctx) error {
	var req EventRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	t := event.Type(req.Type)
	if !t.Valid() {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_event_type", "Bad Request",
			"Unknown event type: "+req.Type)
	}

	ev := event.Event{
		Type:      t,
		SectionID: req.SectionID,
		Timestamp: time.Now().UTC(),
	}
	if req.TaskID != "" {
		task, err := h.boardSt.TaskByID(req.TaskID)
		if err != nil {
			return problemResponse(c, fiber.StatusNotFound,
				"task_not_found", "Not Found",
				"Task not found: "+req.TaskID)
		}
		ev.Task = task
		if ev.SectionID == "" {
			ev.SectionID = task.SectionID
		}
	}
	if ev.Task == nil && ev.SectionID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_target", "Bad Request",
			"Event requires a task_id or section_id")
	}

	h.bus.Publish(ev)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

// PeekUndo handles GET /api/v1/undo.
func (h *Handlers) PeekUndo(c *fiber.Ctx) error {
	snap := h.eng.Undo().Peek()
	if snap == nil {
		return problemResponse(c, fiber.StatusNotFound,
			"nothing_to_undo", "Not Found",
			"No undoable automation within the undo window")
	}
	expires := snap.CreatedAt.Add(h.eng.Undo().TTL())
	return c.JSON(UndoResponse{RuleName: snap.RuleName, ExpiresAt: &expires})
}

// PerformUndo handles POST /api/v1/undo: reverts the most recent automated
// mutation if it is still within the undo window.
func (h *Handlers) PerformUndo(c *fiber.Ctx) error {
	desc, err := h.eng.Undo().Perform(h.boardSt)
	if err != nil {
		if errors.Is(err, engine.ErrNothingToUndo) {
			return problemResponse(c, fiber.StatusNotFound,
				"nothing_to_undo", "Not Found",
				"No undoable automation within the undo window")
		}
		return problemResponse(c, fiber.StatusInternalServerError,
			"undo_failed", "Internal Server Error",
			"Undo failed: "+err.Error())
	}
	return c.JSON(UndoResponse{Description: desc})
}

func (h *Handlers) ruleError(c *fiber.Ctx, err error) error {
	if errors.Is(err, rule.ErrRuleNotFound) {
		return problemResponse(c, fiber.StatusNotFound,
			"rule_not_found", "Not Found", err.Error())
	}
	return problemResponse(c, fiber.StatusInternalServerError,
		"store_error", "Internal Server Error", err.Error())
}
