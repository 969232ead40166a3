// Package scheduler drives time-based rule evaluation: a periodic sweep
// over every enabled scheduled rule, a startup catch-up pass, manual runs,
// and bulk pause/resume of scheduled automations.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/board-automation/internal/engine"
	"github.com/p-blackswan/board-automation/internal/metrics"
	"github.com/p-blackswan/board-automation/internal/rule"
)

// DefaultTick is the sweep period when none is configured.
const DefaultTick = 30 * time.Second

// Scheduler owns the tick loop. A single mutex serializes sweeps, manual
// runs, and bulk operations so two evaluations never race on one rule.
type Scheduler struct {
	engine *engine.Engine
	rules  rule.Store
	met    *metrics.Metrics
	tick   time.Duration
	logger zerolog.Logger

	cron *cron.Cron
	mu   sync.Mutex
	now  func() time.Time
}

// New creates a Scheduler. met may be nil (tests).
func New(eng *engine.Engine, rules rule.Store, met *metrics.Metrics, tick time.Duration, logger zerolog.Logger) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{
		engine: eng,
		rules:  rules,
		met:    met,
		tick:   tick,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the scheduler's clock. Test hook.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Start runs the startup catch-up sweep synchronously, then begins the
// periodic tick loop.
func (s *Scheduler) Start() error {
	s.logger.Info().Dur("tick", s.tick).Msg("running startup catch-up sweep")
	s.Sweep(s.now())

	s.cron = cron.New()
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.tick), func() {
		s.Sweep(s.now())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info().Msg("scheduler started")
	return nil
}

// Stop halts the tick loop and waits for an in-flight sweep to finish, or
// for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep evaluates every enabled scheduled rule once at the given instant.
// One rule's failure never stops the sweep.
func (s *Scheduler) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.met != nil {
		s.met.RecordTick()
	}

	rules, err := s.rules.All()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load rules for sweep")
		if s.met != nil {
			s.met.RecordError("scheduler", "store_read")
		}
		return
	}

	broken := 0
	for _, r := range rules {
		if r.BrokenReason != "" {
			broken++
		}
		if !r.Enabled || !r.Trigger.Kind.IsScheduled() {
			continue
		}
		out, err := s.engine.EvaluateScheduled(r, now)
		if err != nil {
			s.logger.Warn().Err(err).Str("rule", r.ID).Str("name", r.Name).Msg("rule evaluation failed")
			continue
		}
		if out.Executed {
			s.logger.Info().
				Str("rule", r.ID).
				Str("name", r.Name).
				Str("type", string(out.Type)).
				Int("matched", out.MatchCount).
				Int("failed", out.FailedCount).
				Msg("rule executed")
		}
	}

	// The gauge counts rules broken before this sweep; ones broken during
	// it show up next tick.
	if s.met != nil {
		s.met.SetBrokenRules(float64(broken))
	}
}

// RunNow executes a scheduled rule immediately, bypassing its due check.
func (s *Scheduler) RunNow(ruleID string) (*engine.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.RunNow(ruleID, s.now())
}

// PauseAllScheduled disables every enabled scheduled rule in the project
// (every project when projectID is empty) and stamps bulkPausedAt so a
// later resume restores exactly this set. Returns the paused rule IDs.
func (s *Scheduler) PauseAllScheduled(projectID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := s.listProject(projectID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var paused []string
	for _, r := range rules {
		if !r.Enabled || !r.Trigger.Kind.IsScheduled() {
			continue
		}
		_, err := s.rules.Update(r.ID, func(st *rule.AutomationRule) error {
			st.Enabled = false
			at := now
			st.BulkPausedAt = &at
			return nil
		})
		if err != nil {
			return paused, fmt.Errorf("failed to pause rule %s: %w", r.ID, err)
		}
		paused = append(paused, r.ID)
	}
	s.logger.Info().Str("project", projectID).Int("count", len(paused)).Msg("scheduled rules paused")
	return paused, nil
}

// ResumeAllScheduled re-enables exactly the rules a bulk pause disabled.
// Rules disabled individually stay disabled.
func (s *Scheduler) ResumeAllScheduled(projectID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := s.listProject(projectID)
	if err != nil {
		return nil, err
	}

	var resumed []string
	for _, r := range rules {
		if r.BulkPausedAt == nil {
			continue
		}
		_, err := s.rules.Update(r.ID, func(st *rule.AutomationRule) error {
			st.Enabled = true
			st.BulkPausedAt = nil
			return nil
		})
		if err != nil {
			return resumed, fmt.Errorf("failed to resume rule %s: %w", r.ID, err)
		}
		resumed = append(resumed, r.ID)
	}
	s.logger.Info().Str("project", projectID).Int("count", len(resumed)).Msg("scheduled rules resumed")
	return resumed, nil
}

// EnableAll enables every disabled rule in the project except broken ones,
// which must be fixed and re-enabled individually. Clears bulk-pause marks.
func (s *Scheduler) EnableAll(projectID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := s.listProject(projectID)
	if err != nil {
		return nil, err
	}

	var enabled []string
	for _, r := range rules {
		if r.Enabled || r.BrokenReason != "" {
			continue
		}
		_, err := s.rules.Update(r.ID, func(st *rule.AutomationRule) error {
			st.Enabled = true
			st.BulkPausedAt = nil
			return nil
		})
		if err != nil {
			return enabled, fmt.Errorf("failed to enable rule %s: %w", r.ID, err)
		}
		enabled = append(enabled, r.ID)
	}
	s.logger.Info().Str("project", projectID).Int("count", len(enabled)).Msg("rules enabled")
	return enabled, nil
}

func (s *Scheduler) listProject(projectID string) ([]*rule.AutomationRule, error) {
	if projectID == "" {
		return s.rules.All()
	}
	return s.rules.ByProject(projectID)
}
