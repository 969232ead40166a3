package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/p-blackswan/board-automation/internal/rule"
)

// Create inserts a rule at the end of its project's display order.
func (s *Store) Create(r *rule.AutomationRule) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	s.mu.Lock()
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM rules WHERE project_id = ?`, r.ProjectID).Scan(&count); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to count project rules: %w", err)
	}
	r.Order = count

	if err := s.insertLocked(r); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.notify(rule.ChangeCreated, r)
	return nil
}

func (s *Store) insertLocked(r *rule.AutomationRule) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal rule: %w", err)
	}

	query := `
	INSERT INTO rules (id, project_id, name, enabled, broken_reason, display_order, payload, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		r.ID, r.ProjectID, r.Name, boolToInt(r.Enabled),
		sql.NullString{String: r.BrokenReason, Valid: r.BrokenReason != ""},
		r.Order, string(payload),
		r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// ByID retrieves a rule by ID.
func (s *Store) ByID(id string) (*rule.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byIDLocked(id)
}

func (s *Store) byIDLocked(id string) (*rule.AutomationRule, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM rules WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s: %w", id, rule.ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return unmarshalRule(payload)
}

// ByProject returns a project's rules in display order.
func (s *Store) ByProject(projectID string) ([]*rule.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRules(`SELECT payload FROM rules WHERE project_id = ? ORDER BY display_order`, projectID)
}

// All returns every rule across all projects.
func (s *Store) All() ([]*rule.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRules(`SELECT payload FROM rules ORDER BY project_id, display_order`)
}

func (s *Store) queryRules(query string, args ...any) ([]*rule.AutomationRule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var out []*rule.AutomationRule
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r, err := unmarshalRule(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Update applies mutate to the stored rule under the store lock and
// persists the result.
func (s *Store) Update(id string, mutate func(*rule.AutomationRule) error) (*rule.AutomationRule, error) {
	s.mu.Lock()
	r, err := s.byIDLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	if err := mutate(r); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	r.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(r)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to marshal rule: %w", err)
	}

	query := `
	UPDATE rules SET name = ?, enabled = ?, broken_reason = ?, display_order = ?, payload = ?, updated_at = ?
	WHERE id = ?
	`
	_, err = s.db.Exec(query,
		r.Name, boolToInt(r.Enabled),
		sql.NullString{String: r.BrokenReason, Valid: r.BrokenReason != ""},
		r.Order, string(payload), r.UpdatedAt.UnixMilli(), id,
	)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	s.notify(rule.ChangeUpdated, r)
	return r.Clone(), nil
}

// Delete removes a rule and renumbers the project's display order densely.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	r, err := s.byIDLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	if _, err := s.db.Exec(`DELETE FROM rules WHERE id = ?`, id); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if err := s.renumberLocked(r.ProjectID); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.notify(rule.ChangeDeleted, r)
	return nil
}

// renumberLocked rewrites display_order as 0..N-1 for a project, keeping
// relative order and updating each payload to match.
func (s *Store) renumberLocked(projectID string) error {
	rules, err := s.queryRules(`SELECT payload FROM rules WHERE project_id = ? ORDER BY display_order`, projectID)
	if err != nil {
		return err
	}
	for i, r := range rules {
		if r.Order == i {
			continue
		}
		r.Order = i
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal rule: %w", err)
		}
		if _, err := s.db.Exec(`UPDATE rules SET display_order = ?, payload = ? WHERE id = ?`, i, string(payload), r.ID); err != nil {
			return fmt.Errorf("failed to renumber rule: %w", err)
		}
	}
	return nil
}

func unmarshalRule(payload string) (*rule.AutomationRule, error) {
	var r rule.AutomationRule
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule: %w", err)
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
