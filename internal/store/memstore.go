package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-blackswan/board-automation/internal/rule"
)

// MemStore is an in-memory rule.Store for tests and ephemeral deployments.
type MemStore struct {
	mu    sync.RWMutex
	rules map[string]*rule.AutomationRule
	subs  []rule.ChangeFunc
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{rules: make(map[string]*rule.AutomationRule)}
}

func (s *MemStore) Subscribe(fn rule.ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *MemStore) notify(ct rule.ChangeType, r *rule.AutomationRule) {
	s.mu.RLock()
	subs := append([]rule.ChangeFunc(nil), s.subs...)
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(ct, r.Clone())
	}
}

func (s *MemStore) Create(r *rule.AutomationRule) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	s.mu.Lock()
	if _, exists := s.rules[r.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("rule %s already exists", r.ID)
	}
	r.Order = s.projectLenLocked(r.ProjectID)
	s.rules[r.ID] = r.Clone()
	s.mu.Unlock()

	s.notify(rule.ChangeCreated, r)
	return nil
}

func (s *MemStore) ByID(id string) (*rule.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %s: %w", id, rule.ErrRuleNotFound)
	}
	return r.Clone(), nil
}

func (s *MemStore) ByProject(projectID string) ([]*rule.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*rule.AutomationRule
	for _, r := range s.rules {
		if r.ProjectID == projectID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (s *MemStore) All() ([]*rule.AutomationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*rule.AutomationRule
	for _, r := range s.rules {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProjectID != out[j].ProjectID {
			return out[i].ProjectID < out[j].ProjectID
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

func (s *MemStore) Update(id string, mutate func(*rule.AutomationRule) error) (*rule.AutomationRule, error) {
	s.mu.Lock()
	r, ok := s.rules[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("rule %s: %w", id, rule.ErrRuleNotFound)
	}
	cp := r.Clone()
	if err := mutate(cp); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	cp.UpdatedAt = time.Now().UTC()
	s.rules[id] = cp
	out := cp.Clone()
	s.mu.Unlock()

	s.notify(rule.ChangeUpdated, out)
	return out, nil
}

func (s *MemStore) Delete(id string) error {
	s.mu.Lock()
	r, ok := s.rules[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("rule %s: %w", id, rule.ErrRuleNotFound)
	}
	delete(s.rules, id)
	s.renumberLocked(r.ProjectID)
	s.mu.Unlock()

	s.notify(rule.ChangeDeleted, r)
	return nil
}

func (s *MemStore) projectLenLocked(projectID string) int {
	n := 0
	for _, r := range s.rules {
		if r.ProjectID == projectID {
			n++
		}
	}
	return n
}

func (s *MemStore) renumberLocked(projectID string) {
	var members []*rule.AutomationRule
	for _, r := range s.rules {
		if r.ProjectID == projectID {
			members = append(members, r)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Order < members[j].Order })
	for i, r := range members {
		r.Order = i
	}
}
