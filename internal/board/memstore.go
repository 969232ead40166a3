package board

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store implementation guarded by a RWMutex.
// Reads return copies so callers never observe a half-applied mutation.
type MemStore struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	sections map[string]*Section
	now      func() time.Time
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		tasks:    make(map[string]*Task),
		sections: make(map[string]*Section),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *MemStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddSection registers a section. Generates an ID if empty.
func (s *MemStore) AddSection(sec *Section) *Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sec.ID == "" {
		sec.ID = uuid.New().String()
	}
	cp := *sec
	s.sections[cp.ID] = &cp
	return sec
}

// AddTask registers a task directly, bypassing CreateTask bookkeeping.
// Intended for fixtures and tests.
func (s *MemStore) AddTask(t *Task) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.SectionEnteredAt.IsZero() {
		t.SectionEnteredAt = t.CreatedAt
	}
	cp := *t
	s.tasks[cp.ID] = &cp
	return t
}

func (s *MemStore) TaskByID(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *MemStore) TasksByProject(projectID string) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Task
	for _, t := range s.tasks {
		if t.ProjectID == projectID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SectionID != out[j].SectionID {
			return out[i].SectionID < out[j].SectionID
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (s *MemStore) SectionByID(id string) (*Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.sections[id]
	if !ok {
		return nil, fmt.Errorf("section %s: %w", id, ErrSectionNotFound)
	}
	cp := *sec
	return &cp, nil
}

func (s *MemStore) SectionsByProject(projectID string) ([]*Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Section
	for _, sec := range s.sections {
		if sec.ProjectID == projectID {
			cp := *sec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *MemStore) MoveTask(taskID, sectionID string, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	if _, ok := s.sections[sectionID]; !ok {
		return fmt.Errorf("section %s: %w", sectionID, ErrSectionNotFound)
	}

	idx := 0
	if pos == PositionBottom {
		idx = s.sectionLenLocked(sectionID, taskID)
	}
	s.placeLocked(t, sectionID, idx)
	return nil
}

func (s *MemStore) PlaceTask(taskID, sectionID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	if _, ok := s.sections[sectionID]; !ok {
		return fmt.Errorf("section %s: %w", sectionID, ErrSectionNotFound)
	}
	if max := s.sectionLenLocked(sectionID, taskID); index > max {
		index = max
	}
	if index < 0 {
		index = 0
	}
	s.placeLocked(t, sectionID, index)
	return nil
}

// placeLocked removes t from its current slot, inserts it at index in
// sectionID and renumbers both affected sections densely.
func (s *MemStore) placeLocked(t *Task, sectionID string, index int) {
	from := t.SectionID
	now := s.now()

	if from != sectionID {
		t.SectionEnteredAt = now
	}
	t.SectionID = sectionID
	t.Position = index
	t.UpdatedAt = now

	s.renumberLocked(from, t.ID)
	s.renumberLocked(sectionID, t.ID)
}

// renumberLocked rewrites positions 0..N-1 for a section, keeping the moved
// task at its requested index.
func (s *MemStore) renumberLocked(sectionID, movedID string) {
	var members []*Task
	for _, t := range s.tasks {
		if t.SectionID == sectionID {
			members = append(members, t)
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		// Ties resolve in favour of the moved task so its requested index wins.
		if members[i].Position == members[j].Position {
			return members[i].ID == movedID
		}
		return members[i].Position < members[j].Position
	})
	for i, t := range members {
		t.Position = i
	}
}

func (s *MemStore) sectionLenLocked(sectionID, excludeTaskID string) int {
	n := 0
	for _, t := range s.tasks {
		if t.SectionID == sectionID && t.ID != excludeTaskID {
			n++
		}
	}
	return n
}

func (s *MemStore) SetCompleted(taskID string, completed bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	t.Completed = completed
	if completed {
		cp := at
		t.CompletedAt = &cp
	} else {
		t.CompletedAt = nil
	}
	t.UpdatedAt = s.now()
	return nil
}

func (s *MemStore) SetDueDate(taskID string, due *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	if due != nil {
		cp := *due
		t.DueAt = &cp
	} else {
		t.DueAt = nil
	}
	t.UpdatedAt = s.now()
	return nil
}

func (s *MemStore) CreateTask(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sections[t.SectionID]; !ok {
		return fmt.Errorf("section %s: %w", t.SectionID, ErrSectionNotFound)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.SectionEnteredAt = now
	t.Position = s.sectionLenLocked(t.SectionID, t.ID)

	cp := *t
	s.tasks[cp.ID] = &cp
	return nil
}

func (s *MemStore) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	sectionID := t.SectionID
	delete(s.tasks, id)
	s.renumberLocked(sectionID, "")
	return nil
}
