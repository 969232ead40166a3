package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/p-blackswan/board-automation/internal/action"
	"github.com/p-blackswan/board-automation/internal/board"
)

// DefaultUndoTTL is how long an undo snapshot stays usable.
const DefaultUndoTTL = 10 * time.Second

// ErrNothingToUndo is returned when the slot is empty or expired.
var ErrNothingToUndo = errors.New("nothing to undo")

// UndoSnapshot is the single most-recent reversible automated mutation.
type UndoSnapshot struct {
	RuleID     string           `json:"rule_id"`
	RuleName   string           `json:"rule_name"`
	ActionKind action.Kind      `json:"action_kind"`
	Snapshot   *action.Snapshot `json:"snapshot"`
	CreatedAt  time.Time        `json:"created_at"`
}

// UndoSlot holds at most one snapshot system-wide. Every automated mutation
// overwrites it; expiry is evaluated lazily at read time.
type UndoSlot struct {
	mu   sync.Mutex
	snap *UndoSnapshot
	ttl  time.Duration
	now  func() time.Time
}

// NewUndoSlot creates an empty slot with the given TTL (DefaultUndoTTL when
// zero).
func NewUndoSlot(ttl time.Duration) *UndoSlot {
	if ttl <= 0 {
		ttl = DefaultUndoTTL
	}
	return &UndoSlot{ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// TTL returns the slot's configured snapshot lifetime.
func (u *UndoSlot) TTL() time.Duration { return u.ttl }

// SetClock overrides the slot's clock. Test hook.
func (u *UndoSlot) SetClock(now func() time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.now = now
}

// Set overwrites the slot. A nil snapshot is ignored.
func (u *UndoSlot) Set(snap *UndoSnapshot) {
	if snap == nil || snap.Snapshot == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = u.now()
	}
	u.snap = snap
}

// Peek returns the current snapshot without consuming it, or nil if the
// slot is empty or the snapshot has expired.
func (u *UndoSlot) Peek() *UndoSnapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.liveLocked()
}

func (u *UndoSlot) liveLocked() *UndoSnapshot {
	if u.snap == nil {
		return nil
	}
	if u.now().Sub(u.snap.CreatedAt) > u.ttl {
		u.snap = nil
		return nil
	}
	return u.snap
}

// Perform applies the inverse of the recorded mutation through the task
// store and clears the slot. The slot is cleared even on failure; a stale
// snapshot would not succeed on retry either.
func (u *UndoSlot) Perform(store board.Store) (string, error) {
	u.mu.Lock()
	snap := u.liveLocked()
	u.snap = nil
	u.mu.Unlock()

	if snap == nil {
		return "", ErrNothingToUndo
	}

	s := snap.Snapshot
	for _, f := range s.Fields {
		switch f {
		case action.FieldSection:
			if err := store.PlaceTask(s.TaskID, s.SectionID, s.Position); err != nil {
				return "", fmt.Errorf("undo move: %w", err)
			}
		case action.FieldCompleted:
			at := time.Time{}
			if s.CompletedAt != nil {
				at = *s.CompletedAt
			}
			if err := store.SetCompleted(s.TaskID, s.Completed, at); err != nil {
				return "", fmt.Errorf("undo completion change: %w", err)
			}
		case action.FieldDueDate:
			if err := store.SetDueDate(s.TaskID, s.DueAt); err != nil {
				return "", fmt.Errorf("undo due date change: %w", err)
			}
		case action.FieldCreated:
			if err := store.DeleteTask(s.TaskID); err != nil {
				return "", fmt.Errorf("undo card creation: %w", err)
			}
		}
	}

	return fmt.Sprintf("Reverted %q (%s)", snap.RuleName, snap.ActionKind), nil
}
