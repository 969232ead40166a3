package action

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/p-blackswan/board-automation/internal/board"
	"github.com/p-blackswan/board-automation/internal/dateopt"
)

// DateTokenFormat is the layout substituted for {{date}} in card titles.
const DateTokenFormat = "2006-01-02 (Monday)"

// Result describes what an executed action did.
type Result struct {
	// Description is a human-readable summary for the execution log.
	Description string

	// MutatedFields lists the task fields the action changed.
	MutatedFields []Field

	// CreatedTaskID is set for create_card.
	CreatedTaskID string
}

// HandlerFunc applies one action variant to a task. For create_card the
// task argument is nil.
type HandlerFunc func(e *Executor, act Action, t *board.Task, now time.Time) (*Result, error)

// Executor applies actions to the board through the external task store.
// Dispatch is a registry keyed by action kind.
type Executor struct {
	store    board.Store
	handlers map[Kind]HandlerFunc
}

// NewExecutor creates an Executor with all built-in handlers registered.
func NewExecutor(store board.Store) *Executor {
	e := &Executor{
		store:    store,
		handlers: make(map[Kind]HandlerFunc),
	}
	e.register(KindMoveToTop, execMove)
	e.register(KindMoveToBottom, execMove)
	e.register(KindMarkComplete, execSetCompleted)
	e.register(KindMarkIncomplete, execSetCompleted)
	e.register(KindSetDueDate, execSetDueDate)
	e.register(KindRemoveDueDate, execRemoveDueDate)
	e.register(KindCreateCard, execCreateCard)
	return e
}

func (e *Executor) register(k Kind, fn HandlerFunc) {
	if _, exists := e.handlers[k]; exists {
		panic(fmt.Sprintf("action handler already registered: %s", k))
	}
	e.handlers[k] = fn
}

// Execute applies the action to the task at the given instant.
// Errors propagate to the caller; a board.ErrSectionNotFound means the rule
// is misconfigured and should be marked broken rather than retried.
func (e *Executor) Execute(act Action, t *board.Task, now time.Time) (*Result, error) {
	if err := act.Validate(); err != nil {
		return nil, err
	}
	fn, ok := e.handlers[act.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown action kind: %s", act.Kind)
	}
	return fn(e, act, t, now)
}

// Snapshot captures the pre-mutation values of the fields the action will
// touch, for the undo slot. Returns nil for create_card (nothing exists yet).
func (e *Executor) Snapshot(act Action, t *board.Task) *Snapshot {
	if t == nil {
		return nil
	}
	switch act.Kind {
	case KindMoveToTop, KindMoveToBottom:
		return &Snapshot{
			TaskID:    t.ID,
			Fields:    []Field{FieldSection},
			SectionID: t.SectionID,
			Position:  t.Position,
		}
	case KindMarkComplete, KindMarkIncomplete:
		return &Snapshot{
			TaskID:      t.ID,
			Fields:      []Field{FieldCompleted},
			Completed:   t.Completed,
			CompletedAt: t.CompletedAt,
		}
	case KindSetDueDate, KindRemoveDueDate:
		return &Snapshot{
			TaskID: t.ID,
			Fields: []Field{FieldDueDate},
			DueAt:  t.DueAt,
		}
	}
	return nil
}

// Describe returns a task-independent summary of the action, used by the
// dry-run preview.
func (e *Executor) Describe(act Action) string {
	switch act.Kind {
	case KindMoveToTop:
		return "Move card to top of " + e.sectionName(act.SectionID)
	case KindMoveToBottom:
		return "Move card to bottom of " + e.sectionName(act.SectionID)
	case KindMarkComplete:
		return "Mark card complete"
	case KindMarkIncomplete:
		return "Mark card incomplete"
	case KindSetDueDate:
		return fmt.Sprintf("Set due date (%s)", act.DateOption.Kind)
	case KindRemoveDueDate:
		return "Remove due date"
	case KindCreateCard:
		return fmt.Sprintf("Create card %q in %s", act.TitleTemplate, e.sectionName(act.SectionID))
	}
	return string(act.Kind)
}

func (e *Executor) sectionName(id string) string {
	sec, err := e.store.SectionByID(id)
	if err != nil {
		return fmt.Sprintf("section %s", id)
	}
	return fmt.Sprintf("%q", sec.Name)
}

func execMove(e *Executor, act Action, t *board.Task, _ time.Time) (*Result, error) {
	sec, err := e.store.SectionByID(act.SectionID)
	if err != nil {
		return nil, err
	}
	pos := board.PositionTop
	word := "top"
	if act.Kind == KindMoveToBottom {
		pos = board.PositionBottom
		word = "bottom"
	}
	if err := e.store.MoveTask(t.ID, act.SectionID, pos); err != nil {
		return nil, fmt.Errorf("move task %s: %w", t.ID, err)
	}
	return &Result{
		Description:   fmt.Sprintf("Moved %q to %s of %q", t.Title, word, sec.Name),
		MutatedFields: []Field{FieldSection},
	}, nil
}

func execSetCompleted(e *Executor, act Action, t *board.Task, now time.Time) (*Result, error) {
	completed := act.Kind == KindMarkComplete
	if err := e.store.SetCompleted(t.ID, completed, now); err != nil {
		return nil, fmt.Errorf("set completed on task %s: %w", t.ID, err)
	}
	word := "complete"
	if !completed {
		word = "incomplete"
	}
	return &Result{
		Description:   fmt.Sprintf("Marked %q %s", t.Title, word),
		MutatedFields: []Field{FieldCompleted},
	}, nil
}

func execSetDueDate(e *Executor, act Action, t *board.Task, now time.Time) (*Result, error) {
	due, err := dateopt.Resolve(*act.DateOption, now)
	if err != nil {
		return nil, fmt.Errorf("resolve due date: %w", err)
	}
	if err := e.store.SetDueDate(t.ID, &due); err != nil {
		return nil, fmt.Errorf("set due date on task %s: %w", t.ID, err)
	}
	return &Result{
		Description:   fmt.Sprintf("Set due date of %q to %s", t.Title, due.Format("2006-01-02")),
		MutatedFields: []Field{FieldDueDate},
	}, nil
}

func execRemoveDueDate(e *Executor, act Action, t *board.Task, _ time.Time) (*Result, error) {
	if err := e.store.SetDueDate(t.ID, nil); err != nil {
		return nil, fmt.Errorf("remove due date on task %s: %w", t.ID, err)
	}
	return &Result{
		Description:   fmt.Sprintf("Removed due date from %q", t.Title),
		MutatedFields: []Field{FieldDueDate},
	}, nil
}

func execCreateCard(e *Executor, act Action, _ *board.Task, now time.Time) (*Result, error) {
	sec, err := e.store.SectionByID(act.SectionID)
	if err != nil {
		return nil, err
	}

	title := strings.ReplaceAll(act.TitleTemplate, "{{date}}", now.Format(DateTokenFormat))

	var due *time.Time
	if act.DateOption != nil {
		d, err := dateopt.Resolve(*act.DateOption, now)
		if err != nil {
			return nil, fmt.Errorf("resolve due date: %w", err)
		}
		due = &d
	}

	t := &board.Task{
		ID:        uuid.New().String(),
		ProjectID: sec.ProjectID,
		SectionID: sec.ID,
		Title:     title,
		DueAt:     due,
	}
	if err := e.store.CreateTask(t); err != nil {
		return nil, fmt.Errorf("create card: %w", err)
	}
	return &Result{
		Description:   fmt.Sprintf("Created %q in %q", title, sec.Name),
		MutatedFields: []Field{FieldCreated},
		CreatedTaskID: t.ID,
	}, nil
}
