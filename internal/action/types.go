// Package action defines the automation action variants and the Executor
// that applies them to board tasks. The executor decides how to run an
// action, never whether; selection is the engine's job.
package action

import (
	"fmt"
	"time"

	"github.com/p-blackswan/board-automation/internal/dateopt"
)

// Kind is the closed set of action variants.
type Kind string

const (
	KindMoveToTop      Kind = "move_to_top"
	KindMoveToBottom   Kind = "move_to_bottom"
	KindMarkComplete   Kind = "mark_complete"
	KindMarkIncomplete Kind = "mark_incomplete"
	KindSetDueDate     Kind = "set_due_date"
	KindRemoveDueDate  Kind = "remove_due_date"
	KindCreateCard     Kind = "create_card"
)

// Action is one action with its variant parameters.
type Action struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// SectionID is the target section for move and create_card actions.
	SectionID string `json:"section_id,omitempty" yaml:"section_id,omitempty"`

	// DateOption drives set_due_date, and optionally the due date of a
	// created card.
	DateOption *dateopt.Option `json:"date_option,omitempty" yaml:"date_option,omitempty"`

	// TitleTemplate is the create_card title. A {{date}} token is replaced
	// with the execution date as "2006-01-02 (Monday)".
	TitleTemplate string `json:"title_template,omitempty" yaml:"title_template,omitempty"`
}

// Validate checks the action is a known kind with usable parameters.
func (a Action) Validate() error {
	switch a.Kind {
	case KindMoveToTop, KindMoveToBottom:
		if a.SectionID == "" {
			return fmt.Errorf("%s requires section_id", a.Kind)
		}
	case KindMarkComplete, KindMarkIncomplete, KindRemoveDueDate:
		// No parameters.
	case KindSetDueDate:
		if a.DateOption == nil {
			return fmt.Errorf("set_due_date requires date_option")
		}
		return a.DateOption.Validate()
	case KindCreateCard:
		if a.SectionID == "" {
			return fmt.Errorf("create_card requires section_id")
		}
		if a.TitleTemplate == "" {
			return fmt.Errorf("create_card requires title_template")
		}
		if a.DateOption != nil {
			return a.DateOption.Validate()
		}
	case "":
		return fmt.Errorf("action kind is required")
	default:
		return fmt.Errorf("unknown action kind: %s", a.Kind)
	}
	return nil
}

// ReferencesSection returns the section the action depends on, if any.
// Used to detect broken rules when a section is deleted.
func (a Action) ReferencesSection() string {
	switch a.Kind {
	case KindMoveToTop, KindMoveToBottom, KindCreateCard:
		return a.SectionID
	}
	return ""
}

// Field names an undoable task attribute.
type Field string

const (
	FieldSection   Field = "section"
	FieldCompleted Field = "completed"
	FieldDueDate   Field = "due_date"
	FieldCreated   Field = "created"
)

// Snapshot captures a task's pre-mutation values for the fields an action
// will touch. For create_card the snapshot names the created task instead,
// so undo can delete it.
type Snapshot struct {
	TaskID      string     `json:"task_id"`
	Fields      []Field    `json:"fields"`
	SectionID   string     `json:"section_id,omitempty"`
	Position    int        `json:"position,omitempty"`
	Completed   bool       `json:"completed,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}
