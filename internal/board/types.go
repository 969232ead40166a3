// Package board defines the task/section snapshot types and the Store
// interface the automation core reads from and mutates through. The board
// itself is an external collaborator; MemStore is the reference
// implementation used by tests and by deployments without an external board.
package board

import (
	"errors"
	"time"
)

// Sentinel errors for store lookups.
var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrSectionNotFound = errors.New("section not found")
)

// Task is a point-in-time snapshot of a card on the board.
type Task struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	SectionID string `json:"section_id"`
	Title     string `json:"title"`

	Completed   bool       `json:"completed"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// SectionEnteredAt is when the task last changed section. Used by the
	// in_section_for_more_than filter.
	SectionEnteredAt time.Time `json:"section_entered_at"`

	// Position is the task's index within its section, 0 = top.
	Position int `json:"position"`
}

// Section is a column on the board.
type Section struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
}

// Position targets for MoveTask.
type Position int

const (
	PositionTop Position = iota
	PositionBottom
)

// Store is the task/section collaborator boundary. The automation core
// treats it as the sole source of truth for task state and performs all
// mutations through it.
type Store interface {
	TaskByID(id string) (*Task, error)
	TasksByProject(projectID string) ([]*Task, error)
	SectionByID(id string) (*Section, error)
	SectionsByProject(projectID string) ([]*Section, error)

	// MoveTask moves a task to the top or bottom of a section.
	MoveTask(taskID, sectionID string, pos Position) error

	// PlaceTask moves a task to an exact index within a section. Used by
	// undo to restore a prior position.
	PlaceTask(taskID, sectionID string, index int) error

	SetCompleted(taskID string, completed bool, at time.Time) error
	SetDueDate(taskID string, due *time.Time) error

	CreateTask(t *Task) error
	DeleteTask(id string) error
}
