// Package event defines board domain events and the Bus that fans them out
// to the rule evaluation engine. The automation core never originates
// events; the board collaborator publishes them (in this service, via the
// API's event ingestion endpoint).
package event

import (
	"time"

	"github.com/p-blackswan/board-automation/internal/board"
)

// Type identifies what happened on the board.
type Type string

const (
	TypeCardMovedIntoSection  Type = "card_moved_into_section"
	TypeCardMovedOutOfSection Type = "card_moved_out_of_section"
	TypeCardMarkedComplete    Type = "card_marked_complete"
	TypeCardMarkedIncomplete  Type = "card_marked_incomplete"
	TypeSectionCreated        Type = "section_created"
	TypeSectionRenamed        Type = "section_renamed"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeCardMovedIntoSection, TypeCardMovedOutOfSection,
		TypeCardMarkedComplete, TypeCardMarkedIncomplete,
		TypeSectionCreated, TypeSectionRenamed:
		return true
	}
	return false
}

// Event is a single board occurrence delivered to the engine.
// Task is nil for section-level events.
type Event struct {
	Type      Type        `json:"type"`
	Task      *board.Task `json:"task,omitempty"`
	SectionID string      `json:"section_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
