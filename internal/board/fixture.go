package board

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixture is a declarative board snapshot loaded at startup when no external
// board collaborator is wired. Timestamps are RFC3339 / YAML timestamps.
type Fixture struct {
	Sections []FixtureSection `yaml:"sections"`
	Tasks    []FixtureTask    `yaml:"tasks"`
}

type FixtureSection struct {
	ID        string `yaml:"id"`
	ProjectID string `yaml:"project_id"`
	Name      string `yaml:"name"`
	Position  int    `yaml:"position"`
}

type FixtureTask struct {
	ID               string     `yaml:"id"`
	ProjectID        string     `yaml:"project_id"`
	SectionID        string     `yaml:"section_id"`
	Title            string     `yaml:"title"`
	Completed        bool       `yaml:"completed"`
	DueAt            *time.Time `yaml:"due_at"`
	CompletedAt      *time.Time `yaml:"completed_at"`
	CreatedAt        time.Time  `yaml:"created_at"`
	SectionEnteredAt time.Time  `yaml:"section_entered_at"`
	Position         int        `yaml:"position"`
}

// LoadFixture reads a YAML fixture file into the store.
func LoadFixture(path string, store *MemStore) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read board fixture: %w", err)
	}

	var fx Fixture
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return fmt.Errorf("parse board fixture: %w", err)
	}

	sections := make(map[string]bool, len(fx.Sections))
	for _, s := range fx.Sections {
		store.AddSection(&Section{
			ID:        s.ID,
			ProjectID: s.ProjectID,
			Name:      s.Name,
			Position:  s.Position,
		})
		sections[s.ID] = true
	}

	for _, t := range fx.Tasks {
		if !sections[t.SectionID] {
			return fmt.Errorf("board fixture: task %q references unknown section %q", t.Title, t.SectionID)
		}
		store.AddTask(&Task{
			ID:               t.ID,
			ProjectID:        t.ProjectID,
			SectionID:        t.SectionID,
			Title:            t.Title,
			Completed:        t.Completed,
			DueAt:            t.DueAt,
			CompletedAt:      t.CompletedAt,
			CreatedAt:        t.CreatedAt,
			SectionEnteredAt: t.SectionEnteredAt,
			Position:         t.Position,
		})
	}
	return nil
}
