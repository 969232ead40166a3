package board_test

import (
	"errors"
	"testing"
	"time"

	"github.com/p-blackswan/board-automation/internal/board"
)

func newStore() *board.MemStore {
	s := board.NewMemStore()
	s.AddSection(&board.Section{ID: "todo", ProjectID: "p1", Name: "To Do", Position: 0})
	s.AddSection(&board.Section{ID: "done", ProjectID: "p1", Name: "Done", Position: 1})
	return s
}

func addTasks(s *board.MemStore, section string, titles ...string) []string {
	ids := make([]string, len(titles))
	for i, title := range titles {
		t := s.AddTask(&board.Task{
			ProjectID: "p1",
			SectionID: section,
			Title:     title,
			Position:  i,
		})
		ids[i] = t.ID
	}
	return ids
}

func positions(t *testing.T, s *board.MemStore, section string) []string {
	t.Helper()
	tasks, err := s.TasksByProject("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out []string
	for _, task := range tasks {
		if task.SectionID == section {
			out = append(out, task.Title)
		}
	}
	return out
}

func TestMemStore_NotFound(t *testing.T) {
	s := newStore()
	if _, err := s.TaskByID("ghost"); !errors.Is(err, board.ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
	if _, err := s.SectionByID("ghost"); !errors.Is(err, board.ErrSectionNotFound) {
		t.Errorf("expected ErrSectionNotFound, got %v", err)
	}
	if err := s.MoveTask("ghost", "todo", board.PositionTop); !errors.Is(err, board.ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestMemStore_MoveToTop(t *testing.T) {
	s := newStore()
	ids := addTasks(s, "todo", "a", "b", "c")

	if err := s.MoveTask(ids[2], "todo", board.PositionTop); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := positions(t, s, "todo")
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestMemStore_MoveAcrossSections(t *testing.T) {
	s := newStore()
	ids := addTasks(s, "todo", "a", "b")

	if err := s.MoveTask(ids[0], "done", board.PositionBottom); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	moved, _ := s.TaskByID(ids[0])
	if moved.SectionID != "done" || moved.Position != 0 {
		t.Errorf("expected task in done at 0, got %s/%d", moved.SectionID, moved.Position)
	}

	// Source section renumbers densely.
	rest, _ := s.TaskByID(ids[1])
	if rest.Position != 0 {
		t.Errorf("expected remaining task at 0, got %d", rest.Position)
	}
}

func TestMemStore_MoveUpdatesSectionEnteredAt(t *testing.T) {
	s := newStore()
	base := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })

	ids := addTasks(s, "todo", "a")
	later := base.Add(time.Hour)
	s.SetClock(func() time.Time { return later })

	// Reorder within the section: entry timestamp stays.
	if err := s.MoveTask(ids[0], "todo", board.PositionBottom); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := s.TaskByID(ids[0])
	if !got.SectionEnteredAt.Equal(base) {
		t.Errorf("expected unchanged SectionEnteredAt, got %s", got.SectionEnteredAt)
	}

	// Cross-section move resets it.
	if err := s.MoveTask(ids[0], "done", board.PositionTop); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = s.TaskByID(ids[0])
	if !got.SectionEnteredAt.Equal(later) {
		t.Errorf("expected SectionEnteredAt %s, got %s", later, got.SectionEnteredAt)
	}
}

func TestMemStore_PlaceTaskRestoresIndex(t *testing.T) {
	s := newStore()
	ids := addTasks(s, "todo", "a", "b", "c")

	if err := s.MoveTask(ids[1], "todo", board.PositionTop); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.PlaceTask(ids[1], "todo", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := positions(t, s, "todo")
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestMemStore_PlaceTaskClampsIndex(t *testing.T) {
	s := newStore()
	ids := addTasks(s, "todo", "a")

	if err := s.PlaceTask(ids[0], "done", 99); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := s.TaskByID(ids[0])
	if got.SectionID != "done" || got.Position != 0 {
		t.Errorf("expected done/0, got %s/%d", got.SectionID, got.Position)
	}
}

func TestMemStore_SetCompleted(t *testing.T) {
	s := newStore()
	ids := addTasks(s, "todo", "a")
	at := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

	if err := s.SetCompleted(ids[0], true, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := s.TaskByID(ids[0])
	if !got.Completed || got.CompletedAt == nil || !got.CompletedAt.Equal(at) {
		t.Errorf("expected completed at %s, got %+v", at, got)
	}

	if err := s.SetCompleted(ids[0], false, time.Time{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = s.TaskByID(ids[0])
	if got.Completed || got.CompletedAt != nil {
		t.Errorf("expected incomplete with no timestamp, got %+v", got)
	}
}

func TestMemStore_SetDueDate(t *testing.T) {
	s := newStore()
	ids := addTasks(s, "todo", "a")
	due := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	if err := s.SetDueDate(ids[0], &due); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := s.TaskByID(ids[0])
	if got.DueAt == nil || !got.DueAt.Equal(due) {
		t.Errorf("expected due %s, got %+v", due, got.DueAt)
	}

	if err := s.SetDueDate(ids[0], nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = s.TaskByID(ids[0])
	if got.DueAt != nil {
		t.Errorf("expected cleared due date, got %s", got.DueAt)
	}
}

func TestMemStore_CreateAndDeleteTask(t *testing.T) {
	s := newStore()
	addTasks(s, "todo", "a")

	created := &board.Task{ProjectID: "p1", SectionID: "todo", Title: "b"}
	if err := s.CreateTask(created); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated task ID")
	}
	got, _ := s.TaskByID(created.ID)
	if got.Position != 1 {
		t.Errorf("expected appended at position 1, got %d", got.Position)
	}

	if err := s.CreateTask(&board.Task{ProjectID: "p1", SectionID: "ghost", Title: "x"}); !errors.Is(err, board.ErrSectionNotFound) {
		t.Errorf("expected ErrSectionNotFound, got %v", err)
	}

	if err := s.DeleteTask(created.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.TaskByID(created.ID); !errors.Is(err, board.ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound after delete, got %v", err)
	}
}

func TestMemStore_ReadsReturnCopies(t *testing.T) {
	s := newStore()
	ids := addTasks(s, "todo", "a")

	got, _ := s.TaskByID(ids[0])
	got.Title = "mutated"

	again, _ := s.TaskByID(ids[0])
	if again.Title != "a" {
		t.Errorf("expected stored task unchanged, got %q", again.Title)
	}
}
