package action_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/p-blackswan/board-automation/internal/action"
	"github.com/p-blackswan/board-automation/internal/board"
	"github.com/p-blackswan/board-automation/internal/dateopt"
)

var now = time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC) // Wednesday

func setup() (*action.Executor, *board.MemStore, *board.Task) {
	store := board.NewMemStore()
	store.AddSection(&board.Section{ID: "todo", ProjectID: "p1", Name: "To Do"})
	store.AddSection(&board.Section{ID: "done", ProjectID: "p1", Name: "Done", Position: 1})
	task := store.AddTask(&board.Task{ProjectID: "p1", SectionID: "todo", Title: "write report"})
	return action.NewExecutor(store), store, task
}

func TestExecute_Move(t *testing.T) {
	exec, store, task := setup()

	res, err := exec.Execute(action.Action{Kind: action.KindMoveToBottom, SectionID: "done"}, task, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Description != `Moved "write report" to bottom of "Done"` {
		t.Errorf("unexpected description: %s", res.Description)
	}

	got, _ := store.TaskByID(task.ID)
	if got.SectionID != "done" {
		t.Errorf("expected task in done, got %s", got.SectionID)
	}
}

func TestExecute_MoveToMissingSection(t *testing.T) {
	exec, _, task := setup()

	_, err := exec.Execute(action.Action{Kind: action.KindMoveToTop, SectionID: "ghost"}, task, now)
	if !errors.Is(err, board.ErrSectionNotFound) {
		t.Errorf("expected ErrSectionNotFound, got %v", err)
	}
}

func TestExecute_MarkComplete(t *testing.T) {
	exec, store, task := setup()

	res, err := exec.Execute(action.Action{Kind: action.KindMarkComplete}, task, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Description != `Marked "write report" complete` {
		t.Errorf("unexpected description: %s", res.Description)
	}

	got, _ := store.TaskByID(task.ID)
	if !got.Completed || got.CompletedAt == nil || !got.CompletedAt.Equal(now) {
		t.Errorf("expected completed at %s, got %+v", now, got)
	}

	if _, err := exec.Execute(action.Action{Kind: action.KindMarkIncomplete}, task, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = store.TaskByID(task.ID)
	if got.Completed || got.CompletedAt != nil {
		t.Errorf("expected incomplete, got %+v", got)
	}
}

func TestExecute_SetDueDate(t *testing.T) {
	exec, store, task := setup()

	act := action.Action{
		Kind:       action.KindSetDueDate,
		DateOption: &dateopt.Option{Kind: dateopt.KindTomorrow},
	}
	res, err := exec.Execute(act, task, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Description, "2025-03-13") {
		t.Errorf("unexpected description: %s", res.Description)
	}

	got, _ := store.TaskByID(task.ID)
	want := time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC)
	if got.DueAt == nil || !got.DueAt.Equal(want) {
		t.Errorf("expected due %s, got %+v", want, got.DueAt)
	}
}

func TestExecute_RemoveDueDate(t *testing.T) {
	exec, store, task := setup()
	due := now.AddDate(0, 0, 3)
	if err := store.SetDueDate(task.ID, &due); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := exec.Execute(action.Action{Kind: action.KindRemoveDueDate}, task, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := store.TaskByID(task.ID)
	if got.DueAt != nil {
		t.Errorf("expected no due date, got %s", got.DueAt)
	}
}

func TestExecute_CreateCard_InterpolatesDate(t *testing.T) {
	exec, store, _ := setup()

	act := action.Action{
		Kind:          action.KindCreateCard,
		SectionID:     "todo",
		TitleTemplate: "Standup notes {{date}}",
	}
	res, err := exec.Execute(act, nil, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CreatedTaskID == "" {
		t.Fatal("expected created task ID")
	}

	got, _ := store.TaskByID(res.CreatedTaskID)
	want := "Standup notes 2025-03-12 (Wednesday)"
	if got.Title != want {
		t.Errorf("expected title %q, got %q", want, got.Title)
	}
	if got.ProjectID != "p1" || got.SectionID != "todo" {
		t.Errorf("unexpected placement: %s/%s", got.ProjectID, got.SectionID)
	}
}

func TestExecute_CreateCard_WithDueDate(t *testing.T) {
	exec, store, _ := setup()

	act := action.Action{
		Kind:          action.KindCreateCard,
		SectionID:     "todo",
		TitleTemplate: "Monthly review",
		DateOption:    &dateopt.Option{Kind: dateopt.KindLastDayOfMonth},
	}
	res, err := exec.Execute(act, nil, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := store.TaskByID(res.CreatedTaskID)
	want := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	if got.DueAt == nil || !got.DueAt.Equal(want) {
		t.Errorf("expected due %s, got %+v", want, got.DueAt)
	}
}

func TestExecute_ValidatesAction(t *testing.T) {
	exec, _, task := setup()

	cases := []action.Action{
		{},
		{Kind: "explode"},
		{Kind: action.KindMoveToTop},
		{Kind: action.KindSetDueDate},
		{Kind: action.KindCreateCard, SectionID: "todo"},
	}
	for _, act := range cases {
		if _, err := exec.Execute(act, task, now); err == nil {
			t.Errorf("expected error for %+v", act)
		}
	}
}

func TestSnapshot(t *testing.T) {
	exec, store, task := setup()
	due := now.AddDate(0, 0, 2)
	if err := store.SetDueDate(task.ID, &due); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task, _ = store.TaskByID(task.ID)

	snap := exec.Snapshot(action.Action{Kind: action.KindMoveToTop, SectionID: "done"}, task)
	if snap == nil || snap.SectionID != "todo" || snap.Position != 0 {
		t.Errorf("unexpected move snapshot: %+v", snap)
	}

	snap = exec.Snapshot(action.Action{Kind: action.KindMarkComplete}, task)
	if snap == nil || snap.Completed || snap.CompletedAt != nil {
		t.Errorf("unexpected completion snapshot: %+v", snap)
	}

	snap = exec.Snapshot(action.Action{Kind: action.KindSetDueDate}, task)
	if snap == nil || snap.DueAt == nil || !snap.DueAt.Equal(due) {
		t.Errorf("unexpected due date snapshot: %+v", snap)
	}

	// Nothing exists yet to snapshot for create_card.
	if snap := exec.Snapshot(action.Action{Kind: action.KindCreateCard}, task); snap != nil {
		t.Errorf("expected nil snapshot for create_card, got %+v", snap)
	}
	if snap := exec.Snapshot(action.Action{Kind: action.KindMoveToTop}, nil); snap != nil {
		t.Errorf("expected nil snapshot for nil task, got %+v", snap)
	}
}

func TestDescribe(t *testing.T) {
	exec, _, _ := setup()

	got := exec.Describe(action.Action{Kind: action.KindMoveToTop, SectionID: "done"})
	if got != `Move card to top of "Done"` {
		t.Errorf("unexpected description: %s", got)
	}

	got = exec.Describe(action.Action{Kind: action.KindMoveToTop, SectionID: "ghost"})
	if !strings.Contains(got, "section ghost") {
		t.Errorf("expected fallback section name, got %s", got)
	}
}
