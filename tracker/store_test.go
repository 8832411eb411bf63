package tracker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func fixedClock(start time.Time) func() time.Time {
	return func() time.Time { return start }
}

func TestSQLiteStoreTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	task, err := store.CreateTask(ctx, TaskPatch{
		Title:        StringPtr("Write migration guide"),
		EstimateDays: IntPtr(2),
		Assignee:     StringPtr("alice"),
		Tags:         TagsPtr([]string{"docs", " month:1 ", "docs", ""}),
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if task.ID <= 0 {
		t.Fatalf("CreateTask() id = %d, want > 0", task.ID)
	}
	if task.Status != StatusBacklog || task.Priority != PriorityMedium || task.PercentComplete != 0 {
		t.Fatalf("CreateTask() defaults unexpected: %+v", task)
	}
	if len(task.Tags) != 2 || task.Tags[0] != "docs" || task.Tags[1] != "month:1" {
		t.Fatalf("task tags = %v, want [docs month:1]", task.Tags)
	}
	if !task.CreatedAt.Equal(task.UpdatedAt) {
		t.Fatalf("created_at %v != updated_at %v", task.CreatedAt, task.UpdatedAt)
	}

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got == nil {
		t.Fatalf("GetTask() returned nil")
	}
	if got.Title != task.Title || got.EstimateDays != 2 || got.Assignee != "alice" ||
		!got.CreatedAt.Equal(task.CreatedAt) || len(got.Tags) != 2 {
		t.Fatalf("GetTask() = %+v, want %+v", got, task)
	}

	updated, err := store.UpdateTask(ctx, task.ID, TaskPatch{Status: StatusPtr(StatusDone)})
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if updated.Status != StatusDone {
		t.Fatalf("status = %s, want %s", updated.Status, StatusDone)
	}
	if !updated.UpdatedAt.After(task.UpdatedAt) {
		t.Fatalf("updated_at %v not after %v", updated.UpdatedAt, task.UpdatedAt)
	}
	if !updated.CreatedAt.Equal(task.CreatedAt) {
		t.Fatalf("created_at changed: %v -> %v", task.CreatedAt, updated.CreatedAt)
	}
	if updated.Assignee != "alice" || updated.EstimateDays != 2 {
		t.Fatalf("UpdateTask() lost untouched fields: %+v", updated)
	}

	got, err = store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != StatusDone || !got.UpdatedAt.Equal(updated.UpdatedAt) {
		t.Fatalf("GetTask() after update = %+v", got)
	}
}

func TestGetTaskMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)
	task, err := store.GetTask(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if task != nil {
		t.Fatalf("GetTask() = %+v, want nil", task)
	}
}

func TestUpdateTaskNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.UpdateTask(context.Background(), 99, TaskPatch{Title: StringPtr("x")})
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("UpdateTask() error = %v, want ErrTaskNotFound", err)
	}
	if KindOf(err) != KindNotFound {
		t.Fatalf("KindOf() = %s, want %s", KindOf(err), KindNotFound)
	}
}

func TestUpdateTaskBumpsUpdatedAtWhenClockStalls(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.now = fixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	task, err := store.CreateTask(ctx, TaskPatch{Title: StringPtr("stalled clock")})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	prev := task.UpdatedAt
	for i := 0; i < 3; i++ {
		updated, err := store.UpdateTask(ctx, task.ID, TaskPatch{})
		if err != nil {
			t.Fatalf("UpdateTask() error = %v", err)
		}
		if !updated.UpdatedAt.After(prev) {
			t.Fatalf("round %d: updated_at %v not after %v", i, updated.UpdatedAt, prev)
		}
		prev = updated.UpdatedAt
	}
}

func TestUpdateTaskClampsPercent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	task, err := store.CreateTask(ctx, TaskPatch{Title: StringPtr("clamp")})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	tests := []struct {
		in   int
		want int
	}{
		{150, 100},
		{-5, 0},
		{42, 42},
	}
	for _, tt := range tests {
		updated, err := store.UpdateTask(ctx, task.ID, TaskPatch{PercentComplete: IntPtr(tt.in)})
		if err != nil {
			t.Fatalf("UpdateTask(%d) error = %v", tt.in, err)
		}
		if updated.PercentComplete != tt.want {
			t.Fatalf("percent_complete(%d) = %d, want %d", tt.in, updated.PercentComplete, tt.want)
		}
	}

	patch, err := ParseTaskPatch([]byte(`{"percent_complete":1e20}`))
	if err != nil {
		t.Fatalf("ParseTaskPatch() error = %v", err)
	}
	updated, err := store.UpdateTask(ctx, task.ID, patch)
	if err != nil {
		t.Fatalf("UpdateTask(1e20) error = %v", err)
	}
	if updated.PercentComplete != 100 {
		t.Fatalf("percent_complete(1e20) = %d, want 100", updated.PercentComplete)
	}
}

func TestCreateTaskConcurrentIDsUnique(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const n = 50
	ids := make(chan int64, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task, err := store.CreateTask(ctx, TaskPatch{Title: StringPtr(fmt.Sprintf("task %d", i))})
			if err != nil {
				errs <- err
				return
			}
			ids <- task.ID
		}(i)
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Fatalf("CreateTask() error = %v", err)
	}
	seen := make(map[int64]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate task id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("created %d tasks, want %d", len(seen), n)
	}
	count, err := store.CountTasks(ctx)
	if err != nil {
		t.Fatalf("CountTasks() error = %v", err)
	}
	if count != n {
		t.Fatalf("CountTasks() = %d, want %d", count, n)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	tests := []struct {
		name  string
		patch TaskPatch
	}{
		{"missing title", TaskPatch{}},
		{"blank title", TaskPatch{Title: StringPtr("   ")}},
		{"bad status", TaskPatch{Title: StringPtr("x"), Status: StatusPtr("stuck")}},
		{"bad priority", TaskPatch{Title: StringPtr("x"), Priority: PriorityPtr("urgent")}},
		{"negative estimate", TaskPatch{Title: StringPtr("x"), EstimateDays: IntPtr(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.CreateTask(ctx, tt.patch)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("CreateTask() error = %v, want validation error", err)
			}
		})
	}
}

func TestListTasksFilterAndSummary(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seed := []TaskPatch{
		{Title: StringPtr("a"), Assignee: StringPtr("alice"), Status: StatusPtr(StatusTodo)},
		{Title: StringPtr("b"), Assignee: StringPtr("bob"), Status: StatusPtr(StatusTodo)},
		{Title: StringPtr("c"), Assignee: StringPtr("alice"), Status: StatusPtr(StatusDone)},
		{Title: StringPtr("d")},
	}
	for _, p := range seed {
		if _, err := store.CreateTask(ctx, p); err != nil {
			t.Fatalf("CreateTask() error = %v", err)
		}
	}

	all, err := store.ListTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("ListTasks() len = %d, want 4", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].ID >= all[i].ID {
			t.Fatalf("ListTasks() not ordered by id: %d then %d", all[i-1].ID, all[i].ID)
		}
	}

	todo, err := store.ListTasks(ctx, TaskFilter{Status: StatusTodo})
	if err != nil {
		t.Fatalf("ListTasks(status) error = %v", err)
	}
	if len(todo) != 2 {
		t.Fatalf("ListTasks(status=todo) len = %d, want 2", len(todo))
	}

	both, err := store.ListTasks(ctx, TaskFilter{Status: StatusTodo, Assignee: "alice"})
	if err != nil {
		t.Fatalf("ListTasks(status, assignee) error = %v", err)
	}
	if len(both) != 1 || both[0].Title != "a" {
		t.Fatalf("ListTasks(todo, alice) = %+v, want [a]", both)
	}

	summary, err := store.TaskSummary(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("TaskSummary() error = %v", err)
	}
	if summary.Total != 4 || summary.Todo != 2 || summary.Done != 1 || summary.Backlog != 1 {
		t.Fatalf("summary unexpected: %+v", summary)
	}

	summary, err = store.TaskSummary(ctx, TaskFilter{Assignee: "alice"})
	if err != nil {
		t.Fatalf("TaskSummary(alice) error = %v", err)
	}
	if summary.Total != 2 || summary.Todo != 1 || summary.Done != 1 {
		t.Fatalf("summary(alice) unexpected: %+v", summary)
	}
}

func TestCreateReportMovesTaskToReview(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	task, err := store.CreateTask(ctx, TaskPatch{Title: StringPtr("ship"), Status: StatusPtr(StatusDone)})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	report := &Report{
		ID:             "r1",
		TaskID:         task.ID,
		Summary:        "Done",
		EvidenceLinks:  []string{"https://ci.example/run/42"},
		TimeSpentHours: 1.5,
		Metrics:        map[string]interface{}{"tests": 12.0, "env": "staging"},
		CreatedAt:      msTime(time.Now()),
	}
	if err := store.CreateReport(ctx, report); err != nil {
		t.Fatalf("CreateReport() error = %v", err)
	}

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != StatusReview {
		t.Fatalf("status = %s, want %s", got.Status, StatusReview)
	}
	if !got.UpdatedAt.After(task.UpdatedAt) {
		t.Fatalf("updated_at %v not after %v", got.UpdatedAt, task.UpdatedAt)
	}

	reports, err := store.ListReports(ctx, task.ID)
	if err != nil {
		t.Fatalf("ListReports() error = %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("ListReports() len = %d, want 1", len(reports))
	}
	if reports[0].Summary != "Done" || reports[0].Metrics["env"] != "staging" || reports[0].Metrics["tests"] != 12.0 {
		t.Fatalf("report unexpected: %+v", reports[0])
	}
	if len(reports[0].Checklist) != 0 || reports[0].Attachments == nil {
		t.Fatalf("report defaults unexpected: %+v", reports[0])
	}
}

func TestCreateReportMissingTaskLeavesNoReport(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.CreateReport(ctx, &Report{ID: "orphan", TaskID: 7, Summary: "x", CreatedAt: time.Now()})
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("CreateReport() error = %v, want ErrTaskNotFound", err)
	}
	reports, err := store.ListReports(ctx, 7)
	if err != nil {
		t.Fatalf("ListReports() error = %v", err)
	}
	if len(reports) != 0 {
		t.Fatalf("ListReports() len = %d, want 0", len(reports))
	}
}

func TestStoreReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "tracker.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	task, err := store.CreateTask(ctx, TaskPatch{Title: StringPtr("persist me"), Tags: TagsPtr([]string{"sprint:2"})})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore() reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got == nil || got.Title != "persist me" || len(got.Tags) != 1 || got.Tags[0] != "sprint:2" {
		t.Fatalf("GetTask() after reopen = %+v", got)
	}

	next, err := reopened.CreateTask(ctx, TaskPatch{Title: StringPtr("second")})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if next.ID <= task.ID {
		t.Fatalf("next id = %d, want > %d", next.ID, task.ID)
	}
}
