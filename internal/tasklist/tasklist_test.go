package tasklist_test

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/tasklist"
	"github.com/haasonsaas/nexus/pkg/models"
)

func newTestEngine(t *testing.T) (*tasklist.Engine, string) {
	t.Helper()
	store := sessions.NewMemoryStore()
	threadID := "thread-tasklist-1"
	if err := store.Create(context.Background(), &models.Session{ID: threadID, Channel: models.ChannelAPI}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return tasklist.New(store), threadID
}

func TestView_EmptySnapshotWhenNoHistory(t *testing.T) {
	engine, threadID := newTestEngine(t)
	snap, err := engine.View(context.Background(), threadID)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if len(snap.Sections) != 0 || len(snap.Tasks) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestCreate_DefaultsToTasksSectionWhenNoHintGiven(t *testing.T) {
	engine, threadID := newTestEngine(t)
	ctx := context.Background()

	snap, err := engine.Create(ctx, threadID, tasklist.CreateRequest{TaskContents: []string{"write tests", "ship it"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(snap.Sections) != 1 || snap.Sections[0].Title != "Tasks" {
		t.Fatalf("expected a single 'Tasks' section, got %+v", snap.Sections)
	}
	if len(snap.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(snap.Tasks))
	}
	for _, task := range snap.Tasks {
		if task.Status != models.TaskItemPending {
			t.Fatalf("expected new tasks to be pending, got %q", task.Status)
		}
		if task.SectionID != snap.Sections[0].ID {
			t.Fatalf("expected task section id %q, got %q", snap.Sections[0].ID, task.SectionID)
		}
	}
}

func TestCreate_BatchSectionsMergeByCaseInsensitiveTitle(t *testing.T) {
	engine, threadID := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Create(ctx, threadID, tasklist.CreateRequest{
		Sections: []tasklist.CreateSection{{Title: "Backend", Tasks: []string{"migrate db"}}},
	}); err != nil {
		t.Fatalf("first Create: %v", err)
	}

	snap, err := engine.Create(ctx, threadID, tasklist.CreateRequest{
		Sections: []tasklist.CreateSection{{Title: "backend", Tasks: []string{"add index"}}},
	})
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if len(snap.Sections) != 1 {
		t.Fatalf("expected the case-insensitive title match to reuse the section, got %+v", snap.Sections)
	}
	if len(snap.Tasks) != 2 {
		t.Fatalf("expected tasks from both calls to accumulate, got %d", len(snap.Tasks))
	}
}

func TestCreate_RejectsEmptyRequest(t *testing.T) {
	engine, threadID := newTestEngine(t)
	if _, err := engine.Create(context.Background(), threadID, tasklist.CreateRequest{}); err == nil {
		t.Fatal("expected an error for a request with neither sections nor task_contents")
	}
}

func TestUpdate_ChangesStatusAndLeavesUnsetFieldsAlone(t *testing.T) {
	engine, threadID := newTestEngine(t)
	ctx := context.Background()

	snap, err := engine.Create(ctx, threadID, tasklist.CreateRequest{TaskContents: []string{"do the thing"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	taskID := snap.Tasks[0].ID

	updated, err := engine.Update(ctx, threadID, tasklist.UpdateRequest{
		TaskIDs: []string{taskID},
		Status:  models.TaskItemCompleted,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Tasks[0].Status != models.TaskItemCompleted {
		t.Fatalf("expected status completed, got %q", updated.Tasks[0].Status)
	}
	if updated.Tasks[0].Content != "do the thing" {
		t.Fatalf("expected content to remain unchanged, got %q", updated.Tasks[0].Content)
	}
}

func TestUpdate_UnknownTaskIDIsRejected(t *testing.T) {
	engine, threadID := newTestEngine(t)
	_, err := engine.Update(context.Background(), threadID, tasklist.UpdateRequest{TaskIDs: []string{"missing"}, Status: models.TaskItemCompleted})
	if err == nil {
		t.Fatal("expected an error for an unknown task id")
	}
}

func TestDelete_SectionRequiresConfirm(t *testing.T) {
	engine, threadID := newTestEngine(t)
	ctx := context.Background()

	snap, err := engine.Create(ctx, threadID, tasklist.CreateRequest{
		Sections: []tasklist.CreateSection{{Title: "Backend", Tasks: []string{"migrate db"}}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := engine.Delete(ctx, threadID, tasklist.DeleteRequest{SectionIDs: []string{snap.Sections[0].ID}}); err == nil {
		t.Fatal("expected an error deleting a section without confirm")
	}

	result, err := engine.Delete(ctx, threadID, tasklist.DeleteRequest{SectionIDs: []string{snap.Sections[0].ID}, Confirm: true})
	if err != nil {
		t.Fatalf("Delete with confirm: %v", err)
	}
	if len(result.Sections) != 0 || len(result.Tasks) != 0 {
		t.Fatalf("expected section deletion to cascade to its tasks, got %+v", result)
	}
}

func TestClearAll_RequiresConfirmAndWipesEverything(t *testing.T) {
	engine, threadID := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Create(ctx, threadID, tasklist.CreateRequest{TaskContents: []string{"one"}}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := engine.ClearAll(ctx, threadID, false); err == nil {
		t.Fatal("expected an error clearing all without confirm")
	}

	snap, err := engine.ClearAll(ctx, threadID, true)
	if err != nil {
		t.Fatalf("ClearAll with confirm: %v", err)
	}
	if len(snap.Sections) != 0 || len(snap.Tasks) != 0 {
		t.Fatalf("expected an empty snapshot after ClearAll, got %+v", snap)
	}

	reloaded, err := engine.View(ctx, threadID)
	if err != nil {
		t.Fatalf("View after ClearAll: %v", err)
	}
	if len(reloaded.Sections) != 0 || len(reloaded.Tasks) != 0 {
		t.Fatalf("expected ClearAll to persist, got %+v", reloaded)
	}
}
