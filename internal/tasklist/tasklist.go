// Package tasklist implements the Task List Engine: a sectioned TODO
// list scoped to a thread, persisted as the JSON content of the
// thread's most recent task_list message rather than as its own
// table. Every mutation loads the latest snapshot, applies the
// operation in memory, and appends a new task_list message with the
// full resulting state — the list's history is therefore the
// thread's message history, replaying in order with everything else.
package tasklist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/pkg/models"
)

// ValidationError reports a rejected mutation (unknown id, missing
// confirm flag, empty input). Batch operations are all-or-nothing: a
// ValidationError means the snapshot was not saved.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Engine mutates and reads a thread's task list snapshot. One Engine is
// shared across threads; a per-thread lock (mirroring
// internal/agent/tool_registry.go's sessionLock) serializes concurrent
// load-modify-save cycles so two simultaneous tool calls can't race and
// drop one's edits.
type Engine struct {
	store sessions.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds an Engine over a session store.
func New(store sessions.Store) *Engine {
	return &Engine{store: store, locks: make(map[string]*sync.Mutex)}
}

func (e *Engine) threadLock(threadID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[threadID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[threadID] = l
	}
	return l
}

// load returns the thread's current snapshot: the content of its most
// recent task_list message, or an empty snapshot if none exists yet.
func (e *Engine) load(ctx context.Context, threadID string) (models.TaskListSnapshot, error) {
	history, err := e.store.GetHistory(ctx, threadID, 0)
	if err != nil {
		return models.TaskListSnapshot{}, fmt.Errorf("tasklist: load history: %w", err)
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Type != models.MessageTypeTaskList {
			continue
		}
		var snap models.TaskListSnapshot
		if err := json.Unmarshal([]byte(history[i].Content), &snap); err != nil {
			return models.TaskListSnapshot{}, fmt.Errorf("tasklist: decode snapshot: %w", err)
		}
		return snap, nil
	}
	return models.TaskListSnapshot{Sections: []models.TaskSection{}, Tasks: []models.TaskItem{}}, nil
}

// save appends the new snapshot as a task_list message.
func (e *Engine) save(ctx context.Context, threadID string, snap models.TaskListSnapshot) error {
	content, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("tasklist: encode snapshot: %w", err)
	}
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: threadID,
		Type:      models.MessageTypeTaskList,
		Role:      models.RoleSystem,
		Content:   string(content),
	}
	if err := e.store.AppendMessage(ctx, threadID, msg); err != nil {
		return fmt.Errorf("tasklist: save snapshot: %w", err)
	}
	return nil
}

// View returns the current snapshot unchanged.
func (e *Engine) View(ctx context.Context, threadID string) (models.TaskListSnapshot, error) {
	l := e.threadLock(threadID)
	l.Lock()
	defer l.Unlock()
	return e.load(ctx, threadID)
}

// CreateSection describes one section's worth of new tasks for batch
// creation via Create.
type CreateSection struct {
	Title string
	Tasks []string
}

// Create adds tasks to one or more sections, creating any section that
// doesn't already exist by a case-insensitive title match. Exactly one
// of Sections (batch, multi-section) or (SectionTitle|SectionID plus
// TaskContents) (single-section) must be used; if neither section hint
// is given, tasks land in a section titled "Tasks".
type CreateRequest struct {
	Sections     []CreateSection
	SectionTitle string
	SectionID    string
	TaskContents []string
}

func (e *Engine) Create(ctx context.Context, threadID string, req CreateRequest) (models.TaskListSnapshot, error) {
	l := e.threadLock(threadID)
	l.Lock()
	defer l.Unlock()

	snap, err := e.load(ctx, threadID)
	if err != nil {
		return models.TaskListSnapshot{}, err
	}

	titleIndex := make(map[string]int, len(snap.Sections))
	for i, s := range snap.Sections {
		titleIndex[strings.ToLower(strings.TrimSpace(s.Title))] = i
	}
	sectionByTitle := func(title string) models.TaskSection {
		key := strings.ToLower(strings.TrimSpace(title))
		if i, ok := titleIndex[key]; ok {
			return snap.Sections[i]
		}
		sec := models.TaskSection{ID: uuid.NewString(), Title: title}
		snap.Sections = append(snap.Sections, sec)
		titleIndex[key] = len(snap.Sections) - 1
		return sec
	}

	switch {
	case len(req.Sections) > 0:
		for _, in := range req.Sections {
			if strings.TrimSpace(in.Title) == "" {
				return models.TaskListSnapshot{}, invalid("section title is required")
			}
			sec := sectionByTitle(in.Title)
			for _, content := range in.Tasks {
				snap.Tasks = append(snap.Tasks, models.TaskItem{
					ID: uuid.NewString(), Content: content,
					Status: models.TaskItemPending, SectionID: sec.ID,
				})
			}
		}
	case len(req.TaskContents) > 0:
		var sec models.TaskSection
		switch {
		case req.SectionID != "":
			found := false
			for _, s := range snap.Sections {
				if s.ID == req.SectionID {
					sec, found = s, true
					break
				}
			}
			if !found {
				return models.TaskListSnapshot{}, invalid("section id %q not found", req.SectionID)
			}
		case req.SectionTitle != "":
			sec = sectionByTitle(req.SectionTitle)
		default:
			sec = sectionByTitle("Tasks")
		}
		for _, content := range req.TaskContents {
			snap.Tasks = append(snap.Tasks, models.TaskItem{
				ID: uuid.NewString(), Content: content,
				Status: models.TaskItemPending, SectionID: sec.ID,
			})
		}
	default:
		return models.TaskListSnapshot{}, invalid("must provide sections or task_contents")
	}

	if err := e.save(ctx, threadID, snap); err != nil {
		return models.TaskListSnapshot{}, err
	}
	return snap, nil
}

// UpdateRequest updates one or more existing tasks. Any zero-value
// field (Content=="", Status=="", SectionID=="") is left unchanged on
// the targeted tasks.
type UpdateRequest struct {
	TaskIDs   []string
	Content   string
	Status    models.TaskItemStatus
	SectionID string
}

func (e *Engine) Update(ctx context.Context, threadID string, req UpdateRequest) (models.TaskListSnapshot, error) {
	l := e.threadLock(threadID)
	l.Lock()
	defer l.Unlock()

	snap, err := e.load(ctx, threadID)
	if err != nil {
		return models.TaskListSnapshot{}, err
	}

	if len(req.TaskIDs) == 0 {
		return models.TaskListSnapshot{}, invalid("task_ids is required")
	}
	if req.SectionID != "" {
		found := false
		for _, s := range snap.Sections {
			if s.ID == req.SectionID {
				found = true
				break
			}
		}
		if !found {
			return models.TaskListSnapshot{}, invalid("section id %q not found", req.SectionID)
		}
	}

	byID := make(map[string]int, len(snap.Tasks))
	for i, t := range snap.Tasks {
		byID[t.ID] = i
	}
	var missing []string
	for _, id := range req.TaskIDs {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return models.TaskListSnapshot{}, invalid("task ids not found: %s", strings.Join(missing, ", "))
	}

	for _, id := range req.TaskIDs {
		i := byID[id]
		if req.Content != "" {
			snap.Tasks[i].Content = req.Content
		}
		if req.Status != "" {
			snap.Tasks[i].Status = req.Status
		}
		if req.SectionID != "" {
			snap.Tasks[i].SectionID = req.SectionID
		}
	}

	if err := e.save(ctx, threadID, snap); err != nil {
		return models.TaskListSnapshot{}, err
	}
	return snap, nil
}

// DeleteRequest removes tasks and/or whole sections (cascading to the
// section's tasks). Deleting any section requires Confirm.
type DeleteRequest struct {
	TaskIDs    []string
	SectionIDs []string
	Confirm    bool
}

func (e *Engine) Delete(ctx context.Context, threadID string, req DeleteRequest) (models.TaskListSnapshot, error) {
	l := e.threadLock(threadID)
	l.Lock()
	defer l.Unlock()

	if len(req.TaskIDs) == 0 && len(req.SectionIDs) == 0 {
		return models.TaskListSnapshot{}, invalid("must provide task_ids or section_ids")
	}
	if len(req.SectionIDs) > 0 && !req.Confirm {
		return models.TaskListSnapshot{}, invalid("must set confirm=true to delete sections")
	}

	snap, err := e.load(ctx, threadID)
	if err != nil {
		return models.TaskListSnapshot{}, err
	}

	if len(req.TaskIDs) > 0 {
		taskSet := make(map[string]bool, len(req.TaskIDs))
		for _, t := range snap.Tasks {
			taskSet[t.ID] = false
		}
		var missing []string
		for _, id := range req.TaskIDs {
			if _, ok := taskSet[id]; !ok {
				missing = append(missing, id)
			} else {
				taskSet[id] = true
			}
		}
		if len(missing) > 0 {
			return models.TaskListSnapshot{}, invalid("task ids not found: %s", strings.Join(missing, ", "))
		}
		remaining := snap.Tasks[:0:0]
		for _, t := range snap.Tasks {
			if !taskSet[t.ID] {
				remaining = append(remaining, t)
			}
		}
		snap.Tasks = remaining
	}

	if len(req.SectionIDs) > 0 {
		sectionSet := make(map[string]bool, len(req.SectionIDs))
		known := make(map[string]bool, len(snap.Sections))
		for _, s := range snap.Sections {
			known[s.ID] = true
		}
		var missing []string
		for _, id := range req.SectionIDs {
			if !known[id] {
				missing = append(missing, id)
			} else {
				sectionSet[id] = true
			}
		}
		if len(missing) > 0 {
			return models.TaskListSnapshot{}, invalid("section ids not found: %s", strings.Join(missing, ", "))
		}
		remainingSections := snap.Sections[:0:0]
		for _, s := range snap.Sections {
			if !sectionSet[s.ID] {
				remainingSections = append(remainingSections, s)
			}
		}
		remainingTasks := snap.Tasks[:0:0]
		for _, t := range snap.Tasks {
			if !sectionSet[t.SectionID] {
				remainingTasks = append(remainingTasks, t)
			}
		}
		snap.Sections = remainingSections
		snap.Tasks = remainingTasks
	}

	if err := e.save(ctx, threadID, snap); err != nil {
		return models.TaskListSnapshot{}, err
	}
	return snap, nil
}

// ClearAll wipes every section and task. Requires confirm.
func (e *Engine) ClearAll(ctx context.Context, threadID string, confirm bool) (models.TaskListSnapshot, error) {
	l := e.threadLock(threadID)
	l.Lock()
	defer l.Unlock()

	if !confirm {
		return models.TaskListSnapshot{}, invalid("must set confirm=true to clear all data")
	}

	snap := models.TaskListSnapshot{Sections: []models.TaskSection{}, Tasks: []models.TaskItem{}}
	if err := e.save(ctx, threadID, snap); err != nil {
		return models.TaskListSnapshot{}, err
	}
	return snap, nil
}
