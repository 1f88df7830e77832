// Package tasklist exposes the Task List Engine (internal/tasklist) as
// agent tools: create_tasks, view_tasks, update_tasks, delete_tasks,
// clear_all. Each tool resolves the current thread from the run
// context (agent.SessionFromContext) the way internal/tools/files
// resolves the current workspace from its Resolver.
package tasklist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/tasklist"
	"github.com/haasonsaas/nexus/pkg/models"
)

func threadID(ctx context.Context) (string, error) {
	session := agent.SessionFromContext(ctx)
	if session == nil || session.ID == "" {
		return "", fmt.Errorf("no active thread in context")
	}
	return session.ID, nil
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}

func snapshotResult(snap models.TaskListSnapshot) (*agent.ToolResult, error) {
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("tasklist: encode response: %w", err)
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// CreateTasksTool implements create_tasks.
type CreateTasksTool struct {
	engine *tasklist.Engine
}

// NewCreateTasksTool builds the create_tasks tool over a shared Engine.
func NewCreateTasksTool(engine *tasklist.Engine) *CreateTasksTool {
	return &CreateTasksTool{engine: engine}
}

func (t *CreateTasksTool) Name() string { return "create_tasks" }

func (t *CreateTasksTool) Description() string {
	return "Create tasks organized by sections. Supports batch creation across multiple sections or single-section creation; creates sections that don't already exist."
}

func (t *CreateTasksTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"sections": map[string]interface{}{
				"type":        "array",
				"description": "Batch creation: a list of {title, tasks[]} sections.",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"title": map[string]interface{}{"type": "string"},
						"tasks": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					},
					"required": []string{"title", "tasks"},
				},
			},
			"section_title": map[string]interface{}{"type": "string", "description": "Single section title (created if missing)."},
			"section_id":    map[string]interface{}{"type": "string", "description": "Existing section id."},
			"task_contents": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *CreateTasksTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	tid, err := threadID(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}
	var input struct {
		Sections []struct {
			Title string   `json:"title"`
			Tasks []string `json:"tasks"`
		} `json:"sections"`
		SectionTitle string   `json:"section_title"`
		SectionID    string   `json:"section_id"`
		TaskContents []string `json:"task_contents"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	req := tasklist.CreateRequest{
		SectionTitle: input.SectionTitle,
		SectionID:    input.SectionID,
		TaskContents: input.TaskContents,
	}
	for _, s := range input.Sections {
		req.Sections = append(req.Sections, tasklist.CreateSection{Title: s.Title, Tasks: s.Tasks})
	}

	snap, err := t.engine.Create(ctx, tid, req)
	if err != nil {
		return toolError(err.Error()), nil
	}
	return snapshotResult(snap)
}

// ViewTasksTool implements view_tasks.
type ViewTasksTool struct {
	engine *tasklist.Engine
}

// NewViewTasksTool builds the view_tasks tool over a shared Engine.
func NewViewTasksTool(engine *tasklist.Engine) *ViewTasksTool {
	return &ViewTasksTool{engine: engine}
}

func (t *ViewTasksTool) Name() string        { return "view_tasks" }
func (t *ViewTasksTool) Description() string { return "View the complete task list for the current thread." }
func (t *ViewTasksTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *ViewTasksTool) Execute(ctx context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	tid, err := threadID(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}
	snap, err := t.engine.View(ctx, tid)
	if err != nil {
		return toolError(err.Error()), nil
	}
	return snapshotResult(snap)
}

// UpdateTasksTool implements update_tasks.
type UpdateTasksTool struct {
	engine *tasklist.Engine
}

// NewUpdateTasksTool builds the update_tasks tool over a shared Engine.
func NewUpdateTasksTool(engine *tasklist.Engine) *UpdateTasksTool {
	return &UpdateTasksTool{engine: engine}
}

func (t *UpdateTasksTool) Name() string { return "update_tasks" }

func (t *UpdateTasksTool) Description() string {
	return "Update content, status, or section of one or more tasks. Batch multiple task ids into one call where possible."
}

func (t *UpdateTasksTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_ids":   map[string]interface{}{"description": "Task id, or array of task ids."},
			"content":    map[string]interface{}{"type": "string"},
			"status":     map[string]interface{}{"type": "string", "enum": []string{"pending", "completed", "cancelled"}},
			"section_id": map[string]interface{}{"type": "string"},
		},
		"required": []string{"task_ids"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *UpdateTasksTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	tid, err := threadID(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}
	var input struct {
		TaskIDs   stringOrSlice `json:"task_ids"`
		Content   string        `json:"content"`
		Status    string        `json:"status"`
		SectionID string        `json:"section_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	snap, err := t.engine.Update(ctx, tid, tasklist.UpdateRequest{
		TaskIDs:   input.TaskIDs,
		Content:   input.Content,
		Status:    models.TaskItemStatus(input.Status),
		SectionID: input.SectionID,
	})
	if err != nil {
		return toolError(err.Error()), nil
	}
	return snapshotResult(snap)
}

// DeleteTasksTool implements delete_tasks.
type DeleteTasksTool struct {
	engine *tasklist.Engine
}

// NewDeleteTasksTool builds the delete_tasks tool over a shared Engine.
func NewDeleteTasksTool(engine *tasklist.Engine) *DeleteTasksTool {
	return &DeleteTasksTool{engine: engine}
}

func (t *DeleteTasksTool) Name() string { return "delete_tasks" }

func (t *DeleteTasksTool) Description() string {
	return "Delete tasks and/or sections (section deletion cascades to its tasks and requires confirm=true)."
}

func (t *DeleteTasksTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_ids":    map[string]interface{}{"description": "Task id, or array of task ids."},
			"section_ids": map[string]interface{}{"description": "Section id, or array of section ids."},
			"confirm":     map[string]interface{}{"type": "boolean", "description": "Required (true) when section_ids is set."},
		},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *DeleteTasksTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	tid, err := threadID(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}
	var input struct {
		TaskIDs    stringOrSlice `json:"task_ids"`
		SectionIDs stringOrSlice `json:"section_ids"`
		Confirm    bool          `json:"confirm"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	snap, err := t.engine.Delete(ctx, tid, tasklist.DeleteRequest{
		TaskIDs:    input.TaskIDs,
		SectionIDs: input.SectionIDs,
		Confirm:    input.Confirm,
	})
	if err != nil {
		return toolError(err.Error()), nil
	}
	return snapshotResult(snap)
}

// ClearAllTool implements clear_all.
type ClearAllTool struct {
	engine *tasklist.Engine
}

// NewClearAllTool builds the clear_all tool over a shared Engine.
func NewClearAllTool(engine *tasklist.Engine) *ClearAllTool {
	return &ClearAllTool{engine: engine}
}

func (t *ClearAllTool) Name() string { return "clear_all" }

func (t *ClearAllTool) Description() string {
	return "Clear all tasks and sections for the current thread. Destructive; requires confirm=true."
}

func (t *ClearAllTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"confirm":{"type":"boolean"}},"required":["confirm"]}`)
}

func (t *ClearAllTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	tid, err := threadID(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}
	var input struct {
		Confirm bool `json:"confirm"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	snap, err := t.engine.ClearAll(ctx, tid, input.Confirm)
	if err != nil {
		return toolError(err.Error()), nil
	}
	return snapshotResult(snap)
}

// stringOrSlice unmarshals either a bare JSON string or a JSON array of
// strings into a []string, matching the original tool's acceptance of
// both a single id and a batch of ids.
type stringOrSlice []string

func (s *stringOrSlice) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*s = nil
			return nil
		}
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}
