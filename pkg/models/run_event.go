package models

import (
	"encoding/json"
	"time"
)

// RunEventType discriminates the wire event variants carried on the
// streaming event bus (internal/bus) and serialized over SSE/WS.
type RunEventType string

const (
	RunEventAssistantDelta RunEventType = "assistant_delta"
	RunEventAssistantFinal RunEventType = "assistant_final"
	RunEventToolCall       RunEventType = "tool_call"
	RunEventToolResult     RunEventType = "tool_result"
	RunEventStatus         RunEventType = "status"
	RunEventError          RunEventType = "error"
)

// RunStatusState is the run lifecycle state carried by a status RunEvent.
type RunStatusState string

const (
	RunStatusRunning   RunStatusState = "running"
	RunStatusCompleted RunStatusState = "completed"
	RunStatusStopped   RunStatusState = "stopped"
	RunStatusFailed    RunStatusState = "failed"
)

// RunStatusKind further qualifies a failed/stopped status, matching the
// error taxonomy of the run controller (context_window, llm_exhausted,
// billing, abandoned, ...).
type RunStatusKind string

const (
	RunStatusKindContextWindow RunStatusKind = "context_window"
	RunStatusKindLLMExhausted  RunStatusKind = "llm_exhausted"
	RunStatusKindBilling       RunStatusKind = "billing"
	RunStatusKindAbandoned     RunStatusKind = "abandoned"
	RunStatusKindContentPolicy RunStatusKind = "content_policy"
)

// RunEvent is the tagged-union event appended to a run's log and
// published on its pub/sub channel. Every event carries run_id, seq and
// created_at; exactly one of the type-specific payload fields is set
// for a given Type.
type RunEvent struct {
	Type      RunEventType `json:"type"`
	RunID     string       `json:"run_id"`
	Seq       int64        `json:"seq"`
	CreatedAt time.Time    `json:"created_at"`

	AssistantDelta *AssistantDeltaPayload `json:"assistant_delta,omitempty"`
	AssistantFinal *AssistantFinalPayload `json:"assistant_final,omitempty"`
	ToolCall       *ToolCallPayload       `json:"tool_call,omitempty"`
	ToolResult     *ToolResultPayload     `json:"tool_result,omitempty"`
	Status         *RunStatusPayload      `json:"status,omitempty"`
	Error          *RunErrorPayload       `json:"error,omitempty"`
}

// AssistantDeltaPayload carries one incremental chunk of assistant text.
type AssistantDeltaPayload struct {
	Text string `json:"text"`
}

// AssistantFinalPayload carries the final assistant message for a turn.
type AssistantFinalPayload struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCallPayload describes a dispatched tool invocation.
type ToolCallPayload struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args"`
}

// ToolResultPayload describes the outcome of a tool invocation.
type ToolResultPayload struct {
	CallID      string       `json:"call_id"`
	Success     bool         `json:"success"`
	Output      string       `json:"output"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// RunStatusPayload describes a run lifecycle transition.
type RunStatusPayload struct {
	State RunStatusState `json:"state"`
	Kind  RunStatusKind  `json:"kind,omitempty"`
	Error string         `json:"error,omitempty"`
}

// RunErrorPayload describes a non-terminal error surfaced to subscribers
// (e.g. a dropped-connection warning); it never replaces a terminal
// status event.
type RunErrorPayload struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// IsTerminal reports whether this event is a terminal status event
// (completed, stopped, or failed), per the exactly-once terminal
// invariant.
func (e *RunEvent) IsTerminal() bool {
	if e == nil || e.Type != RunEventStatus || e.Status == nil {
		return false
	}
	switch e.Status.State {
	case RunStatusCompleted, RunStatusStopped, RunStatusFailed:
		return true
	default:
		return false
	}
}
