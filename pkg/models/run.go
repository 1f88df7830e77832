package models

import "time"

// RunStatus is the persisted lifecycle status of an agent run.
type RunStatus string

const (
	RunStatusRunningDB   RunStatus = "running"
	RunStatusCompletedDB RunStatus = "completed"
	RunStatusStoppedDB   RunStatus = "stopped"
	RunStatusFailedDB    RunStatus = "failed"
)

// AgentRun is one execution of the turn loop for a thread. The run owns
// its append-only response log and control channel exclusively; once
// persisted, the messages it produces are shared with (outlive) the run.
type AgentRun struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	InstanceID string    `json:"instance_id"`
}

// IsTerminal reports whether the run has reached a terminal status.
func (r *AgentRun) IsTerminal() bool {
	if r == nil {
		return false
	}
	switch r.Status {
	case RunStatusCompletedDB, RunStatusStoppedDB, RunStatusFailedDB:
		return true
	default:
		return false
	}
}

// AgentVersion is an immutable, named snapshot of an agent's
// configuration: system prompt, enabled tools (with per-tool args),
// model, and MCP server bindings. Agents reference a CurrentVersionID;
// prior versions are retained for audit and rollback.
type AgentVersion struct {
	ID              string             `json:"version_id"`
	AgentID         string             `json:"agent_id"`
	SystemPrompt    string             `json:"system_prompt"`
	ConfiguredTools []ConfiguredTool   `json:"configured_tools"`
	Model           string             `json:"model"`
	ConfiguredMCPs  []string           `json:"configured_mcps,omitempty"`
	CustomMCPs      []CustomMCP        `json:"custom_mcps,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	VersionTag      string             `json:"version_tag,omitempty"`
}

// ConfiguredTool is one entry in an agent version's enabled-tool set,
// carrying any per-tool argument overrides.
type ConfiguredTool struct {
	Name    string         `json:"name"`
	Enabled bool           `json:"enabled"`
	Args    map[string]any `json:"args,omitempty"`
}

// CustomMCP describes a user-registered MCP server binding for an
// agent version.
type CustomMCP struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ToolDescriptor is the process-lifetime-immutable registration record
// for a tool: its schema, usage examples for XML prompt injection, and
// the invoker that executes it. Descriptors are registered once at
// process start.
type ToolDescriptor struct {
	Name            string   `json:"name"`
	Schema          []byte   `json:"schema"`
	UsageExamples   []string `json:"usage_examples,omitempty"`
	ParallelSafe    bool     `json:"parallel_safe"`
	Capabilities    []ToolCapability `json:"capabilities,omitempty"`
}

// ToolCapability is a declarative flag describing what a tool needs or
// promises, used to pick default timeouts and dispatch policy.
type ToolCapability string

const (
	CapabilityRequiresSandbox  ToolCapability = "requires_sandbox"
	CapabilityLongRunning      ToolCapability = "long_running"
	CapabilityStreamingOutput  ToolCapability = "streaming_output"
	CapabilityTerminal         ToolCapability = "terminal"
)

// HasCapability reports whether the descriptor declares the given
// capability.
func (d *ToolDescriptor) HasCapability(c ToolCapability) bool {
	if d == nil {
		return false
	}
	for _, cap := range d.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}
