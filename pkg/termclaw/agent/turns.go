// Package agent implements the conversation and tool orchestration engine
// behind the termclaw CLI: query classification, prompt assembly, response
// interpretation, plugin tool dispatch, and bounded history persistence.
package agent

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one atomic message in the conversation. Turns are append-only:
// once created they are never mutated.
type Turn struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant turns only
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool turns only
	Timestamp  time.Time  `json:"ts,omitempty"`
}

// SystemTurn creates a system turn.
func SystemTurn(text string) Turn {
	return Turn{Role: RoleSystem, Content: text, Timestamp: time.Now()}
}

// UserTurn creates a user turn.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Content: text, Timestamp: time.Now()}
}

// AssistantTurn creates an assistant turn with optional tool calls.
func AssistantTurn(content string, calls []ToolCall) Turn {
	return Turn{Role: RoleAssistant, Content: content, ToolCalls: calls, Timestamp: time.Now()}
}

// ToolTurn creates a tool-result turn keyed by the originating call id.
func ToolTurn(callID, output string) Turn {
	return Turn{Role: RoleTool, Content: output, ToolCallID: callID, Timestamp: time.Now()}
}

// ---------- Tool wire types (OpenAI-compatible) ----------

// ToolDefinition is the schema advertised to the model for one callable tool.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function exposed to the LLM.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and serialized arguments from the LLM.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ---------- Decoded model output ----------

// Reply is the decoded payload of a final assistant answer. An empty Cmd
// means the reply is informational only; a non-empty Cmd is a proposed
// shell command awaiting confirmation.
type Reply struct {
	Info string `json:"info"`
	Cmd  string `json:"cmd,omitempty"`
}

// HasCommand reports whether the reply proposes a command to run.
func (r Reply) HasCommand() bool {
	return r.Cmd != ""
}
