package banjo

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of normalized event emitted by a
// bridge's turn engine. This is the common vocabulary that both the
// Claude and Codex flavors decode into.
type MessageType string

const (
	// MessageText is assistant text output (a complete chunk, not a delta).
	MessageText MessageType = "text"

	// MessageTextDelta is an incremental text chunk from a streaming
	// response.
	MessageTextDelta MessageType = "text_delta"

	// MessageThinking is a complete thought/reasoning chunk.
	MessageThinking MessageType = "thinking"

	// MessageThinkingDelta is an incremental thought chunk.
	MessageThinkingDelta MessageType = "thinking_delta"

	// MessageToolUse indicates the agent is invoking a tool.
	MessageToolUse MessageType = "tool_use"

	// MessageToolUseDelta is an incremental tool-input chunk.
	MessageToolUseDelta MessageType = "tool_use_delta"

	// MessageToolResult contains the output of a tool invocation.
	MessageToolResult MessageType = "tool_result"

	// MessageApprovalRequest is a server-initiated request for the daemon
	// to allow or deny a sensitive action (Codex only).
	MessageApprovalRequest MessageType = "approval_request"

	// MessageError indicates an error from the agent or runtime.
	MessageError MessageType = "error"

	// MessageSystem contains system-level messages (status changes, hook
	// responses, auth-required signals).
	MessageSystem MessageType = "system"

	// MessageInit is the handshake message sent at session start.
	MessageInit MessageType = "init"

	// MessageResult is the terminal event for one turn.
	MessageResult MessageType = "result"

	// MessageEOF signals the end of the message stream.
	MessageEOF MessageType = "eof"
)

// ToolKind classifies a tool invocation for display purposes.
type ToolKind string

const (
	ToolKindRead    ToolKind = "read"
	ToolKindEdit    ToolKind = "edit"
	ToolKindExecute ToolKind = "execute"
	ToolKindBrowser ToolKind = "browser"
	ToolKindOther   ToolKind = "other"
)

// ToolResultStatus is the lifecycle status of a tool invocation.
type ToolResultStatus string

const (
	ToolStatusPending   ToolResultStatus = "pending"
	ToolStatusExecute   ToolResultStatus = "execute"
	ToolStatusApproved  ToolResultStatus = "approved"
	ToolStatusDenied    ToolResultStatus = "denied"
	ToolStatusCompleted ToolResultStatus = "completed"
	ToolStatusFailed    ToolResultStatus = "failed"
)

// StopReason is why a turn ended. ContextReloaded is special: it tells
// the caller "I replaced the bridge underneath you; re-invoke with the
// new bridge."
type StopReason string

const (
	StopEndTurn         StopReason = "end_turn"
	StopCancelled       StopReason = "cancelled"
	StopMaxTokens       StopReason = "max_tokens"
	StopMaxTurnRequests StopReason = "max_turn_requests"
	StopAuthRequired    StopReason = "auth_required"
	StopContextReloaded StopReason = "context_reloaded"
)

// ToolCall describes a tool invocation by the agent.
type ToolCall struct {
	// ID is the engine-assigned tool-use identifier.
	ID string `json:"id"`

	// Name is the tool identifier (e.g. "Bash", "Read").
	Name string `json:"name"`

	// Label is a human-readable description, e.g. a shell command.
	Label string `json:"label,omitempty"`

	// Kind classifies the tool for display.
	Kind ToolKind `json:"kind"`

	// Input is the tool's input parameters as raw JSON.
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResult is the paired result of a tool invocation.
type ToolResult struct {
	// ID matches the originating ToolCall.ID (preferring tool_use_id when
	// the engine distinguishes the two).
	ID string `json:"id"`

	// Content is the extracted text content, if any.
	Content string `json:"content,omitempty"`

	// Status is the tool's lifecycle status.
	Status ToolResultStatus `json:"status"`

	// IsError reports whether the result represents a failure.
	IsError bool `json:"is_error,omitempty"`

	// Raw is the original result block JSON, for consumers that need it.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Usage contains token usage data from the agent's model.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
}

// Message is a normalized event produced by a bridge's turn engine and
// forwarded to the editor callback layer.
type Message struct {
	// Type identifies the kind of event.
	Type MessageType `json:"type"`

	// Engine identifies which backend produced this event, for duet-mode
	// prefix tagging.
	Engine Engine `json:"engine,omitempty"`

	// Content is the text content (for Text, TextDelta, Thinking,
	// ThinkingDelta, Error, System messages).
	Content string `json:"content,omitempty"`

	// Tool contains tool invocation details (for ToolUse messages).
	Tool *ToolCall `json:"tool,omitempty"`

	// Result contains tool invocation results (for ToolResult messages).
	Result *ToolResult `json:"result,omitempty"`

	// Approval carries a pending approval request (Codex only).
	Approval *ApprovalRequest `json:"approval,omitempty"`

	// Usage contains token usage data, set on terminal result messages.
	Usage *Usage `json:"usage,omitempty"`

	// StopReason is set on MessageResult events once the turn engine has
	// mapped the engine-reported literal through its stop-reason table.
	StopReason StopReason `json:"stop_reason,omitempty"`

	// RawStopReason is the literal stop-reason string reported by the
	// subprocess before table-mapping, e.g. "success" or
	// "error_max_turns" for Claude. Populated by the bridge parser;
	// consumed by the turn engine.
	RawStopReason string `json:"raw_stop_reason,omitempty"`

	// SessionID is set on MessageInit events.
	SessionID string `json:"session_id,omitempty"`

	// Init carries session initialization metadata on MessageInit events.
	Init *InitInfo `json:"init,omitempty"`

	// Raw is the original unparsed envelope JSON from the backend, kept
	// for debugging and audit logging.
	Raw json.RawMessage `json:"raw,omitempty"`

	// Timestamp is when the message was produced.
	Timestamp time.Time `json:"timestamp"`
}

// InitInfo is the initialization metadata published by a Claude
// system/init envelope: the model in use plus the slash commands and
// tools the subprocess registered for this session.
type InitInfo struct {
	Model         string   `json:"model,omitempty"`
	SlashCommands []string `json:"slash_commands,omitempty"`
	Tools         []string `json:"tools,omitempty"`
}

// Content markers carried by MessageSystem events for stream lifecycle
// boundaries. The turn engine uses them to re-arm prefix tagging between
// assistant messages; they are not forwarded to the editor.
const (
	StreamBoundaryStart = "stream_event:message_start"
	StreamBoundaryStop  = "stream_event:message_stop"
)

// ApprovalRequest is a server-initiated request (Codex) asking the
// daemon to allow or deny a sensitive action before it executes.
type ApprovalRequest struct {
	// RequestID is the untyped JSON-RPC id to echo back in the response.
	// It may be a number or a string; callers must preserve its original
	// JSON encoding.
	RequestID json.RawMessage `json:"request_id"`

	// Kind identifies which approval method triggered the request, e.g.
	// "item/commandExecution/requestApproval".
	Kind string `json:"kind"`

	// Params is the raw parameter subtree for callers that need detail
	// beyond Kind.
	Params json.RawMessage `json:"params,omitempty"`
}
