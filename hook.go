package banjo

import "encoding/json"

// HookRequest is the single-line JSON record an external permission hook
// sends over the permission socket.
type HookRequest struct {
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
	ToolUseID string          `json:"tool_use_id"`
	SessionID string          `json:"session_id"`
}

// HookDecision is the daemon's allow/deny/ask verdict for a tool call.
type HookDecision string

const (
	HookAllow HookDecision = "allow"
	HookDeny  HookDecision = "deny"
	HookAsk   HookDecision = "ask"
)

// HookResponse is the single-line JSON record the daemon writes back to
// the hook before closing the connection.
type HookResponse struct {
	Decision HookDecision    `json:"decision"`
	Reason   string          `json:"reason,omitempty"`
	Answers  json.RawMessage `json:"answers,omitempty"`
}
