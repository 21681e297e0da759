package codex

import (
	"encoding/json"
	"strings"

	"github.com/dmora/banjo"
)

// containsAuthMarker does a case-insensitive substring check against
// banjo.AuthMarkers, the shared marker list also used by the Claude
// bridge's text-message path (spec.md §7).
func containsAuthMarker(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range banjo.AuthMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// --- Outbound request params ---

type initializeParams struct {
	ClientInfo clientInfo `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type threadStartParams struct {
	CWD            string         `json:"cwd,omitempty"`
	Model          string         `json:"model,omitempty"`
	ApprovalPolicy string         `json:"approvalPolicy,omitempty"`
	SandboxPolicy  *sandboxPolicy `json:"sandboxPolicy,omitempty"`
}

// sandboxPolicy is the workspace sandbox a thread runs under. The
// default grants workspace-write access exposing the session cwd as the
// sole writable root (spec.md §4.4).
type sandboxPolicy struct {
	Mode          string   `json:"mode"`
	WritableRoots []string `json:"writableRoots,omitempty"`
}

type threadStartResult struct {
	ThreadID string `json:"threadId"`
}

type threadResumeParams struct {
	ThreadID string `json:"threadId"`
}

type threadListResult struct {
	Threads []threadSummary `json:"threads"`
}

type threadSummary struct {
	ThreadID string `json:"threadId"`
	CWD      string `json:"cwd,omitempty"`
}

type turnStartParams struct {
	ThreadID       string         `json:"threadId"`
	Input          []inputItem    `json:"input"`
	ApprovalPolicy string         `json:"approvalPolicy,omitempty"`
	SandboxPolicy  *sandboxPolicy `json:"sandboxPolicy,omitempty"`
	Model          string         `json:"model,omitempty"`
	Effort         string         `json:"effort,omitempty"`
	Summary        string         `json:"summary,omitempty"`
}

type inputItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type turnStartResult struct {
	TurnID string `json:"turnId"`
}

type turnInterruptParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId,omitempty"`
}

// --- Notifications ---

type threadStartedNotification struct {
	ThreadID string `json:"threadId"`
}

type turnStartedNotification struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
}

type turnCompletedNotification struct {
	ThreadID string          `json:"threadId"`
	TurnID   string          `json:"turnId"`
	Usage    *turnUsage      `json:"usage,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
}

type turnUsage struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd,omitempty"`
}

type itemStartedNotification struct {
	ThreadID string       `json:"threadId"`
	TurnID   string       `json:"turnId"`
	Item     itemEnvelope `json:"item"`
}

type itemCompletedNotification struct {
	ThreadID string       `json:"threadId"`
	TurnID   string       `json:"turnId"`
	Item     itemEnvelope `json:"item"`
}

type itemEnvelope struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Command  string          `json:"command,omitempty"`
	Text     string          `json:"text,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
	Status   string          `json:"status,omitempty"`
	ExitCode *int            `json:"exitCode,omitempty"`
}

type agentMessageDeltaNotification struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	Delta    string `json:"delta"`
}

type reasoningDeltaNotification struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	Delta    string `json:"delta"`
}

type errorNotification struct {
	ThreadID  string `json:"threadId,omitempty"`
	TurnID    string `json:"turnId,omitempty"`
	Message   string `json:"message"`
	WillRetry bool   `json:"willRetry,omitempty"`
}

// --- Approval request params (server-initiated) ---

type commandExecutionApprovalParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	Command  string `json:"command"`
	CWD      string `json:"cwd,omitempty"`
}

type fileChangeApprovalParams struct {
	ThreadID string          `json:"threadId"`
	TurnID   string          `json:"turnId"`
	Path     string          `json:"path,omitempty"`
	Changes  json.RawMessage `json:"changes,omitempty"`
}

// validApprovalParams checks a server-initiated approval request's
// params against the shape its method implies. Command approvals must
// name a command; file-change approvals must name a path or carry a
// change set. A request that fails here is declined autonomously
// without surfacing to the caller (spec.md §4.4).
func validApprovalParams(method string, params json.RawMessage) bool {
	switch method {
	case "item/commandExecution/requestApproval", "execCommandApproval":
		var p commandExecutionApprovalParams
		return json.Unmarshal(params, &p) == nil && p.Command != ""
	case "item/fileChange/requestApproval", "applyPatchApproval":
		var p fileChangeApprovalParams
		return json.Unmarshal(params, &p) == nil && (p.Path != "" || len(p.Changes) > 0)
	default:
		return false
	}
}

type approvalResult struct {
	Decision string `json:"decision"`
}
