package turn

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmora/banjo"
	"github.com/dmora/banjo/internal/bridge"
	"github.com/stretchr/testify/require"
)

// fakeBridge is a minimal bridge.Bridge double that replays a fixed
// sequence of messages and records RespondApproval/SendPrompt calls.
type fakeBridge struct {
	messages []banjo.Message
	idx      int

	respondedDecision string
	restarted         bool
	continuedPrompt   string
}

func (f *fakeBridge) Engine() banjo.Engine { return banjo.EngineClaude }
func (f *fakeBridge) IsAvailable() bool    { return true }
func (f *fakeBridge) IsAlive() bool        { return true }
func (f *fakeBridge) Start(ctx context.Context, opts bridge.StartOpts) error { return nil }

func (f *fakeBridge) Stop(ctx context.Context) error                      { return nil }
func (f *fakeBridge) Interrupt(ctx context.Context) error                 { return nil }
func (f *fakeBridge) SendPrompt(ctx context.Context, prompt string) error { f.continuedPrompt = prompt; return nil }
func (f *fakeBridge) RespondApproval(ctx context.Context, id json.RawMessage, decision string) error {
	f.respondedDecision = decision
	return nil
}

func (f *fakeBridge) ReadMessage() (banjo.Message, error) {
	return f.ReadMessageWithTimeout(time.Now().Add(time.Second))
}

func (f *fakeBridge) ReadMessageWithTimeout(deadline time.Time) (banjo.Message, error) {
	if f.idx >= len(f.messages) {
		return banjo.Message{}, banjo.ErrQueueClosed
	}
	msg := f.messages[f.idx]
	f.idx++
	return msg, nil
}

func newPromptContext() *banjo.PromptContext {
	var received []banjo.Message
	return &banjo.PromptContext{
		CWD:       "/tmp",
		Cancelled: &atomic.Bool{},
		Nudge:     banjo.NewNudgePolicy(false, 60000),
		Callbacks: banjo.Callbacks{
			OnMessage: func(m banjo.Message) { received = append(received, m) },
		},
	}
}

func TestMapClaudeStopReason(t *testing.T) {
	require.Equal(t, banjo.StopEndTurn, mapClaudeStopReason("success"))
	require.Equal(t, banjo.StopCancelled, mapClaudeStopReason("cancelled"))
	require.Equal(t, banjo.StopMaxTurnRequests, mapClaudeStopReason("error_max_turns"))
	require.Equal(t, banjo.StopMaxTurnRequests, mapClaudeStopReason("error_max_budget_usd"))
	require.Equal(t, banjo.StopEndTurn, mapClaudeStopReason("something_unknown"))
}

func TestMapCodexStopReason(t *testing.T) {
	require.Equal(t, banjo.StopEndTurn, mapCodexStopReason("completed"))
	require.Equal(t, banjo.StopAuthRequired, mapCodexStopReason("unauthorized"))
	require.Equal(t, banjo.StopMaxTurnRequests, mapCodexStopReason("usageLimitExceeded"))
	require.Equal(t, banjo.StopEndTurn, mapCodexStopReason("somethingElse"))
}

func TestContainsAuthMarker(t *testing.T) {
	require.True(t, containsAuthMarker("please /login to continue"))
	require.True(t, containsAuthMarker("You need to Authenticate"))
	require.False(t, containsAuthMarker("everything is fine"))
	require.False(t, containsAuthMarker(""))
}

func TestRun_SimpleEndTurn(t *testing.T) {
	br := &fakeBridge{messages: []banjo.Message{
		{Type: banjo.MessageText, Content: "hello"},
		{Type: banjo.MessageResult, RawStopReason: "success"},
	}}
	pc := newPromptContext()

	stop, err := Run(context.Background(), banjo.EngineClaude, br, pc)
	require.NoError(t, err)
	require.Equal(t, banjo.StopEndTurn, stop)
}

func TestRun_Cancelled(t *testing.T) {
	br := &fakeBridge{messages: []banjo.Message{
		{Type: banjo.MessageText, Content: "hello"},
	}}
	pc := newPromptContext()
	pc.Cancelled.Store(true)

	stop, err := Run(context.Background(), banjo.EngineClaude, br, pc)
	require.NoError(t, err)
	require.Equal(t, banjo.StopCancelled, stop)
}

func TestRun_DotOffTriggersReload(t *testing.T) {
	br := &fakeBridge{messages: []banjo.Message{
		{Type: banjo.MessageToolUse, Tool: &banjo.ToolCall{ID: "t1", Name: "Bash", Input: json.RawMessage(`{"command":"dot off task-1"}`)}},
		{Type: banjo.MessageToolResult, Result: &banjo.ToolResult{ID: "t1", IsError: false}},
		{Type: banjo.MessageResult, RawStopReason: "success"},
	}}
	pc := newPromptContext()
	restarts := 0
	var continuedPrompts, injected []string
	pc.Callbacks.RestartEngine = func() error { restarts++; return nil }
	pc.Callbacks.SendContinuePrompt = func(p string) error { continuedPrompts = append(continuedPrompts, p); return nil }
	pc.Callbacks.OnMessage = func(m banjo.Message) {
		if m.Type == banjo.MessageText && m.Content == banjo.ReloadPrompt {
			injected = append(injected, m.Content)
		}
	}

	stop, err := Run(context.Background(), banjo.EngineClaude, br, pc)
	require.NoError(t, err)
	require.Equal(t, banjo.StopContextReloaded, stop)
	require.Equal(t, 1, restarts)
	require.Equal(t, []string{banjo.ReloadPrompt}, continuedPrompts)
	require.Equal(t, []string{banjo.ReloadPrompt}, injected)
}

func TestRun_AuthRequiredFromSystemMessage(t *testing.T) {
	br := &fakeBridge{messages: []banjo.Message{
		{Type: banjo.MessageSystem, Content: "please /login to continue"},
	}}
	pc := newPromptContext()
	var checked string
	pc.Callbacks.CheckAuthRequired = func(text string) bool { checked = text; return true }

	stop, err := Run(context.Background(), banjo.EngineClaude, br, pc)
	require.NoError(t, err)
	require.Equal(t, banjo.StopAuthRequired, stop)
	require.Equal(t, "please /login to continue", checked)
}

func TestRun_DotOffTriggersReloadForCodexCommand(t *testing.T) {
	// Codex surfaces shell commands as command_execution items with the
	// command text in the label, not the input JSON.
	br := &fakeBridge{messages: []banjo.Message{
		{Type: banjo.MessageToolUse, Tool: &banjo.ToolCall{ID: "item-1", Name: "command_execution", Label: "dot off task-1", Kind: banjo.ToolKindExecute}},
		{Type: banjo.MessageToolResult, Result: &banjo.ToolResult{ID: "item-1", Status: banjo.ToolStatusCompleted}},
		{Type: banjo.MessageResult, RawStopReason: "completed"},
	}}
	pc := newPromptContext()
	restarted := false
	var continuedPrompt string
	pc.Callbacks.RestartEngine = func() error { restarted = true; return nil }
	pc.Callbacks.SendContinuePrompt = func(p string) error { continuedPrompt = p; return nil }

	stop, err := Run(context.Background(), banjo.EngineCodex, br, pc)
	require.NoError(t, err)
	require.Equal(t, banjo.StopContextReloaded, stop)
	require.True(t, restarted)
	require.Equal(t, banjo.ReloadPrompt, continuedPrompt)
}

func TestIsDotOffCommand(t *testing.T) {
	require.True(t, isDotOffCommand(&banjo.ToolCall{Name: "Bash", Input: json.RawMessage(`{"command":"dot off abc"}`)}))
	require.True(t, isDotOffCommand(&banjo.ToolCall{Name: "command_execution", Label: "dot off abc", Kind: banjo.ToolKindExecute}))
	require.False(t, isDotOffCommand(&banjo.ToolCall{Name: "Bash", Input: json.RawMessage(`{"command":"ls"}`)}))
	require.False(t, isDotOffCommand(&banjo.ToolCall{Name: "Read", Label: "dot off abc", Kind: banjo.ToolKindRead}))
}

func TestRun_DotOffFailureSkipsReload(t *testing.T) {
	br := &fakeBridge{messages: []banjo.Message{
		{Type: banjo.MessageToolUse, Tool: &banjo.ToolCall{ID: "t1", Name: "Bash", Input: json.RawMessage(`{"command":"dot off task-1"}`)}},
		{Type: banjo.MessageToolResult, Result: &banjo.ToolResult{ID: "t1", IsError: true}},
		{Type: banjo.MessageResult, RawStopReason: "success"},
	}}
	pc := newPromptContext()
	restarted := false
	pc.Callbacks.RestartEngine = func() error { restarted = true; return nil }

	stop, err := Run(context.Background(), banjo.EngineClaude, br, pc)
	require.NoError(t, err)
	require.Equal(t, banjo.StopEndTurn, stop)
	require.False(t, restarted)
}

func TestRun_ApprovalRequestAutoDeclinesWithoutCallback(t *testing.T) {
	br := &fakeBridge{messages: []banjo.Message{
		{Type: banjo.MessageApprovalRequest, Approval: &banjo.ApprovalRequest{RequestID: json.RawMessage("1"), Kind: "item/commandExecution/requestApproval"}},
		{Type: banjo.MessageResult, RawStopReason: "success"},
	}}
	pc := newPromptContext()

	stop, err := Run(context.Background(), banjo.EngineClaude, br, pc)
	require.NoError(t, err)
	require.Equal(t, banjo.StopEndTurn, stop)
	require.Equal(t, "decline", br.respondedDecision)
}

func TestRun_ApprovalRequestRelaysCallbackDecision(t *testing.T) {
	br := &fakeBridge{messages: []banjo.Message{
		{Type: banjo.MessageApprovalRequest, Approval: &banjo.ApprovalRequest{RequestID: json.RawMessage("2"), Kind: "item/fileChange/requestApproval"}},
		{Type: banjo.MessageResult, RawStopReason: "success"},
	}}
	pc := newPromptContext()
	approve := "approve"
	pc.Callbacks.OnApprovalRequest = func(banjo.ApprovalRequest) *string { return &approve }

	stop, err := Run(context.Background(), banjo.EngineClaude, br, pc)
	require.NoError(t, err)
	require.Equal(t, banjo.StopEndTurn, stop)
	require.Equal(t, "approve", br.respondedDecision)
}

func TestComputeNudgeInputs_DisabledByDefault(t *testing.T) {
	pc := newPromptContext()
	state := &State{ToolUseCount: 5}
	inputs := computeNudgeInputs(banjo.EngineClaude, pc, state, "success")
	require.False(t, inputs.Enabled)
	require.False(t, inputs.ShouldNudge())
}

func TestComputeNudgeInputs_ReasonOK(t *testing.T) {
	pc := newPromptContext()
	state := &State{}

	cases := []struct {
		engine  banjo.Engine
		rawStop string
		want    bool
	}{
		{banjo.EngineClaude, "success", true},
		{banjo.EngineClaude, "error_max_turns", true},
		{banjo.EngineClaude, "error_max_budget_usd", false},
		{banjo.EngineClaude, "cancelled", false},
		{banjo.EngineCodex, "completed", true},
		{banjo.EngineCodex, "contextWindowExceeded", true},
		{banjo.EngineCodex, "usageLimitExceeded", true},
		{banjo.EngineCodex, "unauthorized", false},
		{banjo.EngineCodex, "responseStreamDisconnected", false},
	}
	for _, tc := range cases {
		inputs := computeNudgeInputs(tc.engine, pc, state, tc.rawStop)
		require.Equal(t, tc.want, inputs.ReasonOK, "%s/%s", tc.engine, tc.rawStop)
	}
}

func TestApplyPrefix_SetsOncePerBoundary(t *testing.T) {
	pc := newPromptContext()
	pc.Duet = true

	pending := true
	msg := banjo.Message{Content: "hi"}
	applyPrefix(banjo.EngineCodex, pc, &pending, &msg)
	require.Contains(t, msg.Content, "[codex]")
	require.False(t, pending)

	msg2 := banjo.Message{Content: "more"}
	applyPrefix(banjo.EngineCodex, pc, &pending, &msg2)
	require.Equal(t, "more", msg2.Content)
}

func TestApplyPrefix_NoTagOutsideDuet(t *testing.T) {
	pc := newPromptContext()

	pending := true
	msg := banjo.Message{Content: "hi"}
	applyPrefix(banjo.EngineCodex, pc, &pending, &msg)
	require.Equal(t, "hi", msg.Content)
	require.False(t, pending)
}

func TestRun_StreamBoundaryReArmsPrefix(t *testing.T) {
	br := &fakeBridge{messages: []banjo.Message{
		{Type: banjo.MessageTextDelta, Content: "first"},
		{Type: banjo.MessageTextDelta, Content: "more"},
		{Type: banjo.MessageSystem, Content: banjo.StreamBoundaryStop},
		{Type: banjo.MessageSystem, Content: banjo.StreamBoundaryStart},
		{Type: banjo.MessageTextDelta, Content: "second"},
		{Type: banjo.MessageResult, RawStopReason: "success"},
	}}
	pc := newPromptContext()
	pc.Duet = true
	var received []banjo.Message
	pc.Callbacks.OnMessage = func(m banjo.Message) { received = append(received, m) }

	stop, err := Run(context.Background(), banjo.EngineClaude, br, pc)
	require.NoError(t, err)
	require.Equal(t, banjo.StopEndTurn, stop)

	var texts []string
	for _, m := range received {
		if m.Type == banjo.MessageTextDelta {
			texts = append(texts, m.Content)
		}
	}
	require.Equal(t, []string{"[claude] first", "more", "[claude] second"}, texts)

	// Boundary markers themselves never reach the editor.
	for _, m := range received {
		require.NotEqual(t, banjo.StreamBoundaryStart, m.Content)
		require.NotEqual(t, banjo.StreamBoundaryStop, m.Content)
	}
}
