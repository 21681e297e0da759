// Package turn implements the per-prompt turn engine (spec.md §4.5,
// §4.6, §4.7): the loop that pops decoded messages off a bridge, applies
// engine-specific stop-reason and nudge logic, and tells the caller
// whether to keep going, stop, or restart the bridge underneath it.
package turn

import (
	"context"
	"strings"
	"time"

	"github.com/dmora/banjo"
	"github.com/dmora/banjo/internal/bridge"
	"github.com/dmora/banjo/internal/tasktracker"
)

// PromptPollInterval bounds how long ReadMessageWithTimeout blocks
// before the loop re-checks cancellation (spec.md §5).
const PromptPollInterval = 250 * time.Millisecond

// State is the per-prompt bookkeeping the loop threads through one
// turn (spec.md §4.5). Exported so a caller inspecting a completed turn
// (logging, metrics) can read the final counts.
type State struct {
	FirstResponseMS      int64
	MsgCount             int
	ToolUseCount         int
	StreamPrefixPending  bool
	ThoughtPrefixPending bool
	DotOffToolID         string
	DidContextReload     bool
	ReloadQueue          banjo.ReloadQueue
}

// Run drives one prompt to completion against br, dispatching events to
// pc.Callbacks and returning the StopReason the caller should report.
// StopContextReloaded means pc.Callbacks.RestartEngine and
// SendContinuePrompt already ran; the caller must fetch the new bridge
// and invoke Run again for the same logical prompt.
func Run(ctx context.Context, engine banjo.Engine, br bridge.Bridge, pc *banjo.PromptContext) (banjo.StopReason, error) {
	state := &State{StreamPrefixPending: true, ThoughtPrefixPending: true}
	start := time.Now()

	for {
		if pc.Cancelled != nil && pc.Cancelled.Load() {
			return banjo.StopCancelled, nil
		}

		msg, err := br.ReadMessageWithTimeout(time.Now().Add(PromptPollInterval))
		if err != nil {
			if err == banjo.ErrTimeout {
				if pc.Callbacks.OnTimeout != nil {
					pc.Callbacks.OnTimeout()
				}
				continue
			}
			if err == banjo.ErrQueueClosed {
				return banjo.StopEndTurn, nil
			}
			return banjo.StopEndTurn, err
		}

		state.MsgCount++
		if state.FirstResponseMS == 0 {
			state.FirstResponseMS = time.Since(start).Milliseconds()
		}

		stop, done, err := dispatch(ctx, engine, br, pc, state, msg)
		if done {
			return stop, err
		}
	}
}

// dispatch handles one decoded message. done is true when the turn has
// a final answer (stop, err) to return.
func dispatch(ctx context.Context, engine banjo.Engine, br bridge.Bridge, pc *banjo.PromptContext, state *State, msg banjo.Message) (banjo.StopReason, bool, error) {
	switch msg.Type {
	case banjo.MessageText, banjo.MessageTextDelta:
		applyPrefix(engine, pc, &state.StreamPrefixPending, &msg)
		emit(pc, msg)

	case banjo.MessageThinking, banjo.MessageThinkingDelta:
		applyPrefix(engine, pc, &state.ThoughtPrefixPending, &msg)
		emit(pc, msg)

	case banjo.MessageToolUse:
		state.ToolUseCount++
		state.StreamPrefixPending = true
		state.ThoughtPrefixPending = true
		if msg.Tool != nil && isDotOffCommand(msg.Tool) {
			state.DotOffToolID = msg.Tool.ID
		}
		emit(pc, msg)

	case banjo.MessageToolResult:
		emit(pc, msg)
		if state.DotOffToolID != "" && msg.Result != nil && msg.Result.ID == state.DotOffToolID {
			state.DotOffToolID = ""
			if !msg.Result.IsError {
				state.ReloadQueue.Schedule(banjo.ReloadPrompt)
				state.DidContextReload = true
			}
		}

	case banjo.MessageApprovalRequest:
		handleApproval(ctx, br, pc, msg)

	case banjo.MessageSystem, banjo.MessageInit:
		// Stream lifecycle boundaries re-arm prefix tagging for the next
		// assistant message and are not forwarded to the editor (spec.md
		// §4.5 "Stream event").
		if msg.Content == banjo.StreamBoundaryStart || msg.Content == banjo.StreamBoundaryStop {
			state.StreamPrefixPending = true
			state.ThoughtPrefixPending = true
			return "", false, nil
		}
		emit(pc, msg)
		if containsAuthMarker(msg.Content) && pc.Callbacks.CheckAuthRequired != nil {
			if pc.Callbacks.CheckAuthRequired(msg.Content) {
				return banjo.StopAuthRequired, true, nil
			}
		}

	case banjo.MessageError:
		// A non-retryable stream error terminates the turn (spec.md §4.6,
		// §7 "Protocol"); retryable Codex errors never reach this path
		// (internal/bridge/codex drops them before queuing). Auth markers
		// are checked first since they upgrade the stop reason.
		emit(pc, msg)
		if containsAuthMarker(msg.Content) && pc.Callbacks.CheckAuthRequired != nil {
			if pc.Callbacks.CheckAuthRequired(msg.Content) {
				return banjo.StopAuthRequired, true, nil
			}
		}
		return banjo.StopEndTurn, true, nil

	case banjo.MessageResult:
		msg.StopReason = mapStopReason(engine, msg.RawStopReason)
		emit(pc, msg)
		return finishResult(ctx, engine, pc, state, msg)
	}

	return "", false, nil
}

// finishResult runs the reload/nudge decision and returns the turn's
// final StopReason (spec.md §4.5 "Result").
func finishResult(ctx context.Context, engine banjo.Engine, pc *banjo.PromptContext, state *State, msg banjo.Message) (banjo.StopReason, bool, error) {
	stop := mapStopReason(engine, msg.RawStopReason)

	if state.ReloadQueue.Pending() {
		sr, err := runReloadTransition(pc, state)
		return sr, true, err
	}

	inputs := computeNudgeInputs(engine, pc, state, msg.RawStopReason)
	if inputs.ShouldNudge() && !state.DidContextReload {
		if pc.Nudge != nil {
			pc.Nudge.LastNudgeMS.Store(time.Now().UnixMilli())
		}
		state.ReloadQueue.Schedule(banjo.ReloadPrompt)
		sr, err := runReloadTransition(pc, state)
		return sr, true, err
	}

	return stop, true, nil
}

// runReloadTransition restarts the bridge, resends the queued prompt,
// and surfaces it as a user-visible message before returning
// StopContextReloaded (spec.md §4.5, §4.7).
func runReloadTransition(pc *banjo.PromptContext, state *State) (banjo.StopReason, error) {
	if pc.Callbacks.RestartEngine != nil {
		if err := pc.Callbacks.RestartEngine(); err != nil {
			return banjo.StopEndTurn, err
		}
	}
	if pc.Callbacks.SendContinuePrompt != nil {
		if err := pc.Callbacks.SendContinuePrompt(state.ReloadQueue.Prompt); err != nil {
			return banjo.StopEndTurn, err
		}
	}
	emit(pc, banjo.Message{
		Type:      banjo.MessageText,
		Content:   state.ReloadQueue.Prompt,
		Timestamp: time.Now(),
	})
	return banjo.StopContextReloaded, nil
}

// handleApproval asks the callback layer to decide a Codex
// server-initiated approval request and relays the decision back
// through the bridge. A nil callback or nil return auto-declines.
func handleApproval(ctx context.Context, br bridge.Bridge, pc *banjo.PromptContext, msg banjo.Message) {
	if msg.Approval == nil {
		return
	}
	emit(pc, msg)

	decision := "decline"
	if pc.Callbacks.OnApprovalRequest != nil {
		if d := pc.Callbacks.OnApprovalRequest(*msg.Approval); d != nil {
			decision = *d
		}
	}
	_ = br.RespondApproval(ctx, msg.Approval.RequestID, decision)
}

func emit(pc *banjo.PromptContext, msg banjo.Message) {
	if pc.Callbacks.OnMessage != nil {
		pc.Callbacks.OnMessage(msg)
	}
}

// applyPrefix tags msg.Content with the engine's display prefix the
// first time text flows after a boundary event (message start/stop, tool
// use), then clears pending so subsequent deltas in the same run aren't
// re-tagged. Tagging only happens in duet mode; single-engine sessions
// have nothing to disambiguate.
func applyPrefix(engine banjo.Engine, pc *banjo.PromptContext, pending *bool, msg *banjo.Message) {
	if *pending && pc.Duet && msg.Content != "" {
		msg.Content = engine.Prefix() + " " + msg.Content
	}
	*pending = false
}

func mapStopReason(engine banjo.Engine, raw string) banjo.StopReason {
	if engine == banjo.EngineCodex {
		return mapCodexStopReason(raw)
	}
	return mapClaudeStopReason(raw)
}

// isDotOffCommand reports whether a tool call runs the task tracker's
// close command. Claude surfaces it as a Bash tool_use with the shell
// command in the input JSON; Codex as an execute-kind command_execution
// item whose command is the label. Both are substring matches, false
// positives included (see DESIGN.md's Open Question decisions).
func isDotOffCommand(tool *banjo.ToolCall) bool {
	const marker = "dot off"
	if tool.Name == "Bash" && strings.Contains(string(tool.Input), marker) {
		return true
	}
	return tool.Kind == banjo.ToolKindExecute && strings.Contains(tool.Label, marker)
}

func containsAuthMarker(s string) bool {
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	for _, marker := range banjo.AuthMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// computeNudgeInputs assembles the six-input NudgeInputs record for the
// conjunction in banjo.NudgeInputs.ShouldNudge (spec.md §4.7). reason_ok
// is decided on the raw stop literal, not the mapped StopReason: the
// table conflates error_max_budget_usd with error_max_turns and a
// blocking Codex turn error with a plain end of turn, and only one side
// of each pair is nudgeable.
func computeNudgeInputs(engine banjo.Engine, pc *banjo.PromptContext, state *State, rawStop string) banjo.NudgeInputs {
	enabled := pc.Nudge != nil && pc.Nudge.Enabled
	cancelled := pc.Cancelled != nil && pc.Cancelled.Load()

	cooldownOK := true
	if pc.Nudge != nil {
		now := time.Now().UnixMilli()
		cooldownOK = now-pc.Nudge.LastNudgeMS.Load() >= pc.Nudge.CooldownMS
	}

	hasDots := tasktracker.HasPendingTasks(pc.CWD)

	var reasonOK bool
	if engine == banjo.EngineCodex {
		// True unless a blocking (non-retryable, non-max-turn) turn error
		// is attached.
		switch rawStop {
		case "", "completed", "contextWindowExceeded", "usageLimitExceeded":
			reasonOK = true
		}
	} else {
		switch rawStop {
		case "", "success", "end_turn", "error_max_turns":
			reasonOK = true
		}
	}

	return banjo.NudgeInputs{
		Enabled:    enabled,
		Cancelled:  cancelled,
		CooldownOK: cooldownOK,
		HasDots:    hasDots,
		ReasonOK:   reasonOK,
		DidWork:    state.ToolUseCount > 1,
	}
}
