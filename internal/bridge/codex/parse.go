package codex

import (
	"encoding/json"
	"time"

	"github.com/dmora/banjo"
	"github.com/dmora/banjo/internal/errfmt"
)

// registerHandlers wires every Codex notification and server-initiated
// method into the common Message vocabulary, per spec.md §4.4.
func (b *Bridge) registerHandlers(conn *Conn) {
	push := func(msg banjo.Message) {
		msg.Engine = banjo.EngineCodex
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		b.mu.Lock()
		q := b.queue
		b.mu.Unlock()
		if q != nil {
			_ = q.Push(msg)
		}
	}

	conn.OnNotification("thread/started", func(raw json.RawMessage) {
		var n threadStartedNotification
		if json.Unmarshal(raw, &n) == nil {
			b.mu.Lock()
			b.threadID = n.ThreadID
			b.mu.Unlock()
		}
	})

	conn.OnNotification("turn/started", func(raw json.RawMessage) {
		var n turnStartedNotification
		if json.Unmarshal(raw, &n) == nil {
			b.mu.Lock()
			if n.ThreadID == b.threadID {
				b.turnID = n.TurnID
				b.agentDeltaText = ""
				b.sawAgentDelta = false
				b.reasoningDeltaText = ""
				b.sawReasoningDelta = false
				b.sawReasoningKind = ""
			}
			b.mu.Unlock()
		}
	})

	conn.OnNotification("turn/completed", func(raw json.RawMessage) {
		var n turnCompletedNotification
		if json.Unmarshal(raw, &n) != nil || !b.belongsToCurrentTurn(n.TurnID) {
			return
		}
		push(turnCompletedToMessage(n))
	})

	conn.OnNotification("item/agentMessage/delta", func(raw json.RawMessage) {
		var n agentMessageDeltaNotification
		if json.Unmarshal(raw, &n) != nil || !b.belongsToCurrentTurn(n.TurnID) {
			return
		}
		b.mu.Lock()
		b.sawAgentDelta = true
		b.agentDeltaText += n.Delta
		b.mu.Unlock()
		push(banjo.Message{Type: banjo.MessageTextDelta, Content: n.Delta})
	})

	// item/reasoning/summaryTextDelta and .../textDelta both surface a
	// thought delta, but only whichever stream is seen first for this
	// turn; once one flag is set the other is suppressed to avoid
	// duplicate emission (spec.md §4.4).
	conn.OnNotification("item/reasoning/summaryTextDelta", func(raw json.RawMessage) {
		var n reasoningDeltaNotification
		if json.Unmarshal(raw, &n) != nil || !b.belongsToCurrentTurn(n.TurnID) {
			return
		}
		b.mu.Lock()
		suppressed := b.sawReasoningKind == "text"
		if !suppressed {
			b.sawReasoningKind = "summary"
			b.sawReasoningDelta = true
			b.reasoningDeltaText += n.Delta
		}
		b.mu.Unlock()
		if !suppressed {
			push(banjo.Message{Type: banjo.MessageThinkingDelta, Content: n.Delta})
		}
	})

	conn.OnNotification("item/reasoning/textDelta", func(raw json.RawMessage) {
		var n reasoningDeltaNotification
		if json.Unmarshal(raw, &n) != nil || !b.belongsToCurrentTurn(n.TurnID) {
			return
		}
		b.mu.Lock()
		suppressed := b.sawReasoningKind == "summary"
		if !suppressed {
			b.sawReasoningKind = "text"
			b.sawReasoningDelta = true
			b.reasoningDeltaText += n.Delta
		}
		b.mu.Unlock()
		if !suppressed {
			push(banjo.Message{Type: banjo.MessageThinkingDelta, Content: n.Delta})
		}
	})

	// item_started is only forwarded for command_execution; agent_message
	// and reasoning items have no meaningful "started" event for the
	// editor since their content streams in via deltas (spec.md §4.4).
	conn.OnNotification("item/started", func(raw json.RawMessage) {
		var n itemStartedNotification
		if json.Unmarshal(raw, &n) != nil || !b.belongsToCurrentTurn(n.TurnID) {
			return
		}
		if n.Item.Type != "command_execution" {
			return
		}
		push(itemToMessage(banjo.MessageToolUse, n.Item))
	})

	conn.OnNotification("item/completed", func(raw json.RawMessage) {
		var n itemCompletedNotification
		if json.Unmarshal(raw, &n) != nil || !b.belongsToCurrentTurn(n.TurnID) {
			return
		}
		if b.suppressCompletedDelta(n.Item) {
			return
		}
		push(completedItemToMessage(n.Item))
	})

	// A retryable error is logged and dropped, not surfaced to the turn
	// engine; only a non-retryable error becomes a stream_error event
	// (spec.md §4.4, §7 "Protocol").
	conn.OnNotification("error", func(raw json.RawMessage) {
		var n errorNotification
		if json.Unmarshal(raw, &n) != nil {
			return
		}
		if n.WillRetry {
			b.mu.Lock()
			logger := b.logger
			b.mu.Unlock()
			if logger != nil {
				logger.Warn("codex: retryable stream error", "message", n.Message)
			}
			return
		}
		push(banjo.Message{Type: banjo.MessageError, Content: errfmt.Truncate(n.Message)})
	})

	conn.OnMethod("item/commandExecution/requestApproval", func(id, params json.RawMessage) {
		b.handleApproval(conn, id, "item/commandExecution/requestApproval", params)
	})
	conn.OnMethod("item/fileChange/requestApproval", func(id, params json.RawMessage) {
		b.handleApproval(conn, id, "item/fileChange/requestApproval", params)
	})
	conn.OnMethod("applyPatchApproval", func(id, params json.RawMessage) {
		b.handleApproval(conn, id, "applyPatchApproval", params)
	})
	conn.OnMethod("execCommandApproval", func(id, params json.RawMessage) {
		b.handleApproval(conn, id, "execCommandApproval", params)
	})
}

// belongsToCurrentTurn filters notifications to the active turn so stale
// messages from a previous, already-interrupted turn never leak into the
// new one (spec.md §4.4 "Turn-event filtering", §8 invariant 1).
func (b *Bridge) belongsToCurrentTurn(turnID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return turnID == "" || turnID == b.turnID
}

// suppressCompletedDelta reports whether item's completed text was
// already emitted by the matching delta stream this turn (spec.md §4.4).
func (b *Bridge) suppressCompletedDelta(item itemEnvelope) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch item.Type {
	case "agent_message":
		return b.sawAgentDelta && item.Text == b.agentDeltaText
	case "reasoning":
		return b.sawReasoningDelta && item.Text == b.reasoningDeltaText
	default:
		return false
	}
}

// completedItemToMessage maps a completed item to its normalized event:
// agent_message/reasoning become plain text/thinking chunks (their delta
// counterpart already streamed the content incrementally), while
// command_execution becomes a tool result whose status follows the exit
// code (spec.md §4.4, §4.6: exit code 0 -> completed, nonzero -> failed).
func completedItemToMessage(item itemEnvelope) banjo.Message {
	switch item.Type {
	case "agent_message":
		return banjo.Message{Type: banjo.MessageText, Content: item.Text}
	case "reasoning":
		return banjo.Message{Type: banjo.MessageThinking, Content: item.Text}
	default:
		return itemToMessage(banjo.MessageToolResult, item)
	}
}

// turnCompletedToMessage maps a turn/completed notification to a
// MessageResult event. RawStopReason carries the literal discriminant
// key from Codex's one-key-object error tag (or "completed" when no
// error is present); the turn engine maps it to a banjo.StopReason.
func turnCompletedToMessage(n turnCompletedNotification) banjo.Message {
	msg := banjo.Message{Type: banjo.MessageResult, SessionID: n.ThreadID}
	if n.Usage != nil {
		msg.Usage = &banjo.Usage{
			InputTokens:  n.Usage.InputTokens,
			OutputTokens: n.Usage.OutputTokens,
			CostUSD:      n.Usage.CostUSD,
		}
	}
	if key := decodeTurnError(n.Error); key != "" {
		msg.RawStopReason = key
	} else {
		msg.RawStopReason = "completed"
	}
	return msg
}

// decodeTurnError extracts the single discriminant key present in a
// turn/completed error object and returns it verbatim for the turn
// engine's table lookup, or "" if the object is empty/absent.
func decodeTurnError(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	for k := range m {
		return k
	}
	return ""
}

func itemToMessage(t banjo.MessageType, item itemEnvelope) banjo.Message {
	msg := banjo.Message{Type: t}
	switch t {
	case banjo.MessageToolUse:
		msg.Tool = &banjo.ToolCall{
			ID:    item.ID,
			Name:  item.Type,
			Label: item.Command,
			Kind:  classifyItem(item.Type),
			Input: item.Content,
		}
	case banjo.MessageToolResult:
		isError := item.Status == "failed"
		if item.ExitCode != nil {
			isError = *item.ExitCode != 0
		}
		status := banjo.ToolStatusCompleted
		if isError {
			status = banjo.ToolStatusFailed
		}
		msg.Result = &banjo.ToolResult{
			ID:      item.ID,
			Content: string(item.Content),
			Status:  status,
			IsError: isError,
			Raw:     item.Content,
		}
	}
	return msg
}

func classifyItem(itemType string) banjo.ToolKind {
	switch itemType {
	case "command_execution", "commandExecution":
		return banjo.ToolKindExecute
	case "file_change", "fileChange":
		return banjo.ToolKindEdit
	default:
		return banjo.ToolKindOther
	}
}
