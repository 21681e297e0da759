package claude

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/dmora/banjo"
	"github.com/dmora/banjo/internal/errfmt"
	"github.com/dmora/banjo/internal/jsonutil"
)

// maxLineBytes is the largest single stream-json line accepted before a
// framing error is raised (spec.md §4.3, §6).
const maxLineBytes = 4 * 1024 * 1024

// ParseLine decodes one line of Claude's stream-json output into
// normalized [banjo.Message] events. The envelope's "type" field selects
// the decode path; everything recognized maps through a static table, and
// anything else keeps its raw type name as the message type (falling back
// to banjo.MessageSystem when the name fails sanitizeUnknownType). A blank
// line yields (nil, nil). An assistant or user envelope produces one
// message per content block, in block order, except that consecutive text
// or thinking blocks are merged into one message; the turn engine thus
// observes interleaved text and tool use in the order the subprocess
// emitted them.
func ParseLine(line string) ([]banjo.Message, error) {
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, fmt.Errorf("claude: invalid JSON: %w", err)
	}

	typeStr := jsonutil.GetString(raw, "type")
	if typeStr == "" {
		return nil, fmt.Errorf("claude: missing or empty type field")
	}

	base := banjo.Message{
		Engine:    banjo.EngineClaude,
		Raw:       json.RawMessage(line),
		Timestamp: time.Now(),
	}

	switch typeStr {
	case "system":
		msg := base
		parseSystemMessage(raw, &msg)
		return []banjo.Message{msg}, nil
	case "assistant":
		return parseAssistantMessage(raw, base), nil
	case "user":
		return parseUserMessage(raw, base), nil
	case "result":
		msg := base
		parseResultMessage(raw, &msg)
		return []banjo.Message{msg}, nil
	case "error":
		msg := base
		parseErrorMessage(raw, &msg)
		return []banjo.Message{msg}, nil
	case "stream_event":
		msg := base
		parseStreamEvent(raw, &msg)
		return []banjo.Message{msg}, nil
	default:
		msg := base
		msg.Type = sanitizeUnknownType(typeStr)
		msg.Content = "unrecognized envelope type: " + typeStr
		return []banjo.Message{msg}, nil
	}
}

// parseSystemMessage handles "system" events: init handshake, hook
// responses, and auth-required signals (spec.md §4.3 getSystemSubtype).
func parseSystemMessage(raw map[string]any, msg *banjo.Message) {
	subtype := jsonutil.GetString(raw, "subtype")
	switch subtype {
	case "init":
		msg.Type = banjo.MessageInit
		msg.SessionID = jsonutil.GetString(raw, "session_id")
		msg.Content = jsonutil.GetString(raw, "model")
		msg.Init = &banjo.InitInfo{
			Model:         jsonutil.GetString(raw, "model"),
			SlashCommands: stringSlice(raw["slash_commands"]),
			Tools:         stringSlice(raw["tools"]),
		}
	case "auth_required":
		msg.Type = banjo.MessageSystem
		msg.Content = jsonutil.GetString(raw, "content")
		if msg.Content == "" {
			msg.Content = "auth_required"
		}
	case "hook_response":
		// Ignored per spec.md §4.5 ("hook_response is ignored").
		msg.Type = banjo.MessageSystem
		msg.Content = ""
	default:
		msg.Type = banjo.MessageSystem
		if content, ok := raw["content"].(string); ok {
			msg.Content = content
		} else if message, ok := raw["message"].(map[string]any); ok {
			msg.Content = jsonutil.GetString(message, "text")
		}
	}
}

// stringSlice converts a decoded JSON array of strings, skipping
// non-string elements.
func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// parseAssistantMessage walks an assistant message's content blocks and
// emits one message per logical block, in block order: consecutive
// blocks of the same textual kind (text or thinking) coalesce into a
// single message, a kind switch flushes the pending run, and every
// tool_use or tool_result block gets its own message. Extended-thinking
// envelopes put thinking before text, so the thought that preceded the
// answer is forwarded before it.
func parseAssistantMessage(raw map[string]any, base banjo.Message) []banjo.Message {
	message, _ := raw["message"].(map[string]any)
	var usage *banjo.Usage
	if message != nil {
		usage = extractTokenUsage(message, raw)
	} else {
		message = raw
	}

	contentArr, _ := message["content"].([]any)
	var out []banjo.Message
	var run strings.Builder
	runType := banjo.MessageText

	flush := func() {
		if run.Len() > 0 {
			msg := base
			msg.Type = runType
			msg.Content = run.String()
			out = append(out, msg)
			run.Reset()
		}
	}
	appendRun := func(t banjo.MessageType, s string) {
		if runType != t {
			flush()
			runType = t
		}
		run.WriteString(s)
	}

	for _, c := range contentArr {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		switch jsonutil.GetString(cm, "type") {
		case "thinking":
			appendRun(banjo.MessageThinking, jsonutil.GetString(cm, "thinking"))
		case "tool_use":
			flush()
			msg := base
			msg.Type = banjo.MessageToolUse
			msg.Tool = extractToolCall(cm)
			out = append(out, msg)
		case "tool_result":
			flush()
			msg := base
			msg.Type = banjo.MessageToolResult
			msg.Result = extractToolResult(cm)
			out = append(out, msg)
		default:
			if t, ok := cm["text"].(string); ok {
				appendRun(banjo.MessageText, t)
			}
		}
	}
	flush()

	if len(out) == 0 {
		// An assistant envelope with no recognizable blocks still carries
		// usage data the result accounting wants.
		msg := base
		msg.Type = banjo.MessageSystem
		out = append(out, msg)
	}
	out[0].Usage = usage
	return out
}

// parseUserMessage extracts tool_result blocks from a "user" envelope.
// Claude echoes tool results back to the daemon wrapped as a user
// message; this is the only place tool_result blocks appear for Claude.
func parseUserMessage(raw map[string]any, base banjo.Message) []banjo.Message {
	message, _ := raw["message"].(map[string]any)
	if message == nil {
		message = raw
	}
	contentArr, _ := message["content"].([]any)
	var out []banjo.Message
	for _, c := range contentArr {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if jsonutil.GetString(cm, "type") != "tool_result" {
			continue
		}
		msg := base
		msg.Type = banjo.MessageToolResult
		msg.Result = extractToolResult(cm)
		out = append(out, msg)
	}
	if len(out) == 0 {
		// No tool_result block found; treat as an informational system event.
		msg := base
		msg.Type = banjo.MessageSystem
		out = append(out, msg)
	}
	return out
}

// extractToolCall builds a ToolCall from a tool_use content block.
func extractToolCall(cm map[string]any) *banjo.ToolCall {
	tool := &banjo.ToolCall{
		ID:   jsonutil.GetString(cm, "id"),
		Name: jsonutil.GetString(cm, "name"),
	}
	if input, ok := cm["input"]; ok {
		if data, err := json.Marshal(input); err == nil {
			tool.Input = data
		}
	}
	tool.Kind = classifyTool(tool.Name)
	if tool.Kind == banjo.ToolKindExecute {
		tool.Label = shellLabel(tool.Input)
	}
	return tool
}

// classifyTool maps a Claude tool name to a display kind.
func classifyTool(name string) banjo.ToolKind {
	switch name {
	case "Read", "Glob", "Grep", "NotebookRead":
		return banjo.ToolKindRead
	case "Edit", "Write", "NotebookEdit", "MultiEdit":
		return banjo.ToolKindEdit
	case "Bash", "BashOutput", "KillShell":
		return banjo.ToolKindExecute
	case "WebFetch", "WebSearch":
		return banjo.ToolKindBrowser
	default:
		return banjo.ToolKindOther
	}
}

// shellLabel extracts the "command" field from a Bash tool_use's input
// JSON for use as a human-readable label.
func shellLabel(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var v struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &v); err != nil {
		return ""
	}
	return v.Command
}

// extractToolResult normalizes a tool_result content block. The block's
// "content" field may be a string, an array of {type, text} blocks, or a
// single such block object (spec.md §4.3 tool-result content
// polymorphism); extractToolResultText normalizes all three shapes.
func extractToolResult(cm map[string]any) *banjo.ToolResult {
	res := &banjo.ToolResult{
		ID:      jsonutil.GetString(cm, "tool_use_id"),
		Content: extractToolResultText(cm["content"]),
		Status:  banjo.ToolStatusCompleted,
	}
	if res.ID == "" {
		res.ID = jsonutil.GetString(cm, "id")
	}
	if isErr, ok := cm["is_error"].(bool); ok && isErr {
		res.IsError = true
	} else if errStr, ok := cm["error"].(string); ok && errStr != "" {
		res.IsError = true
	}
	if res.IsError {
		res.Status = banjo.ToolStatusFailed
	}
	if data, err := json.Marshal(cm); err == nil {
		res.Raw = data
	}
	return res
}

// extractToolResultText returns the first text block's text from a
// polymorphic tool_result content value, ignoring blocks whose declared
// type disagrees with "text".
func extractToolResultText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case map[string]any:
		if jsonutil.GetString(v, "type") == "text" || v["type"] == nil {
			return jsonutil.GetString(v, "text")
		}
		return ""
	case []any:
		for _, item := range v {
			if block, ok := item.(map[string]any); ok {
				if jsonutil.GetString(block, "type") == "text" {
					return jsonutil.GetString(block, "text")
				}
			}
		}
	}
	return ""
}

// parseResultMessage handles the terminal "result" event for a turn. The
// "result" field takes precedence over "text" when both are present.
func parseResultMessage(raw map[string]any, msg *banjo.Message) {
	msg.Type = banjo.MessageResult
	if text, ok := raw["text"].(string); ok {
		msg.Content = text
	}
	if result, ok := raw["result"].(string); ok {
		msg.Content = result
	}
	msg.Usage = extractTokenUsage(raw, raw)
	if sr := jsonutil.GetString(raw, "stop_reason"); sr != "" {
		msg.RawStopReason = errfmt.SanitizeCode(sr)
	} else if sr := jsonutil.GetString(raw, "subtype"); sr != "" {
		msg.RawStopReason = errfmt.SanitizeCode(sr)
	}
}

// parseErrorMessage handles "error" events.
func parseErrorMessage(raw map[string]any, msg *banjo.Message) {
	msg.Type = banjo.MessageError
	code := jsonutil.GetString(raw, "code")
	text := jsonutil.GetString(raw, "message")
	if text == "" {
		text = jsonutil.GetString(raw, "error")
	}
	if code != "" {
		msg.Content = errfmt.Truncate(code + ": " + text)
	} else {
		msg.Content = errfmt.Truncate(text)
	}
}

// parseStreamEvent handles the "stream_event" wrapper used by
// --include-partial-messages. content_block_delta subtypes become delta
// message types; message_start/message_stop become the stream boundary
// markers the turn engine uses for prefix-pending bookkeeping.
func parseStreamEvent(raw map[string]any, msg *banjo.Message) {
	event, ok := raw["event"].(map[string]any)
	if !ok {
		msg.Type = banjo.MessageSystem
		msg.Content = "stream_event: missing event field"
		return
	}

	switch jsonutil.GetString(event, "type") {
	case "content_block_delta":
		parseContentBlockDelta(event, msg)
	case "message_delta":
		msg.Type = banjo.MessageSystem
		msg.Content = "stream_event:message_delta"
		if delta, ok := event["delta"].(map[string]any); ok {
			if sr := jsonutil.GetString(delta, "stop_reason"); sr != "" {
				msg.RawStopReason = errfmt.SanitizeCode(sr)
			}
		}
	case "message_start":
		msg.Type = banjo.MessageSystem
		msg.Content = banjo.StreamBoundaryStart
	case "message_stop":
		msg.Type = banjo.MessageSystem
		msg.Content = banjo.StreamBoundaryStop
	default:
		msg.Type = banjo.MessageSystem
		msg.Content = "stream_event:" + jsonutil.GetString(event, "type")
	}
}

// parseContentBlockDelta extracts delta content from a content_block_delta
// event. input_json_delta deltas surface as MessageToolUseDelta (spec.md
// §4.3 says these are ignored by getStreamTextDelta/getStreamThinkingDelta
// specifically, but the turn engine still needs them for tool-input
// streaming display).
func parseContentBlockDelta(event map[string]any, msg *banjo.Message) {
	delta, ok := event["delta"].(map[string]any)
	if !ok {
		msg.Type = banjo.MessageSystem
		msg.Content = "content_block_delta: missing delta field"
		return
	}
	switch jsonutil.GetString(delta, "type") {
	case "text_delta":
		msg.Type = banjo.MessageTextDelta
		msg.Content = jsonutil.GetString(delta, "text")
	case "thinking_delta":
		msg.Type = banjo.MessageThinkingDelta
		msg.Content = jsonutil.GetString(delta, "thinking")
	case "input_json_delta":
		msg.Type = banjo.MessageToolUseDelta
		msg.Content = jsonutil.GetString(delta, "partial_json")
	case "signature_delta":
		msg.Type = banjo.MessageSystem
		msg.Content = "content_block_delta:signature_delta"
	default:
		msg.Type = banjo.MessageSystem
		msg.Content = "content_block_delta: unknown delta type"
	}
}

// extractTokenUsage pulls token counts from the "usage" sub-object of
// usageSource and total_cost_usd from costSource (the result envelope
// carries cost at the top level, not nested under usage). Returns nil if
// every field is zero.
func extractTokenUsage(usageSource, costSource map[string]any) *banjo.Usage {
	u := &banjo.Usage{}
	if usage, ok := usageSource["usage"].(map[string]any); ok {
		u.InputTokens = jsonutil.GetInt(usage, "input_tokens")
		u.OutputTokens = jsonutil.GetInt(usage, "output_tokens")
	}
	cost := jsonutil.GetFloat(costSource, "total_cost_usd")
	if cost < 0 || isNaNOrInf(cost) {
		cost = 0
	}
	u.CostUSD = cost
	if u.InputTokens == 0 && u.OutputTokens == 0 && u.CostUSD == 0 {
		return nil
	}
	return u
}

func isNaNOrInf(f float64) bool {
	return f != f || f > 1e308 || f < -1e308
}

// sanitizeUnknownType maps an unrecognized envelope type string to a
// MessageType, rejecting overly long or control-character-bearing values
// by falling back to banjo.MessageSystem.
func sanitizeUnknownType(typeStr string) banjo.MessageType {
	const maxTypeLen = 64
	if len(typeStr) > maxTypeLen {
		return banjo.MessageSystem
	}
	for _, r := range typeStr {
		if unicode.IsControl(r) {
			return banjo.MessageSystem
		}
	}
	return banjo.MessageType(typeStr)
}
