package turn

import "github.com/dmora/banjo"

// claudeStopTable maps Claude's literal result subtype strings to a
// StopReason (spec.md §4.5). Anything absent from the table maps to
// end_turn.
var claudeStopTable = map[string]banjo.StopReason{
	"success":             banjo.StopEndTurn,
	"cancelled":           banjo.StopCancelled,
	"max_tokens":          banjo.StopMaxTokens,
	"error_max_turns":     banjo.StopMaxTurnRequests,
	"error_max_budget_usd": banjo.StopMaxTurnRequests,
}

// mapClaudeStopReason implements the fixed literal→StopReason table from
// spec.md §4.5.
func mapClaudeStopReason(raw string) banjo.StopReason {
	if sr, ok := claudeStopTable[raw]; ok {
		return sr
	}
	return banjo.StopEndTurn
}

// codexStopTable maps the one-key discriminant extracted from a
// turn/completed error object (spec.md §4.4's TurnError decoding) to a
// StopReason. "completed" is the synthetic key used when no error is
// attached (normal end of turn).
var codexStopTable = map[string]banjo.StopReason{
	"completed":                  banjo.StopEndTurn,
	"cancelled":                  banjo.StopCancelled,
	"contextWindowExceeded":      banjo.StopMaxTurnRequests,
	"usageLimitExceeded":         banjo.StopMaxTurnRequests,
	"unauthorized":               banjo.StopAuthRequired,
	"responseStreamDisconnected": banjo.StopEndTurn,
}

// mapCodexStopReason implements the Codex-flavor table from spec.md
// §4.6; unrecognized discriminants ("other") map to end_turn.
func mapCodexStopReason(raw string) banjo.StopReason {
	if sr, ok := codexStopTable[raw]; ok {
		return sr
	}
	return banjo.StopEndTurn
}
