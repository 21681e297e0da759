package banjo

import "sync/atomic"

// NudgePolicy controls daemon-initiated continuation prompts ("nudges").
// LastNudgeMS is shared across prompts within a session so the cooldown
// outlives any single turn.
type NudgePolicy struct {
	// Enabled gates whether nudges may fire at all.
	Enabled bool

	// CooldownMS is the minimum interval between nudges, in
	// milliseconds.
	CooldownMS int64

	// LastNudgeMS is the epoch-millisecond timestamp of the last nudge.
	// Shared mutable state across prompts in a session; use atomic
	// load/store.
	LastNudgeMS *atomic.Int64
}

// NewNudgePolicy returns a NudgePolicy with its own shared last-nudge
// clock, initialized to zero (never nudged).
func NewNudgePolicy(enabled bool, cooldownMS int64) *NudgePolicy {
	return &NudgePolicy{
		Enabled:     enabled,
		CooldownMS:  cooldownMS,
		LastNudgeMS: &atomic.Int64{},
	}
}

// NudgeInputs are the six boolean conditions that decide whether a nudge
// (expressed as a context reload) should fire at the end of a turn.
type NudgeInputs struct {
	Enabled    bool
	Cancelled  bool
	CooldownOK bool
	HasDots    bool
	ReasonOK   bool
	DidWork    bool
}

// ShouldNudge is the exact conjunction of the six inputs. Exhaustively
// checkable over all 64 boolean combinations.
func (n NudgeInputs) ShouldNudge() bool {
	return n.Enabled && !n.Cancelled && n.CooldownOK && n.HasDots && n.ReasonOK && n.DidWork
}

// ReloadQueue is per-turn local state recording a pending context reload.
// When Prompt is non-empty, the turn engine must restart the bridge and
// resend the prompt before returning control.
type ReloadQueue struct {
	Prompt       string
	NeedsRestart bool
}

// Pending reports whether a reload has been scheduled.
func (r *ReloadQueue) Pending() bool {
	return r != nil && r.NeedsRestart
}

// Schedule primes the queue with the reload prompt.
func (r *ReloadQueue) Schedule(prompt string) {
	r.Prompt = prompt
	r.NeedsRestart = true
}

// ReloadPrompt is the literal instruction string resent to the
// subprocess after a context reload. Identical for Claude and Codex; see
// SPEC_FULL.md's Open Question decisions for why this isn't split per
// engine.
const ReloadPrompt = "Read your project guidelines (AGENTS.md).\nCheck your dots and pick one to work on.\nKeep going."

// AuthMarkers are case-insensitive substrings whose presence in
// subprocess-emitted text signals that re-authentication is required.
var AuthMarkers = []string{"/login", "login", "log in", "authenticate"}

// PromptContext is the per-prompt immutable frame threaded through one
// turn's processing. Created at prompt start, discarded at stop.
type PromptContext struct {
	SessionID string
	CWD       string

	// Duet enables prefix tagging of streamed text so the editor can
	// tell two concurrently-routed engines apart.
	Duet bool

	// Cancelled is a shared cancellation flag; the turn engine polls it
	// at least every 250ms (PromptPollInterval).
	Cancelled *atomic.Bool

	Nudge *NudgePolicy

	Callbacks Callbacks
}

// Callbacks is the table of editor-facing hooks the turn engine invokes.
// All methods must be safe to call from the turn-engine goroutine only;
// implementations that touch shared state must synchronize internally.
type Callbacks struct {
	// OnMessage forwards a normalized event to the editor.
	OnMessage func(Message)

	// OnApprovalRequest asks the editor (or an automatic policy) to
	// decide a Codex server-initiated approval request. A nil return
	// auto-declines.
	OnApprovalRequest func(ApprovalRequest) *string

	// CheckAuthRequired is invoked when an auth marker is observed in
	// subprocess text. Returning true stops the turn with StopAuthRequired.
	CheckAuthRequired func(text string) bool

	// RestartEngine tears down and respawns the bridge in place. Called
	// by the reload transition.
	RestartEngine func() error

	// SendContinuePrompt resends a prompt to the (possibly just
	// restarted) bridge.
	SendContinuePrompt func(prompt string) error

	// OnTimeout is invoked whenever a pop deadline elapses without a
	// message; used to re-check cancellation without extra signalling.
	OnTimeout func()
}
