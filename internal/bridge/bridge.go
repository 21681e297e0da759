// Package bridge defines the common contract implemented by the Claude
// and Codex bridge flavors (internal/bridge/claude, internal/bridge/codex):
// spawn, bounded-queue reader, line framing, graceful stop/interrupt,
// restart. See spec.md §4.2.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dmora/banjo"
)

// State is a bridge's lifecycle state: Idle → Running → Stopping → Idle.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// StartOpts configures a bridge spawn. Not every field applies to every
// engine flavor; flavors ignore fields that don't apply to them.
type StartOpts struct {
	// CWD is the absolute working directory for the child process.
	CWD string

	// ResumeSessionID resumes a specific prior session. Mutually
	// exclusive with ContinueLast.
	ResumeSessionID string

	// ContinueLast resumes the most recent session for CWD. Mutually
	// exclusive with ResumeSessionID.
	ContinueLast bool

	// SkipPermissions disables the permission hook entirely (Claude
	// "bypassPermissions", Codex full-access sandbox).
	SkipPermissions bool

	// PermissionMode is one of default|acceptEdits|bypassPermissions|plan
	// (Claude) or maps to an approval/sandbox policy pair (Codex).
	PermissionMode string

	// Model overrides the engine's default model.
	Model string

	// Effort overrides the engine's reasoning effort (Codex only).
	Effort string

	// Summary overrides the engine's reasoning-summary setting (Codex
	// only).
	Summary string

	// PermissionSocketPath is exported to the child as
	// BANJO_PERMISSION_SOCKET so its tool hook can connect back.
	PermissionSocketPath string

	// Executable overrides the resolved binary path (from
	// CLAUDE_CODE_EXECUTABLE / CODEX_EXECUTABLE).
	Executable string

	// Logger receives structured diagnostics from the bridge's reader
	// goroutine and subprocess lifecycle events. Must not be nil; callers
	// pass slog.Default() when no logger was configured.
	Logger *slog.Logger
}

// Bridge is the common contract owned by exactly one child subprocess (or
// none), one reader goroutine (or none), and a bounded FIFO of decoded
// messages.
type Bridge interface {
	// Engine identifies which backend this bridge talks to.
	Engine() banjo.Engine

	// IsAvailable reports whether the backend's executable can be found.
	// A pure resolver check; does not spawn anything.
	IsAvailable() bool

	// Start spawns the child and installs the reader goroutine.
	// Idempotent within a restart: if already running, Start tears down
	// the old child cleanly before respawning.
	Start(ctx context.Context, opts StartOpts) error

	// Stop requests shutdown, kills the child, joins the reader, and
	// drains the queue. Safe to call multiple times.
	Stop(ctx context.Context) error

	// Interrupt asks the running turn to stop. Engine-specific: Claude
	// sends SIGINT and tears the process down; Codex sends turn/interrupt
	// and keeps the process alive for the next prompt.
	Interrupt(ctx context.Context) error

	// IsAlive reports whether a child was started and not yet stopped.
	// Neither implementation observes the reader reaching end of stream,
	// so it stays true after the child exits on its own until Stop.
	IsAlive() bool

	// SendPrompt writes one JSON prompt line to the child's stdin under
	// the bridge's write mutex. A broken pipe stops the bridge and
	// reports the error.
	SendPrompt(ctx context.Context, prompt string) error

	// RespondApproval answers a pending Codex server-initiated approval
	// request. Claude bridges return an unsupported-operation error.
	RespondApproval(ctx context.Context, requestID json.RawMessage, decision string) error

	// ReadMessage pops one decoded event, blocking until one arrives or
	// the reader closes (returning [banjo.ErrQueueClosed]).
	ReadMessage() (banjo.Message, error)

	// ReadMessageWithTimeout behaves like ReadMessage but returns
	// [banjo.ErrTimeout] if deadline passes first.
	ReadMessageWithTimeout(deadline time.Time) (banjo.Message, error)
}
