package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/dmora/banjo"
	"github.com/dmora/banjo/internal/bridge"
	"github.com/dmora/banjo/internal/bridge/claude"
	"github.com/dmora/banjo/internal/bridge/codex"
	"github.com/dmora/banjo/internal/config"
	"github.com/dmora/banjo/internal/hooksettings"
	"github.com/dmora/banjo/internal/permsock"
	"github.com/dmora/banjo/internal/turn"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// serveOptions holds the serve subcommand's flags.
type serveOptions struct {
	CWD             string
	Route           string
	Model           string
	Effort          string
	Summary         string
	PermissionMode  string
	SkipPermissions bool
	ResumeSessionID string
	Verbose         bool
	NudgeEnabled    bool
	NudgeCooldownMS int64
}

func serveCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the banjo broker daemon for one session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	applyServeFlags(cmd.Flags(), opts)
	return cmd
}

func applyServeFlags(flags *pflag.FlagSet, opts *serveOptions) {
	flags.StringVar(&opts.CWD, "cwd", "", "working directory for the subprocess (defaults to the daemon's cwd)")
	flags.StringVar(&opts.Route, "route", "", "engine route: claude|codex|duet (overrides BANJO_ROUTE)")
	flags.StringVar(&opts.Model, "model", "", "override the engine's default model")
	flags.StringVar(&opts.Effort, "effort", "", "override the engine's reasoning effort (codex only)")
	flags.StringVar(&opts.Summary, "summary", "", "override the engine's reasoning-summary setting (codex only)")
	flags.StringVar(&opts.PermissionMode, "permission-mode", "default", "default|acceptEdits|bypassPermissions|plan")
	flags.BoolVar(&opts.SkipPermissions, "skip-permissions", false, "disable the permission hook entirely")
	flags.StringVar(&opts.ResumeSessionID, "resume", "", "resume a specific prior session id")
	flags.BoolVar(&opts.Verbose, "verbose", false, "emit debug-level logs")
	flags.BoolVar(&opts.NudgeEnabled, "nudge", false, "enable end-of-turn continuation nudges")
	flags.Int64Var(&opts.NudgeCooldownMS, "nudge-cooldown-ms", 60000, "minimum interval between nudges")
}

// runServe wires together one session's bridge, permission socket and
// turn engine, then drives prompts read as single-line JSON objects
// ({"prompt": "..."}) from stdin until EOF or the process is signaled.
// Replies are normalized banjo.Message events, one JSON object per line,
// on stdout.
func runServe(cmd *cobra.Command, opts *serveOptions) error {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := newLogger(level)
	cfg := config.Load()

	route := config.Route(opts.Route)
	if !route.Valid() {
		route = cfg.Route
	}

	if cfg.Home != "" {
		outcome, err := hooksettings.EnsurePreToolUseHook(hooksettings.DefaultSettingsPath(cfg.Home))
		if err != nil {
			logger.Warn("failed to install permission hook entry", "error", err)
		} else if outcome == hooksettings.OutcomeInstalled {
			logger.Info("installed permission hook entry")
		}
	}

	sessionID, err := banjo.NewSessionID("")
	if err != nil {
		return fmt.Errorf("banjod: generate session id: %w", err)
	}

	sock, err := permsock.New(sessionID, permsock.DefaultHookTimeout)
	if err != nil {
		return fmt.Errorf("banjod: create permission socket: %w", err)
	}
	sock.SetLogger(logger)
	defer sock.Close()

	stop := make(chan struct{})
	go sock.Serve(stop, defaultDecider(logger))
	defer close(stop)

	cwd := opts.CWD
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}

	br, engine, err := selectBridge(route, cfg)
	if err != nil {
		return err
	}

	ctx, cancelFn := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancelFn()

	startOpts := bridge.StartOpts{
		CWD:                  cwd,
		ResumeSessionID:      opts.ResumeSessionID,
		ContinueLast:         opts.ResumeSessionID == "" && cfg.AutoResume,
		SkipPermissions:      opts.SkipPermissions,
		PermissionMode:       opts.PermissionMode,
		Model:                opts.Model,
		Effort:               opts.Effort,
		Summary:              opts.Summary,
		PermissionSocketPath: sock.Path(),
		Logger:               logger,
	}
	if err := br.Start(ctx, startOpts); err != nil {
		return fmt.Errorf("banjod: start %s bridge: %w", engine.Label(), err)
	}
	defer br.Stop(context.Background())

	cancelled := &atomic.Bool{}
	nudge := banjo.NewNudgePolicy(opts.NudgeEnabled, opts.NudgeCooldownMS)
	enc := json.NewEncoder(cmd.OutOrStdout())

	pc := &banjo.PromptContext{
		SessionID: sessionID,
		CWD:       cwd,
		Duet:      route == config.RouteDuet,
		Cancelled: cancelled,
		Nudge:     nudge,
		Callbacks: banjo.Callbacks{
			OnMessage: func(m banjo.Message) { _ = enc.Encode(m) },
			OnApprovalRequest: func(banjo.ApprovalRequest) *string {
				decision := "decline"
				return &decision
			},
			RestartEngine: func() error {
				return br.Start(ctx, startOpts)
			},
			SendContinuePrompt: func(prompt string) error {
				return br.SendPrompt(ctx, prompt)
			},
		},
	}

	go watchCancellation(ctx, cancelled, br)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			logger.Warn("malformed request line, skipping", "error", err)
			continue
		}
		if err := br.SendPrompt(ctx, req.Prompt); err != nil {
			if errors.Is(err, banjo.ErrAuthRequired) {
				logger.Error("engine requires re-authentication", "engine", engine.Label())
				_ = enc.Encode(banjo.Message{Type: banjo.MessageError, Content: err.Error(), StopReason: banjo.StopAuthRequired})
				continue
			}
			logger.Error("send prompt failed", "error", err)
			continue
		}
		// A context reload restarts br and resends its own prompt in
		// place (spec.md §7 "Propagation policy"); the caller must keep
		// driving turn.Run against the same handle until it settles on a
		// non-reload stop reason (spec.md §4.5, §9 "Context reload as a
		// stop reason").
		for {
			stopReason, err := turn.Run(ctx, engine, br, pc)
			if err != nil {
				logger.Error("turn failed", "error", err, "stop_reason", stopReason)
				break
			}
			if stopReason != banjo.StopContextReloaded {
				break
			}
		}
	}
	return scanner.Err()
}

// selectBridge builds the bridge flavor matching route. Duet mode runs
// only the bridge of cfg.PrimaryAgent, falling back to Claude when that
// value is unset or not a single-agent route.
func selectBridge(route config.Route, cfg config.Config) (bridge.Bridge, banjo.Engine, error) {
	primary := route
	if route == config.RouteDuet {
		primary = config.Route(cfg.PrimaryAgent)
		if !primary.Valid() || primary == config.RouteDuet {
			primary = config.RouteClaude
		}
	}

	switch primary {
	case config.RouteCodex:
		br := codex.New(cfg.CodexExecutable)
		if !br.IsAvailable() {
			return nil, banjo.EngineCodex, banjo.ErrUnavailable
		}
		return br, banjo.EngineCodex, nil
	default:
		br := claude.New(cfg.ClaudeExecutable)
		if !br.IsAvailable() {
			return nil, banjo.EngineClaude, banjo.ErrUnavailable
		}
		return br, banjo.EngineClaude, nil
	}
}

// watchCancellation tears down ctx's cancellation into the shared
// cancelled flag and interrupts the bridge, matching spec.md §5's
// cooperative-cancellation flow: set cancelled, interrupt bridge, turn
// engine observes it on its next poll.
func watchCancellation(ctx context.Context, cancelled *atomic.Bool, br bridge.Bridge) {
	<-ctx.Done()
	cancelled.Store(true)
	_ = br.Interrupt(context.Background())
}

func defaultDecider(logger *slog.Logger) permsock.Decider {
	return func(req banjo.HookRequest) banjo.HookResponse {
		logger.Debug("permission hook request", "tool_name", req.ToolName, "tool_use_id", req.ToolUseID)
		return banjo.HookResponse{Decision: banjo.HookAllow}
	}
}
