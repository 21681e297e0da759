// Package config resolves the daemon's process-level configuration from
// environment variables (spec.md §6 "Environment variables consumed"),
// following the teacher's functional-options style
// (engine/cli/options.go's resolveEngineOptions) for the in-process half
// of construction.
package config

import "os"

// Route selects which bridge flavor(s) a session talks to.
type Route string

const (
	RouteClaude Route = "claude"
	RouteCodex  Route = "codex"
	RouteDuet   Route = "duet"
)

// Valid reports whether r is a recognized route value.
func (r Route) Valid() bool {
	return r == RouteClaude || r == RouteCodex || r == RouteDuet
}

// defaultRoute is used when BANJO_ROUTE is unset or unrecognized.
const defaultRoute = RouteClaude

// Config is the daemon's resolved process-level configuration. Built once
// at startup and treated as immutable afterward.
type Config struct {
	// ClaudeExecutable overrides the resolved Claude Code binary path
	// (CLAUDE_CODE_EXECUTABLE).
	ClaudeExecutable string

	// CodexExecutable overrides the resolved Codex binary path
	// (CODEX_EXECUTABLE).
	CodexExecutable string

	// Home is the user's home directory, used to locate
	// $HOME/.claude/settings.json.
	Home string

	// Route selects the default engine routing for new sessions
	// (BANJO_ROUTE).
	Route Route

	// PrimaryAgent names which engine leads in duet mode
	// (BANJO_PRIMARY_AGENT).
	PrimaryAgent string

	// AutoResume resumes the most recent session for a cwd instead of
	// starting fresh (BANJO_AUTO_RESUME).
	AutoResume bool
}

// Option customizes a Config at construction time, for in-process callers
// that don't go through environment resolution (tests, embedding).
type Option func(*Config)

// WithRoute overrides the resolved route. Invalid values are ignored.
func WithRoute(r Route) Option {
	return func(c *Config) {
		if r.Valid() {
			c.Route = r
		}
	}
}

// WithPrimaryAgent overrides the resolved primary agent name.
func WithPrimaryAgent(agent string) Option {
	return func(c *Config) {
		if agent != "" {
			c.PrimaryAgent = agent
		}
	}
}

// WithAutoResume overrides the resolved auto-resume flag.
func WithAutoResume(v bool) Option {
	return func(c *Config) {
		c.AutoResume = v
	}
}

// Load resolves a Config from the process environment, then applies opts
// on top. Unrecognized BANJO_ROUTE values fall back to defaultRoute.
func Load(opts ...Option) Config {
	c := Config{
		ClaudeExecutable: os.Getenv("CLAUDE_CODE_EXECUTABLE"),
		CodexExecutable:  os.Getenv("CODEX_EXECUTABLE"),
		Home:             os.Getenv("HOME"),
		Route:            defaultRoute,
		PrimaryAgent:     os.Getenv("BANJO_PRIMARY_AGENT"),
		AutoResume:       parseBool(os.Getenv("BANJO_AUTO_RESUME")),
	}

	if r := Route(os.Getenv("BANJO_ROUTE")); r.Valid() {
		c.Route = r
	}

	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}

func parseBool(v string) bool {
	switch v {
	case "1", "true", "TRUE", "True", "yes", "on":
		return true
	default:
		return false
	}
}
