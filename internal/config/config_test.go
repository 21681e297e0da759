package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenEnvUnset(t *testing.T) {
	for _, k := range []string{"CLAUDE_CODE_EXECUTABLE", "CODEX_EXECUTABLE", "BANJO_ROUTE", "BANJO_PRIMARY_AGENT", "BANJO_AUTO_RESUME"} {
		t.Setenv(k, "")
	}

	c := Load()
	require.Equal(t, RouteClaude, c.Route)
	require.False(t, c.AutoResume)
	require.Empty(t, c.PrimaryAgent)
}

func TestLoad_ResolvesFromEnv(t *testing.T) {
	t.Setenv("CLAUDE_CODE_EXECUTABLE", "/opt/claude")
	t.Setenv("CODEX_EXECUTABLE", "/opt/codex")
	t.Setenv("BANJO_ROUTE", "duet")
	t.Setenv("BANJO_PRIMARY_AGENT", "claude")
	t.Setenv("BANJO_AUTO_RESUME", "true")

	c := Load()
	require.Equal(t, "/opt/claude", c.ClaudeExecutable)
	require.Equal(t, "/opt/codex", c.CodexExecutable)
	require.Equal(t, RouteDuet, c.Route)
	require.Equal(t, "claude", c.PrimaryAgent)
	require.True(t, c.AutoResume)
}

func TestLoad_UnrecognizedRouteFallsBackToDefault(t *testing.T) {
	t.Setenv("BANJO_ROUTE", "bogus")

	c := Load()
	require.Equal(t, RouteClaude, c.Route)
}

func TestLoad_OptionsOverrideEnv(t *testing.T) {
	t.Setenv("BANJO_ROUTE", "codex")

	c := Load(WithRoute(RouteDuet), WithAutoResume(true), WithPrimaryAgent("codex"))
	require.Equal(t, RouteDuet, c.Route)
	require.True(t, c.AutoResume)
	require.Equal(t, "codex", c.PrimaryAgent)
}

func TestRoute_Valid(t *testing.T) {
	require.True(t, RouteClaude.Valid())
	require.True(t, RouteCodex.Valid())
	require.True(t, RouteDuet.Valid())
	require.False(t, Route("bogus").Valid())
}
