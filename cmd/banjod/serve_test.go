package main

import (
	"testing"

	"github.com/dmora/banjo"
	"github.com/dmora/banjo/internal/config"
	"github.com/stretchr/testify/require"
)

func TestSelectBridge_ClaudeRoute(t *testing.T) {
	_, engine, err := selectBridge(config.RouteClaude, config.Config{})
	require.ErrorIs(t, err, banjo.ErrUnavailable)
	require.Equal(t, banjo.EngineClaude, engine)
}

func TestSelectBridge_CodexRoute(t *testing.T) {
	_, engine, err := selectBridge(config.RouteCodex, config.Config{})
	require.ErrorIs(t, err, banjo.ErrUnavailable)
	require.Equal(t, banjo.EngineCodex, engine)
}

func TestSelectBridge_DuetFallsBackToClaudeWhenPrimaryUnset(t *testing.T) {
	_, engine, err := selectBridge(config.RouteDuet, config.Config{})
	require.ErrorIs(t, err, banjo.ErrUnavailable)
	require.Equal(t, banjo.EngineClaude, engine)
}

func TestSelectBridge_DuetHonorsPrimaryAgent(t *testing.T) {
	_, engine, err := selectBridge(config.RouteDuet, config.Config{PrimaryAgent: "codex"})
	require.ErrorIs(t, err, banjo.ErrUnavailable)
	require.Equal(t, banjo.EngineCodex, engine)
}
