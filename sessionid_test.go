package banjo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSessionID_TestOverride(t *testing.T) {
	t.Setenv(TestSessionIDEnv, "fixed-session-id")

	id, err := NewSessionID("banjo-")
	require.NoError(t, err)
	require.Equal(t, "fixed-session-id", id)
}

func TestNewSessionID_Random(t *testing.T) {
	a, err := NewSessionID("")
	require.NoError(t, err)
	require.Len(t, a, 32)

	b, err := NewSessionID("")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestNewSessionID_Prefix(t *testing.T) {
	id, err := NewSessionID("p-")
	require.NoError(t, err)
	require.True(t, len(id) == len("p-")+32)
	require.Equal(t, "p-", id[:2])
}
