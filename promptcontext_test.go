package banjo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestShouldNudge_Exhaustive checks property 6 from spec.md §8:
// NudgeInputs.shouldNudge() is exactly the conjunction of its six
// boolean inputs, checked over all 64 combinations.
func TestShouldNudge_Exhaustive(t *testing.T) {
	for mask := 0; mask < 64; mask++ {
		in := NudgeInputs{
			Enabled:    mask&1 != 0,
			Cancelled:  mask&2 != 0,
			CooldownOK: mask&4 != 0,
			HasDots:    mask&8 != 0,
			ReasonOK:   mask&16 != 0,
			DidWork:    mask&32 != 0,
		}
		want := in.Enabled && !in.Cancelled && in.CooldownOK && in.HasDots && in.ReasonOK && in.DidWork
		require.Equal(t, want, in.ShouldNudge(), "mask=%d in=%+v", mask, in)
	}
}

func TestReloadQueue_Schedule(t *testing.T) {
	var rq ReloadQueue
	require.False(t, rq.Pending())

	rq.Schedule(ReloadPrompt)
	require.True(t, rq.Pending())
	require.Equal(t, ReloadPrompt, rq.Prompt)
}
