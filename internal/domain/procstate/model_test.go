package procstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateDiscovered, StateClassifying, true},
		{StateClassifying, StateClassified, true},
		{StateClassifying, StateNeedsReview, true},
		{StateClassified, StateRouting, true},
		{StateRouting, StateRouted, true},
		{StateRouted, StateEnriching, true},
		{StateEnriching, StateEnriched, true},
		{StateEnriching, StateEnrichFailed, true},
		{StateEnrichFailed, StateEnriching, true},
		{StateEnrichFailed, StateNeedsReview, true},
		{StateEnriched, StateDelivering, true},
		{StateDelivering, StateDelivered, true},
		{StateNeedsReview, StateClassifying, true},
		{StateNeedsReview, StateEnriching, true},

		// No skipping forward or moving backward.
		{StateDiscovered, StateRouting, false},
		{StateDiscovered, StateDelivered, false},
		{StateClassified, StateClassifying, false},
		{StateEnriching, StateRouted, false},
		{StateDelivered, StateDelivering, false},
		{StateDelivered, StateClassifying, false},
		{StatePermanentlyFailed, StateClassifying, false},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminal(t *testing.T) {
	require.True(t, StateDelivered.IsTerminal())
	require.True(t, StatePermanentlyFailed.IsTerminal())
	require.False(t, StateNeedsReview.IsTerminal())
	require.False(t, StateEnrichFailed.IsTerminal())
	require.False(t, StateDiscovered.IsTerminal())
}

func TestRecordRetryCounters(t *testing.T) {
	rec := &Record{}
	require.Equal(t, 0, rec.RetryCount(StepEnrich))
	require.Equal(t, 1, rec.IncrementRetry(StepEnrich))
	require.Equal(t, 2, rec.IncrementRetry(StepEnrich))
	require.Equal(t, 0, rec.RetryCount(StepClassify))
}

func TestRetiredKey(t *testing.T) {
	require.Equal(t, "a.md@0123456789ab", RetiredKey("a.md", "0123456789abcdef"))
	require.Equal(t, "a.md@short", RetiredKey("a.md", "short"))
}
