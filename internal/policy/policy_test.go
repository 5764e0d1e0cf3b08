package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harvestkit/harvestd/internal/harvest"
)

func TestDiscretizeBuckets(t *testing.T) {
	t.Parallel()

	threshold := 0.30
	ceiling := 5 * time.Second
	cases := []struct {
		name string
		snap harvest.DomainSnapshot
		want State
	}{
		{"healthy", harvest.DomainSnapshot{ErrorRate: 0.01, LatencyP95: time.Second}, State{0, 0}},
		{"elevated errors", harvest.DomainSnapshot{ErrorRate: 0.15, LatencyP95: time.Second}, State{1, 0}},
		{"critical errors", harvest.DomainSnapshot{ErrorRate: 0.60, LatencyP95: time.Second}, State{2, 0}},
		{"elevated latency", harvest.DomainSnapshot{ErrorRate: 0.01, LatencyP95: 3 * time.Second}, State{0, 1}},
		{"critical latency", harvest.DomainSnapshot{ErrorRate: 0.01, LatencyP95: 9 * time.Second}, State{0, 2}},
		{"both critical", harvest.DomainSnapshot{ErrorRate: 0.90, LatencyP95: time.Minute}, State{2, 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Discretize(tc.snap, threshold, ceiling))
		})
	}
}

func TestStateIndexIsDense(t *testing.T) {
	t.Parallel()

	seen := make(map[int]bool)
	for e := 0; e < 3; e++ {
		for l := 0; l < 3; l++ {
			idx := State{ErrorBucket: e, LatencyBucket: l}.Index()
			require.GreaterOrEqual(t, idx, 0)
			require.Less(t, idx, NumStates)
			require.False(t, seen[idx])
			seen[idx] = true
		}
	}
}

func TestActionString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "increase_backoff", ActionIncrease.String())
	require.Equal(t, "hold", ActionHold.String())
	require.Equal(t, "decrease_backoff", ActionDecrease.String())
	require.Equal(t, "unknown", Action(99).String())
}
