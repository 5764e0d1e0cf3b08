// Package policy defines the swappable decision policy driving per-domain
// backoff, plus the discretized state space shared by implementations.
package policy

import (
	"time"

	"github.com/harvestkit/harvestd/internal/harvest"
)

// Action is a backoff adjustment selected by a policy.
type Action int

// Actions in enumeration order; ties between value estimates break toward
// the lower index.
const (
	ActionIncrease Action = iota
	ActionHold
	ActionDecrease
)

// NumActions is the size of the action space.
const NumActions = 3

// String names the action for logs and metrics.
func (a Action) String() string {
	switch a {
	case ActionIncrease:
		return "increase_backoff"
	case ActionHold:
		return "hold"
	case ActionDecrease:
		return "decrease_backoff"
	default:
		return "unknown"
	}
}

// State is a discretized bucket of (rolling error rate, rolling p95).
type State struct {
	ErrorBucket   int
	LatencyBucket int
}

// NumStates is the size of the state space (3 error x 3 latency buckets).
const NumStates = 9

// Index flattens the state for table lookups.
func (s State) Index() int {
	return s.ErrorBucket*3 + s.LatencyBucket
}

// Discretize buckets a domain snapshot: error rate below 10%, below the
// alert threshold, or at/above it; p95 below half the ceiling, below the
// ceiling, or at/above it.
func Discretize(snap harvest.DomainSnapshot, errorThreshold float64, latencyCeiling time.Duration) State {
	var s State
	switch {
	case snap.ErrorRate < 0.10:
		s.ErrorBucket = 0
	case snap.ErrorRate < errorThreshold:
		s.ErrorBucket = 1
	default:
		s.ErrorBucket = 2
	}
	if latencyCeiling <= 0 {
		return s
	}
	switch {
	case snap.LatencyP95 < latencyCeiling/2:
		s.LatencyBucket = 0
	case snap.LatencyP95 < latencyCeiling:
		s.LatencyBucket = 1
	default:
		s.LatencyBucket = 2
	}
	return s
}

// DecisionPolicy maps an observed state to an action and learns from the
// reward attributed to past decisions. Implementations must be safe for
// concurrent use across domains.
type DecisionPolicy interface {
	// Decide selects the next action for the domain in the given state.
	Decide(domain string, s State) Action
	// Learn folds the reward for a past (state, action) pair into the
	// domain's value estimates.
	Learn(domain string, s State, a Action, reward float64)
	// Reset drops the domain's learned state, returning it to defaults.
	Reset(domain string)
}
