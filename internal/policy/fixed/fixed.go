// Package fixed implements a deterministic fixed-step backoff policy, a
// drop-in alternative to the bandit for environments that forbid
// exploration.
package fixed

import "github.com/harvestkit/harvestd/internal/policy"

// Policy raises backoff whenever the error bucket is critical, lowers it
// when the domain is fully healthy, and holds otherwise.
type Policy struct{}

// New creates a Policy.
func New() *Policy {
	return &Policy{}
}

// Decide maps the state directly to an action.
func (Policy) Decide(_ string, s policy.State) policy.Action {
	switch {
	case s.ErrorBucket >= 2 || s.LatencyBucket >= 2:
		return policy.ActionIncrease
	case s.ErrorBucket == 0 && s.LatencyBucket == 0:
		return policy.ActionDecrease
	default:
		return policy.ActionHold
	}
}

// Learn is a no-op; the policy has no memory.
func (Policy) Learn(string, policy.State, policy.Action, float64) {}

// Reset is a no-op.
func (Policy) Reset(string) {}
