// Package coordinator translates observed domain health into backoff
// factors via a swappable decision policy, closing the feedback loop
// between the monitor and the queue.
package coordinator

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harvestkit/harvestd/internal/harvest"
	"github.com/harvestkit/harvestd/internal/policy"
	"github.com/harvestkit/harvestd/internal/telemetry"
)

// BackoffStore is the slice of the queue manager the coordinator writes to.
type BackoffStore interface {
	Backoff(domain string) float64
	UpdateBackoff(domain string, factor float64)
}

// Snapshotter is the slice of the domain monitor the coordinator reads.
type Snapshotter interface {
	Snapshot(domain string) harvest.DomainSnapshot
}

// Config tunes reward shaping and the action step sizes.
type Config struct {
	ErrorThreshold float64
	LatencyCeiling time.Duration
	IncreaseStep   float64
	DecreaseStep   float64
}

// domainRecord tracks the window since a domain's previous decision so the
// reward can be attributed to it. Guarded by its own lock: one writer per
// domain, full parallelism across domains.
type domainRecord struct {
	mu          sync.Mutex
	hasDecision bool
	state       policy.State
	action      policy.Action
	success     int
	failure     int
	timeout     int
}

// Coordinator consumes outcomes and drives per-domain backoff.
type Coordinator struct {
	cfg      Config
	policy   policy.DecisionPolicy
	backoffs BackoffStore
	monitor  Snapshotter
	logger   *zap.Logger

	mu      sync.RWMutex
	domains map[string]*domainRecord
}

// New constructs a Coordinator.
func New(cfg Config, pol policy.DecisionPolicy, backoffs BackoffStore, mon Snapshotter, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IncreaseStep <= 1 {
		cfg.IncreaseStep = 1.5
	}
	if cfg.DecreaseStep <= 0 || cfg.DecreaseStep >= 1 {
		cfg.DecreaseStep = 0.8
	}
	return &Coordinator{
		cfg:      cfg,
		policy:   pol,
		backoffs: backoffs,
		monitor:  mon,
		logger:   logger,
		domains:  make(map[string]*domainRecord),
	}
}

// Process attributes reward for the domain's previous decision, updates the
// policy, selects the next action, and installs the resulting backoff
// factor in the queue manager.
func (c *Coordinator) Process(outcome harvest.Outcome) {
	rec := c.recordFor(outcome.Domain)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch outcome.Status {
	case harvest.StatusSuccess:
		rec.success++
	case harvest.StatusTimeout:
		rec.timeout++
	default:
		rec.failure++
	}

	snap := c.monitor.Snapshot(outcome.Domain)
	if rec.hasDecision {
		c.policy.Learn(outcome.Domain, rec.state, rec.action, c.reward(rec, snap))
	}

	state := policy.Discretize(snap, c.cfg.ErrorThreshold, c.cfg.LatencyCeiling)
	action := c.policy.Decide(outcome.Domain, state)
	telemetry.ObservePolicyDecision(action.String())

	current := c.backoffs.Backoff(outcome.Domain)
	next := current * c.step(action)
	c.backoffs.UpdateBackoff(outcome.Domain, next)

	c.logger.Debug("backoff decision",
		zap.String("domain", outcome.Domain),
		zap.String("action", action.String()),
		zap.Float64("factor", next),
	)

	rec.hasDecision = true
	rec.state = state
	rec.action = action
	rec.success, rec.failure, rec.timeout = 0, 0, 0
}

// reward combines successful-fetch rate, inverse latency, and an
// error/timeout penalty over the window since the last decision, clipped
// to [-1, 1].
func (c *Coordinator) reward(rec *domainRecord, snap harvest.DomainSnapshot) float64 {
	n := rec.success + rec.failure + rec.timeout
	if n == 0 {
		return 0
	}
	successRate := float64(rec.success) / float64(n)
	penalty := float64(rec.failure+rec.timeout) / float64(n)
	normLatency := 0.0
	if c.cfg.LatencyCeiling > 0 {
		normLatency = math.Min(snap.LatencyP95.Seconds()/c.cfg.LatencyCeiling.Seconds(), 1)
	}
	r := successRate - 0.5*normLatency - penalty
	return math.Min(math.Max(r, -1), 1)
}

func (c *Coordinator) step(a policy.Action) float64 {
	switch a {
	case policy.ActionIncrease:
		return c.cfg.IncreaseStep
	case policy.ActionDecrease:
		return c.cfg.DecreaseStep
	default:
		return 1.0
	}
}

func (c *Coordinator) recordFor(domain string) *domainRecord {
	c.mu.RLock()
	rec, ok := c.domains[domain]
	c.mu.RUnlock()
	if ok {
		return rec
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok = c.domains[domain]; ok {
		return rec
	}
	rec = &domainRecord{}
	c.domains[domain] = rec
	return rec
}
