// Package bandit implements an epsilon-greedy state-action policy with a
// small fixed-size value table per domain.
package bandit

import (
	"math"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/harvestkit/harvestd/internal/policy"
)

// Config tunes exploration behavior.
type Config struct {
	// Epsilon is the exploration probability per decision.
	Epsilon float64
	// Decay multiplies the domain's epsilon after each decision; 1.0
	// keeps it fixed.
	Decay float64
	// Floor bounds decayed epsilon from below.
	Floor float64
}

type cell struct {
	sum float64
	n   int
}

// table holds one domain's value estimates and its current epsilon.
type table struct {
	values  [policy.NumStates][policy.NumActions]cell
	epsilon float64
}

// Policy is an epsilon-greedy bandit over discretized domain states. The
// random source is injected and seedable for reproducible tests.
type Policy struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	domains map[string]*table
}

// New constructs a Policy around the provided seeded source.
func New(cfg Config, rng *rand.Rand, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Decay <= 0 {
		cfg.Decay = 1.0
	}
	if cfg.Floor < 0 {
		cfg.Floor = 0
	}
	return &Policy{
		cfg:     cfg,
		logger:  logger,
		rng:     rng,
		domains: make(map[string]*table),
	}
}

// Decide picks a random action with probability epsilon, otherwise the
// action with the best historical average for the state. Ties break by
// enumeration order.
func (p *Policy) Decide(domain string, s policy.State) policy.Action {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.tableLocked(domain)
	defer p.decayLocked(t)

	if p.rng.Float64() < t.epsilon {
		return policy.Action(p.rng.Intn(policy.NumActions))
	}
	row := t.values[s.Index()]
	best := policy.ActionIncrease
	bestAvg := math.Inf(-1)
	for a := 0; a < policy.NumActions; a++ {
		avg := 0.0
		if row[a].n > 0 {
			avg = row[a].sum / float64(row[a].n)
		}
		if avg > bestAvg {
			bestAvg = avg
			best = policy.Action(a)
		}
	}
	return best
}

// Learn folds a reward into the (state, action) running average. A
// corrupted estimate (NaN or Inf) resets the domain rather than spreading.
func (p *Policy) Learn(domain string, s policy.State, a policy.Action, reward float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		p.logger.Warn("discarding corrupt reward, resetting domain policy", zap.String("domain", domain))
		delete(p.domains, domain)
		return
	}
	t := p.tableLocked(domain)
	c := &t.values[s.Index()][a]
	c.sum += reward
	c.n++
	if math.IsNaN(c.sum) || math.IsInf(c.sum, 0) {
		p.logger.Warn("corrupt value estimate, resetting domain policy", zap.String("domain", domain))
		delete(p.domains, domain)
	}
}

// Reset drops the domain's learned table.
func (p *Policy) Reset(domain string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.domains, domain)
}

func (p *Policy) tableLocked(domain string) *table {
	t, ok := p.domains[domain]
	if !ok {
		t = &table{epsilon: p.cfg.Epsilon}
		p.domains[domain] = t
	}
	return t
}

func (p *Policy) decayLocked(t *table) {
	if p.cfg.Decay >= 1.0 {
		return
	}
	t.epsilon *= p.cfg.Decay
	if t.epsilon < p.cfg.Floor {
		t.epsilon = p.cfg.Floor
	}
}
