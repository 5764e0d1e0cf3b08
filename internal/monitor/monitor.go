// Package monitor maintains a sliding-window view of each domain's health
// and raises alerts on threshold breaches.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harvestkit/harvestd/internal/harvest"
	"github.com/harvestkit/harvestd/internal/telemetry"
)

// Config controls window sizing and alert thresholds.
type Config struct {
	WindowSize         int
	ErrorRateThreshold float64
	LatencyCeiling     time.Duration
	AlertTopic         string
}

const alertPublishTimeout = 5 * time.Second

type sample struct {
	status  harvest.Status
	latency time.Duration
	bytes   int64
	at      time.Time
}

// domainWindow holds one domain's fixed-count ring of recent outcomes.
// Single-writer discipline: all mutation happens under its own lock, so
// Record and Snapshot for one domain serialize while domains stay parallel.
type domainWindow struct {
	mu       sync.Mutex
	samples  []sample
	next     int
	count    int
	alerting bool
}

// Monitor aggregates rolling statistics per domain from completed outcomes.
type Monitor struct {
	cfg       Config
	clock     harvest.Clock
	logger    *zap.Logger
	publisher harvest.Publisher

	mu      sync.RWMutex
	domains map[string]*domainWindow
}

// New constructs a Monitor. The publisher receives alert payloads; it may
// be nil, in which case alerts are only logged and counted.
func New(cfg Config, clock harvest.Clock, publisher harvest.Publisher, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 128
	}
	if cfg.AlertTopic == "" {
		cfg.AlertTopic = "alerts"
	}
	return &Monitor{
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		publisher: publisher,
		domains:   make(map[string]*domainWindow),
	}
}

// Record folds one outcome into the domain's rolling window and raises an
// alert on a threshold crossing. Alert emission never blocks the caller.
func (m *Monitor) Record(outcome harvest.Outcome) {
	telemetry.ObserveOutcome(outcome.Domain, string(outcome.Status), outcome.Latency)
	w := m.windowFor(outcome.Domain)

	w.mu.Lock()
	at := outcome.Timestamp
	if at.IsZero() {
		at = m.clock.Now()
	}
	s := sample{status: outcome.Status, latency: outcome.Latency, bytes: outcome.ByteSize, at: at}
	if w.count < len(w.samples) {
		w.count++
	}
	w.samples[w.next] = s
	w.next = (w.next + 1) % len(w.samples)

	snap := w.snapshotLocked(outcome.Domain)
	breach, alert := m.evaluateLocked(snap)
	rising := breach && !w.alerting
	w.alerting = breach
	w.mu.Unlock()

	if rising {
		m.emitAlert(alert)
	}
}

// Snapshot returns a consistent read of the domain's current statistics.
func (m *Monitor) Snapshot(domain string) harvest.DomainSnapshot {
	m.mu.RLock()
	w, ok := m.domains[domain]
	m.mu.RUnlock()
	if !ok {
		return harvest.DomainSnapshot{Domain: domain}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked(domain)
}

// ShouldAlert reports whether the domain currently breaches a threshold.
// It is a pure signal; no corrective action is taken here.
func (m *Monitor) ShouldAlert(domain string) bool {
	breach, _ := m.evaluate(m.Snapshot(domain))
	return breach
}

// Domains lists every domain with at least one recorded outcome.
func (m *Monitor) Domains() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.domains))
	for d := range m.domains {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (m *Monitor) windowFor(domain string) *domainWindow {
	m.mu.RLock()
	w, ok := m.domains[domain]
	m.mu.RUnlock()
	if ok {
		return w
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok = m.domains[domain]; ok {
		return w
	}
	w = &domainWindow{samples: make([]sample, m.cfg.WindowSize)}
	m.domains[domain] = w
	return w
}

func (w *domainWindow) snapshotLocked(domain string) harvest.DomainSnapshot {
	snap := harvest.DomainSnapshot{Domain: domain, SampleCount: w.count}
	if w.count == 0 {
		return snap
	}
	latencies := make([]time.Duration, 0, w.count)
	var failures, timeouts int
	var bytesTotal int64
	for i := 0; i < w.count; i++ {
		s := w.samples[(w.next-1-i+len(w.samples)*2)%len(w.samples)]
		latencies = append(latencies, s.latency)
		bytesTotal += s.bytes
		switch s.status {
		case harvest.StatusFailure:
			failures++
		case harvest.StatusTimeout:
			timeouts++
		}
		if s.at.After(snap.LastOutcome) {
			snap.LastOutcome = s.at
		}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	n := len(latencies)
	snap.ErrorRate = float64(failures+timeouts) / float64(n)
	snap.TimeoutRate = float64(timeouts) / float64(n)
	snap.LatencyP50 = latencies[n/2]
	snap.LatencyP95 = latencies[percentileIndex(n, 95)]
	snap.MeanBytes = float64(bytesTotal) / float64(n)
	return snap
}

func percentileIndex(n, pct int) int {
	idx := n * pct / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

func (m *Monitor) evaluate(snap harvest.DomainSnapshot) (bool, harvest.Alert) {
	return m.evaluateLocked(snap)
}

func (m *Monitor) evaluateLocked(snap harvest.DomainSnapshot) (bool, harvest.Alert) {
	if snap.SampleCount == 0 {
		return false, harvest.Alert{}
	}
	if snap.ErrorRate > m.cfg.ErrorRateThreshold {
		return true, harvest.Alert{
			Domain:    snap.Domain,
			Reason:    harvest.AlertReasonErrorRate,
			Value:     snap.ErrorRate,
			Threshold: m.cfg.ErrorRateThreshold,
			At:        m.clock.Now(),
		}
	}
	if m.cfg.LatencyCeiling > 0 && snap.LatencyP95 > m.cfg.LatencyCeiling {
		return true, harvest.Alert{
			Domain:    snap.Domain,
			Reason:    harvest.AlertReasonLatency,
			Value:     snap.LatencyP95.Seconds(),
			Threshold: m.cfg.LatencyCeiling.Seconds(),
			At:        m.clock.Now(),
		}
	}
	return false, harvest.Alert{}
}

func (m *Monitor) emitAlert(alert harvest.Alert) {
	telemetry.ObserveAlert(alert.Reason)
	m.logger.Warn("domain alert",
		zap.String("domain", alert.Domain),
		zap.String("reason", alert.Reason),
		zap.Float64("value", alert.Value),
		zap.Float64("threshold", alert.Threshold),
	)
	if m.publisher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertPublishTimeout)
		defer cancel()
		if _, err := m.publisher.Publish(ctx, m.cfg.AlertTopic, alert); err != nil {
			m.logger.Warn("alert publish failed", zap.String("domain", alert.Domain), zap.Error(err))
		}
	}()
}
