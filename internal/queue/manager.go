// Package queue implements task admission, per-domain gating, and retry
// scheduling for the orchestration core.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/harvestkit/harvestd/internal/harvest"
	"github.com/harvestkit/harvestd/internal/telemetry"
)

// Config controls Manager behavior.
type Config struct {
	Capacity        int
	BaseConcurrency int
	BaseInterval    time.Duration
	MinBackoff      float64
	MaxBackoff      float64
	MaxAttempts     int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
}

// idleWait bounds how long an executor sleeps when nothing is queued; a
// Submit or Release always wakes it earlier through the notify channel.
const idleWait = time.Minute

// domainState is the per-domain admission record. It is created lazily on
// the first task for a domain and mutated only under the Manager lock.
type domainState struct {
	domain   string
	backoff  float64
	inflight int
	limiter  *rate.Limiter
}

// Manager admits tasks, enforces global and per-domain concurrency, and
// supplies ready tasks to executors.
type Manager struct {
	cfg      Config
	clock    harvest.Clock
	logger   *zap.Logger
	reporter harvest.TerminalReporter

	mu       sync.Mutex
	pending  taskHeap
	delayed  delayHeap
	domains  map[string]*domainState
	inflight map[string]harvest.Task
	canceled map[string]bool
	seq      uint64
	notify   chan struct{}
}

// NewManager constructs a Manager. The reporter receives terminal reports
// for expired, evicted, and canceled tasks; it may be nil.
func NewManager(cfg Config, clock harvest.Clock, reporter harvest.TerminalReporter, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseConcurrency <= 0 {
		cfg.BaseConcurrency = 1
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 0.5
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	return &Manager{
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		reporter: reporter,
		domains:  make(map[string]*domainState),
		inflight: make(map[string]harvest.Task),
		canceled: make(map[string]bool),
		notify:   make(chan struct{}),
	}
}

// Submit admits a task into the global priority queue. At capacity, a
// submission that does not outrank the queue's minimum priority is rejected
// with harvest.ErrQueueFull; otherwise the lowest-priority task is evicted
// and reported so the newcomer can be admitted.
func (m *Manager) Submit(task harvest.Task) error {
	if task.URL == "" || task.Domain == "" {
		return fmt.Errorf("task url and domain are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if task.EnqueueTime.IsZero() {
		task.EnqueueTime = m.clock.Now()
	}
	// A fresh submission reinstates a canceled domain.
	delete(m.canceled, task.Domain)
	if m.queuedLocked() >= m.cfg.Capacity {
		idx, minPrio := m.minPendingLocked()
		if idx < 0 || task.Priority <= minPrio {
			telemetry.ObserveRejection("queue_full")
			return fmt.Errorf("submit task %s: %w", task.ID, harvest.ErrQueueFull)
		}
		evicted := heap.Remove(&m.pending, idx).(*pendingTask)
		m.reportLocked(evicted.task, harvest.TerminalReasonEvicted)
	}
	m.stateForLocked(task.Domain)
	heap.Push(&m.pending, &pendingTask{task: task, seq: m.nextSeqLocked()})
	telemetry.ObserveAdmission(task.Domain)
	telemetry.SetQueueDepth(m.queuedLocked())
	m.wakeLocked()
	return nil
}

// AcquireNext blocks until a task is at the head of the admissible set and
// its domain has a free concurrency slot and a satisfied interval gate. It
// is the sole suspension point for executors.
func (m *Manager) AcquireNext(ctx context.Context) (harvest.Task, error) {
	for {
		m.mu.Lock()
		now := m.clock.Now()
		m.promoteReadyLocked(now)
		if task, ok := m.popAdmissibleLocked(now); ok {
			telemetry.SetQueueDepth(m.queuedLocked())
			m.mu.Unlock()
			return task, nil
		}
		wait := m.nextWakeLocked(now)
		notify := m.notify
		m.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return harvest.Task{}, fmt.Errorf("acquire canceled: %w", ctx.Err())
		case <-notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Release frees one concurrency slot for the domain, potentially unblocking
// a waiting AcquireNext.
func (m *Manager) Release(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.domains[domain]; ok && st.inflight > 0 {
		st.inflight--
	}
	m.wakeLocked()
}

// Forget drops the in-flight record for a settled task.
func (m *Manager) Forget(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, taskID)
}

// InflightTask returns the in-flight task with the given ID, if any.
func (m *Manager) InflightTask(taskID string) (harvest.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.inflight[taskID]
	return task, ok
}

// UpdateBackoff atomically installs a new backoff factor for the domain,
// clamped to the configured bounds. It affects subsequent admission
// decisions only, never already-admitted tasks.
func (m *Manager) UpdateBackoff(domain string, factor float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateForLocked(domain)
	st.backoff = m.clampBackoff(factor)
	st.limiter.SetLimitAt(m.clock.Now(), m.intervalLimit(st.backoff))
	telemetry.SetBackoff(domain, st.backoff)
	m.wakeLocked()
}

// Backoff returns the domain's current backoff factor.
func (m *Manager) Backoff(domain string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.domains[domain]; ok {
		return st.backoff
	}
	return m.clampBackoff(1.0)
}

// DomainView exposes the admission state as a read-only snapshot.
func (m *Manager) DomainView(domain string) (backoff float64, slots, inflight int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.domains[domain]
	if !ok {
		return m.clampBackoff(1.0), m.cfg.BaseConcurrency, 0
	}
	return st.backoff, m.slotsLocked(st), st.inflight
}

// Fail records a failed attempt for the task. Below max_attempts it is
// resubmitted with an exponential delay; at or beyond, the task is dropped,
// reported terminally, and harvest.ErrTaskExpired returned. Retries for a
// domain canceled since dispatch are dropped with
// harvest.ErrDomainCanceled instead of re-entering the queue.
func (m *Manager) Fail(task harvest.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.canceled[task.Domain] {
		m.reportLocked(task, harvest.TerminalReasonCanceled)
		return fmt.Errorf("retry task %s: %w", task.ID, harvest.ErrDomainCanceled)
	}
	task.Attempts++
	if task.Attempts >= m.cfg.MaxAttempts {
		m.reportLocked(task, harvest.TerminalReasonExpired)
		return fmt.Errorf("task %s after %d attempts: %w", task.ID, task.Attempts, harvest.ErrTaskExpired)
	}
	delay := m.retryDelay(task.Attempts)
	heap.Push(&m.delayed, &delayedTask{
		task:    task,
		readyAt: m.clock.Now().Add(delay),
		seq:     m.nextSeqLocked(),
	})
	telemetry.ObserveRetry(task.Domain)
	telemetry.SetQueueDepth(m.queuedLocked())
	m.wakeLocked()
	return nil
}

// CancelDomain removes every queued task for the domain without touching
// tasks already dispatched to executors; their failures will not be
// retried until a new submission reinstates the domain. It returns the
// number removed.
func (m *Manager) CancelDomain(domain string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.canceled[domain] = true
	removed := 0
	kept := m.pending[:0]
	for _, pt := range m.pending {
		if pt.task.Domain == domain {
			m.reportLocked(pt.task, harvest.TerminalReasonCanceled)
			removed++
			continue
		}
		kept = append(kept, pt)
	}
	m.pending = kept
	heap.Init(&m.pending)

	keptDelayed := m.delayed[:0]
	for _, dt := range m.delayed {
		if dt.task.Domain == domain {
			m.reportLocked(dt.task, harvest.TerminalReasonCanceled)
			removed++
			continue
		}
		keptDelayed = append(keptDelayed, dt)
	}
	m.delayed = keptDelayed
	heap.Init(&m.delayed)

	telemetry.SetQueueDepth(m.queuedLocked())
	m.wakeLocked()
	return removed
}

// Len reports the number of queued tasks (pending plus delayed retries).
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queuedLocked()
}

func (m *Manager) queuedLocked() int {
	return len(m.pending) + len(m.delayed)
}

func (m *Manager) nextSeqLocked() uint64 {
	m.seq++
	return m.seq
}

// wakeLocked broadcasts to every blocked AcquireNext by closing the current
// notify channel and replacing it.
func (m *Manager) wakeLocked() {
	close(m.notify)
	m.notify = make(chan struct{})
}

func (m *Manager) stateForLocked(domain string) *domainState {
	st, ok := m.domains[domain]
	if !ok {
		backoff := m.clampBackoff(1.0)
		st = &domainState{
			domain:  domain,
			backoff: backoff,
			limiter: rate.NewLimiter(m.intervalLimit(backoff), 1),
		}
		m.domains[domain] = st
		telemetry.SetBackoff(domain, backoff)
	}
	return st
}

func (m *Manager) clampBackoff(f float64) float64 {
	return math.Min(math.Max(f, m.cfg.MinBackoff), m.cfg.MaxBackoff)
}

// intervalLimit maps backoff to the token refill rate implementing the
// minimum inter-request interval base_interval * backoff.
func (m *Manager) intervalLimit(backoff float64) rate.Limit {
	interval := time.Duration(float64(m.cfg.BaseInterval) * backoff)
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

// slotsLocked derives available concurrency: floor(base / backoff), held in
// [1, base].
func (m *Manager) slotsLocked(st *domainState) int {
	n := int(float64(m.cfg.BaseConcurrency) / st.backoff)
	if n < 1 {
		n = 1
	}
	if n > m.cfg.BaseConcurrency {
		n = m.cfg.BaseConcurrency
	}
	return n
}

func (m *Manager) promoteReadyLocked(now time.Time) {
	for len(m.delayed) > 0 && !m.delayed[0].readyAt.After(now) {
		dt := heap.Pop(&m.delayed).(*delayedTask)
		heap.Push(&m.pending, &pendingTask{task: dt.task, seq: dt.seq})
	}
}

// popAdmissibleLocked scans tasks in priority order and dispatches the first
// whose domain has a free slot and an available interval token. Skipped
// tasks are pushed back unchanged.
func (m *Manager) popAdmissibleLocked(now time.Time) (harvest.Task, bool) {
	var skipped []*pendingTask
	blocked := make(map[string]bool)
	for len(m.pending) > 0 {
		pt := heap.Pop(&m.pending).(*pendingTask)
		st := m.stateForLocked(pt.task.Domain)
		if blocked[st.domain] || st.inflight >= m.slotsLocked(st) || !st.limiter.AllowN(now, 1) {
			blocked[st.domain] = true
			skipped = append(skipped, pt)
			continue
		}
		st.inflight++
		m.inflight[pt.task.ID] = pt.task
		for _, s := range skipped {
			heap.Push(&m.pending, s)
		}
		return pt.task, true
	}
	for _, s := range skipped {
		heap.Push(&m.pending, s)
	}
	return harvest.Task{}, false
}

// nextWakeLocked computes how long an executor may sleep before a delayed
// retry becomes ready or a blocked domain's interval gate reopens.
func (m *Manager) nextWakeLocked(now time.Time) time.Duration {
	wait := idleWait
	if len(m.delayed) > 0 {
		if d := m.delayed[0].readyAt.Sub(now); d < wait {
			wait = d
		}
	}
	seen := make(map[string]bool)
	for _, pt := range m.pending {
		st, ok := m.domains[pt.task.Domain]
		if !ok || seen[st.domain] {
			continue
		}
		seen[st.domain] = true
		if st.inflight >= m.slotsLocked(st) {
			continue // a Release will wake us
		}
		rsv := st.limiter.ReserveN(now, 1)
		d := rsv.DelayFrom(now)
		rsv.CancelAt(now)
		if d < wait {
			wait = d
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// minPendingLocked finds the heap index of the lowest-priority pending task
// (latest enqueue among equals, so FIFO victims go last-in first-out).
func (m *Manager) minPendingLocked() (int, int) {
	idx := -1
	minPrio := 0
	for i, pt := range m.pending {
		if idx < 0 || pt.task.Priority < minPrio ||
			(pt.task.Priority == minPrio && pt.task.EnqueueTime.After(m.pending[idx].task.EnqueueTime)) {
			idx = i
			minPrio = pt.task.Priority
		}
	}
	return idx, minPrio
}

// retryDelay implements base * 2^attempts capped at the configured maximum.
func (m *Manager) retryDelay(attempts int) time.Duration {
	delay := float64(m.cfg.RetryBaseDelay) * math.Pow(2, float64(attempts))
	if max := float64(m.cfg.RetryMaxDelay); m.cfg.RetryMaxDelay > 0 && delay > max {
		delay = max
	}
	return time.Duration(delay)
}

func (m *Manager) reportLocked(task harvest.Task, reason string) {
	telemetry.ObserveTerminal(reason)
	m.logger.Warn("task left the queue",
		zap.String("task_id", task.ID),
		zap.String("domain", task.Domain),
		zap.String("reason", reason),
	)
	if m.reporter != nil {
		m.reporter(harvest.TerminalReport{Task: task, Reason: reason, At: m.clock.Now()})
	}
}
