package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harvestkit/harvestd/internal/clock/system"
	"github.com/harvestkit/harvestd/internal/harvest"
)

type reportRecorder struct {
	mu      sync.Mutex
	reports []harvest.TerminalReport
}

func (r *reportRecorder) report(rep harvest.TerminalReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func (r *reportRecorder) all() []harvest.TerminalReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]harvest.TerminalReport, len(r.reports))
	copy(out, r.reports)
	return out
}

func testConfig() Config {
	return Config{
		Capacity:        8,
		BaseConcurrency: 4,
		BaseInterval:    0,
		MinBackoff:      0.5,
		MaxBackoff:      4.0,
		MaxAttempts:     3,
		RetryBaseDelay:  5 * time.Millisecond,
		RetryMaxDelay:   40 * time.Millisecond,
	}
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *reportRecorder) {
	t.Helper()
	rec := &reportRecorder{}
	return NewManager(cfg, system.New(), rec.report, nil), rec
}

func task(id, domain string, priority int) harvest.Task {
	return harvest.Task{
		ID:       id,
		URL:      "https://" + domain + "/" + id,
		Domain:   domain,
		Priority: priority,
	}
}

func acquire(t *testing.T, m *Manager, timeout time.Duration) harvest.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	got, err := m.AcquireNext(ctx)
	require.NoError(t, err)
	return got
}

func TestAcquireOrderFollowsPriority(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, testConfig())
	require.NoError(t, m.Submit(task("t1", "a.example", 1)))
	require.NoError(t, m.Submit(task("t2", "b.example", 5)))
	require.NoError(t, m.Submit(task("t3", "c.example", 1)))

	require.Equal(t, "t2", acquire(t, m, time.Second).ID)
	require.Equal(t, "t1", acquire(t, m, time.Second).ID)
	require.Equal(t, "t3", acquire(t, m, time.Second).ID)
}

func TestEqualPriorityIsFIFO(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, testConfig())
	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, m.Submit(task(id, id+".example", 2)))
	}

	require.Equal(t, "first", acquire(t, m, time.Second).ID)
	require.Equal(t, "second", acquire(t, m, time.Second).ID)
	require.Equal(t, "third", acquire(t, m, time.Second).ID)
}

func TestSubmitAtCapacityRejectsNonOutranking(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Capacity = 2
	m, _ := newTestManager(t, cfg)
	require.NoError(t, m.Submit(task("a", "a.example", 1)))
	require.NoError(t, m.Submit(task("b", "b.example", 1)))

	err := m.Submit(task("c", "c.example", 1))
	require.ErrorIs(t, err, harvest.ErrQueueFull)
	err = m.Submit(task("d", "d.example", 0))
	require.ErrorIs(t, err, harvest.ErrQueueFull)
	require.Equal(t, 2, m.Len())
}

func TestSubmitAtCapacityEvictsLowestPriority(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Capacity = 2
	m, rec := newTestManager(t, cfg)
	require.NoError(t, m.Submit(task("low", "a.example", 1)))
	require.NoError(t, m.Submit(task("mid", "b.example", 2)))

	require.NoError(t, m.Submit(task("high", "c.example", 5)))
	require.Equal(t, 2, m.Len())

	reports := rec.all()
	require.Len(t, reports, 1)
	require.Equal(t, "low", reports[0].Task.ID)
	require.Equal(t, harvest.TerminalReasonEvicted, reports[0].Reason)

	require.Equal(t, "high", acquire(t, m, time.Second).ID)
	require.Equal(t, "mid", acquire(t, m, time.Second).ID)
}

func TestBackoffFactorClampedToBounds(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, testConfig())
	m.UpdateBackoff("a.example", 10.0)
	require.InDelta(t, 4.0, m.Backoff("a.example"), 1e-9)

	m.UpdateBackoff("a.example", 0.01)
	require.InDelta(t, 0.5, m.Backoff("a.example"), 1e-9)
}

func TestBackoffShrinksConcurrencySlots(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, testConfig())
	m.UpdateBackoff("a.example", 4.0)
	_, slots, _ := m.DomainView("a.example")
	require.Equal(t, 1, slots)

	m.UpdateBackoff("a.example", 0.5)
	_, slots, _ = m.DomainView("a.example")
	require.Equal(t, 4, slots)
}

func TestFailRetriesUntilMaxAttempts(t *testing.T) {
	t.Parallel()

	m, rec := newTestManager(t, testConfig())
	tk := task("t1", "a.example", 1)

	require.NoError(t, m.Fail(tk))
	got := acquire(t, m, time.Second)
	require.Equal(t, "t1", got.ID)
	require.Equal(t, 1, got.Attempts)
	m.Release(got.Domain)
	m.Forget(got.ID)

	require.NoError(t, m.Fail(got))
	got = acquire(t, m, time.Second)
	require.Equal(t, 2, got.Attempts)
	m.Release(got.Domain)
	m.Forget(got.ID)

	err := m.Fail(got)
	require.ErrorIs(t, err, harvest.ErrTaskExpired)
	require.Equal(t, 0, m.Len())

	reports := rec.all()
	require.Len(t, reports, 1)
	require.Equal(t, harvest.TerminalReasonExpired, reports[0].Reason)
}

func TestCancelDomainDropsQueuedTasks(t *testing.T) {
	t.Parallel()

	m, rec := newTestManager(t, testConfig())
	require.NoError(t, m.Submit(task("a1", "a.example", 1)))
	require.NoError(t, m.Submit(task("a2", "a.example", 3)))
	require.NoError(t, m.Submit(task("b1", "b.example", 2)))
	require.NoError(t, m.Fail(task("a3", "a.example", 1)))

	require.Equal(t, 3, m.CancelDomain("a.example"))
	require.Equal(t, 1, m.Len())
	require.Equal(t, "b1", acquire(t, m, time.Second).ID)

	for _, rep := range rec.all() {
		require.Equal(t, harvest.TerminalReasonCanceled, rep.Reason)
		require.Equal(t, "a.example", rep.Task.Domain)
	}
}

func TestFailAfterCancelDropsRetry(t *testing.T) {
	t.Parallel()

	m, rec := newTestManager(t, testConfig())
	require.NoError(t, m.Submit(task("t1", "a.example", 1)))
	got := acquire(t, m, time.Second)
	m.Release(got.Domain)
	m.Forget(got.ID)

	require.Equal(t, 0, m.CancelDomain("a.example"))

	err := m.Fail(got)
	require.ErrorIs(t, err, harvest.ErrDomainCanceled)
	require.Equal(t, 0, m.Len())

	reports := rec.all()
	require.Len(t, reports, 1)
	require.Equal(t, harvest.TerminalReasonCanceled, reports[0].Reason)
	require.Equal(t, "t1", reports[0].Task.ID)

	// A new submission reinstates the domain and retries work again.
	require.NoError(t, m.Submit(task("t2", "a.example", 1)))
	require.NoError(t, m.Fail(task("t3", "a.example", 1)))
	require.Equal(t, 2, m.Len())
}

func TestConcurrencySlotGateBlocksUntilRelease(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BaseConcurrency = 1
	m, _ := newTestManager(t, cfg)
	require.NoError(t, m.Submit(task("t1", "a.example", 1)))
	require.NoError(t, m.Submit(task("t2", "a.example", 1)))

	require.Equal(t, "t1", acquire(t, m, time.Second).ID)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.AcquireNext(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	m.Release("a.example")
	require.Equal(t, "t2", acquire(t, m, time.Second).ID)
}

func TestIntervalGateSpacesDispatches(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BaseInterval = 60 * time.Millisecond
	m, _ := newTestManager(t, cfg)
	require.NoError(t, m.Submit(task("t1", "a.example", 1)))
	require.NoError(t, m.Submit(task("t2", "a.example", 1)))

	start := time.Now()
	require.Equal(t, "t1", acquire(t, m, time.Second).ID)
	require.Equal(t, "t2", acquire(t, m, 2*time.Second).ID)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestBlockedDomainDoesNotStarveOthers(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BaseConcurrency = 1
	m, _ := newTestManager(t, cfg)
	require.NoError(t, m.Submit(task("a1", "a.example", 5)))
	require.NoError(t, m.Submit(task("a2", "a.example", 5)))
	require.NoError(t, m.Submit(task("b1", "b.example", 1)))

	require.Equal(t, "a1", acquire(t, m, time.Second).ID)
	// a.example's slot is taken, so the lower-priority b task dispatches.
	require.Equal(t, "b1", acquire(t, m, time.Second).ID)
}

func TestInflightTracking(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, testConfig())
	require.NoError(t, m.Submit(task("t1", "a.example", 1)))

	got := acquire(t, m, time.Second)
	stored, ok := m.InflightTask("t1")
	require.True(t, ok)
	require.Equal(t, got, stored)

	m.Forget("t1")
	_, ok = m.InflightTask("t1")
	require.False(t, ok)
}

func TestSubmitValidatesTask(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, testConfig())
	err := m.Submit(harvest.Task{ID: "x"})
	require.Error(t, err)
	require.False(t, errors.Is(err, harvest.ErrQueueFull))
}
