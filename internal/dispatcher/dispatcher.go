// Package dispatcher runs the executor pool and routes fetch outcomes
// through the monitor, the backoff coordinator, deduplication, and
// storage.
package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harvestkit/harvestd/internal/coordinator"
	"github.com/harvestkit/harvestd/internal/dedup"
	"github.com/harvestkit/harvestd/internal/harvest"
	"github.com/harvestkit/harvestd/internal/monitor"
	"github.com/harvestkit/harvestd/internal/queue"
)

// Dispatcher owns the outcome pipeline. Outcomes arrive either from the
// in-process executor pool or from remote executors via ReportByID; both
// paths converge on Report.
type Dispatcher struct {
	queue     *queue.Manager
	monitor   *monitor.Monitor
	coord     *coordinator.Coordinator
	dedup     *dedup.Engine
	fetcher   harvest.Fetcher
	sink      harvest.ContentSink
	store     harvest.SnapshotStore
	ids       harvest.IDGenerator
	clock     harvest.Clock
	logger    *zap.Logger
	executors int

	snapshotEvery int
	snapMu        sync.Mutex
	snapSeen      map[string]int
}

// New constructs a Dispatcher. Fetcher may be nil when all executors are
// remote; Run is then a no-op. snapshotEvery persists one domain snapshot
// per that many outcomes per domain; values below one mean every outcome.
func New(
	executors int,
	snapshotEvery int,
	q *queue.Manager,
	mon *monitor.Monitor,
	coord *coordinator.Coordinator,
	dd *dedup.Engine,
	fetcher harvest.Fetcher,
	sink harvest.ContentSink,
	store harvest.SnapshotStore,
	ids harvest.IDGenerator,
	clock harvest.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if executors <= 0 {
		executors = 1
	}
	if snapshotEvery <= 0 {
		snapshotEvery = 1
	}
	return &Dispatcher{
		queue:         q,
		monitor:       mon,
		coord:         coord,
		dedup:         dd,
		fetcher:       fetcher,
		sink:          sink,
		store:         store,
		ids:           ids,
		clock:         clock,
		logger:        logger,
		executors:     executors,
		snapshotEvery: snapshotEvery,
		snapSeen:      make(map[string]int),
	}
}

// Run blocks executing tasks until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.fetcher == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.executors; i++ {
		n := i
		g.Go(func() error {
			return d.runExecutor(ctx, n)
		})
	}
	return g.Wait()
}

func (d *Dispatcher) runExecutor(ctx context.Context, n int) error {
	log := d.logger.With(zap.Int("executor", n))
	log.Info("executor started")
	for {
		task, err := d.queue.AcquireNext(ctx)
		if err != nil {
			log.Info("executor stopping", zap.Error(err))
			return err
		}
		outcome, err := d.fetcher.Fetch(ctx, task)
		if err != nil {
			log.Warn("fetch failed",
				zap.String("task_id", task.ID),
				zap.String("url", task.URL),
				zap.Error(err),
			)
			outcome = harvest.Outcome{
				TaskID:    task.ID,
				Domain:    task.Domain,
				Status:    harvest.StatusFailure,
				Timestamp: d.clock.Now(),
			}
		}
		d.Report(ctx, task, outcome)
	}
}

// Report settles one outcome: the task leaves the inflight set, the
// monitor and coordinator observe the result, successful content goes
// through deduplication to the sink, and failures re-enter the retry
// ladder.
func (d *Dispatcher) Report(ctx context.Context, task harvest.Task, outcome harvest.Outcome) {
	d.queue.Forget(task.ID)
	d.queue.Release(task.Domain)

	d.monitor.Record(outcome)
	d.coord.Process(outcome)
	d.persistSnapshot(ctx, outcome.Domain)

	if outcome.Status == harvest.StatusSuccess {
		if len(outcome.Content) > 0 {
			d.accept(ctx, task, outcome)
		}
		return
	}
	if err := d.queue.Fail(task); err != nil {
		d.logger.Info("task left the system",
			zap.String("task_id", task.ID),
			zap.String("domain", task.Domain),
			zap.Error(err),
		)
	}
}

// ReportByID resolves a remote executor's outcome against the inflight
// set. Unknown task IDs are rejected so duplicate or stale reports cannot
// double-settle a task.
func (d *Dispatcher) ReportByID(ctx context.Context, outcome harvest.Outcome) error {
	task, ok := d.queue.InflightTask(outcome.TaskID)
	if !ok {
		return harvest.ErrUnknownTask
	}
	if outcome.Domain == "" {
		outcome.Domain = task.Domain
	}
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = d.clock.Now()
	}
	d.Report(ctx, task, outcome)
	return nil
}

func (d *Dispatcher) accept(ctx context.Context, task harvest.Task, outcome harvest.Outcome) {
	id, err := d.ids.NewID()
	if err != nil {
		d.logger.Error("content id generation failed", zap.Error(err))
		return
	}
	verdict, err := d.dedup.CheckAndInsert(outcome.Content, id)
	if err != nil {
		d.logger.Error("dedup check failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	if verdict.Duplicate {
		d.logger.Debug("duplicate content dropped",
			zap.String("task_id", task.ID),
			zap.String("candidate_id", verdict.CandidateID),
			zap.Float64("similarity", verdict.Similarity),
		)
		return
	}

	uri, err := d.sink.Put(ctx, task.Domain+"/"+id, outcome.Content)
	if err != nil {
		d.logger.Error("content sink write failed",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
		return
	}
	sum := sha256.Sum256(outcome.Content)
	rec := harvest.AcceptedContent{
		ID:       id,
		TaskID:   task.ID,
		Domain:   task.Domain,
		URI:      uri,
		Digest:   hex.EncodeToString(sum[:]),
		ByteSize: outcome.ByteSize,
		StoredAt: d.clock.Now(),
	}
	if err := d.store.StoreAccepted(ctx, rec); err != nil {
		d.logger.Error("accepted content record failed",
			zap.String("content_id", id),
			zap.Error(err),
		)
	}
}

// persistSnapshot writes every snapshotEvery-th snapshot per domain; the
// monitor still observes every outcome, only persistence is sampled.
func (d *Dispatcher) persistSnapshot(ctx context.Context, domain string) {
	d.snapMu.Lock()
	d.snapSeen[domain]++
	due := (d.snapSeen[domain]-1)%d.snapshotEvery == 0
	d.snapMu.Unlock()
	if !due {
		return
	}
	snap := d.monitor.Snapshot(domain)
	if snap.SampleCount == 0 {
		return
	}
	if err := d.store.StoreSnapshot(ctx, snap, d.queue.Backoff(domain)); err != nil {
		d.logger.Warn("snapshot persist failed", zap.String("domain", domain), zap.Error(err))
	}
}
