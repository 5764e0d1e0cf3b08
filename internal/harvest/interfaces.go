package harvest

import (
	"context"
	"time"
)

// Fetcher executes a task's network fetch. Implementations live outside the
// orchestration core; in-process executors wrap an HTTP client or browser,
// remote executors poll the API instead.
type Fetcher interface {
	Fetch(ctx context.Context, task Task) (Outcome, error)
}

// Publisher pushes alerts and terminal reports to an external sink.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ContentSink receives content the dedup engine judged unique, ahead of the
// external persistent store.
type ContentSink interface {
	Put(ctx context.Context, path string, content []byte) (string, error)
}

// SnapshotStore persists domain statistics snapshots and accepted-content
// records for offline analysis. The core only appends.
type SnapshotStore interface {
	StoreSnapshot(ctx context.Context, snap DomainSnapshot, backoff float64) error
	StoreAccepted(ctx context.Context, rec AcceptedContent) error
	Close()
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task and content IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// TerminalReporter is invoked when a task is dropped from the system. The
// callback must not block; it runs under scheduling locks.
type TerminalReporter func(report TerminalReport)
