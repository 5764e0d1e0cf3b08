package harvest

import "errors"

// Sentinel errors surfaced by the orchestration core. Callers match them
// with errors.Is after any amount of wrapping.
var (
	// ErrQueueFull rejects an admission when the global queue is at
	// capacity and the submission does not outrank the current minimum.
	ErrQueueFull = errors.New("queue full")

	// ErrTaskExpired marks a task that exhausted max_attempts.
	ErrTaskExpired = errors.New("task expired")

	// ErrDomainCanceled is returned for operations against a domain whose
	// queued work was removed.
	ErrDomainCanceled = errors.New("domain canceled")

	// ErrIndexUnavailable signals degraded-mode deduplication; the engine
	// fails open rather than blocking ingestion.
	ErrIndexUnavailable = errors.New("dedup index unavailable")

	// ErrUnknownTask is returned when an outcome references a task the
	// scheduler is not tracking as in flight.
	ErrUnknownTask = errors.New("unknown task")
)
