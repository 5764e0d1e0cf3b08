// Package main hosts the crawl orchestration daemon entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, task
//     submission, executor long-polling, outcome reporting, domain status,
//     and content-check endpoints. Submissions are validated, assigned
//     UUIDv7 IDs, and admitted into the scheduling queue.
//   - Queue manager: internal/queue holds a bounded global priority queue
//     plus per-domain concurrency slots and minimum-interval gates derived
//     from each domain's backoff factor. At capacity, higher-priority
//     submissions evict the lowest-priority queued task. Failed tasks
//     re-enter through an exponential retry ladder until max_attempts.
//   - Domain monitor: internal/monitor folds outcomes into per-domain
//     sliding windows (error rate, timeout rate, latency percentiles) and
//     publishes edge-triggered alerts when thresholds are crossed.
//   - Backoff coordinator: internal/coordinator attributes a reward to the
//     previous backoff decision and consults the configured policy (an
//     epsilon-greedy bandit by default, a deterministic fixed policy as
//     the alternative) to raise, hold, or lower each domain's factor.
//   - Deduplication: internal/dedup normalizes content, computes MinHash
//     signatures, and looks up near duplicates through LSH band buckets,
//     with an exact sha256 fast path. An unavailable index fails open.
//   - Persistence & fanout: unique content goes to the configured sink
//     (memory/GCS); snapshots and accepted-content records append to the
//     configured store (memory/Postgres); alerts and terminal task reports
//     publish to the configured publisher (memory/PubSub).
//   - Configuration & plumbing: Viper populates config from file and
//     HARVESTD_* env vars; zap provides structured logging; Prometheus
//     metrics are exported via middleware and the /metrics handler.
//
// Operational notes:
//   - Concurrency model: a fixed executor pool (in-process when a fetcher
//     is wired, otherwise remote executors polling GET /v1/tasks/next).
//     Shutdown is coordinated via context cancellation from main.
//   - Rate limiting/backoff: per-domain slots shrink and request intervals
//     stretch as the backoff factor rises; the coordinator adjusts the
//     factor from observed outcomes, clamped to [min_backoff, max_backoff].
//   - Observability: zap logs carry task IDs and domains at key
//     transitions; Prometheus counters/histograms track queue depth,
//     outcomes, policy decisions, dedup verdicts, and HTTP activity.
//
// Quick checklist:
//   - Configure env vars: HARVESTD_SERVER_PORT, HARVESTD_SCHEDULER_*,
//     HARVESTD_MONITOR_*, HARVESTD_POLICY_*, HARVESTD_DEDUP_*, plus
//     publisher/snapshots/sink provider settings when moving beyond the
//     in-memory defaults.
//   - Run locally: go run ./cmd/harvestd -config config.yaml (or rely
//     solely on env overrides).
package main
