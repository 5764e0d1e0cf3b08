// Package harvest defines core types shared across subsystems.
package harvest

import (
	"time"
)

// Status classifies the terminal result of a single fetch attempt.
type Status string

// Outcome status values reported by the external fetcher.
const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
)

// Task is a unit of discovered work awaiting admission and dispatch.
type Task struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Domain      string    `json:"domain"`
	Priority    int       `json:"priority"`
	EnqueueTime time.Time `json:"enqueue_time"`
	Attempts    int       `json:"attempts"`
	ParentID    string    `json:"parent_id,omitempty"`
}

// Outcome is the immutable result of one fetch attempt. It is consumed
// exactly once by the monitor and the rate coordinator.
type Outcome struct {
	TaskID    string        `json:"task_id"`
	Domain    string        `json:"domain"`
	Status    Status        `json:"status"`
	Latency   time.Duration `json:"latency"`
	Content   []byte        `json:"content,omitempty"`
	ByteSize  int64         `json:"byte_size"`
	Timestamp time.Time     `json:"timestamp"`
}

// DomainSnapshot is a consistent read of one domain's rolling statistics.
type DomainSnapshot struct {
	Domain      string        `json:"domain"`
	SampleCount int           `json:"sample_count"`
	ErrorRate   float64       `json:"error_rate"`
	TimeoutRate float64       `json:"timeout_rate"`
	LatencyP50  time.Duration `json:"latency_p50"`
	LatencyP95  time.Duration `json:"latency_p95"`
	MeanBytes   float64       `json:"mean_bytes"`
	LastOutcome time.Time     `json:"last_outcome"`
}

// Alert is pushed to the monitoring sink when a domain breaches a threshold.
type Alert struct {
	Domain    string    `json:"domain"`
	Reason    string    `json:"reason"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	At        time.Time `json:"at"`
}

// Alert reasons emitted by the domain monitor.
const (
	AlertReasonErrorRate = "error_rate"
	AlertReasonLatency   = "latency_p95"
)

// Verdict is the deduplication engine's answer for one piece of content.
type Verdict struct {
	Duplicate   bool    `json:"duplicate"`
	CandidateID string  `json:"candidate_id,omitempty"`
	Similarity  float64 `json:"similarity,omitempty"`
	Degraded    bool    `json:"degraded,omitempty"`
}

// TerminalReport is surfaced upstream when a task leaves the system without
// a successful outcome.
type TerminalReport struct {
	Task   Task      `json:"task"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Terminal report reasons.
const (
	TerminalReasonExpired  = "max_attempts_exceeded"
	TerminalReasonEvicted  = "evicted_by_higher_priority"
	TerminalReasonCanceled = "domain_canceled"
)

// AcceptedContent records a piece of content that passed deduplication and
// was handed to the content sink.
type AcceptedContent struct {
	ID       string    `json:"id"`
	TaskID   string    `json:"task_id"`
	Domain   string    `json:"domain"`
	URI      string    `json:"uri"`
	Digest   string    `json:"digest"`
	ByteSize int64     `json:"byte_size"`
	StoredAt time.Time `json:"stored_at"`
}
