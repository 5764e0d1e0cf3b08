package queue

import (
	"time"

	"github.com/harvestkit/harvestd/internal/harvest"
)

// pendingTask wraps a task with a monotonic sequence number so heap order
// stays stable across re-pushes of skipped items.
type pendingTask struct {
	task harvest.Task
	seq  uint64
}

// taskHeap orders by (priority desc, enqueue time asc, sequence asc).
type taskHeap []*pendingTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	if !h[i].task.EnqueueTime.Equal(h[j].task.EnqueueTime) {
		return h[i].task.EnqueueTime.Before(h[j].task.EnqueueTime)
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*pendingTask))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// delayedTask is a retry waiting out its backoff delay.
type delayedTask struct {
	task    harvest.Task
	readyAt time.Time
	seq     uint64
}

// delayHeap orders by readyAt ascending.
type delayHeap []*delayedTask

func (h delayHeap) Len() int { return len(h) }

func (h delayHeap) Less(i, j int) bool {
	if !h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].readyAt.Before(h[j].readyAt)
	}
	return h[i].seq < h[j].seq
}

func (h delayHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayHeap) Push(x any) {
	*h = append(*h, x.(*delayedTask))
}

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
