package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// =============================================================================
// In-Memory Queue (single process)
// =============================================================================

// MemoryQueue is a heap-backed queue for single-process deployments. It holds
// the full queue contract but has no durability across restarts.
type MemoryQueue struct {
	mu      sync.Mutex
	heap    jobHeap
	pending map[string]struct{} // idempotency keys of pending jobs
	seq     uint64
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{pending: make(map[string]struct{})}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.IdempotencyKey != "" {
		if _, exists := q.pending[job.IdempotencyKey]; exists {
			return nil
		}
		q.pending[job.IdempotencyKey] = struct{}{}
	}

	q.seq++
	heap.Push(&q.heap, &heapItem{job: job, seq: q.seq})
	return nil
}

func (q *MemoryQueue) PullDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*Job
	for q.heap.Len() > 0 && (limit <= 0 || len(due) < limit) {
		next := q.heap[0]
		if next.job.RunAt.After(now) {
			break
		}
		heap.Pop(&q.heap)
		if next.job.IdempotencyKey != "" {
			delete(q.pending, next.job.IdempotencyKey)
		}
		due = append(due, next.job)
	}
	return due, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len(), nil
}

// =============================================================================
// heap internals
// =============================================================================

type heapItem struct {
	job *Job
	seq uint64 // breaks ties so equal run times pull in enqueue order
}

type jobHeap []*heapItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.RunAt.Equal(h[j].job.RunAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].job.RunAt.Before(h[j].job.RunAt)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*heapItem)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
