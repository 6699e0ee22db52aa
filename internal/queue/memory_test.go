package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEnqueueIdempotencyCollapse(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Now()

	_ = q.Enqueue(ctx, NewJob("ingest-message", []byte(`{"messageId":"m1"}`), now, "conn1:m1"))
	_ = q.Enqueue(ctx, NewJob("ingest-message", []byte(`{"messageId":"m1"}`), now, "conn1:m1"))
	_ = q.Enqueue(ctx, NewJob("ingest-message", []byte(`{"messageId":"m2"}`), now, "conn1:m2"))

	n, _ := q.Len(ctx)
	if n != 2 {
		t.Errorf("Len = %d, want 2: duplicate idempotency keys must collapse", n)
	}
}

func TestEnqueueWithoutKeyNeverCollapses(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Now()

	_ = q.Enqueue(ctx, NewJob("notify", nil, now, ""))
	_ = q.Enqueue(ctx, NewJob("notify", nil, now, ""))

	n, _ := q.Len(ctx)
	if n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
}

func TestPullDueOrdering(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	base := time.Now()

	_ = q.Enqueue(ctx, NewJob("c", nil, base.Add(2*time.Minute), ""))
	_ = q.Enqueue(ctx, NewJob("a", nil, base.Add(-2*time.Minute), ""))
	_ = q.Enqueue(ctx, NewJob("b", nil, base.Add(-1*time.Minute), ""))

	due, err := q.PullDue(ctx, base, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due jobs, want 2 (future job must stay queued)", len(due))
	}
	if due[0].Type != "a" || due[1].Type != "b" {
		t.Errorf("order = [%s, %s], want [a, b]", due[0].Type, due[1].Type)
	}

	n, _ := q.Len(ctx)
	if n != 1 {
		t.Errorf("Len = %d after pull, want 1", n)
	}
}

func TestPullDueRespectsLimit(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	for i := 0; i < 5; i++ {
		_ = q.Enqueue(ctx, NewJob("t", nil, past, ""))
	}

	due, _ := q.PullDue(ctx, time.Now(), 3)
	if len(due) != 3 {
		t.Errorf("pulled %d, want 3", len(due))
	}
	n, _ := q.Len(ctx)
	if n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
}

func TestPullDueNoDoubleDeliveryUnderConcurrency(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	const jobs = 200
	for i := 0; i < jobs; i++ {
		_ = q.Enqueue(ctx, NewJob("t", nil, past, ""))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				due, _ := q.PullDue(ctx, time.Now(), 7)
				if len(due) == 0 {
					return
				}
				mu.Lock()
				for _, j := range due {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != jobs {
		t.Errorf("delivered %d distinct jobs, want %d", len(seen), jobs)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("job %s delivered %d times", id, count)
		}
	}
}

func TestReEnqueueAfterPullAllowed(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Now()

	_ = q.Enqueue(ctx, NewJob("ingest-message", nil, now.Add(-time.Second), "k1"))
	due, _ := q.PullDue(ctx, now, 10)
	if len(due) != 1 {
		t.Fatalf("pulled %d, want 1", len(due))
	}

	// Once pulled the key is no longer pending, so a retry enqueue works.
	_ = q.Enqueue(ctx, NewJob("ingest-message", nil, now, "k1"))
	n, _ := q.Len(ctx)
	if n != 1 {
		t.Errorf("Len = %d, want 1: pulled key must be re-enqueueable", n)
	}
}

func TestDelayedJobBecomesDue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	base := time.Now()

	_ = q.Enqueue(ctx, NewJob("notify", nil, base.Add(time.Hour), ""))

	due, _ := q.PullDue(ctx, base, 10)
	if len(due) != 0 {
		t.Fatalf("future job pulled early")
	}
	due, _ = q.PullDue(ctx, base.Add(2*time.Hour), 10)
	if len(due) != 1 {
		t.Errorf("delayed job not due after its run time")
	}
}
