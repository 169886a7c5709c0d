package scheduler

import (
	"container/heap"
	"context"
	"sync"

	"github.com/artifactkeeper/borgcore/internal/domain"
)

// TaskQueue is the durable sync_tasks queue,
// keyed by (scheduling_priority, enqueued_at) so a restart re-derives
// pending work instead of replaying in-memory state. A store-backed
// implementation lives in internal/store; MemQueue below is the
// in-process fallback used by tests and single-process deployments.
type TaskQueue interface {
	Enqueue(ctx context.Context, task domain.SyncTask) error
	// Dequeue pops the task with the lowest (scheduling_priority,
	// enqueued_at). It returns (nil, nil) once the queue is empty.
	Dequeue(ctx context.Context) (*domain.SyncTask, error)
	// Depth reports the number of tasks currently queued.
	Depth(ctx context.Context) (int, error)
}

type taskHeap []domain.SyncTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].SchedulingPriority != h[j].SchedulingPriority {
		return h[i].SchedulingPriority < h[j].SchedulingPriority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(domain.SyncTask)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MemQueue is a process-local TaskQueue ordered by (priority, enqueued_at).
type MemQueue struct {
	mu sync.Mutex
	h  taskHeap
}

func NewMemQueue() *MemQueue {
	return &MemQueue{}
}

func (q *MemQueue) Enqueue(_ context.Context, task domain.SyncTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, task)
	return nil
}

func (q *MemQueue) Dequeue(_ context.Context) (*domain.SyncTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return nil, nil
	}
	task := heap.Pop(&q.h).(domain.SyncTask)
	return &task, nil
}

func (q *MemQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len(), nil
}
