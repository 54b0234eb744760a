package progression

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
)

// Job moves OrderID from Expected to Next once RunAt has passed.
type Job struct {
	ID       string             `json:"id"`
	OrderID  string             `json:"order_id"`
	Expected domain.OrderStatus `json:"expected"`
	Next     domain.OrderStatus `json:"next"`
	RunAt    time.Time          `json:"run_at"`
	Attempt  int                `json:"attempt"`

	// member is the encoded form a RedisQueue stored the job under.
	member string
}

// Queue stores scheduled jobs. Claim hides the returned jobs for the
// queue's lease so concurrent workers never see the same job, and a job
// that is never acknowledged becomes due again once the lease expires.
type Queue interface {
	Push(ctx context.Context, job Job) error
	Claim(ctx context.Context, now time.Time, limit int) ([]Job, error)
	Ack(ctx context.Context, job Job) error
	Len(ctx context.Context) (int64, error)
}

type memoryEntry struct {
	job       Job
	visibleAt time.Time
}

// MemoryQueue is a process-local Queue. Jobs do not survive a restart.
type MemoryQueue struct {
	mu    sync.Mutex
	lease time.Duration
	jobs  map[string]*memoryEntry
}

func NewMemoryQueue(lease time.Duration) *MemoryQueue {
	return &MemoryQueue{
		lease: lease,
		jobs:  make(map[string]*memoryEntry),
	}
}

func (q *MemoryQueue) Push(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.ID] = &memoryEntry{job: job, visibleAt: job.RunAt}
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*memoryEntry
	for _, e := range q.jobs {
		if !e.visibleAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].visibleAt.Before(due[j].visibleAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	jobs := make([]Job, 0, len(due))
	for _, e := range due {
		e.visibleAt = now.Add(q.lease)
		jobs = append(jobs, e.job)
	}
	return jobs, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, job.ID)
	return nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.jobs)), nil
}
