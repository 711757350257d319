package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MihanikMike/ecommerce-price-tracker-sub001/internal/models"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
)

// Queue hands scrape jobs to the worker loop. Pop blocks until a job is
// available, the context expires or the queue is closed.
type Queue interface {
	Push(ctx context.Context, job models.ScrapeJob) error
	Pop(ctx context.Context) (models.ScrapeJob, error)
	Size(ctx context.Context) (int, error)
	Close() error
}

// Memory is a process-local queue. Waiters block on a wake channel that
// Push and Close replace, so a cancelled Pop never touches the lock it
// does not hold.
type Memory struct {
	mu     sync.Mutex
	jobs   []models.ScrapeJob
	closed bool
	wake   chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		wake: make(chan struct{}),
	}
}

func (q *Memory) Push(_ context.Context, job models.ScrapeJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	stamp(&job)
	q.jobs = append(q.jobs, job)
	q.wakeLocked()

	return nil
}

func (q *Memory) Pop(ctx context.Context) (models.ScrapeJob, error) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			return job, nil
		}
		if q.closed {
			q.mu.Unlock()
			return models.ScrapeJob{}, ErrQueueClosed
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return models.ScrapeJob{}, ctx.Err()
		case <-wake:
		}
	}
}

func (q *Memory) Size(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs), nil
}

func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.wakeLocked()

	return nil
}

// wakeLocked releases every blocked Pop by closing the current wake
// channel and installing a fresh one. Callers hold q.mu.
func (q *Memory) wakeLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// stamp assigns an ID and creation time when the producer left them unset.
func stamp(job *models.ScrapeJob) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
}
