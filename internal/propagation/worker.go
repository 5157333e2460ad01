package propagation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Result is the outcome of propagating one catalog entry. Exactly one of
// State and Err is meaningful.
type Result struct {
	ID    string
	State State
	Err   error
}

// OK reports whether the propagation succeeded.
func (r Result) OK() bool { return r.Err == nil }

// propagateJob is a unit of work for the worker pool.
type propagateJob struct {
	index int
	at    time.Time
}

// WorkerPool manages a fixed number of goroutines for parallel propagation.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// Workers returns the pool size.
func (wp *WorkerPool) Workers() int { return wp.workers }

// PropagateBatch propagates every model in ms to the same instant. Results are
// stored by index, so the output follows ms order regardless of completion
// order. A canceled context stops the batch and returns ctx.Err().
func (wp *WorkerPool) PropagateBatch(ctx context.Context, ms *modelSet, at time.Time) ([]Result, error) {
	n := len(ms.ids)
	if n == 0 {
		return nil, ctx.Err()
	}
	results := make([]Result, n)

	jobs := make(chan propagateJob, wp.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results[job.index] = ms.propagate(job.index, job.at)
			}
		}()
	}

	func() {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case jobs <- propagateJob{index: i, at: at}:
			case <-ctx.Done():
				return
			}
		}
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
