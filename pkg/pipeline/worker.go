package pipeline

import (
	"context"
	"errors"
	"sync"
)

var ErrQueueFull = errors.New("pipeline queue is full")

// WorkerPool runs queued jobs on a fixed number of goroutines.
type WorkerPool struct {
	workers    int
	taskQueue  chan *job
	workerFunc func(context.Context, *job)
	wg         sync.WaitGroup
}

func NewWorkerPool(workers, queueSize int, workerFunc func(context.Context, *job)) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = workers * 2
	}
	return &WorkerPool{
		workers:    workers,
		taskQueue:  make(chan *job, queueSize),
		workerFunc: workerFunc,
	}
}

func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx)
	}
}

// TrySubmit enqueues without blocking.
func (wp *WorkerPool) TrySubmit(j *job) error {
	select {
	case wp.taskQueue <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue, waits for the workers and returns the jobs that
// were never picked up. Callers must not submit after Stop.
func (wp *WorkerPool) Stop() []*job {
	close(wp.taskQueue)
	wp.wg.Wait()

	var pending []*job
	for j := range wp.taskQueue {
		pending = append(pending, j)
	}
	return pending
}

func (wp *WorkerPool) worker(ctx context.Context) {
	defer wp.wg.Done()

	for {
		select {
		case j, ok := <-wp.taskQueue:
			if !ok {
				return
			}
			wp.workerFunc(ctx, j)

		case <-ctx.Done():
			return
		}
	}
}
