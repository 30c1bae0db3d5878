package retry

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 4

// Pool runs background network tasks with bounded concurrency. Tasks beyond
// the limit wait for a free worker; a task canceled while waiting never runs.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewPool creates a pool allowing workers concurrent tasks.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers))}
}

// Task is a handle to one background task.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Go starts fn in the background. The context passed to fn is canceled by
// Task.Cancel or when parent is done.
func (p *Pool) Go(parent context.Context, fn func(ctx context.Context)) *Task {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(t.done)
		defer cancel()

		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)

		// Acquire may succeed on an already canceled context
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	}()

	return t
}

// Wait blocks until every task started on the pool has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Cancel asks the task to stop. It does not wait; in-flight network calls
// abort as soon as they observe the context.
func (t *Task) Cancel() {
	if t != nil {
		t.cancel()
	}
}

// Done is closed once the task has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}
