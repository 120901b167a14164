// Package scheduler runs ordered upload tasks with a bound on how many are in
// flight at once.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Task is a deferred unit of work bound to one chunk.
type Task struct {
	Index int
	Run   func(ctx context.Context) error
}

type result struct {
	index int
	err   error
}

// Run executes tasks with at most limit in flight. Tasks are started in slice
// order; completion order is unconstrained. After the first failure no further
// task is run, but every task already in flight is awaited before Run returns
// the failure, so no settlement goes unobserved. A limit larger than the task
// count behaves as fully parallel. Run returns nil iff every task succeeded.
//
// onComplete, if not nil, is called once per successful task with the task's
// index, possibly from multiple goroutines at once. It is never called for a
// failed task.
func Run(ctx context.Context, tasks []Task, limit int, onComplete func(index int)) error {
	if limit < 1 {
		return fmt.Errorf("concurrency limit must be at least 1, got %d", limit)
	}
	if len(tasks) == 0 {
		return nil
	}
	if limit > len(tasks) {
		limit = len(tasks)
	}

	queue := make(chan Task)
	results := make(chan result, len(tasks))

	// Workers re-check the flag before each run, so a task handed to an idle
	// worker after a failure settles without ever starting.
	var failed int32

	var wg sync.WaitGroup
	for i := 0; i < limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				if atomic.LoadInt32(&failed) == 1 {
					results <- result{index: task.Index}
					continue
				}
				if err := task.Run(ctx); err != nil {
					atomic.StoreInt32(&failed, 1)
					results <- result{index: task.Index, err: err}
					continue
				}
				if onComplete != nil {
					onComplete(task.Index)
				}
				results <- result{index: task.Index}
			}
		}()
	}

	var firstErr error
	started, settled := 0, 0

	collect := func(res result) {
		settled++
		if res.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("task %d failed: %w", res.index, res.err)
		}
	}

	for firstErr == nil && started < len(tasks) {
		// Settle anything already finished before starting another task.
		select {
		case res := <-results:
			collect(res)
			continue
		default:
		}

		select {
		case queue <- tasks[started]:
			started++
		case res := <-results:
			collect(res)
		}
	}
	close(queue)

	for settled < started {
		collect(<-results)
	}
	wg.Wait()

	return firstErr
}
