package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inFlightGauge struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (g *inFlightGauge) enter() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current++
	if g.current > g.peak {
		g.peak = g.current
	}
}

func (g *inFlightGauge) leave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current--
}

func (g *inFlightGauge) peakValue() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

func makeTasks(count int, run func(index int) error) []Task {
	tasks := make([]Task, count)
	for i := 0; i < count; i++ {
		index := i
		tasks[i] = Task{
			Index: index,
			Run: func(ctx context.Context) error {
				return run(index)
			},
		}
	}
	return tasks
}

func TestRunAllTasksSucceed(t *testing.T) {
	var mu sync.Mutex
	completed := map[int]int{}

	tasks := makeTasks(10, func(index int) error { return nil })

	err := Run(context.Background(), tasks, 3, func(index int) {
		mu.Lock()
		defer mu.Unlock()
		completed[index]++
	})

	require.NoError(t, err)
	assert.Len(t, completed, 10)
	for index, count := range completed {
		assert.Equal(t, 1, count, "task %d should complete exactly once", index)
	}
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	tests := []struct {
		name      string
		taskCount int
		limit     int
	}{
		{name: "limit 1", taskCount: 6, limit: 1},
		{name: "limit 2", taskCount: 6, limit: 2},
		{name: "limit above task count", taskCount: 3, limit: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gauge := &inFlightGauge{}
			tasks := makeTasks(tt.taskCount, func(index int) error {
				gauge.enter()
				defer gauge.leave()
				time.Sleep(10 * time.Millisecond)
				return nil
			})

			err := Run(context.Background(), tasks, tt.limit, nil)

			require.NoError(t, err)
			assert.LessOrEqual(t, gauge.peakValue(), tt.limit)
		})
	}
}

func TestRunStartsTasksInOrder(t *testing.T) {
	var mu sync.Mutex
	var startOrder []int

	tasks := makeTasks(8, func(index int) error {
		mu.Lock()
		startOrder = append(startOrder, index)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return nil
	})

	// With a single worker the start order is fully observable.
	err := Run(context.Background(), tasks, 1, nil)

	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, startOrder)
}

func TestRunStopsDispatchingAfterFailure(t *testing.T) {
	var mu sync.Mutex
	started := map[int]bool{}
	taskErr := errors.New("chunk rejected")

	tasks := makeTasks(5, func(index int) error {
		mu.Lock()
		started[index] = true
		mu.Unlock()
		if index == 0 {
			return taskErr
		}
		return nil
	})

	var completions int
	err := Run(context.Background(), tasks, 1, func(index int) {
		completions++
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, taskErr))
	assert.False(t, started[2], "no task beyond the in-flight ones should start after a failure")
	assert.False(t, started[3])
	assert.False(t, started[4])
	assert.Equal(t, 0, completions, "onComplete must not fire for failed tasks")
}

func TestRunAwaitsInFlightTasksOnFailure(t *testing.T) {
	var mu sync.Mutex
	started := map[int]bool{}
	slowDone := make(chan struct{})
	var slowFinished bool

	tasks := []Task{
		{
			Index: 0,
			Run: func(ctx context.Context) error {
				mu.Lock()
				started[0] = true
				mu.Unlock()
				<-slowDone
				mu.Lock()
				slowFinished = true
				mu.Unlock()
				return nil
			},
		},
		{
			Index: 1,
			Run: func(ctx context.Context) error {
				mu.Lock()
				started[1] = true
				mu.Unlock()
				// Let the failure settle first, then release the straggler.
				go func() {
					time.Sleep(20 * time.Millisecond)
					close(slowDone)
				}()
				return errors.New("boom")
			},
		},
		{
			Index: 2,
			Run: func(ctx context.Context) error {
				mu.Lock()
				started[2] = true
				mu.Unlock()
				return nil
			},
		},
	}

	err := Run(context.Background(), tasks, 2, nil)

	require.Error(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, slowFinished, "Run must await in-flight tasks before returning")
	assert.False(t, started[2], "task 2 must not start once the failure is observed")
}

func TestRunReturnsFirstFailure(t *testing.T) {
	tasks := makeTasks(4, func(index int) error {
		return fmt.Errorf("task error %d", index)
	})

	err := Run(context.Background(), tasks, 1, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "task 0 failed")
}

func TestRunInvalidLimit(t *testing.T) {
	tasks := makeTasks(1, func(index int) error { return nil })

	assert.Error(t, Run(context.Background(), tasks, 0, nil))
	assert.Error(t, Run(context.Background(), tasks, -1, nil))
}

func TestRunNoTasks(t *testing.T) {
	assert.NoError(t, Run(context.Background(), nil, 2, nil))
}
