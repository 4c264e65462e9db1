package perf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genforge/internal/config"
)

func TestSchedulerPriorityOrdering(t *testing.T) {
	s := NewTaskScheduler(config.BalanceRoundRobin)

	low := NewGenerationTask("render", "low", map[string]interface{}{"priority": 1}, nil)
	high := NewGenerationTask("render", "high", map[string]interface{}{"priority": 10}, nil)
	mid := NewGenerationTask("render", "mid", map[string]interface{}{"priority": 5}, nil)

	s.Enqueue(low)
	s.Enqueue(high)
	s.Enqueue(mid)

	assert.Equal(t, high.ID, s.Dequeue().ID)
	assert.Equal(t, mid.ID, s.Dequeue().ID)
	assert.Equal(t, low.ID, s.Dequeue().ID)
	assert.Nil(t, s.Dequeue(), "empty queue returns nil")
}

func TestSchedulerFIFOWithinPriority(t *testing.T) {
	s := NewTaskScheduler(config.BalanceRoundRobin)

	first := NewGenerationTask("render", "first", nil, nil)
	second := NewGenerationTask("render", "second", nil, nil)
	third := NewGenerationTask("render", "third", nil, nil)

	s.Enqueue(first)
	s.Enqueue(second)
	s.Enqueue(third)

	assert.Equal(t, first.ID, s.Dequeue().ID, "equal priorities keep submission order")
	assert.Equal(t, second.ID, s.Dequeue().ID)
	assert.Equal(t, third.ID, s.Dequeue().ID)
}

func TestSchedulerDependencyGating(t *testing.T) {
	s := NewTaskScheduler(config.BalanceRoundRobin)

	dep := NewGenerationTask("render", "dep", nil, nil)
	gated := NewGenerationTask("render", "gated", nil, []string{dep.ID})

	s.Enqueue(gated)
	assert.Nil(t, s.Dequeue(), "gated task must not be dequeued before its dependency completes")

	stats := s.GetStats()
	assert.Equal(t, 1, stats.WaitingTasks)
	assert.Equal(t, int64(1), stats.TotalDeferred)

	s.Enqueue(dep)
	got := s.Dequeue()
	require.NotNil(t, got)
	assert.Equal(t, dep.ID, got.ID)

	// Completion promotes the waiting task synchronously.
	s.MarkTaskCompleted(dep.ID)
	got = s.Dequeue()
	require.NotNil(t, got)
	assert.Equal(t, gated.ID, got.ID)
}

func TestSchedulerFailureAlsoUnblocks(t *testing.T) {
	// Gating orders execution; it does not propagate failure. A failed
	// dependency still releases its dependents.
	s := NewTaskScheduler(config.BalanceRoundRobin)

	gated := NewGenerationTask("render", "gated", nil, []string{"task-that-failed"})
	s.Enqueue(gated)
	assert.Nil(t, s.Dequeue())

	s.MarkTaskCompleted("task-that-failed")
	got := s.Dequeue()
	require.NotNil(t, got)
	assert.Equal(t, gated.ID, got.ID)
}

func TestSchedulerPollingPromotesWaiting(t *testing.T) {
	s := NewTaskScheduler(config.BalanceRoundRobin)
	s.Start()
	defer s.Stop()

	gated := NewGenerationTask("render", "gated", nil, []string{"dep-1"})
	s.Enqueue(gated)

	// Mark the dependency terminal behind the scheduler's back; the
	// polling loop should promote the waiting task on its own.
	s.mu.Lock()
	s.completed["dep-1"] = struct{}{}
	s.mu.Unlock()

	require.Eventually(t, func() bool {
		return s.QueuedCount() == 1
	}, time.Second, 10*time.Millisecond, "polling loop should promote the gated task")
}

func TestSchedulerLeastLoadedPolicy(t *testing.T) {
	s := NewTaskScheduler(config.BalanceLeastLoaded)

	heavy := NewGenerationTask("render", string(make([]byte, 2048)), nil, nil)
	light := NewGenerationTask("render", "x", nil, nil)
	require.Less(t, light.EstimatedComplexity, heavy.EstimatedComplexity)

	s.Enqueue(heavy)
	s.Enqueue(light)

	assert.Equal(t, light.ID, s.Dequeue().ID, "least-loaded picks the cheapest task")
	assert.Equal(t, heavy.ID, s.Dequeue().ID)
}

func TestSchedulerRandomPolicyDrains(t *testing.T) {
	s := NewTaskScheduler(config.BalanceRandom)

	ids := make(map[string]bool)
	for i := 0; i < 10; i++ {
		task := NewGenerationTask("render", i, nil, nil)
		ids[task.ID] = true
		s.Enqueue(task)
	}

	for i := 0; i < 10; i++ {
		task := s.Dequeue()
		require.NotNil(t, task)
		require.True(t, ids[task.ID], "dequeued unknown task %s", task.ID)
		delete(ids, task.ID)
	}
	assert.Nil(t, s.Dequeue())
}

func TestSchedulerRequeue(t *testing.T) {
	s := NewTaskScheduler(config.BalanceRoundRobin)

	task := NewGenerationTask("render", "x", nil, nil)
	s.Enqueue(task)

	got := s.Dequeue()
	require.NotNil(t, got)
	s.MarkTaskRunning(got.ID)
	assert.True(t, s.IsRunning(got.ID))

	// Dispatch failed; the task goes back without entering the completed set.
	s.Requeue(got)
	assert.False(t, s.IsRunning(got.ID))
	assert.Equal(t, 1, s.QueuedCount())

	again := s.Dequeue()
	require.NotNil(t, again)
	assert.Equal(t, task.ID, again.ID)
}

func TestSchedulerStats(t *testing.T) {
	s := NewTaskScheduler(config.BalanceRoundRobin)

	ready := NewGenerationTask("render", "a", nil, nil)
	gated := NewGenerationTask("render", "b", nil, []string{"nope"})
	s.Enqueue(ready)
	s.Enqueue(gated)
	s.MarkTaskRunning("task-running")

	stats := s.GetStats()
	assert.Equal(t, 1, stats.QueuedTasks)
	assert.Equal(t, 1, stats.WaitingTasks)
	assert.Equal(t, 1, stats.RunningTasks)
	assert.Equal(t, int64(2), stats.TotalEnqueued)
	assert.Equal(t, int64(1), stats.TotalDeferred)
}
