package perf

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"genforge/internal/config"
	"genforge/internal/logging"
)

// =============================================================================
// TASK SCHEDULER
// =============================================================================
//
// The TaskScheduler keeps a priority-ordered ready queue plus a waiting
// list for tasks whose dependencies have not finished. A task is ready
// only when every declared dependency id has reached a terminal state
// (completed or failed); gating orders execution, it does not propagate
// failure. Deferred tasks are re-checked on a short fixed interval.

// waitingPollInterval is how often deferred tasks are re-checked.
const waitingPollInterval = 50 * time.Millisecond

// SchedulerStats provides observability into scheduler state.
type SchedulerStats struct {
	QueuedTasks   int
	WaitingTasks  int
	RunningTasks  int
	TotalEnqueued int64
	TotalDeferred int64
}

// TaskScheduler is a priority/dependency-aware queue with a pluggable
// load-balancing selection policy.
type TaskScheduler struct {
	mu sync.Mutex

	ready     []*GenerationTask
	waiting   []*GenerationTask
	running   map[string]struct{}
	completed map[string]struct{}

	policy string
	rng    *rand.Rand

	isRunning bool
	stopCh    chan struct{}
	pollWg    sync.WaitGroup

	totalEnqueued int64
	totalDeferred int64
}

// NewTaskScheduler creates a scheduler with the given load-balancing
// policy (round-robin, least-loaded, or random).
func NewTaskScheduler(policy string) *TaskScheduler {
	if policy == "" {
		policy = config.BalanceRoundRobin
	}
	return &TaskScheduler{
		running:   make(map[string]struct{}),
		completed: make(map[string]struct{}),
		policy:    policy,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the deferred-task polling loop.
func (s *TaskScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})

	s.pollWg.Add(1)
	go s.pollWaiting()

	logging.Scheduler("TaskScheduler: started (policy=%s)", s.policy)
}

// Stop halts the polling loop. Queued tasks remain queued.
func (s *TaskScheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.pollWg.Wait()
	logging.Scheduler("TaskScheduler: stopped")
}

func (s *TaskScheduler) pollWaiting() {
	defer s.pollWg.Done()

	ticker := time.NewTicker(waitingPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.promoteWaitingLocked()
			s.mu.Unlock()
		}
	}
}

// Enqueue places the task in the ready queue, or defers it while any
// declared dependency has not reached a terminal state.
func (s *TaskScheduler) Enqueue(task *GenerationTask) {
	s.mu.Lock()
	defer s.mu.Unlock()

	atomic.AddInt64(&s.totalEnqueued, 1)

	if !s.depsSatisfiedLocked(task) {
		atomic.AddInt64(&s.totalDeferred, 1)
		s.waiting = append(s.waiting, task)
		logging.SchedulerDebug("Enqueue: task %s deferred (deps=%v)", task.ID, task.Dependencies)
		return
	}

	s.insertReadyLocked(task)
	logging.SchedulerDebug("Enqueue: task %s ready (priority=%d, queue_depth=%d)",
		task.ID, task.Priority, len(s.ready))
}

// depsSatisfiedLocked reports whether every dependency id is terminal.
func (s *TaskScheduler) depsSatisfiedLocked(task *GenerationTask) bool {
	for _, dep := range task.Dependencies {
		if _, done := s.completed[dep]; !done {
			return false
		}
	}
	return true
}

// insertReadyLocked inserts by priority descending; ties preserve
// submission order via the linear scan.
func (s *TaskScheduler) insertReadyLocked(task *GenerationTask) {
	idx := len(s.ready)
	for i, queued := range s.ready {
		if queued.Priority < task.Priority {
			idx = i
			break
		}
	}
	s.ready = append(s.ready, nil)
	copy(s.ready[idx+1:], s.ready[idx:])
	s.ready[idx] = task
}

// promoteWaitingLocked moves now-ready deferred tasks into the ready queue.
func (s *TaskScheduler) promoteWaitingLocked() {
	if len(s.waiting) == 0 {
		return
	}
	remaining := s.waiting[:0]
	for _, task := range s.waiting {
		if s.depsSatisfiedLocked(task) {
			s.insertReadyLocked(task)
			logging.SchedulerDebug("promoteWaiting: task %s now ready", task.ID)
		} else {
			remaining = append(remaining, task)
		}
	}
	s.waiting = remaining
}

// Dequeue removes and returns the next task per the configured policy,
// or nil when the ready queue is empty.
func (s *TaskScheduler) Dequeue() *GenerationTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ready) == 0 {
		return nil
	}

	idx := 0
	switch s.policy {
	case config.BalanceLeastLoaded:
		// Cheapest-to-run-next by estimated complexity.
		for i := 1; i < len(s.ready); i++ {
			if s.ready[i].EstimatedComplexity < s.ready[idx].EstimatedComplexity {
				idx = i
			}
		}
	case config.BalanceRandom:
		idx = s.rng.Intn(len(s.ready))
	default:
		// round-robin: strict FIFO from the head (priority order).
	}

	task := s.ready[idx]
	s.ready = append(s.ready[:idx], s.ready[idx+1:]...)
	return task
}

// Requeue returns a claimed but undispatched task to the ready queue.
func (s *TaskScheduler) Requeue(task *GenerationTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, task.ID)
	s.insertReadyLocked(task)
}

// MarkTaskRunning records the task id in the running set.
func (s *TaskScheduler) MarkTaskRunning(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[taskID] = struct{}{}
}

// MarkTaskCompleted moves the task id to the completed set (success and
// failure both count - gating only orders execution) and promotes any
// waiting tasks that became ready.
func (s *TaskScheduler) MarkTaskCompleted(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, taskID)
	s.completed[taskID] = struct{}{}
	s.promoteWaitingLocked()
}

// IsRunning reports whether the task id is currently in the running set.
func (s *TaskScheduler) IsRunning(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[taskID]
	return ok
}

// QueuedCount returns the ready-queue depth.
func (s *TaskScheduler) QueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready)
}

// GetStats returns current scheduler statistics.
func (s *TaskScheduler) GetStats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{
		QueuedTasks:   len(s.ready),
		WaitingTasks:  len(s.waiting),
		RunningTasks:  len(s.running),
		TotalEnqueued: atomic.LoadInt64(&s.totalEnqueued),
		TotalDeferred: atomic.LoadInt64(&s.totalDeferred),
	}
}
