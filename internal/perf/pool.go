package perf

import (
	"encoding/json"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"genforge/internal/config"
	"genforge/internal/logging"
)

// =============================================================================
// WORKER POOL MANAGER
// =============================================================================
//
// The WorkerPoolManager owns a fixed set of isolated execution units,
// dispatches tasks via message passing, and restarts crashed units. The
// manager's event loop is the only goroutine that mutates the handle
// map; workers never touch shared state.

// dispatchInterval is how often the event loop retries dispatch, which
// also picks up tasks promoted out of the scheduler's waiting list.
const dispatchInterval = 50 * time.Millisecond

// workerDrainTimeout bounds how long Shutdown waits for each unit.
const workerDrainTimeout = 5 * time.Second

// WorkerHandle tracks one live execution unit.
type WorkerHandle struct {
	ID              string
	TasksCompleted  int64
	LastMemoryUsage uint64
	CurrentTask     string // task id, empty when idle
	SpawnedAt       time.Time
}

// WorkerPoolStats aggregates pool state for observability.
type WorkerPoolStats struct {
	TotalWorkers   int
	ActiveWorkers  int
	IdleWorkers    int
	QueuedTasks    int
	CompletedTasks int64
	FailedTasks    int64
	WorkerCrashes  int64
	MemoryUsage    uint64  // summed last-known usage across units
	MemoryLimit    int64   // summed configured ceilings
	CPUUtilization float64 // running / total workers * 100
}

// ResultHandler receives task outcomes on the control thread.
type ResultHandler func(taskID string, result json.RawMessage, err string)

// WorkerPoolManager owns the execution units and the dispatch loop.
type WorkerPoolManager struct {
	mu sync.RWMutex

	cfg       config.DistributedConfig
	scheduler *TaskScheduler
	executor  TaskExecutor
	onResult  ResultHandler

	workers map[string]*worker
	handles map[string]*WorkerHandle
	outbox  chan Envelope

	initialized bool
	stopCh      chan struct{}
	loopWg      sync.WaitGroup

	tasksCompleted int64
	tasksFailed    int64
	crashes        int64
}

// NewWorkerPoolManager creates a pool manager. The executor is the
// caller-supplied black box that turns a task into a result.
func NewWorkerPoolManager(cfg config.DistributedConfig, scheduler *TaskScheduler, executor TaskExecutor) *WorkerPoolManager {
	return &WorkerPoolManager{
		cfg:       cfg,
		scheduler: scheduler,
		executor:  executor,
		workers:   make(map[string]*worker),
		handles:   make(map[string]*WorkerHandle),
		stopCh:    make(chan struct{}),
	}
}

// SetResultHandler registers the completion callback. Must be called
// before Initialize.
func (m *WorkerPoolManager) SetResultHandler(fn ResultHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onResult = fn
}

// Initialize spawns min(maxWorkers, available parallelism) execution
// units and starts the event loop.
func (m *WorkerPoolManager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	if m.executor == nil {
		return ErrNoExecutor
	}

	count := m.cfg.MaxWorkers
	if parallelism := runtime.NumCPU(); parallelism < count {
		count = parallelism
	}
	if count < 1 {
		count = 1
	}

	m.outbox = make(chan Envelope, count*4)
	m.stopCh = make(chan struct{})

	for i := 0; i < count; i++ {
		m.spawnWorkerLocked()
	}

	m.loopWg.Add(1)
	go m.eventLoop()

	m.initialized = true
	logging.Workers("WorkerPoolManager: initialized %d workers (max=%d, mem_limit=%d bytes/worker)",
		count, m.cfg.MaxWorkers, m.cfg.WorkerMemoryLimit)
	return nil
}

// spawnWorkerLocked creates and starts one execution unit.
func (m *WorkerPoolManager) spawnWorkerLocked() *worker {
	id := "worker-" + uuid.NewString()[:8]
	w := newWorker(id, m.outbox, m.executor, m.workerMemSample)
	m.workers[id] = w
	m.handles[id] = &WorkerHandle{ID: id, SpawnedAt: time.Now()}
	go w.run()
	logging.WorkersDebug("spawnWorker: %s started (total=%d)", id, len(m.workers))
	return w
}

// workerMemSample approximates a single unit's memory usage as an even
// share of the heap. Goroutine-level usage is not observable in Go, so
// this is a proxy, reported as such in stats.
func (m *WorkerPoolManager) workerMemSample() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.RLock()
	n := len(m.workers)
	m.mu.RUnlock()
	if n < 1 {
		n = 1
	}
	return ms.HeapAlloc / uint64(n)
}

// ExecuteTask enqueues the task and immediately attempts dispatch. This
// is the orchestrator's entry point into the pool.
func (m *WorkerPoolManager) ExecuteTask(task *GenerationTask) error {
	m.mu.RLock()
	initialized := m.initialized
	m.mu.RUnlock()
	if !initialized {
		return ErrNotInitialized
	}

	m.scheduler.Enqueue(task)
	m.dispatch()
	return nil
}

// dispatch hands ready tasks to idle units, first available wins.
func (m *WorkerPoolManager) dispatch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, handle := range m.handles {
		if handle.CurrentTask != "" {
			continue
		}
		task := m.scheduler.Dequeue()
		if task == nil {
			return
		}

		w, ok := m.workers[handle.ID]
		if !ok {
			// Handle exists but unit is gone (mid-respawn); requeue.
			m.scheduler.Requeue(task)
			continue
		}

		m.scheduler.MarkTaskRunning(task.ID)
		handle.CurrentTask = task.ID

		select {
		case w.inbox <- Envelope{Type: MsgExecuteTask, WorkerID: handle.ID, TaskID: task.ID, Task: task}:
			logging.WorkersDebug("dispatch: task %s -> %s", task.ID, handle.ID)
		default:
			// Inbox unexpectedly full; undo and let the ticker retry.
			handle.CurrentTask = ""
			m.scheduler.Requeue(task)
		}
	}
}

// eventLoop consumes unit messages and periodically retries dispatch.
func (m *WorkerPoolManager) eventLoop() {
	defer m.loopWg.Done()

	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case env := <-m.outbox:
			m.handleMessage(env)
		case <-ticker.C:
			m.dispatch()
		}
	}
}

func (m *WorkerPoolManager) handleMessage(env Envelope) {
	switch env.Type {
	case MsgTaskCompleted, MsgTaskFailed:
		m.mu.Lock()
		if handle, ok := m.handles[env.WorkerID]; ok {
			handle.TasksCompleted++
			handle.CurrentTask = ""
		}
		onResult := m.onResult
		m.mu.Unlock()

		m.scheduler.MarkTaskCompleted(env.TaskID)

		if env.Type == MsgTaskCompleted {
			atomic.AddInt64(&m.tasksCompleted, 1)
			logging.WorkersDebug("handleMessage: task %s completed on %s", env.TaskID, env.WorkerID)
		} else {
			atomic.AddInt64(&m.tasksFailed, 1)
			logging.Workers("handleMessage: task %s failed on %s: %s", env.TaskID, env.WorkerID, env.Error)
		}

		if onResult != nil {
			onResult(env.TaskID, env.Result, env.Error)
		}

		// The unit is idle now; hand it the next ready task.
		m.dispatch()

	case MsgMemoryUsage:
		m.mu.Lock()
		if handle, ok := m.handles[env.WorkerID]; ok {
			handle.LastMemoryUsage = env.MemoryUsage
		}
		m.mu.Unlock()
		if m.cfg.WorkerMemoryLimit > 0 && int64(env.MemoryUsage) > m.cfg.WorkerMemoryLimit {
			logging.Get(logging.CategoryWorkers).Warn("worker %s over memory ceiling: %d > %d bytes",
				env.WorkerID, env.MemoryUsage, m.cfg.WorkerMemoryLimit)
		}

	case MsgWorkerCrashed:
		m.mu.Lock()
		if !m.initialized {
			// Stale envelope racing Shutdown; spawning a replacement here
			// would leak a unit nothing ever stops.
			m.mu.Unlock()
			logging.WorkersDebug("handleMessage: crash from %s ignored, pool is shut down", env.WorkerID)
			return
		}
		atomic.AddInt64(&m.crashes, 1)
		delete(m.workers, env.WorkerID)
		delete(m.handles, env.WorkerID)
		m.spawnWorkerLocked()
		onResult := m.onResult
		m.mu.Unlock()

		logging.Get(logging.CategoryWorkers).Error("worker %s crashed (task %s lost): %s",
			env.WorkerID, env.TaskID, env.Error)

		// The in-flight task is lost, not resubmitted. It is marked
		// terminal so dependents are not gated forever, and its failure
		// is surfaced to the waiting caller.
		if env.TaskID != "" {
			m.scheduler.MarkTaskCompleted(env.TaskID)
			atomic.AddInt64(&m.tasksFailed, 1)
			if onResult != nil {
				onResult(env.TaskID, nil, env.Error)
			}
		}
		m.dispatch()
	}
}

// WorkerCount returns the number of live execution units.
func (m *WorkerPoolManager) WorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// GetStats aggregates pool statistics.
func (m *WorkerPoolManager) GetStats() WorkerPoolStats {
	m.mu.RLock()
	total := len(m.handles)
	active := 0
	var memUsage uint64
	for _, h := range m.handles {
		if h.CurrentTask != "" {
			active++
		}
		memUsage += h.LastMemoryUsage
	}
	m.mu.RUnlock()

	stats := WorkerPoolStats{
		TotalWorkers:   total,
		ActiveWorkers:  active,
		IdleWorkers:    total - active,
		QueuedTasks:    m.scheduler.QueuedCount(),
		CompletedTasks: atomic.LoadInt64(&m.tasksCompleted),
		FailedTasks:    atomic.LoadInt64(&m.tasksFailed),
		WorkerCrashes:  atomic.LoadInt64(&m.crashes),
		MemoryUsage:    memUsage,
		MemoryLimit:    m.cfg.WorkerMemoryLimit * int64(total),
	}
	if total > 0 {
		stats.CPUUtilization = float64(active) / float64(total) * 100
	}
	return stats
}

// Shutdown stops all units and the event loop.
func (m *WorkerPoolManager) Shutdown() {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = false
	workers := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*worker)
	m.handles = make(map[string]*WorkerHandle)
	m.mu.Unlock()

	stopped := 0
	for _, w := range workers {
		if w.stop(workerDrainTimeout) {
			stopped++
		}
	}
	if stopped < len(workers) {
		logging.Get(logging.CategoryWorkers).Warn("Shutdown: %d workers did not drain within %v",
			len(workers)-stopped, workerDrainTimeout)
	}

	close(m.stopCh)
	m.loopWg.Wait()
	logging.Workers("WorkerPoolManager: shut down (%d/%d workers stopped)", stopped, len(workers))
}
