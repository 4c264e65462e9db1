package perf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"genforge/internal/config"
	"genforge/internal/logging"
)

// =============================================================================
// ORCHESTRATOR
// =============================================================================
//
// Public entry point of the performance core. Composes the scheduler,
// worker pool, two-tier cache, incremental compilation manager, memory
// pool, and resource monitor to implement ExecuteTask. Construct one
// orchestrator at process start and thread it through callers; there is
// no global instance.

// longTermTTLFactor scales the default TTL for long-term entries written
// when incremental compilation confirms an artifact is stable.
const longTermTTLFactor = 24

// PerformanceStats aggregates statistics across the core.
type PerformanceStats struct {
	WorkerPool WorkerPoolStats
	Cache      CacheStats
	Scheduler  SchedulerStats
	Memory     MemoryUsageStats
}

// MemoryUsageStats groups memory-side statistics.
type MemoryUsageStats struct {
	Heap            MemoryStats
	ScratchPool     PoolStats
	ChecksumRecords int
}

type taskOutcome struct {
	result json.RawMessage
	err    error
}

type inflightInfo struct {
	task     *GenerationTask
	cacheKey string
}

// Orchestrator coordinates task execution across the core.
type Orchestrator struct {
	cfg      *config.Config
	executor TaskExecutor

	scheduler   *TaskScheduler
	pool        *WorkerPoolManager
	cache       *IntelligentCache
	incremental *IncrementalManager
	scratch     *Pool[*bytes.Buffer]
	monitor     *ResourceMonitor

	flight singleflight.Group

	mu sync.Mutex
	// pending maps task id to the caller's completion channel; removed on
	// resolution or timeout.
	pending map[string]chan taskOutcome
	// inflight maps task id to cache bookkeeping; removed only when the
	// worker reports, so a post-timeout completion still writes the cache.
	inflight map[string]inflightInfo

	initialized bool
	isShutdown  bool

	taskTimeout time.Duration
	defaultTTL  time.Duration
}

// NewOrchestrator builds the core from config. The executor is the
// caller-supplied black box that performs the actual generation work.
func NewOrchestrator(cfg *config.Config, executor TaskExecutor) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &Orchestrator{
		cfg:         cfg,
		executor:    executor,
		pending:     make(map[string]chan taskOutcome),
		inflight:    make(map[string]inflightInfo),
		taskTimeout: cfg.GetTaskTimeout(),
		defaultTTL:  cfg.GetCacheTTL(),
	}

	o.scheduler = NewTaskScheduler(cfg.Distributed.LoadBalancing)
	o.pool = NewWorkerPoolManager(cfg.Distributed, o.scheduler, executor)
	o.cache = NewIntelligentCache(cfg.Caching, o.defaultTTL)

	if cfg.Compilation.IncrementalEnabled {
		o.incremental = NewIncrementalManager(cfg.Compilation.CacheDirectory)
	}

	if cfg.Memory.PoolingEnabled {
		o.scratch = NewPool(cfg.Memory.PoolSize,
			func() *bytes.Buffer { return &bytes.Buffer{} },
			func(b *bytes.Buffer) { b.Reset() })
	}

	o.monitor = NewResourceMonitor(
		cfg.GetMonitoringInterval(),
		cfg.Memory.MemoryPressureThreshold,
		cfg.Memory.GCOptimization,
		o.onMemoryPressure,
		func() (WorkerPoolStats, CacheStats) {
			return o.pool.GetStats(), o.cache.Stats()
		})

	return o, nil
}

// Initialize starts the scheduler, worker pool, incremental manager, and
// resource monitor. Fatal only when required directories or the minimum
// worker count cannot be created.
func (o *Orchestrator) Initialize() error {
	o.mu.Lock()
	if o.isShutdown {
		o.mu.Unlock()
		return ErrShutdown
	}
	if o.initialized {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	if o.incremental != nil {
		if err := o.incremental.Initialize(); err != nil {
			return fmt.Errorf("incremental manager init: %w", err)
		}
	}

	o.scheduler.Start()

	o.pool.SetResultHandler(o.resolve)
	if err := o.pool.Initialize(); err != nil {
		o.scheduler.Stop()
		return fmt.Errorf("worker pool init: %w", err)
	}

	o.monitor.Start()

	o.mu.Lock()
	o.initialized = true
	o.mu.Unlock()

	logging.Orchestrator("Orchestrator: initialized (workers=%d, timeout=%v, incremental=%v)",
		o.pool.WorkerCount(), o.taskTimeout, o.incremental != nil)
	return nil
}

// SetSnapshotListener registers the observability listener for periodic
// resource snapshots.
func (o *Orchestrator) SetSnapshotListener(fn SnapshotListener) {
	o.monitor.SetListener(fn)
}

// ExecuteTask runs one unit of generation work. The flow is: cache
// lookup, optional incremental-skip check, worker dispatch, then await
// completion, failure, timeout, or caller cancellation - whichever
// fires first, exactly once.
//
// Concurrent calls with an identical cache key share a single underlying
// execution.
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskType string, input interface{},
	options map[string]interface{}, dependencies []string) (json.RawMessage, error) {

	o.mu.Lock()
	switch {
	case o.isShutdown:
		o.mu.Unlock()
		return nil, ErrShutdown
	case !o.initialized:
		o.mu.Unlock()
		return nil, ErrNotInitialized
	}
	o.mu.Unlock()

	key := ComputeCacheKey(taskType, input, options)

	if value, ok := o.cache.Get(ctx, key); ok {
		logging.OrchestratorDebug("ExecuteTask: cache hit for %s (%s)", taskType, key[:12])
		return value, nil
	}

	result, err, shared := o.flight.Do(key, func() (interface{}, error) {
		return o.executeMiss(ctx, taskType, input, options, dependencies, key)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logging.OrchestratorDebug("ExecuteTask: shared in-flight execution for %s", key[:12])
	}
	return result.(json.RawMessage), nil
}

// executeMiss handles the cache-miss path: incremental skip, dispatch,
// and completion matching.
func (o *Orchestrator) executeMiss(ctx context.Context, taskType string, input interface{},
	options map[string]interface{}, dependencies []string, key string) (json.RawMessage, error) {

	// No change detected since the last successful generation: serve the
	// long-term entry without dispatching a worker.
	if o.incremental != nil {
		artifact := artifactID(taskType, key)
		if !o.incremental.ShouldRecompile(artifact, dependencies) {
			if value, ok := o.cache.Get(ctx, longTermKey(key)); ok {
				logging.Orchestrator("ExecuteTask: incremental skip for %s (%s)", taskType, key[:12])
				return value, nil
			}
		}
	}

	task := NewGenerationTask(taskType, input, options, dependencies)

	ch := make(chan taskOutcome, 1)
	o.mu.Lock()
	o.pending[task.ID] = ch
	o.inflight[task.ID] = inflightInfo{task: task, cacheKey: key}
	o.mu.Unlock()

	if err := o.pool.ExecuteTask(task); err != nil {
		o.mu.Lock()
		delete(o.pending, task.ID)
		delete(o.inflight, task.ID)
		o.mu.Unlock()
		return nil, err
	}

	logging.OrchestratorDebug("ExecuteTask: dispatched %s (type=%s, priority=%d, deps=%d)",
		task.ID, taskType, task.Priority, len(dependencies))

	timer := time.NewTimer(o.taskTimeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.result, out.err

	case <-timer.C:
		// The worker is not interrupted; a late completion still writes
		// the cache via the inflight record.
		o.removePending(task.ID)
		logging.Get(logging.CategoryOrchestrator).Warn("ExecuteTask: task %s timed out after %v",
			task.ID, o.taskTimeout)
		return nil, fmt.Errorf("%w: %s after %v", ErrTaskTimeout, task.ID, o.taskTimeout)

	case <-ctx.Done():
		o.removePending(task.ID)
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) removePending(taskID string) {
	o.mu.Lock()
	delete(o.pending, taskID)
	o.mu.Unlock()
}

// resolve is the pool's completion callback. It writes cache entries on
// success (even when the caller already timed out) and wakes the pending
// caller exactly once.
func (o *Orchestrator) resolve(taskID string, result json.RawMessage, errMsg string) {
	o.mu.Lock()
	info, tracked := o.inflight[taskID]
	delete(o.inflight, taskID)
	ch, waiting := o.pending[taskID]
	delete(o.pending, taskID)
	o.mu.Unlock()

	var err error
	if errMsg != "" {
		err = fmt.Errorf("%w: %s", ErrTaskFailed, errMsg)
	}

	if err == nil && tracked {
		value := o.copyResult(result)
		ctx := context.Background()

		o.cache.Set(ctx, info.cacheKey, value, 0)

		if o.incremental != nil {
			o.cache.Set(ctx, longTermKey(info.cacheKey), value, o.defaultTTL*longTermTTLFactor)
			artifact := artifactID(info.task.Type, info.cacheKey)
			if markErr := o.incremental.MarkCompiled(artifact, info.task.Dependencies); markErr != nil {
				logging.Get(logging.CategoryCompile).Warn("resolve: could not record checksum for %s: %v",
					artifact, markErr)
			}
		}
	}

	if waiting {
		ch <- taskOutcome{result: result, err: err}
	} else if err == nil {
		logging.OrchestratorDebug("resolve: orphaned completion for %s cached (caller timed out)", taskID)
	}
}

// copyResult stages the worker's bytes through the scratch pool so the
// cache never retains executor-owned memory.
func (o *Orchestrator) copyResult(result json.RawMessage) []byte {
	if o.scratch == nil {
		return append([]byte(nil), result...)
	}
	buf := o.scratch.Acquire()
	buf.Write(result)
	value := append(make([]byte, 0, buf.Len()), buf.Bytes()...)
	o.scratch.Release(buf)
	return value
}

// onMemoryPressure is the monitor's cleanup hook: drop pooled objects
// and cached results so the heap can shrink.
func (o *Orchestrator) onMemoryPressure() {
	if o.scratch != nil {
		o.scratch.Clear()
	}
	o.cache.Clear(context.Background())
	logging.Memory("memory pressure cleanup: scratch pool and caches cleared")
}

// GetPerformanceStats aggregates statistics across the core.
func (o *Orchestrator) GetPerformanceStats() PerformanceStats {
	stats := PerformanceStats{
		WorkerPool: o.pool.GetStats(),
		Cache:      o.cache.Stats(),
		Scheduler:  o.scheduler.GetStats(),
		Memory: MemoryUsageStats{
			Heap: sampleHeap(),
		},
	}
	if o.scratch != nil {
		stats.Memory.ScratchPool = o.scratch.Stats()
	}
	if o.incremental != nil {
		stats.Memory.ChecksumRecords = o.incremental.RecordCount()
	}
	return stats
}

// ClearAllCaches empties the result cache (both tiers), the checksum
// records, and the scratch pool.
func (o *Orchestrator) ClearAllCaches(ctx context.Context) error {
	o.cache.Clear(ctx)
	if o.scratch != nil {
		o.scratch.Clear()
	}
	if o.incremental != nil {
		if err := o.incremental.ClearCache(); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops the monitor, pool, and scheduler, rejects pending
// callers, and releases the cache connection. Idempotent.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.isShutdown {
		o.mu.Unlock()
		return
	}
	o.isShutdown = true
	o.initialized = false
	pending := o.pending
	o.pending = make(map[string]chan taskOutcome)
	o.inflight = make(map[string]inflightInfo)
	o.mu.Unlock()

	o.monitor.Stop()
	o.pool.Shutdown()
	o.scheduler.Stop()

	for id, ch := range pending {
		ch <- taskOutcome{err: fmt.Errorf("%w: task %s abandoned", ErrShutdown, id)}
	}

	if err := o.cache.Close(); err != nil {
		logging.Get(logging.CategoryCache).Warn("Shutdown: cache close: %v", err)
	}

	logging.Orchestrator("Orchestrator: shut down")
}

// Execute runs a task and unmarshals the result into T.
func Execute[T any](ctx context.Context, o *Orchestrator, taskType string, input interface{},
	options map[string]interface{}, dependencies []string) (T, error) {

	var out T
	raw, err := o.ExecuteTask(ctx, taskType, input, options, dependencies)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode task result: %w", err)
	}
	return out, nil
}

func longTermKey(key string) string {
	return "longterm:" + key
}

func artifactID(taskType, key string) string {
	return taskType + "-" + key
}
