package perf

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"genforge/internal/logging"
)

// =============================================================================
// RESOURCE MONITOR
// =============================================================================
//
// Samples process memory on a fixed interval. When heap pressure exceeds
// the configured threshold the monitor triggers cleanup (memory pools,
// caches, optionally an explicit GC cycle). Every tick emits a snapshot
// to the registered listener for external observability.

// MemoryStats is one memory sample.
type MemoryStats struct {
	HeapUsed  uint64
	HeapTotal uint64
	Pressure  float64 // HeapUsed / HeapTotal
}

// ResourceSnapshot is the per-tick observability event.
type ResourceSnapshot struct {
	Timestamp         time.Time
	Memory            MemoryStats
	WorkerPool        WorkerPoolStats
	Cache             CacheStats
	PressureTriggered bool
}

// SnapshotListener receives periodic resource snapshots.
type SnapshotListener func(ResourceSnapshot)

// ResourceMonitor runs the sampling loop.
type ResourceMonitor struct {
	mu sync.Mutex

	interval       time.Duration
	threshold      float64
	gcOptimization bool

	// sample is injectable so tests can synthesize memory pressure.
	sample func() MemoryStats

	// onPressure clears pools and caches.
	onPressure func()

	// collect gathers pool and cache stats for the snapshot.
	collect func() (WorkerPoolStats, CacheStats)

	listener SnapshotListener

	isRunning bool
	stopCh    chan struct{}
	wg        sync.WaitGroup

	ticks    int64
	cleanups int64
}

// NewResourceMonitor creates a monitor. onPressure and collect are wired
// by the orchestrator.
func NewResourceMonitor(interval time.Duration, threshold float64, gcOptimization bool,
	onPressure func(), collect func() (WorkerPoolStats, CacheStats)) *ResourceMonitor {

	return &ResourceMonitor{
		interval:       interval,
		threshold:      threshold,
		gcOptimization: gcOptimization,
		sample:         sampleHeap,
		onPressure:     onPressure,
		collect:        collect,
		stopCh:         make(chan struct{}),
	}
}

// sampleHeap reads live heap usage from the runtime.
func sampleHeap() MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := MemoryStats{HeapUsed: ms.HeapAlloc, HeapTotal: ms.HeapSys}
	if stats.HeapTotal > 0 {
		stats.Pressure = float64(stats.HeapUsed) / float64(stats.HeapTotal)
	}
	return stats
}

// SetSampler overrides the memory sampler (test hook).
func (r *ResourceMonitor) SetSampler(fn func() MemoryStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sample = fn
}

// SetListener registers the snapshot listener.
func (r *ResourceMonitor) SetListener(fn SnapshotListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = fn
}

// Start launches the sampling loop.
func (r *ResourceMonitor) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return
	}
	r.isRunning = true
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.loop()

	logging.Monitor("ResourceMonitor: started (interval=%v, threshold=%.2f, gc=%v)",
		r.interval, r.threshold, r.gcOptimization)
}

// Stop halts the sampling loop.
func (r *ResourceMonitor) Stop() {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return
	}
	r.isRunning = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	logging.Monitor("ResourceMonitor: stopped (ticks=%d, cleanups=%d)",
		atomic.LoadInt64(&r.ticks), atomic.LoadInt64(&r.cleanups))
}

func (r *ResourceMonitor) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Tick()
		}
	}
}

// Tick runs one sampling cycle. Exported so tests can drive the monitor
// without waiting for the interval.
func (r *ResourceMonitor) Tick() {
	atomic.AddInt64(&r.ticks, 1)

	r.mu.Lock()
	sample := r.sample
	listener := r.listener
	r.mu.Unlock()

	mem := sample()
	triggered := mem.Pressure > r.threshold

	if triggered {
		atomic.AddInt64(&r.cleanups, 1)
		logging.Monitor("memory pressure %.2f exceeds threshold %.2f, cleaning up", mem.Pressure, r.threshold)
		if r.onPressure != nil {
			r.onPressure()
		}
		if r.gcOptimization {
			runtime.GC()
		}
	}

	snapshot := ResourceSnapshot{
		Timestamp:         time.Now(),
		Memory:            mem,
		PressureTriggered: triggered,
	}
	if r.collect != nil {
		snapshot.WorkerPool, snapshot.Cache = r.collect()
	}

	if listener != nil {
		listener(snapshot)
	}
}

// CleanupCount returns how many pressure cleanups have run.
func (r *ResourceMonitor) CleanupCount() int64 {
	return atomic.LoadInt64(&r.cleanups)
}
