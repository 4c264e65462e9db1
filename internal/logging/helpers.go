package logging

// Convenience helpers for the hot categories. Info-level unless the
// Debug variant is used.

// Scheduler logs to the scheduler category at info level.
func Scheduler(format string, args ...interface{}) {
	Get(CategoryScheduler).Info(format, args...)
}

// SchedulerDebug logs to the scheduler category at debug level.
func SchedulerDebug(format string, args ...interface{}) {
	Get(CategoryScheduler).Debug(format, args...)
}

// Workers logs to the workers category at info level.
func Workers(format string, args ...interface{}) {
	Get(CategoryWorkers).Info(format, args...)
}

// WorkersDebug logs to the workers category at debug level.
func WorkersDebug(format string, args ...interface{}) {
	Get(CategoryWorkers).Debug(format, args...)
}

// Cache logs to the cache category at info level.
func Cache(format string, args ...interface{}) {
	Get(CategoryCache).Info(format, args...)
}

// CacheDebug logs to the cache category at debug level.
func CacheDebug(format string, args ...interface{}) {
	Get(CategoryCache).Debug(format, args...)
}

// Compile logs to the compile category at info level.
func Compile(format string, args ...interface{}) {
	Get(CategoryCompile).Info(format, args...)
}

// Memory logs to the memory category at info level.
func Memory(format string, args ...interface{}) {
	Get(CategoryMemory).Info(format, args...)
}

// Monitor logs to the monitor category at info level.
func Monitor(format string, args ...interface{}) {
	Get(CategoryMonitor).Info(format, args...)
}

// Orchestrator logs to the orchestrator category at info level.
func Orchestrator(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Info(format, args...)
}

// OrchestratorDebug logs to the orchestrator category at debug level.
func OrchestratorDebug(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Debug(format, args...)
}
