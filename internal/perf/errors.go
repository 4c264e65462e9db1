package perf

import "errors"

var (
	// ErrNotInitialized is returned when the orchestrator or pool is used
	// before Initialize.
	ErrNotInitialized = errors.New("performance core not initialized")

	// ErrShutdown is returned once Shutdown has been called.
	ErrShutdown = errors.New("performance core is shut down")

	// ErrTaskTimeout is returned when no completion or failure message
	// arrives within the configured task timeout. The underlying worker is
	// not interrupted and may still finish later.
	ErrTaskTimeout = errors.New("task timed out")

	// ErrTaskFailed wraps failure messages reported by a worker.
	ErrTaskFailed = errors.New("task failed")

	// ErrNoExecutor is returned when the pool is started without a
	// caller-supplied task executor.
	ErrNoExecutor = errors.New("no task executor configured")
)
