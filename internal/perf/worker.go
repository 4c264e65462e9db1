package perf

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// ISOLATED EXECUTION UNIT
// =============================================================================
//
// A worker is an isolated execution unit: a goroutine with a private
// inbox and a shared outbox back to the pool manager. All communication
// crosses the boundary as JSON-serializable envelopes; no mutable state
// is shared, so neither side needs locks for the exchanged data.

// MessageType enumerates the envelope types exchanged between the pool
// manager and its execution units.
type MessageType string

const (
	// MsgExecuteTask - manager hands a task to a unit
	MsgExecuteTask MessageType = "executeTask"
	// MsgTaskCompleted - unit reports a successful result
	MsgTaskCompleted MessageType = "taskCompleted"
	// MsgTaskFailed - unit reports an execution failure
	MsgTaskFailed MessageType = "taskFailed"
	// MsgMemoryUsage - periodic memory report from a unit
	MsgMemoryUsage MessageType = "memoryUsage"
	// MsgWorkerCrashed - unit panicked; the manager replaces it
	MsgWorkerCrashed MessageType = "workerCrashed"
)

// Envelope is the wire format between the control thread and a worker
// unit. Every field is JSON-serializable.
type Envelope struct {
	Type        MessageType     `json:"type"`
	WorkerID    string          `json:"workerId"`
	TaskID      string          `json:"taskId,omitempty"`
	Task        *GenerationTask `json:"task,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	MemoryUsage uint64          `json:"memoryUsage,omitempty"`
}

// TaskExecutor is the opaque unit of work supplied by the caller. The
// core treats the task content as a black box; executors must not retain
// references into the core's cache or statistics structures.
type TaskExecutor func(ctx context.Context, task *GenerationTask) (json.RawMessage, error)

// memoryReportInterval is how often a unit emits a memoryUsage envelope.
const memoryReportInterval = 2 * time.Second

type worker struct {
	id       string
	inbox    chan Envelope
	outbox   chan<- Envelope
	executor TaskExecutor

	// memSample returns this unit's approximate memory usage in bytes.
	memSample func() uint64

	// ctx is cancelled on stop so cooperative executors can bail out.
	ctx    context.Context
	cancel context.CancelFunc

	stopCh chan struct{}
	doneCh chan struct{}
}

func newWorker(id string, outbox chan<- Envelope, executor TaskExecutor, memSample func() uint64) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		id:        id,
		inbox:     make(chan Envelope, 1),
		outbox:    outbox,
		executor:  executor,
		memSample: memSample,
		ctx:       ctx,
		cancel:    cancel,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// run is the unit's message loop. It exits on stop or after a crash
// (the manager spawns a replacement).
func (w *worker) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(memoryReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.send(Envelope{Type: MsgMemoryUsage, WorkerID: w.id, MemoryUsage: w.memSample()})
		case env := <-w.inbox:
			if env.Type != MsgExecuteTask || env.Task == nil {
				continue
			}
			if crashed := w.execute(env.Task); crashed {
				return
			}
		}
	}
}

// execute runs a single task and reports the outcome. A panic inside the
// executor is reported as a crash; the caller exits the unit afterwards.
func (w *worker) execute(task *GenerationTask) (crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			w.send(Envelope{
				Type:     MsgWorkerCrashed,
				WorkerID: w.id,
				TaskID:   task.ID,
				Error:    fmt.Sprintf("worker panicked: %v", r),
			})
		}
	}()

	result, err := w.executor(w.ctx, task)
	if err != nil {
		w.send(Envelope{Type: MsgTaskFailed, WorkerID: w.id, TaskID: task.ID, Error: err.Error()})
		return false
	}
	w.send(Envelope{Type: MsgTaskCompleted, WorkerID: w.id, TaskID: task.ID, Result: result})
	return false
}

// send delivers an envelope unless the unit is being stopped.
func (w *worker) send(env Envelope) {
	select {
	case w.outbox <- env:
	case <-w.stopCh:
	}
}

// stop signals the unit to exit and waits for its loop to finish. An
// executor that ignores context cancellation can keep the loop alive, so
// callers bound the wait.
func (w *worker) stop(timeout time.Duration) bool {
	w.cancel()
	close(w.stopCh)
	select {
	case <-w.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}
