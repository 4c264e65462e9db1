package perf

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// =============================================================================
// GENERATION TASK
// =============================================================================
//
// A GenerationTask is the unit of schedulable work. What a task actually
// does is opaque to the core: the payload and options are only used for
// hashing and complexity estimation; execution is delegated to the
// caller-supplied TaskExecutor.

// TaskStatus represents where a task is in its lifecycle.
type TaskStatus string

const (
	// StatusQueued - task is in the ready queue awaiting dispatch
	StatusQueued TaskStatus = "queued"
	// StatusWaiting - task is deferred until its dependencies complete
	StatusWaiting TaskStatus = "waiting"
	// StatusRunning - task has been claimed by a worker
	StatusRunning TaskStatus = "running"
	// StatusCompleted - worker reported success
	StatusCompleted TaskStatus = "completed"
	// StatusFailed - worker reported failure
	StatusFailed TaskStatus = "failed"
)

// GenerationTask is a unit of opaque generation work.
// Task ids are process-unique and never reused.
type GenerationTask struct {
	ID                  string                 `json:"id"`
	Type                string                 `json:"type"`
	Input               interface{}            `json:"input"`
	Options             map[string]interface{} `json:"options,omitempty"`
	Priority            int                    `json:"priority"`
	Dependencies        []string               `json:"dependencies,omitempty"`
	EstimatedComplexity int                    `json:"estimated_complexity"`
	CacheKey            string                 `json:"cache_key"`
	SubmittedAt         time.Time              `json:"submitted_at"`
}

var taskCounter int64

// NewGenerationTask builds a task for submission. Priority is read from
// the "priority" option when present (numeric, higher runs first).
func NewGenerationTask(taskType string, input interface{}, options map[string]interface{}, dependencies []string) *GenerationTask {
	return &GenerationTask{
		ID:                  fmt.Sprintf("task-%d", atomic.AddInt64(&taskCounter, 1)),
		Type:                taskType,
		Input:               input,
		Options:             options,
		Priority:            priorityFromOptions(options),
		Dependencies:        dependencies,
		EstimatedComplexity: EstimateComplexity(input, options),
		CacheKey:            ComputeCacheKey(taskType, input, options),
		SubmittedAt:         time.Now(),
	}
}

func priorityFromOptions(options map[string]interface{}) int {
	if options == nil {
		return 0
	}
	switch v := options["priority"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// cacheKeyPayload fixes the field order so the key is a pure function of
// its three inputs. encoding/json sorts map keys, so identical inputs
// always serialize identically.
type cacheKeyPayload struct {
	Type    string                 `json:"type"`
	Input   interface{}            `json:"input"`
	Options map[string]interface{} `json:"options"`
}

// ComputeCacheKey returns the deterministic cache key for
// (type, input, options). Same inputs always produce the same key.
func ComputeCacheKey(taskType string, input interface{}, options map[string]interface{}) string {
	data, err := json.Marshal(cacheKeyPayload{Type: taskType, Input: input, Options: options})
	if err != nil {
		// Non-serializable payloads still need a stable-ish key; fall back
		// to the type plus the formatted value.
		data = []byte(fmt.Sprintf("%s|%v|%v", taskType, input, options))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// EstimateComplexity derives a scheduling heuristic from payload size
// and option count. It is a proxy for "cheapest to run next", not a
// measurement of actual cost.
func EstimateComplexity(input interface{}, options map[string]interface{}) int {
	size := 0
	if data, err := json.Marshal(input); err == nil {
		size = len(data)
	}
	return size + len(options)*10
}
