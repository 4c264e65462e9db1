package perf

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"genforge/internal/config"
)

// Shutdown must stop every goroutine the core started: workers, the
// pool event loop, the scheduler poller, and the monitor.
func TestShutdownStopsAllGoroutines(t *testing.T) {
	ignore := goleak.IgnoreCurrent()

	cfg := config.DefaultConfig()
	cfg.Compilation.CacheDirectory = t.TempDir()
	cfg.Caching.RedisEnabled = false
	cfg.Distributed.MaxWorkers = 4
	cfg.Resources.ResourceMonitoringInterval = "10ms"

	o, err := NewOrchestrator(cfg, countingExecutor(new(int64), `"ok"`))
	require.NoError(t, err)
	require.NoError(t, o.Initialize())

	_, err = o.ExecuteTask(context.Background(), "render", "leak-check", nil, nil)
	require.NoError(t, err)

	o.Shutdown()
	goleak.VerifyNone(t, ignore)
}
