// Package main implements the genforge CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"genforge/internal/config"
	"genforge/internal/logging"
	"genforge/internal/perf"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "genforge",
	Short: "genforge - parallel generation engine with incremental caching",
	Long: `genforge is the performance core of a config/code generation toolchain.

It schedules generation tasks across a pool of isolated workers, skips
redundant work via content-hash incremental compilation, and keeps a
two-tier result cache (local + optional Redis).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("categorized logging unavailable", zap.Error(err))
		}
		if verbose {
			logging.EnableDebug()
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// benchCmd pushes synthetic generation tasks through a fully wired core
// and prints the aggregated statistics.
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run synthetic tasks through the performance core",
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, _ := cmd.Flags().GetInt("tasks")
		workers, _ := cmd.Flags().GetInt("workers")
		delay, _ := cmd.Flags().GetDuration("delay")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if workers > 0 {
			cfg.Distributed.MaxWorkers = workers
		}

		// Synthetic executor: sleep, then echo a rendered payload.
		executor := func(ctx context.Context, task *perf.GenerationTask) (json.RawMessage, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			return json.Marshal(map[string]interface{}{
				"task":  task.ID,
				"type":  task.Type,
				"input": task.Input,
			})
		}

		orch, err := perf.NewOrchestrator(cfg, executor)
		if err != nil {
			return err
		}
		if err := orch.Initialize(); err != nil {
			return err
		}
		defer orch.Shutdown()

		logger.Info("bench starting",
			zap.Int("tasks", tasks),
			zap.Int("max_workers", cfg.Distributed.MaxWorkers),
			zap.Duration("delay", delay))

		start := time.Now()
		g, ctx := errgroup.WithContext(cmd.Context())
		for i := 0; i < tasks; i++ {
			input := map[string]interface{}{"seq": i}
			g.Go(func() error {
				_, err := orch.ExecuteTask(ctx, "bench-render", input, nil, nil)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("bench run failed: %w", err)
		}
		elapsed := time.Since(start)

		stats := orch.GetPerformanceStats()
		fmt.Printf("completed %d tasks in %v\n", tasks, elapsed.Round(time.Millisecond))
		fmt.Printf("workers:   total=%d completed=%d failed=%d crashes=%d\n",
			stats.WorkerPool.TotalWorkers, stats.WorkerPool.CompletedTasks,
			stats.WorkerPool.FailedTasks, stats.WorkerPool.WorkerCrashes)
		fmt.Printf("cache:     hits=%d misses=%d evictions=%d hit_rate=%.2f\n",
			stats.Cache.Hits, stats.Cache.Misses, stats.Cache.Evictions, stats.Cache.HitRate)
		fmt.Printf("scheduler: enqueued=%d deferred=%d\n",
			stats.Scheduler.TotalEnqueued, stats.Scheduler.TotalDeferred)
		fmt.Printf("memory:    heap_used=%d checksum_records=%d\n",
			stats.Memory.Heap.HeapUsed, stats.Memory.ChecksumRecords)
		return nil
	},
}

// cacheCmd groups cache maintenance subcommands.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Result and checksum cache maintenance",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear result caches and checksum records",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		// Executor is never invoked for cache maintenance.
		noop := func(ctx context.Context, task *perf.GenerationTask) (json.RawMessage, error) {
			return nil, nil
		}
		orch, err := perf.NewOrchestrator(cfg, noop)
		if err != nil {
			return err
		}
		if err := orch.Initialize(); err != nil {
			return err
		}
		defer orch.Shutdown()

		if err := orch.ClearAllCaches(cmd.Context()); err != nil {
			return err
		}
		logger.Info("caches cleared", zap.String("cache_dir", cfg.Compilation.CacheDirectory))
		fmt.Println("caches cleared")
		return nil
	},
}

// configCmd groups configuration subcommands.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists at %s", configPath)
		}
		cfg := config.DefaultConfig()
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Printf("wrote default config to %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".genforge/config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", ".", "workspace root")

	benchCmd.Flags().Int("tasks", 50, "number of synthetic tasks")
	benchCmd.Flags().Int("workers", 0, "override max workers (0 = from config)")
	benchCmd.Flags().Duration("delay", 10*time.Millisecond, "simulated work per task")

	cacheCmd.AddCommand(cacheClearCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(benchCmd, cacheCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
