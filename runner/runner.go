// Package runner provides the consumer process that drives plan execution.
// It polls a trigger source with a pool of goroutines, hands each delivery
// to the execution engine, and acknowledges triggers that were fully handled.
// Unacknowledged triggers reappear after the scheduler's visibility timeout.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/paceline-ai/paceline/config"
	"github.com/paceline-ai/paceline/engine"
	"github.com/paceline-ai/paceline/lease"
	"github.com/paceline-ai/paceline/schedule"
	"github.com/paceline-ai/paceline/store"
)

// Options configures the runner behavior.
type Options struct {
	// Concurrency is the number of consumer goroutines to start.
	// If 0, uses value from paceline.yaml or default (4).
	Concurrency int

	// PollInterval is the sleep between empty polls.
	// If 0, uses value from paceline.yaml or default (1s).
	PollInterval time.Duration

	// ShutdownTimeout is the time to wait for graceful shutdown.
	// If 0, uses value from paceline.yaml or default (30s).
	ShutdownTimeout time.Duration

	// Logger is the structured logger for runner operations.
	// If nil, a default JSON logger is created.
	Logger *slog.Logger

	// Config is the parsed paceline.yaml configuration.
	// If nil, Run attempts to load it from the current directory.
	// Set to an empty config to skip paceline.yaml loading.
	Config *config.Config

	// ConfigPath is the path to paceline.yaml.
	// If empty and Config is nil, searches the current directory.
	ConfigPath string
}

// Run builds the full stack from configuration and consumes triggers until a
// shutdown signal is received. It connects to Redis for the plan store and
// trigger scheduler, optionally connects to etcd for per-plan leases, starts
// N consumer goroutines based on Concurrency, and handles graceful shutdown
// on SIGTERM/SIGINT.
//
// Configuration priority (highest to lowest):
//  1. Explicit Options values (if non-zero)
//  2. paceline.yaml
//  3. Default values
//
// On shutdown, it waits up to ShutdownTimeout for consumers to finish their
// current triggers before returning.
func Run(executor engine.Executor, opts Options) error {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if opts.ConfigPath != "" {
			cfg, err = config.Load(opts.ConfigPath)
		} else {
			cfg, err = config.LoadFromCurrentDir()
		}
		if err != nil {
			// paceline.yaml is optional, fall back to defaults
			cfg = &config.Config{}
		}
	}

	opts = applyConfig(opts, cfg)

	st, err := store.NewRedisStore(store.RedisOptions{
		URL:            cfg.Redis.GetURL(),
		Namespace:      cfg.Redis.GetNamespace(),
		ConnectTimeout: cfg.Redis.GetConnectTimeout(),
	})
	if err != nil {
		return fmt.Errorf("failed to connect plan store: %w", err)
	}
	defer st.Close()

	sched, err := schedule.NewRedisScheduler(schedule.RedisOptions{
		URL:               cfg.Redis.GetURL(),
		Namespace:         cfg.Redis.GetNamespace(),
		ConnectTimeout:    cfg.Redis.GetConnectTimeout(),
		VisibilityTimeout: cfg.Scheduler.GetVisibilityTimeout(),
	})
	if err != nil {
		return fmt.Errorf("failed to connect trigger scheduler: %w", err)
	}
	defer sched.Close()

	engineOpts := []engine.Option{engine.WithLogger(opts.Logger)}
	if cfg.Lease != nil {
		locker, err := lease.NewEtcdLocker(lease.Config{
			Endpoints: cfg.Lease.Endpoints,
			Namespace: cfg.Lease.GetNamespace(),
		})
		if err != nil {
			return fmt.Errorf("failed to connect lease cluster: %w", err)
		}
		defer locker.Close()
		engineOpts = append(engineOpts,
			engine.WithLocker(locker),
			engine.WithLeaseTTL(cfg.Lease.GetTTL()),
		)
	}

	eng, err := engine.New(st, sched, executor, engineOpts...)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return RunContext(ctx, eng, sched, opts)
}

// RunContext consumes triggers from the given source until the context is
// cancelled, then drains in-flight handlers. Unlike Run it does not install
// signal handlers or build anything from configuration; the caller owns the
// engine and source lifecycles.
func RunContext(ctx context.Context, eng *engine.Engine, src schedule.Source, opts Options) error {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	runnerID := generateRunnerID()
	logger := opts.Logger.With("runner_id", runnerID)

	logger.Info("runner starting",
		"concurrency", opts.Concurrency,
		"poll_interval", opts.PollInterval,
	)

	var wg sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func(num int) {
			defer wg.Done()
			consumeLoop(ctx, num, eng, src, opts.PollInterval, logger)
		}(i)
	}

	<-ctx.Done()
	logger.Info("runner shutting down")

	doneChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
		logger.Info("runner shutdown complete")
		return nil
	case <-time.After(opts.ShutdownTimeout):
		logger.Warn("runner shutdown timeout exceeded", "timeout", opts.ShutdownTimeout)
		return fmt.Errorf("shutdown timeout exceeded after %s", opts.ShutdownTimeout)
	}
}

// consumeLoop is the main loop for a single consumer goroutine. It polls the
// source for due triggers, processes each through the engine, and
// acknowledges triggers the engine fully handled.
func consumeLoop(ctx context.Context, num int, eng *engine.Engine, src schedule.Source, pollInterval time.Duration, logger *slog.Logger) {
	logger = logger.With("consumer", num)
	logger.Debug("consumer loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("consumer loop stopped", "reason", "context_cancelled")
			return
		default:
		}

		delivery, err := src.Receive(ctx)
		if err != nil {
			if errors.Is(err, schedule.ErrNoDelivery) {
				sleep(ctx, pollInterval)
				continue
			}
			if ctx.Err() != nil {
				logger.Debug("consumer loop stopped", "reason", "context_error")
				return
			}
			logger.Error("failed to receive trigger", "error", err)
			sleep(ctx, pollInterval)
			continue
		}

		logger.Info("received trigger",
			"delivery_id", delivery.ID,
			"plan_id", delivery.Trigger.PlanID,
			"attempts", delivery.Attempts,
		)

		// Handling outlives context cancellation so an in-flight step is
		// never abandoned halfway through shutdown.
		handleCtx := context.WithoutCancel(ctx)
		if err := eng.HandleTrigger(handleCtx, delivery.Trigger); err != nil {
			// Leave unacked so the visibility timeout redelivers it.
			logger.Warn("trigger handling failed, leaving for redelivery",
				"delivery_id", delivery.ID,
				"plan_id", delivery.Trigger.PlanID,
				"error", err,
			)
			continue
		}

		if err := src.Ack(handleCtx, delivery); err != nil {
			// The step already committed, so the redelivered trigger will
			// be a no-op or advance the next step.
			logger.Error("failed to acknowledge trigger",
				"delivery_id", delivery.ID,
				"error", err,
			)
		}
	}
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// generateRunnerID creates a unique identifier for this runner instance.
// Uses hostname + PID + UUID for uniqueness.
func generateRunnerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	pid := os.Getpid()

	id := uuid.New().String()[:8]

	return fmt.Sprintf("%s-%d-%s", hostname, pid, id)
}

// applyConfig applies paceline.yaml settings to Options.
// Explicit Options values take priority over configuration values.
func applyConfig(opts Options, cfg *config.Config) Options {
	if opts.Concurrency <= 0 {
		opts.Concurrency = cfg.Runner.GetConcurrency()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = cfg.Runner.GetPollInterval()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = cfg.Runner.GetShutdownTimeout()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return opts
}
