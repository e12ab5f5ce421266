package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/paceline-ai/paceline/lease"
	"github.com/paceline-ai/paceline/plan"
	"github.com/paceline-ai/paceline/schedule"
	"github.com/paceline-ai/paceline/store"
)

// defaultLeaseTTL bounds how long a crashed handler can hold a plan's lease
// before redelivery is able to proceed.
const defaultLeaseTTL = 30 * time.Second

// StepRequest is the input handed to the step executor for one step.
type StepRequest struct {
	// Description is the unit of work to perform.
	Description string

	// History is the plan's history so far, oldest first, passed along as
	// continuity context.
	History []string

	// SubjectKey is the user identity the plan runs on behalf of.
	SubjectKey string

	// OwnerKey is the agent identity the plan belongs to.
	OwnerKey string
}

// Executor is the external capability that performs the actual work a step
// describes. In the systems this engine was built for, that is one more
// reasoning turn of an agent; latency and failure modes are opaque here.
type Executor interface {
	// ExecuteStep performs the step and returns its free-text outcome, which
	// the engine records as a history entry.
	ExecuteStep(ctx context.Context, req StepRequest) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req StepRequest) (string, error)

// ExecuteStep calls f.
func (f ExecutorFunc) ExecuteStep(ctx context.Context, req StepRequest) (string, error) {
	return f(ctx, req)
}

// Engine advances plans one step per trigger delivery.
//
// The engine keeps no state in memory between triggers: every delivery loads
// the plan, decides, commits, and exits. All of its effects are idempotent
// because the delay queue redelivers unacknowledged triggers.
type Engine struct {
	store     store.Store
	scheduler schedule.Scheduler
	executor  Executor

	locker   lease.Locker
	leaseTTL time.Duration

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *engineMetrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger. If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer for trigger-handling spans.
// Without a tracer, no spans are recorded.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithMeter sets an OpenTelemetry meter for engine metrics. Without a meter,
// no metrics are recorded.
func WithMeter(meter metric.Meter) Option {
	return func(e *Engine) {
		e.metrics, _ = initMetrics(meter)
	}
}

// WithLocker enables per-plan mutual-exclusion leases around trigger
// handling, suppressing duplicate side effects from concurrent duplicate
// deliveries. Without a locker the engine still converges on the completion
// flag, but a duplicate can repeat the executor call and history append.
func WithLocker(locker lease.Locker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithLeaseTTL overrides the default 30s per-plan lease TTL. Only meaningful
// together with WithLocker.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.leaseTTL = ttl
	}
}

// New creates an execution engine from its three capabilities: the plan
// store, the delay scheduler, and the step executor.
func New(st store.Store, scheduler schedule.Scheduler, executor Executor, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	e := &Engine{
		store:     st,
		scheduler: scheduler,
		executor:  executor,
		leaseTTL:  defaultLeaseTTL,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = tracenoop.NewTracerProvider().Tracer("paceline/engine")
	}

	return e, nil
}

// HandleTrigger processes one delivered trigger for a plan.
//
// A nil return means the trigger is fully handled and may be acknowledged;
// that includes the benign no-op outcomes (plan missing, plan already done).
// A non-nil return means the attempt was abandoned with no step committed;
// the caller should leave the trigger unacknowledged so the delay queue
// redelivers it.
func (e *Engine) HandleTrigger(ctx context.Context, trigger plan.Trigger) error {
	if err := trigger.IsValid(); err != nil {
		return fmt.Errorf("invalid trigger: %w", err)
	}

	logger := e.logger.With(
		"plan_id", trigger.PlanID,
		"owner_key", trigger.OwnerKey,
	)

	ctx, span := e.startSpan(ctx, trigger)
	defer span.End()

	// The lease, when configured, covers the whole read-decide-write
	// sequence so a concurrent duplicate cannot interleave with it.
	if e.locker != nil {
		held, err := e.locker.Acquire(ctx, leaseKey(trigger), e.leaseTTL)
		if errors.Is(err, lease.ErrHeld) {
			logger.Info("plan is being advanced by another worker, leaving trigger for redelivery")
			e.recordOutcome(ctx, span, outcomeLeaseHeld, nil)
			return fmt.Errorf("plan %s: %w", trigger.PlanID, err)
		}
		if err != nil {
			e.recordOutcome(ctx, span, outcomeError, err)
			return fmt.Errorf("failed to acquire plan lease: %w", err)
		}
		defer func() {
			if rerr := held.Release(context.WithoutCancel(ctx)); rerr != nil {
				logger.Warn("failed to release plan lease", "error", rerr)
			}
		}()
	}

	p, err := e.store.Get(ctx, trigger.PlanID, trigger.OwnerKey)
	if errors.Is(err, store.ErrNotFound) {
		// The plan is gone, not failed. Discard the trigger.
		logger.Info("plan not found, discarding trigger")
		e.recordOutcome(ctx, span, outcomeNotFound, nil)
		return nil
	}
	if err != nil {
		e.recordOutcome(ctx, span, outcomeError, err)
		return fmt.Errorf("failed to load plan %s: %w", trigger.PlanID, err)
	}

	step, ok := p.FirstPending()
	if !ok {
		// A duplicate or late redelivery arriving after the plan finished.
		logger.Info("plan already completed, discarding trigger")
		e.recordOutcome(ctx, span, outcomeAlreadyDone, nil)
		return nil
	}

	span.SetAttributes(attribute.Int("plan.step.position", step.Position))
	logger = logger.With("position", step.Position)
	logger.Info("executing plan step", "description", step.Description)

	start := time.Now()
	outcome, err := e.executor.ExecuteStep(ctx, StepRequest{
		Description: step.Description,
		History:     p.History,
		SubjectKey:  p.SubjectKey,
		OwnerKey:    p.OwnerKey,
	})
	if err != nil {
		// Abandon the whole attempt with nothing committed; redelivery is
		// the retry mechanism.
		logger.Error("step executor failed", "error", err)
		e.recordOutcome(ctx, span, outcomeExecutorFailed, err)
		return fmt.Errorf("step executor failed for plan %s step %d: %w", trigger.PlanID, step.Position, err)
	}
	e.recordStepDuration(ctx, time.Since(start))

	appended, err := e.store.AppendHistory(ctx, trigger.PlanID, trigger.OwnerKey, outcome)
	if err != nil {
		e.recordOutcome(ctx, span, outcomeError, err)
		return fmt.Errorf("failed to append history for plan %s: %w", trigger.PlanID, err)
	}
	if !appended {
		logger.Warn("plan disappeared before history append, discarding trigger")
		e.recordOutcome(ctx, span, outcomeNotFound, nil)
		return nil
	}

	applied, err := e.store.PatchStepCompleted(ctx, trigger.PlanID, trigger.OwnerKey, step.Position, time.Now())
	if err != nil {
		e.recordOutcome(ctx, span, outcomeError, err)
		return fmt.Errorf("failed to complete step %d of plan %s: %w", step.Position, trigger.PlanID, err)
	}
	if !applied {
		// A duplicate trigger raced a plan that already advanced past this
		// step. Nothing to do.
		logger.Warn("step position not found during completion patch")
	}

	step.Completed = true

	next, ok := p.FirstPending()
	if !ok {
		logger.Info("plan completed", "steps", len(p.Steps))
		e.recordOutcome(ctx, span, outcomePlanDone, nil)
		return nil
	}

	receipt, err := e.scheduler.Schedule(ctx, plan.Trigger{
		PlanID:     trigger.PlanID,
		OwnerKey:   trigger.OwnerKey,
		SubjectKey: trigger.SubjectKey,
	}, next.Delay())
	if err != nil {
		e.recordOutcome(ctx, span, outcomeError, err)
		return fmt.Errorf("failed to arm next step of plan %s: %w", trigger.PlanID, err)
	}

	logger.Info("armed next step",
		"next_position", next.Position,
		"delay", next.Delay(),
		"delivery_time", receipt.DeliveryTime,
	)
	e.recordOutcome(ctx, span, outcomeStepCompleted, nil)

	return nil
}

// startSpan begins the trigger-handling span. The tracer defaults to a no-op
// implementation, so spans cost nothing unless WithTracer was used.
func (e *Engine) startSpan(ctx context.Context, trigger plan.Trigger) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "plan.trigger",
		trace.WithAttributes(
			attribute.String("plan.id", trigger.PlanID),
			attribute.String("plan.owner_key", trigger.OwnerKey),
		),
	)
}

// recordOutcome stamps the span status and bumps the trigger counter.
func (e *Engine) recordOutcome(ctx context.Context, span trace.Span, outcome string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetAttributes(attribute.String("plan.trigger.outcome", outcome))
	}

	if e.metrics != nil {
		e.metrics.triggers.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
		))
		if outcome == outcomeStepCompleted || outcome == outcomePlanDone {
			e.metrics.stepsCompleted.Add(ctx, 1)
		}
	}
}

func (e *Engine) recordStepDuration(ctx context.Context, d time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.stepDuration.Record(ctx, float64(d.Milliseconds()))
}

// leaseKey names the per-plan lease, scoped by the same (owner, plan) pair
// the store partitions by.
func leaseKey(trigger plan.Trigger) string {
	return fmt.Sprintf("plan/%s/%s", trigger.OwnerKey, trigger.PlanID)
}
