package paceline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paceline-ai/paceline/plan"
	"github.com/paceline-ai/paceline/schedule"
	"github.com/paceline-ai/paceline/store"
)

// Planner is the plan API surface consumed by an agent runtime. It wraps the
// plan store and the delay scheduler; the execution engine consumes the same
// two capabilities from the other side of the queue.
type Planner struct {
	store     store.Store
	scheduler schedule.Scheduler
	logger    *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets a custom logger. If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		p.logger = logger
	}
}

// New creates a Planner from its store and scheduler capabilities.
func New(st store.Store, scheduler schedule.Scheduler, opts ...Option) (*Planner, error) {
	if st == nil {
		return nil, NewValidationError("New", fmt.Errorf("store is required"))
	}
	if scheduler == nil {
		return nil, NewValidationError("New", fmt.Errorf("scheduler is required"))
	}

	p := &Planner{store: st, scheduler: scheduler}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p, nil
}

// CreatePlan persists a new plan and immediately arms the delay scheduler
// for the first step's delay. Returns a validation error when steps is
// empty, in which case nothing is persisted.
func (p *Planner) CreatePlan(ctx context.Context, name, subjectKey, ownerKey string, steps []plan.StepSpec) (*plan.Plan, error) {
	const op = "Planner.CreatePlan"

	newPlan, err := plan.New(name, ownerKey, subjectKey, steps)
	if err != nil {
		return nil, NewValidationError(op, err)
	}

	if err := p.store.Create(ctx, newPlan); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, NewConflictError(op, err)
		}
		return nil, NewInternalError(op, err)
	}

	p.logger.Info("created plan",
		"plan_id", newPlan.ID,
		"name", name,
		"owner_key", ownerKey,
		"subject_key", subjectKey,
		"steps", len(newPlan.Steps),
	)

	receipt, err := p.scheduler.Schedule(ctx, plan.Trigger{
		PlanID:     newPlan.ID,
		OwnerKey:   ownerKey,
		SubjectKey: subjectKey,
	}, newPlan.Steps[0].Delay())
	if err != nil {
		return nil, NewInternalError(op, err).WithContext(map[string]any{
			"plan_id": newPlan.ID,
		})
	}

	p.logger.Info("armed first step",
		"plan_id", newPlan.ID,
		"delivery_time", receipt.DeliveryTime,
	)

	return newPlan, nil
}

// GetPlan performs a point lookup. Returns a KindNotFound error (unwrapping
// to store.ErrNotFound) when the plan does not exist.
func (p *Planner) GetPlan(ctx context.Context, planID, ownerKey string) (*plan.Plan, error) {
	const op = "Planner.GetPlan"

	loaded, err := p.store.Get(ctx, planID, ownerKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NewNotFoundError(op, err)
	}
	if err != nil {
		return nil, NewInternalError(op, err)
	}

	return loaded, nil
}

// HasIncompleteSteps reports whether the plan still has pending steps. It
// returns false both when the plan is fully done and when the plan does not
// exist; callers must not infer existence from this result alone.
func (p *Planner) HasIncompleteSteps(ctx context.Context, planID, ownerKey string) (bool, error) {
	loaded, err := p.store.Get(ctx, planID, ownerKey)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Warn("plan not found, treating as no incomplete steps",
			"plan_id", planID,
			"owner_key", ownerKey,
		)
		return false, nil
	}
	if err != nil {
		return false, NewInternalError("Planner.HasIncompleteSteps", err)
	}

	return loaded.HasIncompleteSteps(), nil
}

// CompleteStep marks one step completed out of band, bypassing the step
// executor. Idempotent: re-completing a completed step reports true without
// changing state. Returns false when the plan or position does not exist.
func (p *Planner) CompleteStep(ctx context.Context, planID, ownerKey string, position int) (bool, error) {
	const op = "Planner.CompleteStep"

	if position < 1 {
		return false, NewValidationError(op, fmt.Errorf("position must be >= 1, got %d", position))
	}

	applied, err := p.store.PatchStepCompleted(ctx, planID, ownerKey, position, time.Now())
	if err != nil {
		return false, NewInternalError(op, err)
	}
	if !applied {
		p.logger.Warn("step not found for manual completion",
			"plan_id", planID,
			"position", position,
		)
	}

	return applied, nil
}

// AppendHistoryEntry appends one entry to the plan's history. Returns false
// when the plan does not exist.
func (p *Planner) AppendHistoryEntry(ctx context.Context, planID, ownerKey, entry string) (bool, error) {
	ok, err := p.store.AppendHistory(ctx, planID, ownerKey, entry)
	if err != nil {
		return false, NewInternalError("Planner.AppendHistoryEntry", err)
	}
	if !ok {
		p.logger.Warn("plan not found for history append", "plan_id", planID)
	}
	return ok, nil
}

// GetHistory returns the plan's history entries in append order. A missing
// plan yields an empty history, not an error.
func (p *Planner) GetHistory(ctx context.Context, planID, ownerKey string) ([]string, error) {
	history, err := p.store.GetHistory(ctx, planID, ownerKey)
	if errors.Is(err, store.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, NewInternalError("Planner.GetHistory", err)
	}
	return history, nil
}

// ScheduleNextStep re-arms the delay scheduler for the plan's next pending
// step using that step's own delay. It is a no-op returning a nil receipt
// when the plan does not exist or has no pending steps, so a stale caller
// cannot resurrect a finished plan.
func (p *Planner) ScheduleNextStep(ctx context.Context, planID, ownerKey, subjectKey string) (*schedule.Receipt, error) {
	const op = "Planner.ScheduleNextStep"

	loaded, err := p.store.Get(ctx, planID, ownerKey)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Warn("plan not found, skipping schedule", "plan_id", planID)
		return nil, nil
	}
	if err != nil {
		return nil, NewInternalError(op, err)
	}

	next, ok := loaded.FirstPending()
	if !ok {
		p.logger.Warn("plan has all steps completed, skipping schedule", "plan_id", planID)
		return nil, nil
	}

	receipt, err := p.scheduler.Schedule(ctx, plan.Trigger{
		PlanID:     planID,
		OwnerKey:   ownerKey,
		SubjectKey: subjectKey,
	}, next.Delay())
	if err != nil {
		return nil, NewInternalError(op, err)
	}

	p.logger.Info("armed next step",
		"plan_id", planID,
		"position", next.Position,
		"delivery_time", receipt.DeliveryTime,
	)

	return &receipt, nil
}
