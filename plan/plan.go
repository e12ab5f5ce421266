package plan

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors returned by plan validation.
var (
	// ErrNoSteps is returned when a plan is created or validated with an
	// empty step sequence.
	ErrNoSteps = errors.New("plan: plan must contain at least one step")

	// ErrInvalidPlan is returned when a plan fails structural validation.
	ErrInvalidPlan = errors.New("plan: invalid plan")
)

// Plan is the aggregate root for a deferred multi-step plan.
//
// A plan is created once, fully, with all of its steps. After creation it is
// mutated only two ways: marking a single step completed, and appending one
// history entry. It is never deleted; a finished plan remains in the store as
// an audit record.
type Plan struct {
	// ID is an opaque unique identifier assigned at creation, immutable.
	ID string `json:"id"`

	// Name is a short human-readable label for the plan.
	Name string `json:"name"`

	// OwnerKey is the agent identity that owns this plan. All storage and
	// queue operations for the plan are scoped by this key.
	OwnerKey string `json:"owner_key"`

	// SubjectKey is the user identity the plan runs on behalf of. It is
	// carried through to the step executor unchanged.
	SubjectKey string `json:"subject_key"`

	// Steps is the ordered step sequence, 1-based by Position. Content and
	// order are fixed at creation; only completion status mutates.
	Steps []Step `json:"steps"`

	// History is the append-only log of outcomes from executed steps. It is
	// never reordered or truncated, and is fed back to the step executor as
	// continuity context.
	History []string `json:"history"`

	// CreatedAt is the Unix timestamp in milliseconds when the plan was
	// created. Set once.
	CreatedAt int64 `json:"created_at"`
}

// Step is one unit of deferred work within a plan. Steps are embedded in
// their plan and are never independently addressable.
type Step struct {
	// Position is the 1-based ordinal of this step, unique within the plan
	// and fixed at creation.
	Position int `json:"position"`

	// Description is the unit of work for the step executor to perform.
	Description string `json:"description"`

	// DelayMillis is the non-negative delay in milliseconds to wait before
	// this step becomes eligible to run, measured from the prior step's
	// completion (or from plan creation, for the first step).
	DelayMillis int64 `json:"delay_ms"`

	// Completed transitions false to true exactly once and never reverts.
	Completed bool `json:"completed"`

	// CompletedAt is the Unix timestamp in milliseconds when the step was
	// marked complete. Zero while the step is pending.
	CompletedAt int64 `json:"completed_at,omitempty"`
}

// StepSpec describes one step at plan-creation time. Positions are assigned
// by New in input order.
type StepSpec struct {
	// Description is the unit of work for the step executor to perform.
	Description string `json:"description"`

	// Delay is how long to wait after the previous step completes (or after
	// plan creation, for the first step) before this step runs.
	Delay time.Duration `json:"delay"`
}

// New builds a plan from the given step specs, assigning a fresh ID and
// contiguous 1-based positions. It returns ErrNoSteps when specs is empty and
// a validation error when any spec is malformed.
func New(name, ownerKey, subjectKey string, specs []StepSpec) (*Plan, error) {
	if len(specs) == 0 {
		return nil, ErrNoSteps
	}

	steps := make([]Step, len(specs))
	for i, spec := range specs {
		steps[i] = Step{
			Position:    i + 1,
			Description: spec.Description,
			DelayMillis: spec.Delay.Milliseconds(),
		}
	}

	p := &Plan{
		ID:         uuid.New().String(),
		Name:       name,
		OwnerKey:   ownerKey,
		SubjectKey: subjectKey,
		Steps:      steps,
		History:    []string{},
		CreatedAt:  time.Now().UnixMilli(),
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}

// Validate checks the structural invariants of the plan: a non-empty ID,
// owner key, and step sequence, contiguous 1..N step positions, and
// non-negative step delays.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidPlan)
	}
	if p.OwnerKey == "" {
		return fmt.Errorf("%w: owner_key is required", ErrInvalidPlan)
	}
	if p.SubjectKey == "" {
		return fmt.Errorf("%w: subject_key is required", ErrInvalidPlan)
	}
	if len(p.Steps) == 0 {
		return ErrNoSteps
	}

	for i, step := range p.Steps {
		if step.Position != i+1 {
			return fmt.Errorf("%w: step positions must be contiguous from 1, got %d at index %d", ErrInvalidPlan, step.Position, i)
		}
		if step.Description == "" {
			return fmt.Errorf("%w: step %d has an empty description", ErrInvalidPlan, step.Position)
		}
		if step.DelayMillis < 0 {
			return fmt.Errorf("%w: step %d has a negative delay", ErrInvalidPlan, step.Position)
		}
	}

	return nil
}

// Delay returns the step's delay as a time.Duration.
func (s *Step) Delay() time.Duration {
	return time.Duration(s.DelayMillis) * time.Millisecond
}

// FirstPending returns the lowest-position step that is not yet completed.
// The bool result is false when every step is completed. Only this step is
// eligible to execute; later steps are never started out of order.
func (p *Plan) FirstPending() (*Step, bool) {
	for i := range p.Steps {
		if !p.Steps[i].Completed {
			return &p.Steps[i], true
		}
	}
	return nil, false
}

// Done reports whether every step in the plan is completed. A done plan is
// terminal: no further triggers are armed for it.
func (p *Plan) Done() bool {
	_, pending := p.FirstPending()
	return !pending
}

// HasIncompleteSteps reports whether at least one step is still pending.
func (p *Plan) HasIncompleteSteps() bool {
	return !p.Done()
}

// Step returns the step with the given 1-based position, or false when no
// such position exists.
func (p *Plan) Step(position int) (*Step, bool) {
	for i := range p.Steps {
		if p.Steps[i].Position == position {
			return &p.Steps[i], true
		}
	}
	return nil, false
}
