package store

import (
	"context"
	"errors"
	"time"

	"github.com/paceline-ai/paceline/plan"
)

// Common errors returned by plan store operations.
var (
	// ErrNotFound is returned when a requested plan does not exist. This is
	// an expected outcome for callers (a stale trigger may reference a plan
	// that was never created), distinguishable from transport failures.
	ErrNotFound = errors.New("store: plan not found")

	// ErrConflict is returned when creating a plan whose identifier already
	// exists in the store.
	ErrConflict = errors.New("store: plan already exists")
)

// Store provides durable keyed storage for the plan aggregate.
//
// All mutations are targeted field-level patches, never whole-document
// rewrites, to shrink the window for lost updates under concurrent access.
// The store offers no cross-document transactions; callers layer optimistic
// concurrency on top where they need it.
type Store interface {
	// Create stores a new plan. Returns ErrConflict if a plan with the same
	// identifier already exists under the same owner key.
	Create(ctx context.Context, p *plan.Plan) error

	// Get performs a point lookup of a plan by identifier and owner key.
	// Returns ErrNotFound when the plan does not exist; callers should treat
	// that as a valid outcome, not a failure.
	Get(ctx context.Context, planID, ownerKey string) (*plan.Plan, error)

	// PatchStepCompleted marks exactly one step completed via a field-level
	// patch. The patch is idempotent: marking an already-completed step is a
	// harmless no-op that still reports true. Returns (false, nil) when the
	// plan or step position does not exist, so callers can treat "nothing to
	// do" distinctly from failure.
	PatchStepCompleted(ctx context.Context, planID, ownerKey string, position int, completedAt time.Time) (bool, error)

	// AppendHistory appends one entry to the plan's history sequence.
	// Returns (false, nil) when the plan does not exist.
	AppendHistory(ctx context.Context, planID, ownerKey, entry string) (bool, error)

	// GetHistory returns the plan's history entries in append order without
	// materializing the rest of the document. Returns ErrNotFound when the
	// plan does not exist.
	GetHistory(ctx context.Context, planID, ownerKey string) ([]string, error)
}
