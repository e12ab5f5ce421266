package lease

import (
	"context"
	"errors"
	"time"
)

// ErrHeld is returned by Acquire when another holder currently owns the
// lease. Callers should abandon the attempt and retry later rather than
// block.
var ErrHeld = errors.New("lease: already held")

// Locker grants short-lived mutual-exclusion leases keyed by name.
//
// The execution engine uses a Locker, when one is configured, to suppress
// duplicate trigger deliveries for the same plan: the handler takes a
// per-plan lease before invoking the step executor, so at most one duplicate
// commits a step's side effects. The lease carries a TTL, so a crashed holder
// never wedges the plan; the next redelivery proceeds once the TTL lapses.
type Locker interface {
	// Acquire takes the lease named key for at most ttl. Returns ErrHeld
	// when the lease is currently owned elsewhere.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is one held lease.
type Lease interface {
	// Release gives the lease up early. Releasing an already-expired lease
	// is a no-op.
	Release(ctx context.Context) error
}
