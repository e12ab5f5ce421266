// Package lease provides short-lived mutual-exclusion leases for plan
// processing.
//
// The delay queue is at-least-once, so two workers can end up processing the
// same plan trigger concurrently. The store's optimistic completion patch
// keeps the completion flag consistent, but the step executor call and the
// history append are side effects that a duplicate could still repeat. A
// Locker closes that gap: the engine takes a per-plan lease before invoking
// the executor, so at most one duplicate commits a step's effects, and the
// TTL guarantees a crashed holder never wedges the plan.
//
// The lease is optional hardening. An engine without a Locker still behaves
// correctly for the completion flag; it merely accepts the duplicate
// side-effect window inherent to at-least-once delivery.
//
//	locker, err := lease.NewEtcdLocker(lease.Config{
//	    Endpoints: []string{"localhost:2379"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer locker.Close()
//
//	held, err := locker.Acquire(ctx, "plan/"+planID, 30*time.Second)
//	if errors.Is(err, lease.ErrHeld) {
//	    return // someone else is advancing this plan
//	}
//	defer held.Release(ctx)
package lease
