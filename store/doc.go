// Package store provides durable keyed storage for plan aggregates.
//
// The Store interface is the plan store contract: create, point read, and
// partial field-level patches. There is no built-in locking; callers that
// need stronger guarantees layer optimistic concurrency (or a lease) on top.
//
// # Semantics
//
// Two outcomes are deliberately not errors:
//
//   - Get returns ErrNotFound for an absent plan. A stale trigger referencing
//     a plan that was never created is a valid, expected situation and must
//     be distinguishable from transport failures.
//   - PatchStepCompleted and AppendHistory return (false, nil) when the plan
//     or step position does not exist. "Nothing to do" is distinct from
//     failure.
//
// PatchStepCompleted is idempotent: re-marking an already-completed step
// leaves the same end state and reports true.
//
// # Redis Key Schema
//
// RedisStore lays each plan out as three keys under the owner partition:
//
//   - <ns>:plan:<owner>:<id>:meta - hash of identity fields; the "id" field
//     doubles as the existence/conflict marker (HSETNX)
//   - <ns>:plan:<owner>:<id>:steps - hash mapping position to step JSON, so
//     completing a step patches a single field
//   - <ns>:plan:<owner>:<id>:history - list appended with RPUSH, matching
//     the append-only history contract
//
// The completion patch runs under WATCH on the steps key, so when two
// duplicate trigger handlers race, at most one write lands and the loser
// converges to an idempotent no-op.
//
// # Usage
//
//	st, err := store.NewRedisStore(store.RedisOptions{
//	    URL: "redis://localhost:6379",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
//
//	err = st.Create(ctx, p)
//	loaded, err := st.Get(ctx, p.ID, p.OwnerKey)
//	applied, err := st.PatchStepCompleted(ctx, p.ID, p.OwnerKey, 1, time.Now())
//	ok, err := st.AppendHistory(ctx, p.ID, p.OwnerKey, "step one done")
//
// # Thread Safety
//
// RedisStore is safe for concurrent use by multiple goroutines.
package store
