// Package engine implements the plan execution state machine.
//
// The engine is the consumer of plan triggers. On every delivery it loads the
// plan, determines the single eligible step (the lowest-position pending
// one), invokes the external step executor, persists the outcome as a history
// entry, marks the step complete, and re-arms the delay scheduler for the
// following step — or leaves the plan in its terminal state when no steps
// remain. Nothing stays resident in memory between triggers.
//
// # State machine
//
// Per step: Pending -> Completed (terminal). Per plan: Active (at least one
// pending step) -> Done (all completed). There is no Failed state: a failed
// executor call abandons the attempt without committing anything, and the
// delay queue's redelivery is the only retry mechanism.
//
// # Trigger handling
//
//	1. Load the plan. Not found: log, discard (benign no-op).
//	2. All steps completed: discard (duplicate/late redelivery guard).
//	3. Pick the first pending step in position order.
//	4. Invoke the Executor with the description, history, and identity keys.
//	5. On success: append the outcome to history, patch the step completed.
//	   Both writes are idempotent.
//	6. Re-arm the scheduler for the next pending step's delay, or quiesce.
//
// Because delivery is at-least-once, HandleTrigger is written to be safe
// under duplication: re-validation on load is the cancellation mechanism for
// stale triggers, the completion patch converges under races, and an
// optional per-plan lease (WithLocker) suppresses duplicate executor calls
// entirely.
//
// # Error signals
//
//   - nil return: trigger fully handled, caller should acknowledge it. This
//     includes the no-op outcomes.
//   - non-nil return: the attempt was abandoned with no step committed (or
//     partially committed writes that are safe to re-apply); the caller
//     should not acknowledge, so the trigger is redelivered.
//
// # Observability
//
// With WithTracer the engine emits a "plan.trigger" span per delivery. With
// WithMeter it records trigger counts by outcome, completed-step counts, and
// executor latency. Both default to no-ops.
package engine
