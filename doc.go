// Package paceline is a deferred multi-step plan execution engine.
//
// An agent defines an ordered sequence of steps, each separated by an
// arbitrary delay, and paceline executes those steps one at a time,
// asynchronously, with a durable history trail — without any component
// staying resident in memory between steps. It reconciles three
// independently unreliable primitives: a durable record store with no
// cross-document transactions, a delay-capable queue with at-least-once
// delivery, and an external step executor that may fail or run long.
//
// # Architecture
//
//	caller ──> Planner.CreatePlan ──> store (plan persisted)
//	                │
//	                └──> schedule (trigger armed for step 1's delay)
//	                          │  ...time passes...
//	runner ──> schedule.Receive ──> engine.HandleTrigger
//	                                     │ load plan, pick first pending step
//	                                     │ invoke Executor (one reasoning turn)
//	                                     │ append history, mark step complete
//	                                     └──> schedule (next step) or done
//
// The packages map onto that picture:
//
//   - plan: the Plan/Step/Trigger data model and its invariants
//   - store: durable plan storage (Redis), field-level patches only
//   - schedule: delayed at-least-once trigger delivery (Redis sorted sets)
//   - engine: the per-trigger state machine around the step executor
//   - lease: optional per-plan mutual exclusion (etcd) for duplicate
//     suppression
//   - runner: the long-running consumer process loop
//   - config: YAML configuration for the runner
//
// This root package carries the Planner — the API surface an agent runtime
// uses to create and inspect plans — and the structured Error type shared by
// its operations.
//
// # Delivery semantics
//
// Trigger delivery is at-least-once and delays are "no earlier than", never
// "exactly at". Every handler invocation is treated as possibly duplicate:
// plans are re-validated on load, the completion patch is idempotent and
// optimistically checked, and re-arming only happens after a successful
// commit. A plan whose steps are all completed is terminal; stale triggers
// for it are discarded without effect.
//
// # Getting started
//
//	st, _ := store.NewRedisStore(store.RedisOptions{URL: redisURL})
//	sched, _ := schedule.NewRedisScheduler(schedule.RedisOptions{URL: redisURL})
//
//	planner, _ := paceline.New(st, sched)
//	p, err := planner.CreatePlan(ctx, "onboarding", userKey, agentKey, []plan.StepSpec{
//	    {Description: "send welcome", Delay: 0},
//	    {Description: "check in", Delay: 24 * time.Hour},
//	})
//
// and, in the consumer process:
//
//	eng, _ := engine.New(st, sched, executor)
//	runner.RunContext(ctx, eng, sched, runner.Options{Concurrency: 4})
package paceline
