// Package plan defines the data model for deferred multi-step plans.
//
// A Plan is a durable, ordered sequence of steps with delays between them,
// executed asynchronously over time. Each Step carries a 1-based position, a
// description of the work to perform, and a delay measured from the previous
// step's completion. The plan's History is an append-only log of step
// outcomes used as continuity context for later steps.
//
// # Invariants
//
// The model enforces (via Validate) and assumes (via its mutation paths):
//
//   - Step positions are a contiguous 1..N sequence with no gaps or
//     duplicates.
//   - A step's Completed flag transitions false to true exactly once and
//     never reverts.
//   - A step at position p only completes after the step at p-1 (engine
//     responsibility: FirstPending always selects the lowest pending
//     position).
//   - History length is monotonically non-decreasing.
//
// # Creating plans
//
//	p, err := plan.New("onboarding", ownerKey, subjectKey, []plan.StepSpec{
//	    {Description: "send welcome", Delay: 0},
//	    {Description: "check in", Delay: 24 * time.Hour},
//	})
//
// A plan is created fully formed; steps cannot be added or reordered later.
//
// # Triggers
//
// A Trigger is the small message placed on the delay queue to request that a
// plan be advanced. It identifies the plan by (PlanID, OwnerKey) and carries
// the SubjectKey through to the step executor. Triggers deliberately carry no
// step state: the stored plan document is always re-read and re-validated on
// delivery, which is what makes stale and duplicate deliveries harmless.
package plan
