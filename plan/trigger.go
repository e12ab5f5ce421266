package plan

import "fmt"

// Trigger is the queued message instructing the execution engine to attempt
// to advance a specific plan. It is intentionally small: the plan document in
// the store is the source of truth, and the trigger only identifies it.
//
// Trigger delivery is at-least-once. Consumers must treat every delivery as
// possibly duplicate and re-validate plan state before acting.
type Trigger struct {
	// PlanID identifies the plan to advance.
	PlanID string `json:"plan_id"`

	// OwnerKey is the agent identity the plan is partitioned by.
	OwnerKey string `json:"owner_key"`

	// SubjectKey is the user identity carried through to the step executor.
	SubjectKey string `json:"subject_key"`
}

// IsValid checks that the trigger carries the fields required to load and
// advance a plan.
func (t *Trigger) IsValid() error {
	if t.PlanID == "" {
		return fmt.Errorf("plan_id is required")
	}
	if t.OwnerKey == "" {
		return fmt.Errorf("owner_key is required")
	}
	if t.SubjectKey == "" {
		return fmt.Errorf("subject_key is required")
	}
	return nil
}
