package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/paceline-ai/paceline/plan"
)

// ErrNoDelivery is returned by Receive when no trigger is due yet. Consumers
// poll; this is the quiet case, not a failure.
var ErrNoDelivery = errors.New("schedule: no delivery due")

// Receipt is the handle returned when a trigger is scheduled.
type Receipt struct {
	// DeliveryID is the unique identifier assigned to the enqueued trigger.
	DeliveryID string `json:"delivery_id"`

	// DeliveryTime is the earliest time the trigger may be delivered. The
	// delay is "no earlier than", not "exactly at".
	DeliveryTime time.Time `json:"delivery_time"`
}

// Delivery is one in-flight trigger handed to a consumer.
type Delivery struct {
	// ID is the delivery identifier assigned at schedule time.
	ID string `json:"id"`

	// Trigger is the plan trigger payload.
	Trigger plan.Trigger `json:"trigger"`

	// DeliverAtMillis is the Unix timestamp in milliseconds before which
	// this delivery was not visible.
	DeliverAtMillis int64 `json:"deliver_at_ms"`

	// Attempts counts redeliveries. Zero on first delivery; each visibility
	// timeout expiry increments it.
	Attempts int `json:"attempts"`
}

// Scheduler accepts triggers for delayed delivery.
//
// Delivery is at-least-once: a consumer that does not acknowledge within the
// visibility window sees the same trigger again. There is no exactly-once
// guarantee and no cross-consumer locking; consumers must make their effects
// idempotent.
type Scheduler interface {
	// Schedule enqueues a trigger that will not be delivered to any consumer
	// before notBefore elapses.
	Schedule(ctx context.Context, trigger plan.Trigger, notBefore time.Duration) (Receipt, error)
}

// Source is the consumption side of the delay queue.
type Source interface {
	// Receive claims at most one due trigger, making it invisible to other
	// consumers for the visibility window. Returns ErrNoDelivery when
	// nothing is due.
	Receive(ctx context.Context) (*Delivery, error)

	// Ack positively acknowledges a delivery, removing it for good. A
	// delivery that is never acked becomes visible again after the
	// visibility window and is redelivered.
	Ack(ctx context.Context, d *Delivery) error
}
