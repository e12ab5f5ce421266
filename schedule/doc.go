// Package schedule provides delayed, at-least-once trigger delivery.
//
// The Scheduler accepts a plan trigger and an explicit "not deliverable
// before" duration. After the delay elapses, the trigger is delivered to
// exactly one consumer at a time, but may be redelivered if that consumer
// crashes or fails to acknowledge within the visibility window. The delay is
// a floor, not a precise delivery time.
//
// # Delivery lifecycle
//
//	Schedule ──> scheduled (due at deliver-at)
//	Receive  ──> inflight  (invisible until the visibility deadline)
//	Ack      ──> gone
//	deadline passes without Ack ──> back to scheduled, Attempts+1
//
// Because redelivery exists, every consumer must treat a delivery as possibly
// duplicate and make its effects idempotent. The scheduler offers no global
// exactly-once guarantee.
//
// # Redis Key Schema
//
//   - <ns>:triggers:scheduled - sorted set of delivery JSON scored by
//     deliver-at Unix milliseconds
//   - <ns>:triggers:inflight - sorted set of claimed deliveries scored by
//     visibility deadline
//
// Claims and requeues run under WATCH transactions so concurrent consumers
// never double-claim the same member; a loser simply sees ErrNoDelivery and
// polls again.
//
// # Usage
//
//	sched, err := schedule.NewRedisScheduler(schedule.RedisOptions{
//	    URL:               "redis://localhost:6379",
//	    VisibilityTimeout: 2 * time.Minute,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sched.Close()
//
//	receipt, err := sched.Schedule(ctx, trigger, 24*time.Hour)
//
//	for {
//	    d, err := sched.Receive(ctx)
//	    if errors.Is(err, schedule.ErrNoDelivery) {
//	        time.Sleep(pollInterval)
//	        continue
//	    }
//	    // handle d.Trigger ...
//	    _ = sched.Ack(ctx, d)
//	}
//
// # Thread Safety
//
// RedisScheduler is safe for concurrent use by multiple goroutines.
package schedule
