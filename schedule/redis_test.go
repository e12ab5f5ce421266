package schedule

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paceline-ai/paceline/plan"
)

// setupTestScheduler creates a miniredis instance and returns a connected
// RedisScheduler with a short visibility window for redelivery tests.
func setupTestScheduler(t *testing.T, visibility time.Duration) (*RedisScheduler, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	sched, err := NewRedisScheduler(RedisOptions{
		URL:               fmt.Sprintf("redis://%s", mr.Addr()),
		VisibilityTimeout: visibility,
		ConnectTimeout:    5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = sched.Close()
		mr.Close()
	})

	return sched, mr
}

func testTrigger() plan.Trigger {
	return plan.Trigger{PlanID: "plan-1", OwnerKey: "owner-a", SubjectKey: "user-u"}
}

func TestSchedule(t *testing.T) {
	t.Run("returns receipt with delivery time", func(t *testing.T) {
		sched, _ := setupTestScheduler(t, time.Minute)

		before := time.Now()
		receipt, err := sched.Schedule(context.Background(), testTrigger(), time.Hour)
		require.NoError(t, err)

		assert.NotEmpty(t, receipt.DeliveryID)
		assert.WithinDuration(t, before.Add(time.Hour), receipt.DeliveryTime, 2*time.Second)
	})

	t.Run("rejects invalid trigger", func(t *testing.T) {
		sched, _ := setupTestScheduler(t, time.Minute)

		_, err := sched.Schedule(context.Background(), plan.Trigger{}, 0)
		require.Error(t, err)
	})

	t.Run("rejects negative delay", func(t *testing.T) {
		sched, _ := setupTestScheduler(t, time.Minute)

		_, err := sched.Schedule(context.Background(), testTrigger(), -time.Second)
		require.Error(t, err)
	})
}

func TestReceive(t *testing.T) {
	t.Run("zero delay delivers immediately", func(t *testing.T) {
		sched, _ := setupTestScheduler(t, time.Minute)
		ctx := context.Background()

		receipt, err := sched.Schedule(ctx, testTrigger(), 0)
		require.NoError(t, err)

		d, err := sched.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, receipt.DeliveryID, d.ID)
		assert.Equal(t, testTrigger(), d.Trigger)
		assert.Equal(t, 0, d.Attempts)
	})

	t.Run("not due yet", func(t *testing.T) {
		sched, _ := setupTestScheduler(t, time.Minute)
		ctx := context.Background()

		_, err := sched.Schedule(ctx, testTrigger(), time.Hour)
		require.NoError(t, err)

		_, err = sched.Receive(ctx)
		assert.ErrorIs(t, err, ErrNoDelivery)
	})

	t.Run("becomes due after the delay", func(t *testing.T) {
		sched, _ := setupTestScheduler(t, time.Minute)
		ctx := context.Background()

		_, err := sched.Schedule(ctx, testTrigger(), 30*time.Millisecond)
		require.NoError(t, err)

		_, err = sched.Receive(ctx)
		assert.ErrorIs(t, err, ErrNoDelivery)

		time.Sleep(50 * time.Millisecond)

		d, err := sched.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, testTrigger(), d.Trigger)
	})

	t.Run("claimed delivery is invisible to other consumers", func(t *testing.T) {
		sched, _ := setupTestScheduler(t, time.Minute)
		ctx := context.Background()

		_, err := sched.Schedule(ctx, testTrigger(), 0)
		require.NoError(t, err)

		_, err = sched.Receive(ctx)
		require.NoError(t, err)

		_, err = sched.Receive(ctx)
		assert.ErrorIs(t, err, ErrNoDelivery)
	})

	t.Run("empty queue", func(t *testing.T) {
		sched, _ := setupTestScheduler(t, time.Minute)

		_, err := sched.Receive(context.Background())
		assert.ErrorIs(t, err, ErrNoDelivery)
	})

	t.Run("delivers earliest due trigger first", func(t *testing.T) {
		sched, _ := setupTestScheduler(t, time.Minute)
		ctx := context.Background()

		later := testTrigger()
		later.PlanID = "plan-later"
		_, err := sched.Schedule(ctx, later, 20*time.Millisecond)
		require.NoError(t, err)

		earlier := testTrigger()
		earlier.PlanID = "plan-earlier"
		_, err = sched.Schedule(ctx, earlier, 0)
		require.NoError(t, err)

		d, err := sched.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, "plan-earlier", d.Trigger.PlanID)
	})
}

func TestAckAndRedelivery(t *testing.T) {
	t.Run("acked delivery never returns", func(t *testing.T) {
		sched, _ := setupTestScheduler(t, 30*time.Millisecond)
		ctx := context.Background()

		_, err := sched.Schedule(ctx, testTrigger(), 0)
		require.NoError(t, err)

		d, err := sched.Receive(ctx)
		require.NoError(t, err)
		require.NoError(t, sched.Ack(ctx, d))

		time.Sleep(50 * time.Millisecond)

		_, err = sched.Receive(ctx)
		assert.ErrorIs(t, err, ErrNoDelivery)
	})

	t.Run("unacked delivery reappears with incremented attempts", func(t *testing.T) {
		sched, _ := setupTestScheduler(t, 30*time.Millisecond)
		ctx := context.Background()

		_, err := sched.Schedule(ctx, testTrigger(), 0)
		require.NoError(t, err)

		first, err := sched.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, first.Attempts)

		// Never acked; let the visibility window lapse.
		time.Sleep(50 * time.Millisecond)

		second, err := sched.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, testTrigger(), second.Trigger)
		assert.Equal(t, 1, second.Attempts)
	})

	t.Run("ack after requeue is a harmless no-op", func(t *testing.T) {
		sched, _ := setupTestScheduler(t, 30*time.Millisecond)
		ctx := context.Background()

		_, err := sched.Schedule(ctx, testTrigger(), 0)
		require.NoError(t, err)

		first, err := sched.Receive(ctx)
		require.NoError(t, err)

		time.Sleep(50 * time.Millisecond)

		second, err := sched.Receive(ctx)
		require.NoError(t, err)

		// Late ack from the slow consumer must not lose the redelivered copy.
		require.NoError(t, sched.Ack(ctx, first))
		require.NoError(t, sched.Ack(ctx, second))

		_, err = sched.Receive(ctx)
		assert.ErrorIs(t, err, ErrNoDelivery)
	})
}
