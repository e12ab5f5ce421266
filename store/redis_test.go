package store

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

// setupTestStore creates a miniredis instance and returns a connected RedisStore.
func setupTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	st, err := NewRedisStore(RedisOptions{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = st.Close()
		mr.Close()
	})

	return st, mr
}

func newTestPlan(t *testing.T) *plan.Plan {
	t.Helper()

	p, err := plan.New("onboarding", "owner-a", "user-u", []plan.StepSpec{
		{Description: "send welcome", Delay: 0},
		{Description: "check in", Delay: 24 * time.Hour},
	})
	require.NoError(t, err)
	return p
}

func TestNewRedisStore(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		mr := miniredis.RunT(t)
		defer mr.Close()

		st, err := NewRedisStore(RedisOptions{
			URL: fmt.Sprintf("redis://%s", mr.Addr()),
		})
		require.NoError(t, err)
		require.NotNil(t, st)
		defer st.Close()
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisStore(RedisOptions{
			URL: "invalid://url",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})

	t.Run("connection failure", func(t *testing.T) {
		_, err := NewRedisStore(RedisOptions{
			URL:            "redis://localhost:1",
			ConnectTimeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})
}

func TestCreateGet(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		st, _ := setupTestStore(t)
		ctx := context.Background()

		p := newTestPlan(t)
		require.NoError(t, st.Create(ctx, p))

		loaded, err := st.Get(ctx, p.ID, p.OwnerKey)
		require.NoError(t, err)

		assert.Equal(t, p.ID, loaded.ID)
		assert.Equal(t, p.Name, loaded.Name)
		assert.Equal(t, p.OwnerKey, loaded.OwnerKey)
		assert.Equal(t, p.SubjectKey, loaded.SubjectKey)
		assert.Equal(t, p.CreatedAt, loaded.CreatedAt)
		require.Len(t, loaded.Steps, 2)
		assert.Equal(t, 1, loaded.Steps[0].Position)
		assert.Equal(t, "send welcome", loaded.Steps[0].Description)
		assert.Equal(t, 2, loaded.Steps[1].Position)
		assert.False(t, loaded.Steps[0].Completed)
		assert.Empty(t, loaded.History)
	})

	t.Run("duplicate create conflicts", func(t *testing.T) {
		st, _ := setupTestStore(t)
		ctx := context.Background()

		p := newTestPlan(t)
		require.NoError(t, st.Create(ctx, p))

		err := st.Create(ctx, p)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("invalid plan rejected before any write", func(t *testing.T) {
		st, mr := setupTestStore(t)
		ctx := context.Background()

		p := newTestPlan(t)
		p.Steps = nil
		require.Error(t, st.Create(ctx, p))
		assert.Empty(t, mr.Keys())
	})

	t.Run("unknown plan is not found", func(t *testing.T) {
		st, _ := setupTestStore(t)

		_, err := st.Get(context.Background(), "no-such-plan", "owner-a")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("owner key partitions plans", func(t *testing.T) {
		st, _ := setupTestStore(t)
		ctx := context.Background()

		p := newTestPlan(t)
		require.NoError(t, st.Create(ctx, p))

		_, err := st.Get(ctx, p.ID, "owner-b")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPatchStepCompleted(t *testing.T) {
	t.Run("marks exactly one step", func(t *testing.T) {
		st, _ := setupTestStore(t)
		ctx := context.Background()

		p := newTestPlan(t)
		require.NoError(t, st.Create(ctx, p))

		completedAt := time.Now()
		applied, err := st.PatchStepCompleted(ctx, p.ID, p.OwnerKey, 1, completedAt)
		require.NoError(t, err)
		assert.True(t, applied)

		loaded, err := st.Get(ctx, p.ID, p.OwnerKey)
		require.NoError(t, err)
		assert.True(t, loaded.Steps[0].Completed)
		assert.Equal(t, completedAt.UnixMilli(), loaded.Steps[0].CompletedAt)
		assert.False(t, loaded.Steps[1].Completed)
	})

	t.Run("idempotent reapply keeps first completion time", func(t *testing.T) {
		st, _ := setupTestStore(t)
		ctx := context.Background()

		p := newTestPlan(t)
		require.NoError(t, st.Create(ctx, p))

		first := time.Now()
		applied, err := st.PatchStepCompleted(ctx, p.ID, p.OwnerKey, 1, first)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = st.PatchStepCompleted(ctx, p.ID, p.OwnerKey, 1, first.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, applied)

		loaded, err := st.Get(ctx, p.ID, p.OwnerKey)
		require.NoError(t, err)
		assert.True(t, loaded.Steps[0].Completed)
		assert.Equal(t, first.UnixMilli(), loaded.Steps[0].CompletedAt)
	})

	t.Run("missing plan reports false without error", func(t *testing.T) {
		st, _ := setupTestStore(t)

		applied, err := st.PatchStepCompleted(context.Background(), "no-such-plan", "owner-a", 1, time.Now())
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("missing position reports false without error", func(t *testing.T) {
		st, _ := setupTestStore(t)
		ctx := context.Background()

		p := newTestPlan(t)
		require.NoError(t, st.Create(ctx, p))

		applied, err := st.PatchStepCompleted(ctx, p.ID, p.OwnerKey, 9, time.Now())
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("rejects position below one", func(t *testing.T) {
		st, _ := setupTestStore(t)

		_, err := st.PatchStepCompleted(context.Background(), "p", "owner-a", 0, time.Now())
		require.Error(t, err)
	})
}

func TestAppendHistory(t *testing.T) {
	t.Run("appends in order", func(t *testing.T) {
		st, _ := setupTestStore(t)
		ctx := context.Background()

		p := newTestPlan(t)
		require.NoError(t, st.Create(ctx, p))

		ok, err := st.AppendHistory(ctx, p.ID, p.OwnerKey, "first entry")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = st.AppendHistory(ctx, p.ID, p.OwnerKey, "second entry")
		require.NoError(t, err)
		assert.True(t, ok)

		history, err := st.GetHistory(ctx, p.ID, p.OwnerKey)
		require.NoError(t, err)
		assert.Equal(t, []string{"first entry", "second entry"}, history)

		loaded, err := st.Get(ctx, p.ID, p.OwnerKey)
		require.NoError(t, err)
		assert.Equal(t, history, loaded.History)
	})

	t.Run("missing plan reports false without error", func(t *testing.T) {
		st, _ := setupTestStore(t)

		ok, err := st.AppendHistory(context.Background(), "no-such-plan", "owner-a", "entry")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestGetHistory(t *testing.T) {
	t.Run("empty history on fresh plan", func(t *testing.T) {
		st, _ := setupTestStore(t)
		ctx := context.Background()

		p := newTestPlan(t)
		require.NoError(t, st.Create(ctx, p))

		history, err := st.GetHistory(ctx, p.ID, p.OwnerKey)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("missing plan is not found", func(t *testing.T) {
		st, _ := setupTestStore(t)

		_, err := st.GetHistory(context.Background(), "no-such-plan", "owner-a")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
