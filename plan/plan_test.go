package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("assigns id and contiguous positions", func(t *testing.T) {
		p, err := New("onboarding", "owner-a", "user-u", []StepSpec{
			{Description: "send welcome", Delay: 0},
			{Description: "check in", Delay: 24 * time.Hour},
		})
		require.NoError(t, err)
		require.NotNil(t, p)

		assert.NotEmpty(t, p.ID)
		assert.Equal(t, "onboarding", p.Name)
		assert.Equal(t, "owner-a", p.OwnerKey)
		assert.Equal(t, "user-u", p.SubjectKey)
		require.Len(t, p.Steps, 2)

		assert.Equal(t, 1, p.Steps[0].Position)
		assert.Equal(t, 2, p.Steps[1].Position)
		assert.Equal(t, int64(0), p.Steps[0].DelayMillis)
		assert.Equal(t, (24 * time.Hour).Milliseconds(), p.Steps[1].DelayMillis)
		assert.False(t, p.Steps[0].Completed)
		assert.False(t, p.Steps[1].Completed)
		assert.Empty(t, p.History)
		assert.Greater(t, p.CreatedAt, int64(0))
	})

	t.Run("rejects empty step list", func(t *testing.T) {
		_, err := New("empty", "owner-a", "user-u", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoSteps)
	})

	t.Run("rejects empty description", func(t *testing.T) {
		_, err := New("bad", "owner-a", "user-u", []StepSpec{
			{Description: "", Delay: time.Hour},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidPlan)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Plan {
		p, err := New("plan", "owner-a", "user-u", []StepSpec{
			{Description: "one", Delay: time.Minute},
			{Description: "two", Delay: time.Hour},
		})
		require.NoError(t, err)
		return p
	}

	t.Run("valid plan passes", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing owner key", func(t *testing.T) {
		p := valid()
		p.OwnerKey = ""
		assert.ErrorIs(t, p.Validate(), ErrInvalidPlan)
	})

	t.Run("missing subject key", func(t *testing.T) {
		p := valid()
		p.SubjectKey = ""
		assert.ErrorIs(t, p.Validate(), ErrInvalidPlan)
	})

	t.Run("gap in positions", func(t *testing.T) {
		p := valid()
		p.Steps[1].Position = 3
		assert.ErrorIs(t, p.Validate(), ErrInvalidPlan)
	})

	t.Run("duplicate positions", func(t *testing.T) {
		p := valid()
		p.Steps[1].Position = 1
		assert.ErrorIs(t, p.Validate(), ErrInvalidPlan)
	})

	t.Run("negative delay", func(t *testing.T) {
		p := valid()
		p.Steps[0].DelayMillis = -1
		assert.ErrorIs(t, p.Validate(), ErrInvalidPlan)
	})
}

func TestFirstPending(t *testing.T) {
	p, err := New("plan", "owner-a", "user-u", []StepSpec{
		{Description: "one", Delay: 0},
		{Description: "two", Delay: time.Hour},
		{Description: "three", Delay: time.Hour},
	})
	require.NoError(t, err)

	t.Run("fresh plan starts at step one", func(t *testing.T) {
		step, ok := p.FirstPending()
		require.True(t, ok)
		assert.Equal(t, 1, step.Position)
		assert.True(t, p.HasIncompleteSteps())
		assert.False(t, p.Done())
	})

	t.Run("skips completed prefix", func(t *testing.T) {
		p.Steps[0].Completed = true
		step, ok := p.FirstPending()
		require.True(t, ok)
		assert.Equal(t, 2, step.Position)
	})

	t.Run("picks lowest pending even after later completions", func(t *testing.T) {
		// A duplicate trigger racing ahead must not skip step two.
		p.Steps[2].Completed = true
		step, ok := p.FirstPending()
		require.True(t, ok)
		assert.Equal(t, 2, step.Position)
	})

	t.Run("done plan has no pending step", func(t *testing.T) {
		p.Steps[1].Completed = true
		_, ok := p.FirstPending()
		assert.False(t, ok)
		assert.True(t, p.Done())
		assert.False(t, p.HasIncompleteSteps())
	})
}

func TestStepLookup(t *testing.T) {
	p, err := New("plan", "owner-a", "user-u", []StepSpec{
		{Description: "one", Delay: 0},
		{Description: "two", Delay: time.Minute},
	})
	require.NoError(t, err)

	step, ok := p.Step(2)
	require.True(t, ok)
	assert.Equal(t, "two", step.Description)
	assert.Equal(t, time.Minute, step.Delay())

	_, ok = p.Step(3)
	assert.False(t, ok)

	_, ok = p.Step(0)
	assert.False(t, ok)
}

func TestTriggerIsValid(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
		wantErr bool
	}{
		{
			name:    "valid",
			trigger: Trigger{PlanID: "p1", OwnerKey: "owner-a", SubjectKey: "user-u"},
			wantErr: false,
		},
		{
			name:    "missing plan id",
			trigger: Trigger{OwnerKey: "owner-a", SubjectKey: "user-u"},
			wantErr: true,
		},
		{
			name:    "missing owner key",
			trigger: Trigger{PlanID: "p1", SubjectKey: "user-u"},
			wantErr: true,
		},
		{
			name:    "missing subject key",
			trigger: Trigger{PlanID: "p1", OwnerKey: "owner-a"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trigger.IsValid()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
