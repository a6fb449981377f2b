package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/adaptherm/internal/clock"
	"github.com/Agrid-Dev/adaptherm/internal/gains"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

func TestConfidenceTracker(t *testing.T) {
	c := NewConfidenceTracker()
	for i := 0; i < 3; i++ {
		c.AddCycle(thermostat.ModeHeat, convergedCycle())
	}
	assert.InDelta(t, 0.3, c.ConvergenceConfidence(thermostat.ModeHeat), 1e-9)
	assert.Equal(t, 3, c.CycleCount(thermostat.ModeHeat))
	assert.Equal(t, 0, c.CycleCount(thermostat.ModeCool))

	c.AddCycle(thermostat.ModeHeat, failingCycle(time.Hour))
	assert.InDelta(t, 0.25, c.ConvergenceConfidence(thermostat.ModeHeat), 1e-9)

	assert.Nil(t, c.LastAutoApply(thermostat.ModeHeat))
	c.RecordAutoApply(thermostat.ModeHeat, wall0)
	assert.Equal(t, 1, c.AutoApplyCount(thermostat.ModeHeat))
	require.NotNil(t, c.LastAutoApply(thermostat.ModeHeat))
	assert.Equal(t, wall0, *c.LastAutoApply(thermostat.ModeHeat))
	assert.Equal(t, 0, c.CyclesSinceApply(thermostat.ModeHeat))
	assert.InDelta(t, 0.125, c.ConvergenceConfidence(thermostat.ModeHeat), 1e-9)

	for i := 0; i < 60; i++ {
		c.AddCycle(thermostat.ModeHeat, convergedCycle())
	}
	assert.Equal(t, MaxCycleHistory, c.CycleCount(thermostat.ModeHeat))
	assert.Equal(t, 1.0, c.ConvergenceConfidence(thermostat.ModeHeat))
	assert.Equal(t, 60, c.CyclesSinceApply(thermostat.ModeHeat))

	c.Restore(thermostat.ModeCool, []CycleMetrics{convergedCycle()}, 2, 1.7, nil)
	assert.Equal(t, 1.0, c.ConvergenceConfidence(thermostat.ModeCool))
	assert.Equal(t, 2, c.AutoApplyCount(thermostat.ModeCool))

	assert.Equal(t, 1, c.CyclesSinceApply(thermostat.ModeCool))

	c.Reset(thermostat.ModeHeat)
	assert.Equal(t, 0, c.CycleCount(thermostat.ModeHeat))
}

func TestConfidenceTracker_RestoreCountsCyclesAfterLastApply(t *testing.T) {
	var cycles []CycleMetrics
	for i := 0; i < 10; i++ {
		m := convergedCycle()
		m.EndedAt = wall0.Add(time.Duration(i) * time.Hour)
		cycles = append(cycles, m)
	}
	last := wall0.Add(6*time.Hour + 30*time.Minute)

	c := NewConfidenceTracker()
	c.Restore(thermostat.ModeHeat, cycles, 1, 0.5, &last)
	assert.Equal(t, 3, c.CyclesSinceApply(thermostat.ModeHeat))
	require.NotNil(t, c.LastAutoApply(thermostat.ModeHeat))
	assert.Equal(t, last, *c.LastAutoApply(thermostat.ModeHeat))

	c.Restore(thermostat.ModeHeat, cycles, 1, 0.5, nil)
	assert.Equal(t, 10, c.CyclesSinceApply(thermostat.ModeHeat))
	assert.Nil(t, c.LastAutoApply(thermostat.ModeHeat))
}

func TestContributionTracker(t *testing.T) {
	c := NewContributionTracker()
	assert.False(t, c.CanReachTier(1, thermostat.ModeHeat))

	c.AddCycle(thermostat.ModeHeat, reachedCycle())
	c.AddCycle(thermostat.ModeHeat, convergedCycle())
	c.AddCycle(thermostat.ModeHeat, failingCycle(time.Hour))
	assert.Equal(t, 2, c.RecoveryCycles(thermostat.ModeHeat))
	assert.True(t, c.CanReachTier(1, thermostat.ModeHeat))
	assert.False(t, c.CanReachTier(2, thermostat.ModeHeat))

	c.Rebuild(thermostat.ModeHeat, []CycleMetrics{reachedCycle(), reachedCycle(), reachedCycle(), reachedCycle()})
	assert.True(t, c.CanReachTier(2, thermostat.ModeHeat))
	assert.False(t, c.CanReachTier(1, thermostat.ModeCool))
}

func TestContributionTracker_SameWindowAfterRestore(t *testing.T) {
	c := NewContributionTracker()
	history := NewConfidenceTracker()
	add := func(m CycleMetrics) {
		c.AddCycle(thermostat.ModeHeat, m)
		history.AddCycle(thermostat.ModeHeat, m)
	}

	for range Tier2RecoveryCycles {
		add(reachedCycle())
	}
	for range MaxCycleHistory - 1 {
		add(failingCycle(time.Hour))
	}
	assert.Equal(t, 1, c.RecoveryCycles(thermostat.ModeHeat), "older recoveries left the window")
	assert.False(t, c.CanReachTier(1, thermostat.ModeHeat))

	restored := NewContributionTracker()
	restored.Rebuild(thermostat.ModeHeat, history.Cycles(thermostat.ModeHeat))
	assert.Equal(t, c.RecoveryCycles(thermostat.ModeHeat), restored.RecoveryCycles(thermostat.ModeHeat))
}

func TestConvergenceTracker(t *testing.T) {
	c := NewConvergenceTracker(0)

	assert.False(t, c.AddCycle(convergedCycle()))
	assert.False(t, c.AddCycle(convergedCycle()))
	assert.True(t, c.AddCycle(convergedCycle()))
	assert.True(t, c.PIDConverged())
	assert.False(t, c.AddCycle(convergedCycle()))

	c.AddCycle(failingCycle(time.Hour))
	assert.Equal(t, 0, c.ConsecutiveConverged())
	assert.True(t, c.PIDConverged())
}

func TestValidationManager(t *testing.T) {
	clk := clock.NewManual(wall0)
	v := NewValidationManager(DefaultValidationConfig(), clk, discardLogger())
	require.NoError(t, DefaultValidationConfig().Validate())

	t.Run("passes", func(t *testing.T) {
		v.StartValidation(thermostat.ModeHeat, 0.2, ptr(5.0))
		assert.True(t, v.IsInValidation())
		assert.Equal(t, ValidationPending, v.AddCycle(thermostat.ModeHeat, convergedCycle()))
		assert.Equal(t, ValidationPending, v.AddCycle(thermostat.ModeCool, convergedCycle()))
		assert.Equal(t, ValidationPending, v.AddCycle(thermostat.ModeHeat, convergedCycle()))
		assert.Equal(t, ValidationPassed, v.AddCycle(thermostat.ModeHeat, convergedCycle()))
		assert.False(t, v.IsInValidation())
	})

	t.Run("degrades", func(t *testing.T) {
		v.StartValidation(thermostat.ModeHeat, 0.1, nil)
		bad := convergedCycle()
		bad.Overshoot = ptr(1.0)
		v.AddCycle(thermostat.ModeHeat, bad)
		v.AddCycle(thermostat.ModeHeat, bad)
		assert.Equal(t, ValidationDegraded, v.AddCycle(thermostat.ModeHeat, bad))
	})

	t.Run("limits", func(t *testing.T) {
		assert.Equal(t, "lifetime_limit", v.CheckAutoApplyLimits(20, 0))
		assert.Equal(t, "drift_limit", v.CheckAutoApplyLimits(0, 1.5))
		assert.Equal(t, "", v.CheckAutoApplyLimits(2, 0.5))

		for i := 0; i < 3; i++ {
			v.StartValidation(thermostat.ModeHeat, 0, nil)
			v.CancelValidation()
		}
		assert.Equal(t, "seasonal_limit", v.CheckAutoApplyLimits(5, 0))

		clk.Advance(91 * 24 * time.Hour)
		assert.Equal(t, "", v.CheckAutoApplyLimits(5, 0))
	})

	t.Run("seasonal shift", func(t *testing.T) {
		assert.False(t, v.CheckSeasonalShift(nil))
		assert.False(t, v.CheckSeasonalShift(ptr(12.0)))
		assert.True(t, v.CheckSeasonalShift(ptr(13.0)))

		v.RecordSeasonalShift(ptr(13.0))
		assert.Equal(t, "seasonal_shift_cooldown", v.CheckAutoApplyLimits(0, 0))
		assert.False(t, v.CheckSeasonalShift(ptr(13.0)))

		clk.Advance(8 * 24 * time.Hour)
		assert.Equal(t, "", v.CheckAutoApplyLimits(0, 0))
	})
}

func TestValidationManager_StateSurvivesRestore(t *testing.T) {
	clk := clock.NewManual(wall0)
	v := NewValidationManager(DefaultValidationConfig(), clk, discardLogger())
	for i := 0; i < 4; i++ {
		v.StartValidation(thermostat.ModeHeat, 0, nil)
		v.CancelValidation()
		clk.Advance(time.Hour)
	}
	v.StartValidation(thermostat.ModeCool, 0.2, ptr(5.0))
	v.AddCycle(thermostat.ModeCool, convergedCycle())
	v.RecordSeasonalShift(ptr(14.0))

	s := v.State()
	assert.True(t, s.InValidation)
	assert.Equal(t, thermostat.ModeCool, s.Mode)
	assert.Len(t, s.Applies, 5)
	assert.Len(t, s.Scores, 1)

	restored := NewValidationManager(DefaultValidationConfig(), clk, discardLogger())
	restored.Restore(s)
	assert.True(t, restored.IsInValidation())
	assert.Equal(t, "seasonal_limit", restored.CheckAutoApplyLimits(0, 0))
	assert.False(t, restored.CheckSeasonalShift(ptr(14.0)))

	// the window resumes where it stopped
	assert.Equal(t, ValidationPending, restored.AddCycle(thermostat.ModeHeat, convergedCycle()))
	assert.Equal(t, ValidationPending, restored.AddCycle(thermostat.ModeCool, convergedCycle()))
	assert.Equal(t, ValidationPassed, restored.AddCycle(thermostat.ModeCool, convergedCycle()))
}

func TestValidationManager_RestoreDropsAppliesOutsideSeason(t *testing.T) {
	clk := clock.NewManual(wall0)
	v := NewValidationManager(DefaultValidationConfig(), clk, discardLogger())
	old := wall0.Add(-100 * 24 * time.Hour)
	v.Restore(ValidationState{Applies: []time.Time{old, old, old, old, wall0}})
	assert.Len(t, v.State().Applies, 1)
	assert.False(t, v.State().InValidation)
	assert.Equal(t, "", v.CheckAutoApplyLimits(1, 0))
}

func TestUndershootDetector(t *testing.T) {
	u := NewUndershootDetector(ProfileFor(thermostat.Convector))

	u.Update(30*time.Minute, 20, 21, 0.3)
	assert.InDelta(t, 0.5, u.ThermalDebt(), 1e-9)
	assert.False(t, u.ShouldAdjust())

	u.Update(30*time.Minute, 20, 21, 0.3)
	assert.Equal(t, time.Hour, u.TimeBelowTarget())
	assert.True(t, u.ShouldAdjust())

	// inside the band: debt kept, not grown
	u.Update(30*time.Minute, 20.9, 21, 0.3)
	assert.InDelta(t, 1.0, u.ThermalDebt(), 1e-9)

	u.Update(time.Minute, 21, 21, 0.3)
	assert.Zero(t, u.ThermalDebt())
	assert.Zero(t, u.TimeBelowTarget())

	u.Restore(2*time.Hour, 3)
	assert.True(t, u.ShouldAdjust())
}

func TestRecommender(t *testing.T) {
	r := NewRecommender(ProfileFor(thermostat.Convector))
	current := gains.Gains{Kp: 10, Ki: 1, Kd: 100, Ke: 0.3}

	_, ok := r.Recommend(current, []CycleMetrics{convergedCycle(), convergedCycle()})
	assert.False(t, ok)

	_, ok = r.Recommend(current, []CycleMetrics{convergedCycle(), convergedCycle(), convergedCycle()})
	assert.False(t, ok)

	over := convergedCycle()
	over.Overshoot = ptr(0.5)
	rec, ok := r.Recommend(current, []CycleMetrics{over, over, over})
	require.True(t, ok)
	assert.InDelta(t, 9.0, rec.Gains.Kp, 1e-9)
	assert.InDelta(t, 1.0, rec.Gains.Ki, 1e-9)
	assert.InDelta(t, 110.0, rec.Gains.Kd, 1e-9)
	assert.Equal(t, 0.3, rec.Gains.Ke)
	assert.InDelta(t, 0.5, rec.Metrics["overshoot"], 1e-9)

	wild := convergedCycle()
	wild.Overshoot = ptr(0.5)
	wild.Oscillations = 4
	rec, ok = r.Recommend(current, []CycleMetrics{wild, wild, wild})
	require.True(t, ok)
	assert.InDelta(t, 8.0, rec.Gains.Kp, 1e-9)
}

func TestDrift(t *testing.T) {
	ref := gains.Gains{Kp: 10, Ki: 1, Kd: 100}
	assert.Zero(t, Drift(ref, ref))
	assert.InDelta(t, 0.5, Drift(gains.Gains{Kp: 10, Ki: 1.5, Kd: 90}, ref), 1e-9)
	assert.Zero(t, Drift(gains.Gains{Kp: 5}, gains.Gains{}))
}
