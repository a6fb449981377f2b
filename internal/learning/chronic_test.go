package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

var wall0 = time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

func newFloorDetector() *ChronicApproachDetector {
	return NewChronicApproachDetector(ProfileFor(thermostat.FloorHydronic), discardLogger())
}

func TestChronic_FloorNeedsFourCycles(t *testing.T) {
	d := newFloorDetector()
	for i := 0; i < 3; i++ {
		d.AddCycle(failingCycle(2 * time.Hour))
	}
	assert.False(t, d.ShouldAdjustKi(0, nil, wall0))

	d.AddCycle(failingCycle(2 * time.Hour))
	assert.True(t, d.ShouldAdjustKi(0, nil, wall0))
}

func TestChronic_ReachingSetpointResetsStreak(t *testing.T) {
	d := newFloorDetector()
	for i := 0; i < 3; i++ {
		d.AddCycle(failingCycle(2 * time.Hour))
	}
	d.AddCycle(reachedCycle())
	assert.Equal(t, 0, d.ConsecutiveFailures())

	for i := 0; i < 3; i++ {
		d.AddCycle(failingCycle(2 * time.Hour))
	}
	assert.False(t, d.ShouldAdjustKi(0, nil, wall0))
	d.AddCycle(failingCycle(2 * time.Hour))
	assert.True(t, d.ShouldAdjustKi(0, nil, wall0))
}

func TestChronic_ShortOrMildCyclesAreIgnored(t *testing.T) {
	d := newFloorDetector()
	d.AddCycle(failingCycle(2 * time.Hour))
	d.AddCycle(failingCycle(30 * time.Minute))
	assert.Equal(t, 1, d.ConsecutiveFailures())

	mild := failingCycle(2 * time.Hour)
	mild.Undershoot = ptr(0.1)
	d.AddCycle(mild)
	assert.Equal(t, 1, d.ConsecutiveFailures())

	overshot := failingCycle(2 * time.Hour)
	overshot.Overshoot = ptr(0.2)
	d.AddCycle(overshot)
	assert.Equal(t, 1, d.ConsecutiveFailures())

	d.AddCycle(failingCycle(0))
	assert.Equal(t, 2, d.ConsecutiveFailures())
}

func TestChronic_Cooldown(t *testing.T) {
	fail := func(d *ChronicApproachDetector) {
		for i := 0; i < 4; i++ {
			d.AddCycle(failingCycle(2 * time.Hour))
		}
	}

	t.Run("monotonic", func(t *testing.T) {
		d := newFloorDetector()
		fail(d)
		assert.InDelta(t, 1.2, d.ApplyAdjustment(time.Hour), 1e-9)
		assert.Equal(t, 0, d.ConsecutiveFailures())

		fail(d)
		assert.False(t, d.ShouldAdjustKi(24*time.Hour, nil, wall0))
		assert.True(t, d.ShouldAdjustKi(25*time.Hour, nil, wall0))
	})

	t.Run("wall clock across restarts", func(t *testing.T) {
		d := newFloorDetector()
		fail(d)
		last := wall0.Add(-23 * time.Hour)
		assert.False(t, d.ShouldAdjustKi(0, &last, wall0))
		last = wall0.Add(-24 * time.Hour)
		assert.True(t, d.ShouldAdjustKi(0, &last, wall0))
	})

	t.Run("either clock blocks", func(t *testing.T) {
		d := newFloorDetector()
		fail(d)
		d.ApplyAdjustment(0)
		fail(d)
		old := wall0.Add(-48 * time.Hour)
		assert.False(t, d.ShouldAdjustKi(time.Hour, &old, wall0))
	})
}

func TestChronic_AdjustmentClampsToCap(t *testing.T) {
	d := newFloorDetector()

	d.RestoreMultiplier(1.8)
	assert.InDelta(t, 2.0/1.8, d.Adjustment(), 1e-9)

	d.RestoreMultiplier(2.0)
	assert.Equal(t, 1.0, d.Adjustment())

	d.RestoreMultiplier(5)
	assert.Equal(t, MaxUndershootKiMultiplier, d.CumulativeMultiplier())
	d.RestoreMultiplier(0.5)
	assert.Equal(t, 1.0, d.CumulativeMultiplier())
}

func TestChronic_CapBlocksFurtherAdjustment(t *testing.T) {
	d := newFloorDetector()
	d.RestoreMultiplier(1.8)
	for i := 0; i < 4; i++ {
		d.AddCycle(failingCycle(2 * time.Hour))
	}
	assert.False(t, d.ShouldAdjustKi(0, nil, wall0))

	d.RestoreMultiplier(1.5)
	assert.True(t, d.ShouldAdjustKi(0, nil, wall0))
	d.ApplyAdjustment(0)
	assert.InDelta(t, 1.8, d.CumulativeMultiplier(), 1e-9)
}

func TestChronic_Reset(t *testing.T) {
	d := newFloorDetector()
	d.AddCycle(failingCycle(2 * time.Hour))
	d.ApplyAdjustment(0)
	d.Reset()

	assert.Equal(t, 0, d.ConsecutiveFailures())
	assert.Equal(t, 1.0, d.CumulativeMultiplier())
}

func TestChronic_BudgetIgnoresStreak(t *testing.T) {
	d := newFloorDetector()
	assert.True(t, d.BudgetAvailable(0, nil, wall0))

	d.ApplyAdjustment(0)
	assert.False(t, d.BudgetAvailable(time.Hour, nil, wall0.Add(time.Hour)))
	assert.True(t, d.BudgetAvailable(25*time.Hour, nil, wall0.Add(25*time.Hour)))

	d.RestoreMultiplier(1.9)
	assert.False(t, d.BudgetAvailable(50*time.Hour, nil, wall0.Add(50*time.Hour)))
}
