package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

type fakeValidator struct {
	inValidation bool
	limit        string
	shift        bool
	recorded     int
}

func (f *fakeValidator) IsInValidation() bool { return f.inValidation }
func (f *fakeValidator) CheckAutoApplyLimits(int, float64) string { return f.limit }
func (f *fakeValidator) CheckSeasonalShift(*float64) bool { return f.shift }
func (f *fakeValidator) RecordSeasonalShift(*float64) { f.recorded++ }

type fakeConfidence struct {
	count      int
	confidence float64
	cycles     int
}

func (f fakeConfidence) AutoApplyCount(thermostat.Mode) int { return f.count }
func (f fakeConfidence) ConvergenceConfidence(thermostat.Mode) float64 { return f.confidence }
func (f fakeConfidence) CycleCount(thermostat.Mode) int { return f.cycles }

type fakeTiers struct{ tier1, tier2 bool }

func (f fakeTiers) CanReachTier(tier int, _ thermostat.Mode) bool {
	if tier == 1 {
		return f.tier1
	}
	return f.tier2
}

var allTiers = fakeTiers{tier1: true, tier2: true}

func newAutoApply(v Validator, c ConfidenceSource, g TierGate) *AutoApplyManager {
	return NewAutoApplyManager(thermostat.Convector, v, c, g, discardLogger())
}

func TestCheckSafetyGates_StatusTiers(t *testing.T) {
	tests := []struct {
		name    string
		conf    fakeConfidence
		allowed bool
		reason  string
	}{
		{"first apply at stable", fakeConfidence{count: 0, confidence: 0.5, cycles: 10}, false, "learning_status_stable"},
		{"first apply at tuned", fakeConfidence{count: 0, confidence: 0.8, cycles: 10}, true, ""},
		{"first apply at optimized", fakeConfidence{count: 0, confidence: 0.96, cycles: 10}, true, ""},
		{"second apply at tuned", fakeConfidence{count: 1, confidence: 0.8, cycles: 10}, false, "learning_status_tuned"},
		{"second apply at optimized", fakeConfidence{count: 1, confidence: 0.96, cycles: 10}, true, ""},
		{"too few cycles", fakeConfidence{count: 0, confidence: 0.99, cycles: 5}, false, "learning_status_collecting"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAutoApply(&fakeValidator{}, tt.conf, allTiers)
			d := a.CheckSafetyGates(GateInput{Mode: thermostat.ModeHeat})
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestCheckSafetyGates_CooldownsOnSuccess(t *testing.T) {
	first := newAutoApply(&fakeValidator{}, fakeConfidence{confidence: 0.8, cycles: 10}, allTiers).
		CheckSafetyGates(GateInput{Mode: thermostat.ModeHeat})
	assert.True(t, first.Allowed)
	assert.Equal(t, 48.0, first.MinIntervalHours)
	assert.Equal(t, 10, first.MinAdjustmentCycles)
	assert.Equal(t, 6, first.MinCycles)

	later := newAutoApply(&fakeValidator{}, fakeConfidence{count: 2, confidence: 0.97, cycles: 20}, allTiers).
		CheckSafetyGates(GateInput{Mode: thermostat.ModeHeat})
	assert.True(t, later.Allowed)
	assert.Equal(t, 12, later.MinCycles)
}

func TestCheckSafetyGates_Order(t *testing.T) {
	conf := fakeConfidence{confidence: 0.99, cycles: 10}

	v := &fakeValidator{inValidation: true, limit: "lifetime_limit", shift: true}
	d := newAutoApply(v, conf, allTiers).CheckSafetyGates(GateInput{})
	assert.False(t, d.Allowed)
	assert.Equal(t, "validation_in_progress", d.Reason)
	assert.Zero(t, v.recorded)

	v = &fakeValidator{limit: "drift_limit", shift: true}
	d = newAutoApply(v, conf, allTiers).CheckSafetyGates(GateInput{})
	assert.Equal(t, "drift_limit", d.Reason)
	assert.Zero(t, v.recorded)

	v = &fakeValidator{shift: true}
	d = newAutoApply(v, conf, allTiers).CheckSafetyGates(GateInput{OutdoorTemperature: ptr(12.0)})
	assert.Equal(t, "seasonal_shift", d.Reason)
	assert.Equal(t, 1, v.recorded)
}

func TestComputeLearningStatus(t *testing.T) {
	p := ProfileFor(thermostat.Convector)
	tests := []struct {
		name       string
		cycles     int
		confidence float64
		gate       TierGate
		want       LearningStatus
	}{
		{"collecting under min cycles", 5, 1.0, allTiers, StatusCollecting},
		{"below tier 1", 10, 0.3, allTiers, StatusCollecting},
		{"stable", 10, 0.4, allTiers, StatusStable},
		{"tuned", 10, 0.7, allTiers, StatusTuned},
		{"optimized", 10, 0.95, allTiers, StatusOptimized},
		{"optimized demoted without tier 2", 10, 0.95, fakeTiers{tier1: true}, StatusStable},
		{"tuned demoted to collecting without any tier", 10, 0.8, fakeTiers{}, StatusCollecting},
		{"stable demoted without tier 1", 10, 0.5, fakeTiers{tier2: true}, StatusCollecting},
		{"no gate", 10, 0.8, nil, StatusTuned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeLearningStatus(tt.cycles, tt.confidence, p, thermostat.ModeHeat, tt.gate))
		})
	}
}

func TestTierThresholds_ScaledByHeatingType(t *testing.T) {
	t1, t2, t3 := TierThresholds(ProfileFor(thermostat.FloorHydronic))
	assert.InDelta(t, 0.32, t1, 1e-9)
	assert.InDelta(t, 0.56, t2, 1e-9)
	assert.Equal(t, 0.95, t3)

	t1, t2, t3 = TierThresholds(ProfileFor(thermostat.ForcedAir))
	assert.InDelta(t, 0.44, t1, 1e-9)
	assert.InDelta(t, 0.77, t2, 1e-9)
	assert.Equal(t, 0.95, t3)

	// floor hydronic reaches tuned earlier than convector
	assert.Equal(t, StatusTuned, ComputeLearningStatus(10, 0.6, ProfileFor(thermostat.FloorHydronic), thermostat.ModeHeat, allTiers))
	assert.Equal(t, StatusStable, ComputeLearningStatus(10, 0.6, ProfileFor(thermostat.Convector), thermostat.ModeHeat, allTiers))
}

func TestGateDecision_Ready(t *testing.T) {
	d := GateDecision{Allowed: true, MinIntervalHours: 48, MinAdjustmentCycles: 10, MinCycles: 6}

	assert.True(t, d.Ready(6, 0, nil))
	assert.False(t, d.Ready(5, 0, nil))
	assert.False(t, d.Ready(20, 9, ptr(72*time.Hour)))
	assert.False(t, d.Ready(20, 10, ptr(47*time.Hour)))
	assert.True(t, d.Ready(20, 10, ptr(48*time.Hour)))
	assert.False(t, GateDecision{}.Ready(20, 20, nil))
}
