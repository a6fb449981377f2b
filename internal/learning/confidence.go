package learning

import (
	"math"
	"time"

	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

const (
	// MaxCycleHistory bounds the per-mode cycle history kept and persisted.
	MaxCycleHistory = 50

	confidenceGain    = 0.1
	confidencePenalty = 0.05
)

type modeConfidence struct {
	cycles           []CycleMetrics
	autoApplyCount   int
	confidence       float64
	cyclesSinceApply int
	lastApply        *time.Time
}

// ConfidenceTracker keeps, per mode, the cycle history, the number of
// automatic applies and a convergence confidence in [0, 1].
type ConfidenceTracker struct {
	modes map[thermostat.Mode]*modeConfidence
}

func NewConfidenceTracker() *ConfidenceTracker {
	return &ConfidenceTracker{modes: map[thermostat.Mode]*modeConfidence{}}
}

func historyMode(m thermostat.Mode) thermostat.Mode {
	if m == thermostat.ModeCool {
		return m
	}
	return thermostat.ModeHeat
}

func (t *ConfidenceTracker) mode(m thermostat.Mode) *modeConfidence {
	m = historyMode(m)
	mc, ok := t.modes[m]
	if !ok {
		mc = &modeConfidence{}
		t.modes[m] = mc
	}
	return mc
}

// AddCycle records a cycle and moves the confidence up on converged cycles,
// down on clearly bad ones.
func (t *ConfidenceTracker) AddCycle(mode thermostat.Mode, m CycleMetrics) {
	mc := t.mode(mode)
	mc.cycles = append(mc.cycles, m)
	if over := len(mc.cycles) - MaxCycleHistory; over > 0 {
		mc.cycles = append([]CycleMetrics(nil), mc.cycles[over:]...)
	}
	mc.cyclesSinceApply++

	switch {
	case IsConverged(m):
		mc.confidence += confidenceGain
	case !m.ReachedSetpoint(), m.overshoot() > 0.5, m.Oscillations > 3:
		mc.confidence -= confidencePenalty
	}
	mc.confidence = math.Min(math.Max(mc.confidence, 0), 1)
}

// RecordAutoApply counts an automatic apply made at the given wall time. New
// gains start with half the confidence of the old ones.
func (t *ConfidenceTracker) RecordAutoApply(mode thermostat.Mode, at time.Time) {
	mc := t.mode(mode)
	mc.autoApplyCount++
	mc.cyclesSinceApply = 0
	mc.confidence /= 2
	mc.lastApply = &at
}

// LastAutoApply is the wall time of the last automatic apply, nil if none.
func (t *ConfidenceTracker) LastAutoApply(mode thermostat.Mode) *time.Time {
	if at := t.mode(mode).lastApply; at != nil {
		v := *at
		return &v
	}
	return nil
}

func (t *ConfidenceTracker) AutoApplyCount(mode thermostat.Mode) int {
	return t.mode(mode).autoApplyCount
}

func (t *ConfidenceTracker) ConvergenceConfidence(mode thermostat.Mode) float64 {
	return t.mode(mode).confidence
}

func (t *ConfidenceTracker) CycleCount(mode thermostat.Mode) int {
	return len(t.mode(mode).cycles)
}

func (t *ConfidenceTracker) CyclesSinceApply(mode thermostat.Mode) int {
	return t.mode(mode).cyclesSinceApply
}

// Cycles returns a copy of the cycle history, oldest first.
func (t *ConfidenceTracker) Cycles(mode thermostat.Mode) []CycleMetrics {
	return append([]CycleMetrics(nil), t.mode(mode).cycles...)
}

// Restore loads persisted per-mode data. Only the cycles that ended after
// lastApply count as cycles since the last apply.
func (t *ConfidenceTracker) Restore(mode thermostat.Mode, cycles []CycleMetrics, autoApplyCount int, confidence float64, lastApply *time.Time) {
	if len(cycles) > MaxCycleHistory {
		cycles = cycles[len(cycles)-MaxCycleHistory:]
	}
	mc := t.mode(mode)
	mc.cycles = append([]CycleMetrics(nil), cycles...)
	mc.autoApplyCount = autoApplyCount
	mc.confidence = math.Min(math.Max(confidence, 0), 1)
	mc.cyclesSinceApply = len(mc.cycles)
	mc.lastApply = nil
	if lastApply != nil {
		at := *lastApply
		mc.lastApply = &at
		mc.cyclesSinceApply = 0
		for _, m := range mc.cycles {
			if m.EndedAt.After(at) {
				mc.cyclesSinceApply++
			}
		}
	}
}

// Reset forgets everything learned for mode.
func (t *ConfidenceTracker) Reset(mode thermostat.Mode) {
	delete(t.modes, historyMode(mode))
}
