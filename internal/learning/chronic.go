package learning

import (
	"log/slog"
	"math"
	"time"
)

// ChronicApproachDetector spots heating that keeps stalling below setpoint
// cycle after cycle and asks for a bounded Ki increase.
type ChronicApproachDetector struct {
	profile Profile
	lg      *slog.Logger

	consecutiveFailures  int
	cumulativeMultiplier float64
	lastAdjustment       *time.Duration
}

func NewChronicApproachDetector(p Profile, lg *slog.Logger) *ChronicApproachDetector {
	if lg == nil {
		lg = slog.Default()
	}
	return &ChronicApproachDetector{
		profile:              p,
		lg:                   lg.With("component", "chronic_approach"),
		cumulativeMultiplier: 1.0,
	}
}

func (d *ChronicApproachDetector) isFailure(m CycleMetrics) bool {
	if m.ReachedSetpoint() || m.Undershoot == nil || *m.Undershoot < d.profile.ChronicUndershoot {
		return false
	}
	if m.Overshoot != nil && *m.Overshoot > 0 {
		return false
	}
	return m.Duration == 0 || m.Duration >= d.profile.ChronicMinDuration
}

// AddCycle counts a failed approach. A cycle that reached setpoint clears the
// streak; any other cycle leaves it unchanged.
func (d *ChronicApproachDetector) AddCycle(m CycleMetrics) {
	switch {
	case d.isFailure(m):
		d.consecutiveFailures++
		d.lg.Debug("chronic approach failure", "consecutive", d.consecutiveFailures)
	case m.ReachedSetpoint():
		d.consecutiveFailures = 0
	}
}

func (d *ChronicApproachDetector) inCooldown(now time.Duration, lastWall *time.Time, wallNow time.Time) bool {
	if d.lastAdjustment != nil && now-*d.lastAdjustment < d.profile.ChronicCooldown {
		return true
	}
	return lastWall != nil && wallNow.Sub(*lastWall) < d.profile.ChronicCooldown
}

// ShouldAdjustKi checks the streak, both cooldown clocks and the cap.
// lastAdjustmentWall is the persisted time of the last adjustment, if any.
func (d *ChronicApproachDetector) ShouldAdjustKi(now time.Duration, lastAdjustmentWall *time.Time, wallNow time.Time) bool {
	if d.consecutiveFailures < d.profile.ChronicMinCycles {
		return false
	}
	return d.BudgetAvailable(now, lastAdjustmentWall, wallNow)
}

// BudgetAvailable reports whether a Ki boost may be booked now, whatever
// triggered it: no cooldown is running and the cap leaves room for one more
// step.
func (d *ChronicApproachDetector) BudgetAvailable(now time.Duration, lastAdjustmentWall *time.Time, wallNow time.Time) bool {
	if d.inCooldown(now, lastAdjustmentWall, wallNow) {
		return false
	}
	return d.cumulativeMultiplier*d.profile.ChronicMultiplier <= MaxUndershootKiMultiplier
}

// Adjustment is the next Ki factor, clamped so the cumulative cap holds.
func (d *ChronicApproachDetector) Adjustment() float64 {
	return math.Min(d.profile.ChronicMultiplier, MaxUndershootKiMultiplier/d.cumulativeMultiplier)
}

// ApplyAdjustment books the adjustment and returns the factor to apply to Ki.
func (d *ChronicApproachDetector) ApplyAdjustment(now time.Duration) float64 {
	adj := d.Adjustment()
	d.cumulativeMultiplier *= adj
	d.lastAdjustment = &now
	d.consecutiveFailures = 0
	d.lg.Info("ki adjustment applied", "factor", adj, "cumulative", d.cumulativeMultiplier)
	return adj
}

func (d *ChronicApproachDetector) ConsecutiveFailures() int { return d.consecutiveFailures }

func (d *ChronicApproachDetector) CumulativeMultiplier() float64 { return d.cumulativeMultiplier }

// RestoreMultiplier loads a persisted cumulative multiplier, clamped to [1, cap].
func (d *ChronicApproachDetector) RestoreMultiplier(v float64) {
	d.cumulativeMultiplier = math.Min(math.Max(v, 1.0), MaxUndershootKiMultiplier)
}

func (d *ChronicApproachDetector) Reset() {
	d.consecutiveFailures = 0
	d.cumulativeMultiplier = 1.0
	d.lastAdjustment = nil
}
