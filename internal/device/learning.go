package device

import (
	"context"
	"time"

	"github.com/Agrid-Dev/adaptherm/internal/gains"
	"github.com/Agrid-Dev/adaptherm/internal/ke"
	"github.com/Agrid-Dev/adaptherm/internal/learning"
	"github.com/Agrid-Dev/adaptherm/internal/metrics"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

// track feeds the live signal to the learning pipeline. mode is heat or cool
// and the snapshot carries a current temperature.
func (d *Device) track(ctx context.Context, snap thermostat.Snapshot, mode thermostat.Mode, now, dt time.Duration) {
	current, target := *snap.CurrentTemperature, snap.TemperatureSetpoint

	if mode == thermostat.ModeHeat {
		d.undershoot.Update(dt, current, target, snap.ColdTolerance)
		if d.undershoot.ShouldAdjust() && d.chronic.BudgetAvailable(now, d.lastAdjustmentWall, d.clk.Now()) {
			d.boostKi(ctx, gains.ReasonUndershoot, now)
		}
	}

	if d.ke.MaybeRecordObservation(now, d.output) {
		d.keSinceApply++
	}

	// Cooling cycles are tracked on the mirrored signal so that "below
	// target" always means "demand not yet met".
	sign, tolerance := 1.0, snap.ColdTolerance
	if mode == thermostat.ModeCool {
		sign, tolerance = -1.0, snap.HotTolerance
	}
	m := d.cycles.Update(learning.Sample{
		Now:       now,
		Wall:      d.clk.Now(),
		Current:   sign * current,
		Target:    sign * target,
		Tolerance: tolerance,
		Demand:    d.output > d.cfg.OutputMin,
	})
	if m == nil {
		return
	}
	m.StartTemperature *= sign
	m.TargetTemperature *= sign
	d.onCycleComplete(ctx, mode, *m, now)
}

func (d *Device) onCycleComplete(ctx context.Context, mode thermostat.Mode, m learning.CycleMetrics, now time.Duration) {
	metrics.CyclesCompleted.WithLabelValues(d.ID, mode.String()).Inc()
	d.lg.Info("cycle completed",
		"mode", mode.String(),
		"reached_setpoint", m.ReachedSetpoint(),
		"oscillations", m.Oscillations,
		"duration", m.Duration,
	)

	d.confidence.AddCycle(mode, m)
	d.contribution.AddCycle(mode, m)
	metrics.ConvergenceConfidence.WithLabelValues(d.ID, mode.String()).Set(d.confidence.ConvergenceConfidence(mode))
	if d.convergence.AddCycle(m) {
		d.lg.Info("pid converged", "consecutive", d.convergence.ConsecutiveConverged())
	}

	if d.validation.AddCycle(mode, m) == learning.ValidationDegraded {
		d.rollback(mode)
	}

	if mode == thermostat.ModeHeat {
		d.chronic.AddCycle(m)
		if d.chronic.ShouldAdjustKi(now, d.lastAdjustmentWall, d.clk.Now()) {
			d.boostKi(ctx, gains.ReasonChronicApproach, now)
		}
	}

	if d.keSinceApply >= ke.MinObservations {
		d.ke.ApplyAdaptiveKe(ctx)
		d.keSinceApply = 0
	}

	if d.cfg.AutoApply {
		d.maybeAutoApply(mode)
	}

	if err := d.persist(ctx); err != nil {
		d.lg.Warn("persisting state failed", "err", err)
	}
}

// boostKi multiplies the heating Ki by the next step of the shared Ki budget.
func (d *Device) boostKi(ctx context.Context, reason gains.Reason, now time.Duration) {
	factor := d.chronic.ApplyAdjustment(now)
	current := d.gains.Gains(thermostat.ModeHeat)
	d.setGains(reason,
		gains.WithKi(current.Ki*factor),
		gains.WithMode(thermostat.ModeHeat),
		gains.WithActor(gains.ActorLearning),
		gains.WithMetrics(map[string]float64{
			"ki_factor":                factor,
			"cumulative_ki_multiplier": d.chronic.CumulativeMultiplier(),
			"thermal_debt":             d.undershoot.ThermalDebt(),
		}),
	)
	wall := d.clk.Now()
	d.lastAdjustmentWall = &wall
	d.undershoot.Reset()

	if err := d.persist(ctx); err != nil {
		d.lg.Warn("persisting state failed", "err", err)
	}
}

func (d *Device) physics(mode thermostat.Mode) gains.Gains {
	if mode == thermostat.ModeCool && d.cfg.CoolingGains != nil {
		return *d.cfg.CoolingGains
	}
	return d.cfg.Gains
}

// maybeAutoApply applies the recommendation for mode when every safety gate
// passes. The minimum interval is measured on wall time so that it holds
// across restarts.
func (d *Device) maybeAutoApply(mode thermostat.Mode) {
	current := d.gains.Gains(mode)
	rec, ok := d.recommender.Recommend(current, d.confidence.Cycles(mode))
	if !ok {
		return
	}

	outdoor := d.T.OutdoorTemperature()
	decision := d.autoApply.CheckSafetyGates(learning.GateInput{
		Mode:               mode,
		OutdoorTemperature: outdoor,
		Drift:              learning.Drift(current, d.physics(mode)),
	})
	if !decision.Allowed {
		metrics.AutoApplyBlocked.WithLabelValues(d.ID, decision.Reason).Inc()
		return
	}

	var since *time.Duration
	if last := d.confidence.LastAutoApply(mode); last != nil {
		s := d.clk.Now().Sub(*last)
		since = &s
	}
	if !decision.Ready(d.confidence.CycleCount(mode), d.confidence.CyclesSinceApply(mode), since) {
		return
	}

	baseline := learning.BaselineScore(d.confidence.Cycles(mode), learning.MinCyclesForRecommendation)
	prev := current
	d.preApply = &prev

	applied := d.setGains(gains.ReasonAutoApply,
		gains.WithGains(rec.Gains),
		gains.WithMode(mode),
		gains.WithActor(gains.ActorLearning),
		gains.WithMetrics(rec.Metrics),
	)
	d.confidence.RecordAutoApply(mode, d.clk.Now())
	d.validation.StartValidation(mode, baseline, outdoor)
	d.convergence.ResetStreak()
	d.lg.Info("auto-applied gains",
		"mode", mode.String(),
		"status", decision.Status.String(),
		"kp", applied.Kp, "ki", applied.Ki, "kd", applied.Kd,
	)
}

// rollback restores the gains in force before the last auto-apply.
func (d *Device) rollback(mode thermostat.Mode) {
	if d.preApply == nil {
		return
	}
	prev := *d.preApply
	d.preApply = nil
	d.setGains(gains.ReasonRollback,
		gains.WithGains(prev),
		gains.WithMode(mode),
		gains.WithActor(gains.ActorLearning),
	)
	d.lg.Warn("rolled back auto-applied gains", "mode", mode.String())
}
