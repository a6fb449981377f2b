package device

import (
	"context"
	"fmt"

	"github.com/Agrid-Dev/adaptherm/internal/gains"
	"github.com/Agrid-Dev/adaptherm/internal/learning"
	"github.com/Agrid-Dev/adaptherm/internal/ports"
	"github.com/Agrid-Dev/adaptherm/internal/pwm"
	"github.com/Agrid-Dev/adaptherm/internal/status"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

var _ ports.ThermostatService = (*Device)(nil)

func (d *Device) Get() ports.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.T.Get()
	mode := snap.Mode
	heaterOn := d.actuator.IsActive(thermostat.ModeHeat)
	coolerOn := d.actuator.IsActive(thermostat.ModeCool)

	var contact *status.ContactInput
	if d.contactOpen {
		contact = &status.ContactInput{Open: true, Action: d.cfg.ContactAction, Since: d.contactSince}
	}

	return ports.Status{
		ID:                     d.ID,
		Mode:                   mode,
		HeatingType:            snap.HeatingType,
		TemperatureSetpoint:    snap.TemperatureSetpoint,
		TemperatureSetpointMin: snap.TemperatureSetpointMin,
		TemperatureSetpointMax: snap.TemperatureSetpointMax,
		CurrentTemperature:     snap.CurrentTemperature,
		OutdoorTemperature:     snap.OutdoorTemperature,
		ControlOutput:          d.output,
		HeaterActive:           heaterOn || coolerOn,
		Activity: status.DeriveState(status.StateInput{
			Mode:       mode,
			HeaterOn:   heaterOn,
			CoolerOn:   coolerOn,
			CycleState: d.cycles.State(),
		}),
		Paused:                 d.paused(),
		Overrides:              status.BuildOverrides(status.OverrideInput{Contact: contact}),
		Gains:                  d.gains.Gains(mode),
		LearningStatus:         d.autoApply.LearningStatus(mode).String(),
		ConvergenceConfidence:  d.confidence.ConvergenceConfidence(mode),
		CycleCount:             d.confidence.CycleCount(mode),
		AutoApplyCount:         d.confidence.AutoApplyCount(mode),
		ThermalDebt:            d.undershoot.ThermalDebt(),
		CumulativeKiMultiplier: d.chronic.CumulativeMultiplier(),
		PIDConverged:           d.convergence.PIDConverged(),
		KeLearningEnabled:      d.ke.Learner() != nil && d.ke.Learner().Enabled(),
	}
}

// SetSetpoint changes the target. Banked duty belongs to the old target and
// is dropped.
func (d *Device) SetSetpoint(_ context.Context, v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.T.Get().TemperatureSetpoint
	if err := d.T.SetSetpoint(v); err != nil {
		return err
	}
	if v != prev {
		d.pwm.ResetAccumulator()
	}
	return nil
}

// SetMode switches the HVAC mode, syncing the new mode's gains into the
// regulator. Switching off stops the actuators right away.
func (d *Device) SetMode(ctx context.Context, m thermostat.Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.T.Mode()
	if err := d.T.SetMode(m); err != nil {
		return err
	}
	if m == prev {
		return nil
	}
	d.gains.Sync()
	d.exportGains()
	d.resetLoop()
	d.lg.Info("mode changed", "from", prev.String(), "to", m.String())

	if m == thermostat.ModeOff {
		if _, err := d.pwm.Update(ctx, pwm.Input{Mode: thermostat.ModeOff}); err != nil {
			return fmt.Errorf("stop actuators: %w", err)
		}
	}
	return nil
}

func (d *Device) SetCurrentTemperature(v float64) {
	d.T.SetCurrentTemperature(&v)
}

func (d *Device) SetOutdoorTemperature(v float64) {
	d.T.SetOutdoorTemperature(&v)
}

// SetContactOpen records a window or door contact. Opening resets the
// in-flight loop state before the next tick and, when the contact action
// pauses, stops the actuators.
func (d *Device) SetContactOpen(ctx context.Context, open bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if open == d.contactOpen {
		return nil
	}
	d.contactOpen = open
	if !open {
		d.contactSince = nil
		return nil
	}

	since := d.clk.Now()
	d.contactSince = &since
	d.resetLoop()
	if d.paused() {
		if _, err := d.pwm.Update(ctx, pwm.Input{Mode: thermostat.ModeOff}); err != nil {
			return fmt.Errorf("stop actuators: %w", err)
		}
	}
	return nil
}

func (d *Device) Gains(mode thermostat.Mode) gains.Gains {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gains.Gains(mode)
}

// SetGains applies a user change to the gains of mode; fields left nil in u
// keep their current value. The convergence streak restarts since earlier
// cycles ran on other gains.
func (d *Device) SetGains(ctx context.Context, mode thermostat.Mode, u gains.Update) (gains.Gains, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	g := d.gains.Gains(mode).With(u)
	if g.Kp < 0 || g.Ki < 0 || g.Kd < 0 || g.Ke < 0 {
		return gains.Gains{}, thermostat.ErrorInvalidRegulatorCoefficients
	}
	applied := d.setGains(gains.ReasonManual,
		gains.WithGains(g),
		gains.WithMode(mode),
		gains.WithActor(gains.ActorUser),
	)
	d.convergence.ResetStreak()
	return applied, d.persist(ctx)
}

func (d *Device) History(mode thermostat.Mode) []gains.HistoryEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gains.History(mode)
}

func (d *Device) RestoreHistory(ctx context.Context, mode thermostat.Mode, index int) (gains.HistoryEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.gains.RestoreFromHistory(mode, index)
	if err != nil {
		return gains.HistoryEntry{}, err
	}
	d.exportGains()
	return e, d.persist(ctx)
}

func (d *Device) DeleteHistory(ctx context.Context, mode thermostat.Mode, indices ...int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.gains.DeleteHistoryEntries(mode, indices...); err != nil {
		return err
	}
	return d.persist(ctx)
}

// ResetToPhysics drops learned gains and the Ki budget.
func (d *Device) ResetToPhysics(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gains.ResetToPhysics(d.cfg.Gains, d.cfg.CoolingGains)
	d.exportGains()
	d.chronic.Reset()
	d.undershoot.Reset()
	d.validation.CancelValidation()
	d.preApply = nil
	d.lastAdjustmentWall = nil
	return d.persist(ctx)
}

// ApplyRecommendation applies the current recommendation for mode on the
// user's behalf, bypassing the auto-apply gates. It reports false when there
// is nothing to recommend.
func (d *Device) ApplyRecommendation(ctx context.Context, mode thermostat.Mode) (gains.Gains, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.gains.Gains(mode)
	rec, ok := d.recommender.Recommend(current, d.confidence.Cycles(mode))
	if !ok {
		return current, false, nil
	}
	applied := d.setGains(gains.ReasonAdaptiveApply,
		gains.WithGains(rec.Gains),
		gains.WithMode(mode),
		gains.WithActor(gains.ActorUser),
		gains.WithMetrics(rec.Metrics),
	)
	d.convergence.ResetStreak()
	return applied, true, d.persist(ctx)
}

// LearningStatus reports the learning status of mode.
func (d *Device) LearningStatus(mode thermostat.Mode) learning.LearningStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.autoApply.LearningStatus(mode)
}
