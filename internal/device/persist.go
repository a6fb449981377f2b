package device

import (
	"context"
	"fmt"
	"time"

	"github.com/Agrid-Dev/adaptherm/internal/gains"
	"github.com/Agrid-Dev/adaptherm/internal/learning"
	"github.com/Agrid-Dev/adaptherm/internal/metrics"
	"github.com/Agrid-Dev/adaptherm/internal/state"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

// document captures everything the zone learned so far.
func (d *Device) document() (state.Document, error) {
	hist, err := d.gains.EncodeHistory()
	if err != nil {
		return state.Document{}, fmt.Errorf("encode pid history: %w", err)
	}
	snap := d.gains.Snapshot()
	heating := snap.Heating

	doc := state.Document{
		Heating: d.modeBlock(thermostat.ModeHeat),
		Cooling: d.modeBlock(thermostat.ModeCool),
		Undershoot: state.UndershootBlock{
			TimeBelowTarget:        d.undershoot.TimeBelowTarget().Seconds(),
			ThermalDebt:            d.undershoot.ThermalDebt(),
			CumulativeKiMultiplier: d.chronic.CumulativeMultiplier(),
		},
		PIDHistory:                 hist,
		LastAdjustmentTime:         d.lastAdjustmentWall,
		ConsecutiveConvergedCycles: d.convergence.ConsecutiveConverged(),
		PIDConvergedForKe:          d.convergence.PIDConverged(),
		Gains:                      state.GainsBlock{Heating: &heating, Cooling: snap.Cooling},
		AutoApply: &state.AutoApplyBlock{
			Validation:    d.validation.State(),
			PreApplyGains: d.preApply,
		},
	}
	if l := d.ke.Learner(); l != nil {
		doc.KeLearner = &state.KeLearnerBlock{Enabled: l.Enabled(), Observations: l.Observations()}
	}
	return doc, nil
}

func (d *Device) modeBlock(mode thermostat.Mode) state.ModeBlock {
	return state.ModeBlock{
		CycleHistory:          d.confidence.Cycles(mode),
		AutoApplyCount:        d.confidence.AutoApplyCount(mode),
		ConvergenceConfidence: d.confidence.ConvergenceConfidence(mode),
		LastAutoApply:         d.confidence.LastAutoApply(mode),
	}
}

// autoApplyTimes lists the wall times of the auto-apply entries of the gains
// history of mode, oldest first.
func (d *Device) autoApplyTimes(mode thermostat.Mode) []time.Time {
	var out []time.Time
	for _, e := range d.gains.History(mode) {
		if e.Reason == gains.ReasonAutoApply {
			out = append(out, e.Timestamp)
		}
	}
	return out
}

// persist saves the zone document. The caller holds the device lock.
func (d *Device) persist(ctx context.Context) error {
	doc, err := d.document()
	if err == nil {
		err = d.store.Save(ctx, d.ID, doc)
	}
	if err != nil {
		metrics.StateWrites.WithLabelValues(d.ID, "error").Inc()
		return fmt.Errorf("save state: %w", err)
	}
	metrics.StateWrites.WithLabelValues(d.ID, "ok").Inc()
	return nil
}

// restore loads the persisted document, falling back to the physics gains.
func (d *Device) restore(ctx context.Context) {
	doc, ok, err := d.store.Load(ctx, d.ID)
	if err != nil {
		d.lg.Warn("loading state failed, starting from physics gains", "err", err)
	}
	if err != nil || !ok {
		d.initPhysics()
		return
	}
	d.apply(doc)
	d.lg.Info("state restored",
		"heating_cycles", len(doc.Heating.CycleHistory),
		"cooling_cycles", len(doc.Cooling.CycleHistory),
	)
}

func (d *Device) initPhysics() {
	d.setGains(gains.ReasonPhysicsInit, gains.WithGains(d.cfg.Gains), gains.WithMode(thermostat.ModeHeat))
	if d.cfg.CoolingGains != nil {
		d.setGains(gains.ReasonPhysicsInit, gains.WithGains(*d.cfg.CoolingGains), gains.WithMode(thermostat.ModeCool))
	}
}

func (d *Device) restoreLast(mode thermostat.Mode, fallback gains.Gains) {
	if h := d.gains.History(mode); len(h) > 0 {
		d.gains.SetGains(gains.ReasonRestore, gains.WithGains(h[len(h)-1].Gains), gains.WithMode(mode))
		return
	}
	d.setGains(gains.ReasonPhysicsInit, gains.WithGains(fallback), gains.WithMode(mode))
}

func (d *Device) apply(doc state.Document) {
	err := d.gains.RestoreFromState(gains.RestoredState{
		History: doc.PIDHistory,
		Heating: doc.Gains.Heating,
		Cooling: doc.Gains.Cooling,
	})
	if err != nil {
		d.lg.Warn("pid history not restored", "err", err)
	}
	// Older documents carry no gains block; the last history entry is the
	// best record of what was running.
	if doc.Gains.Heating == nil {
		d.restoreLast(thermostat.ModeHeat, d.cfg.Gains)
	}
	if doc.Gains.Cooling == nil && d.cfg.CoolingGains != nil {
		d.restoreLast(thermostat.ModeCool, *d.cfg.CoolingGains)
	}
	d.exportGains()

	for mode, b := range map[thermostat.Mode]state.ModeBlock{
		thermostat.ModeHeat: doc.Heating,
		thermostat.ModeCool: doc.Cooling,
	} {
		last := b.LastAutoApply
		if last == nil {
			if times := d.autoApplyTimes(mode); len(times) > 0 {
				last = &times[len(times)-1]
			}
		}
		d.confidence.Restore(mode, b.CycleHistory, b.AutoApplyCount, b.ConvergenceConfidence, last)
		d.contribution.Rebuild(mode, b.CycleHistory)
	}
	if doc.AutoApply != nil {
		d.validation.Restore(doc.AutoApply.Validation)
		d.preApply = doc.AutoApply.PreApplyGains
	} else {
		// Documents written before the auto-apply block still count their
		// applies towards the seasonal limit.
		applies := append(d.autoApplyTimes(thermostat.ModeHeat), d.autoApplyTimes(thermostat.ModeCool)...)
		d.validation.Restore(learning.ValidationState{Applies: applies})
	}
	d.convergence.Restore(doc.ConsecutiveConvergedCycles, doc.PIDConvergedForKe)
	d.chronic.RestoreMultiplier(doc.Undershoot.CumulativeKiMultiplier)
	d.undershoot.Restore(
		time.Duration(doc.Undershoot.TimeBelowTarget*float64(time.Second)),
		doc.Undershoot.ThermalDebt,
	)
	d.lastAdjustmentWall = doc.LastAdjustmentTime

	if l := d.ke.Learner(); l != nil && doc.KeLearner != nil {
		l.Restore(doc.KeLearner.Enabled, doc.KeLearner.Observations)
	}
}

// Save persists the zone state now.
func (d *Device) Save(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.persist(ctx)
}

// Cycles returns the recorded cycles of mode, oldest first.
func (d *Device) Cycles(mode thermostat.Mode) []learning.CycleMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.confidence.Cycles(mode)
}
