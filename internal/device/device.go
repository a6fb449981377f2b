// Package device wires one zone's control loop: the thermostat state, the PID
// regulator and its gains, PWM actuation and the learning pipeline.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Agrid-Dev/adaptherm/internal/clock"
	"github.com/Agrid-Dev/adaptherm/internal/gains"
	"github.com/Agrid-Dev/adaptherm/internal/ke"
	"github.com/Agrid-Dev/adaptherm/internal/learning"
	"github.com/Agrid-Dev/adaptherm/internal/metrics"
	"github.com/Agrid-Dev/adaptherm/internal/ports"
	"github.com/Agrid-Dev/adaptherm/internal/pwm"
	"github.com/Agrid-Dev/adaptherm/internal/state"
	"github.com/Agrid-Dev/adaptherm/internal/status"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

var (
	ErrMissingThermostat = errors.New("device: thermostat is required")
	ErrMissingActuator   = errors.New("device: actuator is required")
)

type Config struct {
	// Physics gains, used at first start and on reset.
	Gains        gains.Gains
	CoolingGains *gains.Gains

	OutputMin float64
	OutputMax float64

	PWM        pwm.Config
	History    gains.Config
	Validation learning.ValidationConfig
	Ke         ke.Config

	KeLearning        bool
	AutoApply         bool
	ConvergenceCycles int
	// ContactAction is what an open contact sensor does: "pause" stops
	// heating, anything else only reports the override.
	ContactAction string
}

func (c *Config) Validate() error {
	p := thermostat.PIDRegulatorParams{
		Kp: c.Gains.Kp, Ki: c.Gains.Ki, Kd: c.Gains.Kd, Ke: c.Gains.Ke,
		OutputMin: c.OutputMin, OutputMax: c.OutputMax,
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if err := c.PWM.Validate(); err != nil {
		return err
	}
	return c.Validation.Validate()
}

// Deps are the collaborators a device does not own.
type Deps struct {
	Actuator ports.Actuator
	// Store defaults to an in-memory store.
	Store  state.Store
	Clock  clock.Clock
	Logger *slog.Logger
}

// Device is the single owner of a zone's managers. Every exported method
// takes the device lock, so transports may call in concurrently.
type Device struct {
	ID string
	T  *thermostat.Thermostat

	mu       sync.Mutex
	cfg      Config
	profile  learning.Profile
	actuator ports.Actuator
	store    state.Store
	clk      clock.Clock
	lg       *slog.Logger

	pid   *thermostat.PIDRegulator
	gains *gains.Manager
	pwm   *pwm.Controller

	cycles       *learning.CycleTracker
	confidence   *learning.ConfidenceTracker
	contribution *learning.ContributionTracker
	convergence  *learning.ConvergenceTracker
	validation   *learning.ValidationManager
	chronic      *learning.ChronicApproachDetector
	undershoot   *learning.UndershootDetector
	recommender  *learning.Recommender
	autoApply    *learning.AutoApplyManager
	ke           *ke.Manager

	lastTick           *time.Duration
	output             float64
	lastAdjustmentWall *time.Time
	preApply           *gains.Gains
	keSinceApply       int
	contactOpen        bool
	contactSince       *time.Time
}

// New builds the zone and restores its persisted state. A missing or
// unreadable document starts the zone from the physics gains.
func New(ctx context.Context, id string, t *thermostat.Thermostat, cfg Config, deps Deps) (*Device, error) {
	if t == nil {
		return nil, ErrMissingThermostat
	}
	if deps.Actuator == nil {
		return nil, ErrMissingActuator
	}
	if cfg.PWM.OutputMax == 0 {
		cfg.PWM.OutputMax = cfg.OutputMax
	}
	if cfg.Validation == (learning.ValidationConfig{}) {
		cfg.Validation = learning.DefaultValidationConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		deps.Store = state.NewMemoryStore()
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	lg := deps.Logger
	if lg == nil {
		lg = slog.Default()
	}
	lg = lg.With("zone", id)

	d := &Device{
		ID:       id,
		T:        t,
		cfg:      cfg,
		profile:  learning.ProfileFor(t.Get().HeatingType),
		actuator: deps.Actuator,
		store:    deps.Store,
		clk:      deps.Clock,
		lg:       lg.With("component", "device"),
	}

	d.pid = thermostat.NewPIDRegulator(thermostat.PIDRegulatorParams{
		Kp: cfg.Gains.Kp, Ki: cfg.Gains.Ki, Kd: cfg.Gains.Kd, Ke: cfg.Gains.Ke,
		OutputMin: cfg.OutputMin, OutputMax: cfg.OutputMax,
	})
	d.gains = gains.NewManager(cfg.History, cfg.Gains, d.pid, t.Mode, d.clk, lg)

	ctrl, err := pwm.New(cfg.PWM, deps.Actuator, d.clk, lg)
	if err != nil {
		return nil, err
	}
	d.pwm = ctrl

	d.cycles = learning.NewCycleTracker(d.profile)
	d.confidence = learning.NewConfidenceTracker()
	d.contribution = learning.NewContributionTracker()
	d.convergence = learning.NewConvergenceTracker(cfg.ConvergenceCycles)
	d.validation = learning.NewValidationManager(cfg.Validation, d.clk, lg)
	d.chronic = learning.NewChronicApproachDetector(d.profile, lg)
	d.undershoot = learning.NewUndershootDetector(d.profile)
	d.recommender = learning.NewRecommender(d.profile)
	d.autoApply = learning.NewAutoApplyManager(t.Get().HeatingType, d.validation, d.confidence, d.contribution, lg)

	var learner *ke.Learner
	if cfg.KeLearning {
		learner = ke.NewLearner()
	}
	d.ke = ke.NewManager(cfg.Ke, t, d.gains, learner, d.convergence.PIDConverged, d.persist, d.clk, lg)

	d.restore(ctx)
	return d, nil
}

// Run ticks the control loop until ctx is done. Tick errors are logged and
// the loop carries on with the previous gains.
func (d *Device) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				d.lg.Warn("tick failed", "err", err)
			}
		}
	}
}

// Tick runs one control step.
func (d *Device) Tick(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	metrics.TicksTotal.WithLabelValues(d.ID).Inc()
	defer func() {
		metrics.TickLatency.WithLabelValues(d.ID).Observe(time.Since(start).Seconds())
	}()

	now := d.clk.Monotonic()
	var dt time.Duration
	if d.lastTick != nil {
		dt = now - *d.lastTick
	}
	d.lastTick = &now

	snap := d.T.Get()
	mode := d.effectiveMode(snap)
	if mode == thermostat.ModeOff {
		d.output = d.cfg.OutputMin
	} else {
		d.output = d.pid.Update(snap.TemperatureSetpoint, *snap.CurrentTemperature, snap.OutdoorTemperature, mode, dt)
		d.track(ctx, snap, mode, now, dt)
	}

	target := snap.TemperatureSetpoint
	cmd, err := d.pwm.Update(ctx, pwm.Input{
		ControlOutput:      d.output,
		CurrentTemperature: snap.CurrentTemperature,
		TargetTemperature:  &target,
		Mode:               mode,
	})
	d.observe(snap, cmd)
	if err != nil {
		metrics.TickErrors.WithLabelValues(d.ID).Inc()
		return fmt.Errorf("actuate: %w", err)
	}
	return nil
}

// effectiveMode is the mode the loop runs in: off while paused or without a
// temperature reading.
func (d *Device) effectiveMode(snap thermostat.Snapshot) thermostat.Mode {
	if snap.CurrentTemperature == nil || d.paused() {
		return thermostat.ModeOff
	}
	switch snap.Mode {
	case thermostat.ModeHeat, thermostat.ModeCool:
		return snap.Mode
	default:
		return thermostat.ModeOff
	}
}

func (d *Device) paused() bool {
	action := ""
	if d.contactOpen {
		action = d.cfg.ContactAction
	}
	return status.IsPaused(action, false)
}

func (d *Device) observe(snap thermostat.Snapshot, cmd pwm.Command) {
	if cmd != pwm.CommandNone {
		metrics.ActuatorCommands.WithLabelValues(d.ID, cmd.String()).Inc()
	}
	if snap.CurrentTemperature != nil {
		metrics.Temperature.WithLabelValues(d.ID, "current").Set(*snap.CurrentTemperature)
	}
	if snap.OutdoorTemperature != nil {
		metrics.Temperature.WithLabelValues(d.ID, "outdoor").Set(*snap.OutdoorTemperature)
	}
	metrics.Temperature.WithLabelValues(d.ID, "target").Set(snap.TemperatureSetpoint)
	metrics.ControlOutput.WithLabelValues(d.ID).Set(d.output)
	metrics.ThermalDebt.WithLabelValues(d.ID).Set(d.undershoot.ThermalDebt())

	active := 0.0
	if d.actuator.IsActive(thermostat.ModeHeat) || d.actuator.IsActive(thermostat.ModeCool) {
		active = 1
	}
	metrics.HeaterActive.WithLabelValues(d.ID).Set(active)
}

// setGains routes every gain change through the gains manager and counts it.
func (d *Device) setGains(reason gains.Reason, opts ...gains.Option) gains.Gains {
	g := d.gains.SetGains(reason, opts...)
	metrics.GainChanges.WithLabelValues(d.ID, string(reason)).Inc()
	d.exportGains()
	return g
}

func (d *Device) exportGains() {
	g := d.gains.Gains(thermostat.ModeUnknown)
	metrics.Gain.WithLabelValues(d.ID, "kp").Set(g.Kp)
	metrics.Gain.WithLabelValues(d.ID, "ki").Set(g.Ki)
	metrics.Gain.WithLabelValues(d.ID, "kd").Set(g.Kd)
	metrics.Gain.WithLabelValues(d.ID, "ke").Set(g.Ke)
}

// resetLoop drops everything the loop accumulated in-session. Used on mode
// changes and when a contact opens.
func (d *Device) resetLoop() {
	d.pid.Reset()
	d.pwm.ResetAccumulator()
	d.cycles.Abort()
	d.ke.Reset()
}
