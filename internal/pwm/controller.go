// Package pwm turns a continuous control output into on/off actuation.
package pwm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Agrid-Dev/adaptherm/internal/clock"
	"github.com/Agrid-Dev/adaptherm/internal/ports"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

type Config struct {
	Period             time.Duration
	MinOpenTime        time.Duration
	MinClosedTime      time.Duration
	ValveActuationTime time.Duration
	TransportDelay     time.Duration // > 0 enables the heat pipeline
	OutputMax          float64       // control output matching 100% duty
}

func (c *Config) Validate() error {
	if c.Period <= 0 {
		return ErrInvalidPeriod
	}
	if c.MinOpenTime < 0 || c.MinClosedTime < 0 || c.ValveActuationTime < 0 || c.TransportDelay < 0 {
		return ErrNegativeDuration
	}
	if c.OutputMax <= 0 {
		return ErrInvalidOutputMax
	}
	return nil
}

type Command int

const (
	CommandNone Command = iota
	CommandOn
	CommandOff
)

func (c Command) String() string {
	switch c {
	case CommandOn:
		return "on"
	case CommandOff:
		return "off"
	default:
		return "none"
	}
}

type Input struct {
	ControlOutput      float64
	CurrentTemperature *float64
	TargetTemperature  *float64
	Mode               thermostat.Mode
	ForceOn            bool
	ForceOff           bool
}

// Controller owns the duty accumulator and the on/off timing of one actuator.
// It is not safe for concurrent use.
type Controller struct {
	cfg      Config
	actuator ports.Actuator
	clock    clock.Clock
	pipeline *HeatPipeline
	lg       *slog.Logger

	accumulator time.Duration
	lastCalc    *time.Duration

	// lastChange is nil until a transition is observed; the state is then
	// considered held forever.
	lastChange      *time.Duration
	lastActive      bool
	observed        bool
	committedAtOpen time.Duration
}

func New(cfg Config, actuator ports.Actuator, clk clock.Clock, lg *slog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if actuator == nil {
		return nil, ErrMissingActuator
	}
	if lg == nil {
		lg = slog.Default()
	}
	c := &Controller{
		cfg:      cfg,
		actuator: actuator,
		clock:    clk,
		lg:       lg.With("component", "pwm"),
	}
	if cfg.TransportDelay > 0 {
		c.pipeline = NewHeatPipeline(cfg.TransportDelay, cfg.ValveActuationTime)
	}
	return c, nil
}

func (c *Controller) Pipeline() *HeatPipeline { return c.pipeline }

func (c *Controller) Accumulator() time.Duration { return c.accumulator }

// ResetAccumulator drops banked duty. Hosts call it on setpoint jumps, mode
// off and contact-sensor open.
func (c *Controller) ResetAccumulator() {
	c.accumulator = 0
	c.lastCalc = nil
}

// CalculateAdjustedOnTime stretches the heat duration by the valve and
// transport lags and enforces the minimum open time.
func (c *Controller) CalculateAdjustedOnTime(heat time.Duration) time.Duration {
	return c.cfg.TransportDelay + c.cfg.ValveActuationTime + max(heat, c.cfg.MinOpenTime)
}

func (c *Controller) Update(ctx context.Context, in Input) (Command, error) {
	now := c.clock.Monotonic()

	if in.Mode != thermostat.ModeHeat && in.Mode != thermostat.ModeCool {
		c.ResetAccumulator()
		return c.stopAll(ctx, now)
	}

	c.observe(c.actuator.IsActive(in.Mode), now)

	if in.ControlOutput <= 0 {
		c.ResetAccumulator()
		return c.setState(ctx, in.Mode, false, now)
	}

	duty := min(in.ControlOutput/c.cfg.OutputMax, 1)
	rawHeat := scale(c.cfg.Period, duty)
	if rawHeat < c.cfg.MinOpenTime {
		return c.subThreshold(ctx, in, rawHeat, now)
	}

	c.ResetAccumulator()
	return c.normalDuty(ctx, in, duty, rawHeat, now)
}

func (c *Controller) subThreshold(ctx context.Context, in Input, rawHeat, now time.Duration) (Command, error) {
	if c.lastActive {
		// no accumulating while a pulse runs; hold it for the minimum open time
		c.ResetAccumulator()
		if c.timeInState(now) >= c.cfg.MinOpenTime {
			return c.setState(ctx, in.Mode, false, now)
		}
		return CommandNone, nil
	}

	if c.accumulator >= c.cfg.MinOpenTime {
		if counterproductive(in) {
			c.lg.Info("skipping minimum pulse, target already reached",
				"mode", in.Mode.String(), "accumulated", c.accumulator)
			c.ResetAccumulator()
			return CommandNone, nil
		}
		c.accumulator -= c.cfg.MinOpenTime
		t := now
		c.lastCalc = &t
		c.lg.Debug("firing minimum pulse", "remaining", c.accumulator)
		return c.setState(ctx, in.Mode, true, now)
	}

	var elapsed time.Duration
	if c.lastCalc != nil {
		elapsed = max(now-*c.lastCalc, 0)
	}
	c.accumulator += scale(elapsed, float64(rawHeat)/float64(c.cfg.Period))
	c.accumulator = min(max(c.accumulator, 0), 2*c.cfg.MinOpenTime)
	t := now
	c.lastCalc = &t
	return c.setState(ctx, in.Mode, false, now)
}

func (c *Controller) normalDuty(ctx context.Context, in Input, duty float64, rawHeat, now time.Duration) (Command, error) {
	var timeOn time.Duration
	if c.pipeline != nil {
		committed := c.committedAtOpen
		if !c.lastActive {
			committed = c.pipeline.CommittedHeatRemaining(now)
		}
		open := c.pipeline.CalculateValveOpenDuration(duty, c.cfg.Period, committed)
		if open == 0 && !in.ForceOn {
			return c.setState(ctx, in.Mode, false, now)
		}
		timeOn = max(open, c.cfg.MinOpenTime)
	} else {
		timeOn = c.CalculateAdjustedOnTime(rawHeat)
	}

	timeOff := c.cfg.Period - timeOn
	if timeOff <= 0 {
		return c.setState(ctx, in.Mode, !in.ForceOff, now)
	}
	if timeOff < c.cfg.MinClosedTime {
		timeOn = scale(timeOn, float64(c.cfg.MinClosedTime)/float64(timeOff))
		timeOff = c.cfg.MinClosedTime
	}

	elapsed := c.timeInState(now)
	if c.lastActive {
		// close early so the valve is shut by the nominal boundary
		if in.ForceOff || elapsed >= timeOn-c.cfg.ValveActuationTime/2 {
			return c.setState(ctx, in.Mode, false, now)
		}
		return CommandNone, nil
	}
	if in.ForceOn || elapsed >= timeOff {
		return c.setState(ctx, in.Mode, true, now)
	}
	return CommandNone, nil
}

func (c *Controller) observe(active bool, now time.Duration) {
	if c.observed && active != c.lastActive {
		t := now
		c.lastChange = &t
	}
	c.lastActive = active
	c.observed = true
}

func (c *Controller) timeInState(now time.Duration) time.Duration {
	if c.lastChange == nil {
		return time.Duration(math.MaxInt64)
	}
	return now - *c.lastChange
}

// setState only talks to the actuator on an actual transition.
func (c *Controller) setState(ctx context.Context, mode thermostat.Mode, on bool, now time.Duration) (Command, error) {
	if on == c.actuator.IsActive(mode) {
		return CommandNone, nil
	}
	t := now
	if on {
		if err := c.actuator.TurnOn(ctx, mode); err != nil {
			return CommandNone, fmt.Errorf("turn on %s: %w", mode, err)
		}
		if c.pipeline != nil {
			c.committedAtOpen = c.pipeline.CommittedHeatRemaining(now)
			c.pipeline.ValveOpened(now)
		}
		c.lastChange, c.lastActive, c.observed = &t, true, true
		return CommandOn, nil
	}
	if err := c.actuator.TurnOff(ctx, mode); err != nil {
		return CommandNone, fmt.Errorf("turn off %s: %w", mode, err)
	}
	if c.pipeline != nil {
		c.pipeline.ValveClosed(now)
	}
	c.lastChange, c.lastActive, c.observed = &t, false, true
	return CommandOff, nil
}

func (c *Controller) stopAll(ctx context.Context, now time.Duration) (Command, error) {
	cmd := CommandNone
	for _, m := range []thermostat.Mode{thermostat.ModeHeat, thermostat.ModeCool} {
		got, err := c.setState(ctx, m, false, now)
		if err != nil {
			return cmd, err
		}
		if got != CommandNone {
			cmd = got
		}
	}
	return cmd, nil
}

// counterproductive reports a pulse that would push past the target, which
// happens after a restart when the restored integral is stale.
func counterproductive(in Input) bool {
	if in.CurrentTemperature == nil || in.TargetTemperature == nil {
		return false
	}
	if in.Mode == thermostat.ModeCool {
		return *in.CurrentTemperature <= *in.TargetTemperature
	}
	return *in.CurrentTemperature >= *in.TargetTemperature
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(math.Round(float64(d) * f))
}
