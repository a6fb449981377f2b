package thermostat

import (
	"math"
	"time"
)

type PIDRegulatorParams struct {
	Kp        float64
	Ki        float64
	Kd        float64
	Ke        float64 // outdoor compensation, output units per °C of target/outdoor gap
	OutputMin float64
	OutputMax float64
}

func (params *PIDRegulatorParams) Validate() error {
	if params.OutputMax <= params.OutputMin {
		return ErrInvalidOutputRange
	}
	if params.Kp < 0 || params.Ki < 0 || params.Kd < 0 || params.Ke < 0 {
		return ErrorInvalidRegulatorCoefficients
	}
	return nil
}

// PIDRegulator produces a control output in [OutputMin, OutputMax].
// The integral is accumulated as an output contribution so gain changes
// do not bump the output.
type PIDRegulator struct {
	params      PIDRegulatorParams
	integral    float64
	prevCurrent *float64
	last        Components
}

// Components is the breakdown of the last computed output.
type Components struct {
	P, I, D, E float64
	Output     float64
}

func NewPIDRegulator(params PIDRegulatorParams) *PIDRegulator {
	return &PIDRegulator{
		params: params,
	}
}

// SetPIDParams replaces the gains, keeping the accumulated integral.
func (pid *PIDRegulator) SetPIDParams(kp, ki, kd, ke float64) {
	pid.params.Kp = kp
	pid.params.Ki = ki
	pid.params.Kd = kd
	pid.params.Ke = ke
}

func (pid *PIDRegulator) Params() PIDRegulatorParams {
	return pid.params
}

func (pid *PIDRegulator) Reset() {
	pid.integral = 0
	pid.prevCurrent = nil
	pid.last = Components{}
}

func (pid *PIDRegulator) Last() Components {
	return pid.last
}

func (pid *PIDRegulator) Integral() float64 {
	return pid.integral
}

// Update computes the output for one step. Off or unknown modes yield OutputMin
// and freeze the integral.
func (pid *PIDRegulator) Update(setpoint, current float64, outdoor *float64, mode Mode, dt time.Duration) float64 {
	if mode != ModeHeat && mode != ModeCool {
		pid.prevCurrent = nil
		pid.last = Components{Output: pid.params.OutputMin}
		return pid.params.OutputMin
	}

	sign := 1.0
	if mode == ModeCool {
		sign = -1.0
	}
	error := sign * (setpoint - current)

	var c Components
	c.P = pid.params.Kp * error

	if dt > 0 {
		pid.integral += pid.params.Ki * error * dt.Seconds()
		pid.integral = clamp(pid.integral, pid.params.OutputMin, pid.params.OutputMax)
	}
	c.I = pid.integral

	// derivative on measurement avoids kicks on setpoint changes
	if pid.prevCurrent != nil && dt > 0 {
		c.D = -sign * pid.params.Kd * (current - *pid.prevCurrent) / dt.Seconds()
	}
	cur := current
	pid.prevCurrent = &cur

	if outdoor != nil {
		c.E = sign * pid.params.Ke * (setpoint - *outdoor)
	}

	c.Output = clamp(c.P+c.I+c.D+c.E, pid.params.OutputMin, pid.params.OutputMax)
	pid.last = c
	return c.Output
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
