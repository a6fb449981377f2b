package learning

import (
	"math"
	"time"
)

// CycleMetrics summarizes one heating cycle. Temperatures in °C.
type CycleMetrics struct {
	// RiseTime is nil when the setpoint was never reached.
	RiseTime *time.Duration `json:"rise_time,omitempty"`
	// Undershoot is the largest deficit below target: the gap left at the
	// peak when the target was never reached, else the deepest dip after it.
	Undershoot *float64 `json:"undershoot,omitempty"`
	Overshoot  *float64 `json:"overshoot,omitempty"`
	// SettlingTime is measured from the start of the cycle.
	SettlingTime      *time.Duration `json:"settling_time,omitempty"`
	Oscillations      int            `json:"oscillations"`
	Duration          time.Duration  `json:"duration"`
	StartTemperature  float64        `json:"start_temperature"`
	TargetTemperature float64        `json:"target_temperature"`
	EndedAt           time.Time      `json:"ended_at"`
}

// ReachedSetpoint reports whether the rise phase completed.
func (m CycleMetrics) ReachedSetpoint() bool { return m.RiseTime != nil }

func (m CycleMetrics) overshoot() float64 {
	if m.Overshoot == nil {
		return 0
	}
	return math.Max(*m.Overshoot, 0)
}

func (m CycleMetrics) undershoot() float64 {
	if m.Undershoot == nil {
		return 0
	}
	return math.Max(*m.Undershoot, 0)
}

// Score is a cycle quality figure; lower is better.
func (m CycleMetrics) Score() float64 {
	s := m.overshoot() + m.undershoot() + 0.1*float64(m.Oscillations)
	if !m.ReachedSetpoint() {
		s += 0.5
	}
	return s
}

// IsConverged reports a cycle tight enough to count towards convergence.
func IsConverged(m CycleMetrics) bool {
	return m.ReachedSetpoint() && m.overshoot() <= 0.2 && m.undershoot() <= 0.2 && m.Oscillations <= 1
}

type CycleState int

const (
	CycleIdle CycleState = iota
	CycleHeating
	CycleSettling
)

func (s CycleState) String() string {
	switch s {
	case CycleHeating:
		return "heating"
	case CycleSettling:
		return "settling"
	default:
		return "idle"
	}
}

// Sample is one control-loop observation fed to the CycleTracker.
type Sample struct {
	Now       time.Duration
	Wall      time.Time
	Current   float64
	Target    float64
	Tolerance float64
	Demand    bool
}

// CycleTracker segments the temperature trace into cycles. A cycle starts on
// demand with the room below the band, and ends once the temperature stays in
// band for the settle window or the cycle exceeds the profile's maximum length.
type CycleTracker struct {
	profile Profile

	state       CycleState
	start       time.Duration
	startTemp   float64
	target      float64
	peak        float64
	rise        *time.Duration
	dip         float64
	overshoot   float64
	crossings   int
	above       bool
	inBandSince *time.Duration
}

func NewCycleTracker(p Profile) *CycleTracker {
	return &CycleTracker{profile: p}
}

func (c *CycleTracker) State() CycleState { return c.state }

// Abort drops the cycle in progress without producing metrics.
func (c *CycleTracker) Abort() {
	c.state = CycleIdle
	c.rise = nil
	c.inBandSince = nil
}

// Update advances the tracker and returns the metrics of a cycle that just ended.
func (c *CycleTracker) Update(s Sample) *CycleMetrics {
	if c.state != CycleIdle && s.Target != c.target {
		// new setpoint, new cycle
		c.Abort()
	}

	switch c.state {
	case CycleIdle:
		if s.Demand && s.Current < s.Target-s.Tolerance {
			c.begin(s)
		}
		return nil
	case CycleHeating:
		c.peak = math.Max(c.peak, s.Current)
		if s.Current >= c.target {
			r := s.Now - c.start
			c.rise = &r
			c.above = true
			c.state = CycleSettling
		}
	case CycleSettling:
		c.overshoot = math.Max(c.overshoot, s.Current-c.target)
		c.dip = math.Max(c.dip, c.target-s.Current)
		if above := s.Current >= c.target; above != c.above {
			c.above = above
			c.crossings++
		}
		if math.Abs(s.Current-c.target) <= s.Tolerance {
			if c.inBandSince == nil {
				at := s.Now
				c.inBandSince = &at
			}
			if s.Now-*c.inBandSince >= c.profile.SettleWindow {
				return c.finish(s, true)
			}
		} else {
			c.inBandSince = nil
		}
	}

	if s.Now-c.start >= c.profile.MaxCycle {
		return c.finish(s, false)
	}
	return nil
}

func (c *CycleTracker) begin(s Sample) {
	*c = CycleTracker{
		profile:   c.profile,
		state:     CycleHeating,
		start:     s.Now,
		startTemp: s.Current,
		target:    s.Target,
		peak:      s.Current,
	}
}

func (c *CycleTracker) finish(s Sample, settled bool) *CycleMetrics {
	m := &CycleMetrics{
		RiseTime:          c.rise,
		Oscillations:      c.crossings / 2,
		Duration:          s.Now - c.start,
		StartTemperature:  c.startTemp,
		TargetTemperature: c.target,
		EndedAt:           s.Wall,
	}
	if c.rise == nil {
		u := c.target - c.peak
		m.Undershoot = &u
	} else {
		u := c.dip
		m.Undershoot = &u
		if c.overshoot > 0 {
			o := c.overshoot
			m.Overshoot = &o
		}
	}
	if settled {
		st := *c.inBandSince - c.start
		m.SettlingTime = &st
	}
	c.Abort()
	return m
}
