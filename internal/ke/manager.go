// Package ke learns the outdoor temperature compensation gain from
// steady-state operation.
package ke

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/Agrid-Dev/adaptherm/internal/clock"
	"github.com/Agrid-Dev/adaptherm/internal/gains"
	"github.com/Agrid-Dev/adaptherm/internal/ports"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

const (
	DefaultSteadyStateDuration = 60 * time.Minute
	DefaultObservationInterval = 5 * time.Minute

	minSteadyBand = 0.2
)

type Config struct {
	SteadyStateDuration time.Duration `koanf:"steady_state_duration"`
	ObservationInterval time.Duration `koanf:"observation_interval"`
	// PhysicsKe is applied once when the learner is enabled.
	PhysicsKe float64 `koanf:"physics_ke"`
}

func (c Config) withDefaults() Config {
	if c.SteadyStateDuration <= 0 {
		c.SteadyStateDuration = DefaultSteadyStateDuration
	}
	if c.ObservationInterval <= 0 {
		c.ObservationInterval = DefaultObservationInterval
	}
	return c
}

// GainsSetter is the part of gains.Manager the Ke manager writes through.
type GainsSetter interface {
	SetGains(reason gains.Reason, opts ...gains.Option) gains.Gains
	Gains(mode thermostat.Mode) gains.Gains
}

type Manager struct {
	cfg       Config
	state     ports.ThermostatState
	gains     GainsSetter
	learner   *Learner
	converged func() bool
	onChange  func(ctx context.Context) error
	clk       clock.Clock
	lg        *slog.Logger

	steadyStart     *time.Duration
	lastObservation *time.Duration
}

// NewManager wires the Ke manager. learner may be nil when Ke learning is off;
// converged reports PID convergence and onChange persists after a Ke update.
func NewManager(
	cfg Config,
	state ports.ThermostatState,
	g GainsSetter,
	learner *Learner,
	converged func() bool,
	onChange func(ctx context.Context) error,
	clk clock.Clock,
	lg *slog.Logger,
) *Manager {
	if lg == nil {
		lg = slog.Default()
	}
	return &Manager{
		cfg:       cfg.withDefaults(),
		state:     state,
		gains:     g,
		learner:   learner,
		converged: converged,
		onChange:  onChange,
		clk:       clk,
		lg:        lg.With("component", "ke"),
	}
}

func (m *Manager) Learner() *Learner { return m.learner }

// IsAtSteadyState reports whether the room has stayed in band for the
// configured duration. Leaving the band restarts the timer.
func (m *Manager) IsAtSteadyState(now time.Duration) bool {
	cur, target := m.state.CurrentTemperature(), m.state.TargetTemperature()
	if m.state.Mode() == thermostat.ModeOff || cur == nil || target == nil {
		m.steadyStart = nil
		return false
	}
	cold, hot := m.state.Tolerances()
	band := math.Max(math.Max(cold, hot), minSteadyBand)
	if math.Abs(*cur-*target) > band {
		m.steadyStart = nil
		return false
	}
	if m.steadyStart == nil {
		m.steadyStart = &now
	}
	return now-*m.steadyStart >= m.cfg.SteadyStateDuration
}

// MaybeRecordObservation stores a sample when conditions allow and reports
// whether it did. Until the PID loop has converged nothing is recorded; the
// call that sees convergence enables the learner and applies the physics Ke.
func (m *Manager) MaybeRecordObservation(now time.Duration, pidOutput float64) bool {
	if m.learner == nil {
		return false
	}
	if !m.learner.Enabled() {
		if m.converged != nil && m.converged() {
			m.learner.Enable()
			m.gains.SetGains(gains.ReasonKePhysics, gains.WithKe(m.cfg.PhysicsKe))
			m.lg.Info("ke learning enabled", "physics_ke", m.cfg.PhysicsKe)
		}
		return false
	}

	if !m.IsAtSteadyState(now) {
		return false
	}
	outdoor := m.state.OutdoorTemperature()
	if outdoor == nil {
		m.lg.Debug("no outdoor temperature, skipping ke observation")
		return false
	}
	if m.lastObservation != nil && now-*m.lastObservation < m.cfg.ObservationInterval {
		return false
	}

	m.learner.Add(Observation{
		Outdoor:   *outdoor,
		PIDOutput: pidOutput,
		Indoor:    *m.state.CurrentTemperature(),
		Target:    *m.state.TargetTemperature(),
		At:        m.clk.Now(),
	})
	m.lastObservation = &now
	return true
}

// ApplyAdaptiveKe applies the learner's recommendation. Missing preconditions
// are logged, never returned.
func (m *Manager) ApplyAdaptiveKe(ctx context.Context) {
	if m.learner == nil {
		m.lg.Debug("adaptive ke skipped", "err", ErrNoLearner)
		return
	}
	current := m.gains.Gains(thermostat.ModeUnknown).Ke
	ke, err := m.learner.Recommend(current)
	if err != nil {
		lvl := slog.LevelInfo
		if errors.Is(err, ErrLearnerDisabled) {
			lvl = slog.LevelDebug
		}
		m.lg.Log(ctx, lvl, "adaptive ke skipped", "err", err)
		return
	}

	m.gains.SetGains(gains.ReasonKeLearning, gains.WithKe(ke), gains.WithActor(gains.ActorLearning))
	m.lg.Info("adaptive ke applied", "from", current, "to", ke)
	if m.onChange == nil {
		return
	}
	if err := m.onChange(ctx); err != nil {
		m.lg.Warn("persisting after ke update failed", "err", err)
	}
}

// Reset clears the steady-state timer and the observation throttle, as after
// a mode change.
func (m *Manager) Reset() {
	m.steadyStart = nil
	m.lastObservation = nil
}
